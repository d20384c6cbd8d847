// Package contracts holds the TipsVault ABI and the helpers used to talk to
// it: binding, event decoding and revert mapping.
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TipsVaultABI is the subset of the TipsVault interface the relay and the
// history reader depend on.
const TipsVaultABI = `[
	{"type":"function","name":"tip","stateMutability":"payable","inputs":[{"name":"to","type":"address"},{"name":"memo","type":"string"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"balances","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"TipSent","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"memo","type":"string","indexed":false}]},
	{"type":"error","name":"InsufficientBalance","inputs":[]}
]`

// Method and event names as declared in the ABI.
const (
	MethodTip      = "tip"
	MethodWithdraw = "withdraw"
	MethodBalances = "balances"
	EventTipSent   = "TipSent"
)

var tipsVault = mustParse(TipsVaultABI)

// TipSentTopic is topic[0] of every TipSent log.
var TipSentTopic = tipsVault.Events[EventTipSent].ID

// ErrNotTipSent is returned when a log does not carry a TipSent event.
var ErrNotTipSent = errors.New("log is not a TipSent event")

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse tips vault abi: %v", err))
	}
	return parsed
}

// ABI returns the parsed TipsVault ABI.
func ABI() abi.ABI {
	return tipsVault
}

// Bind returns a bound TipsVault contract at address using backend for
// calls, transactions and log filtering.
func Bind(address common.Address, backend bind.ContractBackend) *bind.BoundContract {
	return bind.NewBoundContract(address, tipsVault, backend, backend, backend)
}

// TipSent is a decoded TipSent event.
type TipSent struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Memo   string
	Raw    types.Log
}

// UnpackTipSent decodes a raw log emitted by the vault.
func UnpackTipSent(log types.Log) (TipSent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != TipSentTopic {
		return TipSent{}, ErrNotTipSent
	}

	var ev TipSent
	if err := tipsVault.UnpackIntoInterface(&ev, EventTipSent, log.Data); err != nil {
		return TipSent{}, fmt.Errorf("unpack TipSent: %w", err)
	}
	ev.From = common.BytesToAddress(log.Topics[1].Bytes())
	ev.To = common.BytesToAddress(log.Topics[2].Bytes())
	ev.Raw = log
	return ev, nil
}

// AddressTopic left pads an address to a 32 byte log topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
