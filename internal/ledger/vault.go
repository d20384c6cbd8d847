// Package ledger is an in-memory model of the TipsVault contract. It backs
// the simulated chain mode and the tests that need contract semantics
// without a node.
package ledger

import (
	"errors"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"megatips/internal/contracts"
)

// ErrOverflow is returned when a tip would overflow a uint256 balance.
var ErrOverflow = errors.New("balance overflow")

// ErrBadCursor is returned for a cursor the vault did not issue.
var ErrBadCursor = errors.New("invalid cursor")

// Entry is one TipSent event together with its inclusion data.
type Entry struct {
	From        common.Address
	To          common.Address
	Amount      *big.Int
	Memo        string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	seq         int
}

// Vault tracks per-recipient balances and the TipSent log.
type Vault struct {
	mu       sync.RWMutex
	address  common.Address
	balances map[common.Address]*uint256.Int
	entries  []Entry
	mined    map[common.Hash]uint64
	block    uint64
	nonce    uint64
}

// New constructs an empty vault deployed at address.
func New(address common.Address) *Vault {
	return &Vault{
		address:  address,
		balances: make(map[common.Address]*uint256.Int),
		mined:    make(map[common.Hash]uint64),
	}
}

// Address returns the address the vault is deployed at.
func (v *Vault) Address() common.Address {
	return v.address
}

// Tip credits to with amount and records a TipSent event in a new block.
func (v *Vault) Tip(from, to common.Address, amount *big.Int, memo string) (Entry, error) {
	value, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return Entry{}, ErrOverflow
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balanceOf(to)
	sum, carry := new(uint256.Int).AddOverflow(bal, value)
	if carry {
		return Entry{}, ErrOverflow
	}
	v.balances[to] = sum

	v.block++
	v.nonce++
	hash := crypto.Keccak256Hash(
		from.Bytes(),
		to.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		[]byte(memo),
		[]byte(strconv.FormatUint(v.nonce, 10)),
	)

	e := Entry{
		From:        from,
		To:          to,
		Amount:      new(big.Int).Set(amount),
		Memo:        memo,
		BlockNumber: v.block,
		TxHash:      hash,
		seq:         len(v.entries),
	}
	v.entries = append(v.entries, e)
	v.mined[hash] = v.block
	return e, nil
}

// Withdraw debits caller by amount. A withdrawal larger than the recorded
// balance fails with contracts.ErrInsufficientBalance and changes nothing.
func (v *Vault) Withdraw(caller common.Address, amount *big.Int) (common.Hash, error) {
	value, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return common.Hash{}, contracts.ErrInsufficientBalance
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balanceOf(caller)
	if bal.Lt(value) {
		return common.Hash{}, contracts.ErrInsufficientBalance
	}
	v.balances[caller] = new(uint256.Int).Sub(bal, value)

	v.block++
	v.nonce++
	hash := crypto.Keccak256Hash(caller.Bytes(), common.LeftPadBytes(amount.Bytes(), 32), []byte(strconv.FormatUint(v.nonce, 10)))
	v.mined[hash] = v.block
	return hash, nil
}

// Balance returns the recorded balance of addr.
func (v *Vault) Balance(addr common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balanceOf(addr).ToBig()
}

// Receipt reports the block a transaction was mined in.
func (v *Vault) Receipt(hash common.Hash) (uint64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	blk, ok := v.mined[hash]
	return blk, ok
}

// TipsTo returns up to limit events for to, newest first, starting after
// cursor. The returned cursor is empty once history is exhausted.
func (v *Vault) TipsTo(to common.Address, cursor string, limit int) ([]Entry, string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	start := len(v.entries) - 1
	if cursor != "" {
		seq, err := strconv.Atoi(cursor)
		if err != nil || seq < 0 || seq > len(v.entries) {
			return nil, "", ErrBadCursor
		}
		start = seq - 1
	}
	if limit <= 0 {
		limit = len(v.entries)
	}

	var out []Entry
	i := start
	for ; i >= 0 && len(out) < limit; i-- {
		if v.entries[i].To == to {
			out = append(out, v.entries[i])
		}
	}

	// Look ahead so the last page does not hand out a dangling cursor.
	for j := i; j >= 0; j-- {
		if v.entries[j].To == to {
			return out, strconv.Itoa(i + 1), nil
		}
	}
	return out, "", nil
}

// Cursor returns the cursor that resumes history right after e.
func (e Entry) Cursor() string {
	return strconv.Itoa(e.seq)
}

func (v *Vault) balanceOf(addr common.Address) *uint256.Int {
	if bal, ok := v.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}
