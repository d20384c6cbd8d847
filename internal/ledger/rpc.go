package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"megatips/internal/contracts"
)

// DefaultPageSize is the number of logs returned per cursor page.
const DefaultPageSize = 50

// RPC answers the JSON-RPC methods the history reader and the receipt
// poller issue, backed by a Vault instead of a node.
type RPC struct {
	vault    *Vault
	pageSize int
}

// NewRPC wraps v. A non-positive pageSize selects DefaultPageSize.
func NewRPC(v *Vault, pageSize int) *RPC {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &RPC{vault: v, pageSize: pageSize}
}

type logFilter struct {
	Address   common.Address `json:"address"`
	Topics    []*common.Hash `json:"topics"`
	FromBlock string         `json:"fromBlock,omitempty"`
	Cursor    string         `json:"cursor,omitempty"`
}

type rpcLog struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	Data            hexutil.Bytes  `json:"data"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TransactionHash common.Hash    `json:"transactionHash"`
	LogIndex        hexutil.Uint   `json:"logIndex"`
	Cursor          string         `json:"cursor,omitempty"`
}

type rpcLogPage struct {
	Logs       []rpcLog `json:"logs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

// CallContext has the signature of rpc.Client.CallContext.
func (r *RPC) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var resp interface{}
	switch method {
	case "eth_getLogsWithCursor":
		if len(args) != 1 {
			return fmt.Errorf("%s: expected 1 argument, got %d", method, len(args))
		}
		var f logFilter
		if err := remarshal(args[0], &f); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		page, err := r.logs(f)
		if err != nil {
			return err
		}
		resp = page

	case "eth_getTransactionReceipt":
		if len(args) != 1 {
			return fmt.Errorf("%s: expected 1 argument, got %d", method, len(args))
		}
		var hash common.Hash
		if err := remarshal(args[0], &hash); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		if blk, ok := r.vault.Receipt(hash); ok {
			resp = rpcReceipt{TransactionHash: hash, BlockNumber: hexutil.Uint64(blk), Status: 1}
		}

	default:
		return fmt.Errorf("the method %s does not exist/is not available", method)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (r *RPC) logs(f logFilter) (rpcLogPage, error) {
	page := rpcLogPage{Logs: []rpcLog{}}

	if f.Address != r.vault.Address() {
		return page, nil
	}
	if len(f.Topics) != 3 || f.Topics[0] == nil || *f.Topics[0] != contracts.TipSentTopic || f.Topics[2] == nil {
		return page, nil
	}

	var from uint64
	if f.FromBlock != "" {
		n, err := parseBlock(f.FromBlock)
		if err != nil {
			return page, err
		}
		from = n
	}

	to := common.BytesToAddress(f.Topics[2].Bytes())
	entries, next, err := r.vault.TipsTo(to, f.Cursor, r.pageSize)
	if err != nil {
		return page, err
	}

	abiEvent := contracts.ABI().Events[contracts.EventTipSent]
	for _, e := range entries {
		if e.BlockNumber < from {
			next = ""
			break
		}
		data, err := abiEvent.Inputs.NonIndexed().Pack(e.Amount, e.Memo)
		if err != nil {
			return page, err
		}
		page.Logs = append(page.Logs, rpcLog{
			Address:         r.vault.Address(),
			Topics:          []common.Hash{contracts.TipSentTopic, contracts.AddressTopic(e.From), contracts.AddressTopic(e.To)},
			Data:            data,
			BlockNumber:     hexutil.Uint64(e.BlockNumber),
			TransactionHash: e.TxHash,
			LogIndex:        hexutil.Uint(e.LogIndex),
			Cursor:          e.Cursor(),
		})
	}
	page.NextCursor = next
	return page, nil
}

func parseBlock(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeUint64(s)
	}
	return strconv.ParseUint(s, 10, 64)
}

func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
