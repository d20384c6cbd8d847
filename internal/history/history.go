// Package history reads TipSent events for a recipient from the chain's
// cursor-paginated log index and looks up transaction receipts.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"megatips/internal/contracts"
)

// RPC is the subset of *rpc.Client the reader needs.
type RPC interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

var (
	ErrNotConfigured  = errors.New("tips vault address is not configured")
	ErrInvalidAddress = errors.New("invalid recipient address")
	ErrFetchLogs      = errors.New("failed to fetch logs")
)

// Options narrows a history query. Cursor resumes a previous page.
type Options struct {
	FromBlock string
	Cursor    string
}

// TipRecord is one decoded TipSent event. Addresses are lowercase and the
// amount is rendered in ether.
type TipRecord struct {
	From            string `json:"from"`
	To              string `json:"to"`
	AmountEth       string `json:"amountEth"`
	Memo            string `json:"memo"`
	BlockNumber     uint64 `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	Cursor          string `json:"cursor,omitempty"`
}

// Page is one page of history, newest first. An empty NextCursor marks the
// end of history.
type Page struct {
	Tips       []TipRecord `json:"tips"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

// Receipt is the part of a transaction receipt the poller cares about.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	Status          uint64 `json:"status"`
}

// Reader queries one deployed vault.
type Reader struct {
	rpc   RPC
	vault string
}

// NewReader returns a reader for the vault at vaultAddress. An empty address
// yields a reader whose history queries fail with ErrNotConfigured.
func NewReader(rpc RPC, vaultAddress string) *Reader {
	return &Reader{rpc: rpc, vault: strings.TrimSpace(vaultAddress)}
}

type logFilter struct {
	Address   common.Address `json:"address"`
	Topics    []interface{}  `json:"topics"`
	FromBlock string         `json:"fromBlock,omitempty"`
	Cursor    string         `json:"cursor,omitempty"`
}

type rawLog struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	Data            hexutil.Bytes  `json:"data"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TransactionHash common.Hash    `json:"transactionHash"`
	LogIndex        hexutil.Uint   `json:"logIndex"`
	Cursor          string         `json:"cursor,omitempty"`
}

type logPage struct {
	Logs       []rawLog `json:"logs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// FetchRecentTips returns one page of tips sent to recipient.
func (r *Reader) FetchRecentTips(ctx context.Context, recipient string, opts Options) (Page, error) {
	if r.vault == "" {
		return Page{}, ErrNotConfigured
	}
	if !common.IsHexAddress(recipient) {
		return Page{}, ErrInvalidAddress
	}

	filter := logFilter{
		Address: common.HexToAddress(r.vault),
		Topics: []interface{}{
			contracts.TipSentTopic,
			nil,
			contracts.AddressTopic(common.HexToAddress(recipient)),
		},
		FromBlock: opts.FromBlock,
		Cursor:    opts.Cursor,
	}

	var result *logPage
	if err := r.rpc.CallContext(ctx, &result, "eth_getLogsWithCursor", filter); err != nil {
		if err.Error() == "" {
			return Page{}, ErrFetchLogs
		}
		return Page{}, fmt.Errorf("fetch logs: %w", err)
	}

	page := Page{Tips: []TipRecord{}}
	if result == nil || len(result.Logs) == 0 {
		if result != nil {
			page.NextCursor = result.NextCursor
		}
		return page, nil
	}

	for _, raw := range result.Logs {
		rec, err := decode(raw)
		if err != nil {
			return Page{}, err
		}
		page.Tips = append(page.Tips, rec)
	}
	page.NextCursor = result.NextCursor
	return page, nil
}

func decode(raw rawLog) (TipRecord, error) {
	ev, err := contracts.UnpackTipSent(types.Log{
		Address:     raw.Address,
		Topics:      raw.Topics,
		Data:        raw.Data,
		BlockNumber: uint64(raw.BlockNumber),
		TxHash:      raw.TransactionHash,
		Index:       uint(raw.LogIndex),
	})
	if err != nil {
		return TipRecord{}, fmt.Errorf("decode log %s: %w", raw.TransactionHash.Hex(), err)
	}

	return TipRecord{
		From:            strings.ToLower(ev.From.Hex()),
		To:              strings.ToLower(ev.To.Hex()),
		AmountEth:       contracts.FormatEther(ev.Amount),
		Memo:            ev.Memo,
		BlockNumber:     uint64(raw.BlockNumber),
		TransactionHash: raw.TransactionHash.Hex(),
		Cursor:          raw.Cursor,
	}, nil
}

type rawReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	Status          *hexutil.Uint64 `json:"status"`
}

// TransactionReceipt returns the receipt for txHash, or nil while the
// transaction is not yet included.
func (r *Reader) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw json.RawMessage
	if err := r.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var rr rawReceipt
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	rec := Receipt{TransactionHash: rr.TransactionHash.Hex()}
	if rr.BlockNumber != nil {
		rec.BlockNumber = rr.BlockNumber.ToInt().Uint64()
	}
	if rr.Status != nil {
		rec.Status = uint64(*rr.Status)
	}
	return &rec, nil
}
