package relay

import (
	"context"
	"errors"
)

// Client abstracts the on-chain tip submission.
type Client interface {
	RealtimeSend(ctx context.Context, req SendRequest) (SendResult, error)
}

// HealthChecker is implemented by clients that can probe their chain.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ErrNotConfigured is returned by every call when the vault address or the
// signing key is missing.
var ErrNotConfigured = errors.New("realtime tipping is not configured on the server")

type SendRequest struct {
	Recipient string
	Memo      string
	AmountEth string // decimal string in ether
}

// Receipt is the confirmation of an included transaction.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
}

// SendResult carries either a Receipt or, when confirmation did not finish
// in time, only the hash of the submitted transaction.
type SendResult struct {
	Receipt *Receipt `json:"receipt,omitempty"`
	TxHash  string   `json:"txHash,omitempty"`
}

// Hash returns the transaction hash regardless of the result shape.
func (r SendResult) Hash() string {
	if r.Receipt != nil {
		return r.Receipt.TransactionHash
	}
	return r.TxHash
}

// Confirmed reports whether the result carries a receipt.
func (r SendResult) Confirmed() bool {
	return r.Receipt != nil
}
