package history_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"megatips/internal/history"
	"megatips/internal/ledger"
)

var (
	vaultAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	sender    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	recipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type stubRPC struct {
	err    error
	method string
	args   []interface{}
}

func (s *stubRPC) CallContext(_ context.Context, _ interface{}, method string, args ...interface{}) error {
	s.method = method
	s.args = args
	return s.err
}

func TestFetchRecentTipsEmpty(t *testing.T) {
	vault := ledger.New(vaultAddr)
	r := history.NewReader(ledger.NewRPC(vault, 0), vaultAddr.Hex())

	page, err := r.FetchRecentTips(context.Background(), recipient.Hex(), history.Options{})
	require.NoError(t, err)
	assert.NotNil(t, page.Tips)
	assert.Empty(t, page.Tips)
	assert.Empty(t, page.NextCursor)
}

func TestFetchRecentTipsNullResult(t *testing.T) {
	r := history.NewReader(&stubRPC{}, vaultAddr.Hex())

	page, err := r.FetchRecentTips(context.Background(), recipient.Hex(), history.Options{})
	require.NoError(t, err)
	assert.Equal(t, history.Page{Tips: []history.TipRecord{}}, page)
}

func TestFetchRecentTipsDecodes(t *testing.T) {
	vault := ledger.New(vaultAddr)
	amount, _ := new(big.Int).SetString("1500000000000000000", 10)

	first, err := vault.Tip(sender, recipient, big.NewInt(100000000000000000), "gm")
	require.NoError(t, err)
	second, err := vault.Tip(sender, recipient, amount, "Love the content!")
	require.NoError(t, err)

	r := history.NewReader(ledger.NewRPC(vault, 0), vaultAddr.Hex())
	_, err = r.FetchRecentTips(context.Background(), "not-an-address", history.Options{})
	require.ErrorIs(t, err, history.ErrInvalidAddress)

	page, err := r.FetchRecentTips(context.Background(), strings.ToLower(recipient.Hex()), history.Options{})
	require.NoError(t, err)
	require.Len(t, page.Tips, 2)

	newest := page.Tips[0]
	assert.Equal(t, strings.ToLower(sender.Hex()), newest.From)
	assert.Equal(t, strings.ToLower(recipient.Hex()), newest.To)
	assert.Equal(t, "1.5", newest.AmountEth)
	assert.Equal(t, "Love the content!", newest.Memo)
	assert.Equal(t, second.BlockNumber, newest.BlockNumber)
	assert.Equal(t, second.TxHash.Hex(), newest.TransactionHash)
	assert.NotEmpty(t, newest.Cursor)

	assert.Equal(t, "0.1", page.Tips[1].AmountEth)
	assert.Equal(t, first.TxHash.Hex(), page.Tips[1].TransactionHash)
	assert.Empty(t, page.NextCursor)
}

func TestFetchRecentTipsPaginates(t *testing.T) {
	vault := ledger.New(vaultAddr)
	for i := 0; i < 3; i++ {
		_, err := vault.Tip(sender, recipient, big.NewInt(1), "x")
		require.NoError(t, err)
	}

	r := history.NewReader(ledger.NewRPC(vault, 2), vaultAddr.Hex())

	page, err := r.FetchRecentTips(context.Background(), recipient.Hex(), history.Options{})
	require.NoError(t, err)
	require.Len(t, page.Tips, 2)
	require.NotEmpty(t, page.NextCursor)

	page, err = r.FetchRecentTips(context.Background(), recipient.Hex(), history.Options{Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Tips, 1)
	assert.Empty(t, page.NextCursor)
}

func TestFetchRecentTipsFromBlock(t *testing.T) {
	vault := ledger.New(vaultAddr)
	for i := 0; i < 4; i++ {
		_, err := vault.Tip(sender, recipient, big.NewInt(1), "x")
		require.NoError(t, err)
	}

	r := history.NewReader(ledger.NewRPC(vault, 0), vaultAddr.Hex())
	page, err := r.FetchRecentTips(context.Background(), recipient.Hex(), history.Options{FromBlock: "0x3"})
	require.NoError(t, err)
	require.Len(t, page.Tips, 2)
	assert.Equal(t, uint64(4), page.Tips[0].BlockNumber)
	assert.Equal(t, uint64(3), page.Tips[1].BlockNumber)
}

func TestFetchRecentTipsErrors(t *testing.T) {
	_, err := history.NewReader(&stubRPC{}, "").FetchRecentTips(context.Background(), recipient.Hex(), history.Options{})
	require.ErrorIs(t, err, history.ErrNotConfigured)

	rpc := &stubRPC{err: errors.New("Failed to fetch logs")}
	_, err = history.NewReader(rpc, vaultAddr.Hex()).FetchRecentTips(context.Background(), recipient.Hex(), history.Options{Cursor: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to fetch logs")
	assert.Equal(t, "eth_getLogsWithCursor", rpc.method)
	require.Len(t, rpc.args, 1)

	_, err = history.NewReader(&stubRPC{err: errors.New("")}, vaultAddr.Hex()).FetchRecentTips(context.Background(), recipient.Hex(), history.Options{})
	require.ErrorIs(t, err, history.ErrFetchLogs)
}

func TestTransactionReceipt(t *testing.T) {
	vault := ledger.New(vaultAddr)
	e, err := vault.Tip(sender, recipient, big.NewInt(1), "x")
	require.NoError(t, err)

	r := history.NewReader(ledger.NewRPC(vault, 0), "")

	rec, err := r.TransactionReceipt(context.Background(), e.TxHash.Hex())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, e.TxHash.Hex(), rec.TransactionHash)
	assert.Equal(t, e.BlockNumber, rec.BlockNumber)
	assert.Equal(t, uint64(1), rec.Status)

	rec, err = r.TransactionReceipt(context.Background(), common.Hash{0x42}.Hex())
	require.NoError(t, err)
	assert.Nil(t, rec)
}
