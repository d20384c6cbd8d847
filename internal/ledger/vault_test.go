package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"megatips/internal/contracts"
)

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func eth(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := contracts.ParseEther(s)
	require.NoError(t, err)
	return v
}

func TestTipCreditsBalance(t *testing.T) {
	v := New(vaultAddr)

	e, err := v.Tip(owner, recipient, eth(t, "0.1"), "Keep it up!")
	require.NoError(t, err)

	assert.Equal(t, owner, e.From)
	assert.Equal(t, recipient, e.To)
	assert.Equal(t, "Keep it up!", e.Memo)
	assert.Equal(t, eth(t, "0.1"), v.Balance(recipient))

	blk, ok := v.Receipt(e.TxHash)
	require.True(t, ok)
	assert.Equal(t, e.BlockNumber, blk)
}

func TestWithdraw(t *testing.T) {
	v := New(vaultAddr)

	_, err := v.Tip(owner, recipient, eth(t, "0.2"), "Thanks")
	require.NoError(t, err)

	_, err = v.Withdraw(recipient, eth(t, "0.2"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Balance(recipient).Int64())
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	v := New(vaultAddr)

	_, err := v.Tip(owner, recipient, eth(t, "0.1"), "gm")
	require.NoError(t, err)

	_, err = v.Withdraw(recipient, eth(t, "0.5"))
	require.ErrorIs(t, err, contracts.ErrInsufficientBalance)
	assert.Equal(t, eth(t, "0.1"), v.Balance(recipient), "balance must not change")

	_, err = v.Withdraw(owner, big.NewInt(1))
	require.ErrorIs(t, err, contracts.ErrInsufficientBalance)
}

func TestTipsToPaging(t *testing.T) {
	v := New(vaultAddr)
	other := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	for i := 0; i < 5; i++ {
		_, err := v.Tip(owner, recipient, big.NewInt(int64(i+1)), "r")
		require.NoError(t, err)
		_, err = v.Tip(owner, other, big.NewInt(1), "o")
		require.NoError(t, err)
	}

	page, next, err := v.TipsTo(recipient, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Amount.Int64())
	assert.Equal(t, int64(4), page[1].Amount.Int64())
	require.NotEmpty(t, next)

	page, next, err = v.TipsTo(recipient, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Amount.Int64())

	page, next, err = v.TipsTo(recipient, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].Amount.Int64())
	assert.Empty(t, next)

	_, _, err = v.TipsTo(recipient, "nope", 2)
	require.ErrorIs(t, err, ErrBadCursor)
}

func TestRPCReceipt(t *testing.T) {
	v := New(vaultAddr)
	rpc := NewRPC(v, 0)

	e, err := v.Tip(owner, recipient, big.NewInt(7), "x")
	require.NoError(t, err)

	var got *rpcReceipt
	require.NoError(t, rpc.CallContext(context.Background(), &got, "eth_getTransactionReceipt", e.TxHash))
	require.NotNil(t, got)
	assert.Equal(t, e.BlockNumber, uint64(got.BlockNumber))

	got = nil
	require.NoError(t, rpc.CallContext(context.Background(), &got, "eth_getTransactionReceipt", common.Hash{0x1}))
	assert.Nil(t, got)

	require.Error(t, rpc.CallContext(context.Background(), &got, "eth_chainId"))
}
