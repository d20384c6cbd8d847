package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"megatips/internal/contracts"
	"megatips/internal/ledger"
)

const recipientHex = "0x00000000000000000000000000000000000000b2"

type stubContract struct {
	method string
	params []interface{}
	value  *big.Int
	err    error
	tx     *types.Transaction
}

func (s *stubContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	s.method = method
	s.params = params
	s.value = opts.Value
	if s.err != nil {
		return nil, s.err
	}
	return s.tx, nil
}

func (s *stubContract) Call(_ *bind.CallOpts, results *[]interface{}, _ string, _ ...interface{}) error {
	*results = []interface{}{big.NewInt(99)}
	return nil
}

type stubReceipts struct {
	receipt *types.Receipt
	err     error
	calls   int
}

func (s *stubReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	s.calls++
	return s.receipt, s.err
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

func newTestClient(contract transactor, receipts receiptFetcher) *EthClient {
	c := &EthClient{
		contract:       contract,
		receipts:       receipts,
		transacts:      &bind.TransactOpts{From: common.HexToAddress("0x00000000000000000000000000000000000000a1")},
		confirmTimeout: 50 * time.Millisecond,
		receiptPoll:    5 * time.Millisecond,
	}
	c.applyDefaults()
	return c
}

func TestRealtimeSendReturnsReceipt(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1})
	contract := &stubContract{tx: tx}
	receipts := &stubReceipts{receipt: &types.Receipt{TxHash: tx.Hash(), BlockNumber: big.NewInt(42)}}

	c := newTestClient(contract, receipts)
	res, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, Memo: "gm", AmountEth: "0.1"})
	require.NoError(t, err)

	require.NotNil(t, res.Receipt)
	assert.Equal(t, tx.Hash().Hex(), res.Receipt.TransactionHash)
	assert.Equal(t, uint64(42), res.Receipt.BlockNumber)
	assert.Empty(t, res.TxHash)

	assert.Equal(t, contracts.MethodTip, contract.method)
	assert.Equal(t, []interface{}{common.HexToAddress(recipientHex), "gm"}, contract.params)
	assert.Equal(t, "100000000000000000", contract.value.String())
}

func TestRealtimeSendFallsBackToHash(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 2})
	receipts := &stubReceipts{err: errors.New("boom")}

	c := newTestClient(&stubContract{tx: tx}, receipts)
	res, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, Memo: "gm", AmountEth: "0.1"})
	require.NoError(t, err)

	assert.Nil(t, res.Receipt)
	assert.Equal(t, tx.Hash().Hex(), res.TxHash)
	assert.False(t, res.Confirmed())
}

func TestRealtimeSendFallsBackOnTimeout(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 3})
	receipts := &stubReceipts{err: ethereum.NotFound}

	c := newTestClient(&stubContract{tx: tx}, receipts)
	res, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "1"})
	require.NoError(t, err)

	assert.Equal(t, tx.Hash().Hex(), res.Hash())
	assert.Greater(t, receipts.calls, 1, "not found must keep polling until the timeout")
}

func TestRealtimeSendSubmissionFailure(t *testing.T) {
	c := newTestClient(&stubContract{err: errors.New("connection refused")}, &stubReceipts{})

	_, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "0.1"})
	require.Error(t, err)
	assert.Equal(t, "connection refused", err.Error())

	_, err = c.RealtimeSend(context.Background(), SendRequest{Recipient: "bob", AmountEth: "0.1"})
	require.Error(t, err)

	_, err = c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "lots"})
	require.Error(t, err)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	selector := crypto.Keccak256([]byte("InsufficientBalance()"))[:4]
	c := newTestClient(&stubContract{err: revertErr{data: hexutil.Encode(selector)}}, &stubReceipts{})

	_, err := c.Withdraw(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, contracts.ErrInsufficientBalance)
}

func TestBalance(t *testing.T) {
	c := newTestClient(&stubContract{}, &stubReceipts{})

	bal, err := c.Balance(context.Background(), common.HexToAddress(recipientHex))
	require.NoError(t, err)
	assert.Equal(t, int64(99), bal.Int64())
}

func TestDisabledClient(t *testing.T) {
	_, err := DisabledClient{}.RealtimeSend(context.Background(), SendRequest{})
	require.ErrorIs(t, err, ErrNotConfigured)

	cause := errors.New("parse private key: invalid length")
	_, err = DisabledClient{Err: cause}.RealtimeSend(context.Background(), SendRequest{})
	require.ErrorIs(t, err, cause)
}

func TestNewEthClientRequiresConfig(t *testing.T) {
	_, err := NewEthClient(context.Background(), EthClientConfig{RPCURL: "http://localhost:1"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSimulatedClient(t *testing.T) {
	vault := ledger.New(common.HexToAddress("0x00000000000000000000000000000000000000f0"))
	sim := &SimulatedClient{Vault: vault, From: common.HexToAddress("0x00000000000000000000000000000000000000a1")}

	res, err := sim.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, Memo: "gm", AmountEth: "0.1"})
	require.NoError(t, err)
	require.True(t, res.Confirmed())

	sim.FailWait = true
	res, err = sim.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, Memo: "gm", AmountEth: "0.1"})
	require.NoError(t, err)
	assert.False(t, res.Confirmed())
	assert.NotEmpty(t, res.TxHash)

	bal, err := sim.Balance(context.Background(), common.HexToAddress(recipientHex))
	require.NoError(t, err)
	assert.Equal(t, "0.2", contracts.FormatEther(bal))

	_, err = sim.Withdraw(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, contracts.ErrInsufficientBalance)

	_, err = sim.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "-1"})
	require.Error(t, err)
}

// testKey is the first well-known development account key.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestDialDisablesUnusableSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  EthClientConfig
		want string
	}{
		{"no key", EthClientConfig{RPCURL: "http://localhost:1", VaultAddress: recipientHex}, ErrNotConfigured.Error()},
		{"bad key", EthClientConfig{RPCURL: "http://localhost:1", VaultAddress: recipientHex, PrivateKeyHex: "0x1234"}, "parse private key"},
		{"bad vault", EthClientConfig{RPCURL: "http://localhost:1", VaultAddress: "vault", PrivateKeyHex: testKey}, "invalid vault address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Dial(context.Background(), tt.cfg)
			require.IsType(t, DisabledClient{}, c)

			_, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "0.1"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// fakeNode answers eth_chainId and eth_blockNumber once up is set.
type fakeNode struct {
	up atomic.Bool
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !n.up.Load() {
		http.Error(w, "node starting", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := "0x1"
	if req.Method == "eth_chainId" {
		result = hexutil.EncodeUint64(6342)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func TestDialUnreachableNodeConnectsOnDemand(t *testing.T) {
	node := &fakeNode{}
	srv := httptest.NewServer(node)
	defer srv.Close()

	cfg := EthClientConfig{RPCURL: srv.URL, ChainID: 6342, VaultAddress: recipientHex, PrivateKeyHex: testKey}

	c := Dial(context.Background(), cfg)
	lazy, ok := c.(*LazyClient)
	require.True(t, ok, "an unreachable node must not disable the relay")
	defer lazy.Close()

	_, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "0.1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
	require.Error(t, lazy.Ping(context.Background()))

	node.up.Store(true)
	require.NoError(t, lazy.Ping(context.Background()))

	lazy.mu.Lock()
	require.NotNil(t, lazy.client)
	assert.Equal(t, crypto.PubkeyToAddress(mustKey(t).PublicKey), lazy.client.Signer())
	lazy.mu.Unlock()
}

func TestDialChainMismatchIsReportedPerSend(t *testing.T) {
	node := &fakeNode{}
	node.up.Store(true)
	srv := httptest.NewServer(node)
	defer srv.Close()

	c := Dial(context.Background(), EthClientConfig{RPCURL: srv.URL, ChainID: 1, VaultAddress: recipientHex, PrivateKeyHex: testKey})
	require.IsType(t, &LazyClient{}, c)

	_, err := c.RealtimeSend(context.Background(), SendRequest{Recipient: recipientHex, AmountEth: "0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain id mismatch")
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	pk, err := ParsePrivateKey(testKey)
	require.NoError(t, err)
	return pk
}
