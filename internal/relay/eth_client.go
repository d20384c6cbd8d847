package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"megatips/internal/contracts"
)

const (
	defaultConfirmTimeout = 10 * time.Second
	defaultReceiptPoll    = time.Second
)

type transactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthClient signs and submits TipsVault transactions with the server key.
type EthClient struct {
	log            *zap.SugaredLogger
	client         *ethclient.Client
	contract       transactor
	receipts       receiptFetcher
	address        common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
	receiptPoll    time.Duration

	// The signer has one nonce sequence; transactions go out one at a time.
	mu        sync.Mutex
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	Log             *zap.SugaredLogger
	RPCURL          string
	ChainID         int64
	PrivateKeyHex   string
	VaultAddress    string
	ConfirmTimeout  time.Duration
	ReceiptInterval time.Duration
}

// check validates the settings that need no network.
func (cfg EthClientConfig) check() (*ecdsa.PrivateKey, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.VaultAddress == "" || cfg.PrivateKeyHex == "" {
		return nil, ErrNotConfigured
	}
	if !common.IsHexAddress(cfg.VaultAddress) {
		return nil, fmt.Errorf("invalid vault address %q", cfg.VaultAddress)
	}
	return ParsePrivateKey(cfg.PrivateKeyHex)
}

// NewEthClient dials the node and checks its chain id.
func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	pk, err := cfg.check()
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		cli.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %s", cfg.ChainID, chainID)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	address := common.HexToAddress(cfg.VaultAddress)
	c := &EthClient{
		log:            cfg.Log,
		client:         cli,
		contract:       contracts.Bind(address, cli),
		receipts:       cli,
		address:        address,
		chainID:        chainID,
		transacts:      txOpts,
		confirmTimeout: cfg.ConfirmTimeout,
		receiptPoll:    cfg.ReceiptInterval,
	}
	c.applyDefaults()
	return c, nil
}

func (c *EthClient) applyDefaults() {
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = defaultConfirmTimeout
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = defaultReceiptPoll
	}
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Signer returns the address transactions are sent from.
func (c *EthClient) Signer() common.Address {
	return c.transacts.From
}

// RealtimeSend submits tip(recipient, memo) carrying the amount as value and
// waits up to the confirm timeout for the receipt. When the wait times out
// or fails the hash of the submitted transaction is returned instead.
func (c *EthClient) RealtimeSend(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := validateSendRequest(req); err != nil {
		return SendResult{}, err
	}

	value, err := contracts.ParseEther(req.AmountEth)
	if err != nil {
		return SendResult{}, err
	}

	tx, err := c.transact(ctx, value, contracts.MethodTip, common.HexToAddress(req.Recipient), req.Memo)
	if err != nil {
		c.log.Errorw("send tip tx", "recipient", req.Recipient, "amountEth", req.AmountEth, "ERROR", err)
		return SendResult{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := WaitForReceipt(waitCtx, c.receipts, tx.Hash(), c.receiptPoll)
	if err != nil {
		c.log.Errorw("realtime send failed to confirm, falling back to hash", "txHash", tx.Hash().Hex(), "ERROR", err)
		return SendResult{TxHash: tx.Hash().Hex()}, nil
	}

	return SendResult{
		Receipt: &Receipt{
			TransactionHash: receipt.TxHash.Hex(),
			BlockNumber:     blockNumber(receipt),
		},
	}, nil
}

// Withdraw moves amount wei of the signer's vault balance out to the signer.
func (c *EthClient) Withdraw(ctx context.Context, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("withdraw amount must be positive")
	}

	tx, err := c.transact(ctx, nil, contracts.MethodWithdraw, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("withdraw tx: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := WaitForReceipt(waitCtx, c.receipts, tx.Hash(), c.receiptPoll)
	if err != nil {
		return tx.Hash(), nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("withdraw %s reverted", tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

// Balance reads balances(addr) from the vault.
func (c *EthClient) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodBalances, addr); err != nil {
		return nil, fmt.Errorf("balances call: %w", contracts.DecodeRevert(err))
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balances call: unexpected output %v", out)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

// Close releases the rpc connection.
func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *EthClient) transact(ctx context.Context, value *big.Int, method string, params ...interface{}) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := *c.transacts
	opts.Context = ctx
	opts.Value = value

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, contracts.DecodeRevert(err)
	}
	return tx, nil
}

func validateSendRequest(req SendRequest) error {
	if !common.IsHexAddress(req.Recipient) {
		return fmt.Errorf("invalid recipient address %q", req.Recipient)
	}
	if strings.TrimSpace(req.AmountEth) == "" {
		return fmt.Errorf("amount required")
	}
	return nil
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func WaitForReceipt(ctx context.Context, client receiptFetcher, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
