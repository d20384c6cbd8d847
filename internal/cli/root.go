// Package cli implements tipsctl, a terminal client for the tips relay and
// the TipsVault contract.
package cli

import (
	"context"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"megatips/internal/relay"
	"megatips/internal/relayclient"
)

const (
	defaultRelayURL = "http://localhost:3000"
	defaultRPCURL   = "https://carrot.megaeth.com/rpc"
	defaultChainID  = 6342
)

// vaultAccount is the direct contract access used by withdraw and balance.
type vaultAccount interface {
	Withdraw(ctx context.Context, amount *big.Int) (common.Hash, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

type options struct {
	relayURL   string
	hmacSecret string
	rpcURL     string
	chainID    int64
	vault      string
	key        string
	timeout    time.Duration

	openVault func(ctx context.Context, o *options) (vaultAccount, error)
}

// Execute runs tipsctl with os.Args.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the tipsctl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{openVault: dialVault})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "tipsctl",
		Short:         "Send and inspect MegaETH realtime tips",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.relayURL, "url", "u", envOr("TIPS_RELAY_URL", defaultRelayURL), "Url of the tips relay.")
	pf.StringVar(&o.hmacSecret, "hmac-secret", os.Getenv("MEGAETH_RELAY_HMACSECRET"), "Shared secret for signing relay requests.")
	pf.StringVar(&o.rpcURL, "rpc", envOr("MEGAETH_CHAIN_URL", defaultRPCURL), "MegaETH JSON-RPC endpoint.")
	pf.Int64Var(&o.chainID, "chain-id", int64(envInt("MEGAETH_CHAIN_ID", defaultChainID)), "Expected chain id.")
	pf.StringVar(&o.vault, "vault", os.Getenv("MEGAETH_VAULT_ADDRESS"), "TipsVault contract address.")
	pf.StringVarP(&o.key, "key", "k", os.Getenv("MEGAETH_SIGNER_KEY"), "Hex private key for direct contract calls.")
	pf.DurationVar(&o.timeout, "timeout", 2*time.Minute, "Overall command timeout.")

	root.AddCommand(
		newSendCmd(o),
		newHistoryCmd(o),
		newReceiptCmd(o),
		newWithdrawCmd(o),
		newBalanceCmd(o),
	)
	return root
}

func (o *options) relay() (*relayclient.Client, error) {
	var opts []relayclient.Option
	if o.hmacSecret != "" {
		opts = append(opts, relayclient.WithHMACSecret(o.hmacSecret))
	}
	return relayclient.New(o.relayURL, opts...)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func dialVault(ctx context.Context, o *options) (vaultAccount, error) {
	return relay.NewEthClient(ctx, relay.EthClientConfig{
		RPCURL:        o.rpcURL,
		ChainID:       o.chainID,
		PrivateKeyHex: o.key,
		VaultAddress:  o.vault,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
