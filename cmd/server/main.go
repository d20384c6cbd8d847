package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"megatips/internal/config"
	"megatips/internal/events"
	"megatips/internal/history"
	"megatips/internal/hmacauth"
	"megatips/internal/idempotency"
	"megatips/internal/ledger"
	"megatips/internal/logger"
	"megatips/internal/relay"
	"megatips/internal/server"
)

// build is the git version of this program. It is set using build flags.
var build = "develop"

// simulatedVault is used when the chain is simulated and no vault address
// is configured.
const simulatedVault = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func main() {
	log, err := logger.New("MEGATIPS")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg, help, err := config.Parse(build, "MegaETH realtime tips relay")
	if err != nil {
		return err
	}
	if help != "" {
		fmt.Println(help)
		return nil
	}

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := config.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	ctx := context.Background()

	// =========================================================================
	// Idempotency Store

	store, err := openStore(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	defer store.Close()

	// =========================================================================
	// Chain Support

	vaultAddress, err := cfg.VaultAddress()
	if err != nil {
		return err
	}

	var (
		relayClient relay.Client
		reader      *history.Reader
	)

	switch {
	case cfg.Chain.Simulated:
		if vaultAddress == "" {
			vaultAddress = simulatedVault
		}
		from, err := simulatedSigner(cfg.Signer.Key)
		if err != nil {
			return err
		}

		vault := ledger.New(common.HexToAddress(vaultAddress))
		relayClient = &relay.SimulatedClient{Vault: vault, From: from}
		reader = history.NewReader(ledger.NewRPC(vault, cfg.History.PageSize), vaultAddress)
		log.Infow("startup", "status", "simulated chain", "vault", vaultAddress, "relayer", from)

	default:
		rpcClient, err := rpc.DialContext(ctx, cfg.Chain.URL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer rpcClient.Close()
		reader = history.NewReader(rpcClient, vaultAddress)

		if !cfg.RelayEnabled(vaultAddress) {
			log.Warnw("startup", "status", "relay disabled", "reason", relay.ErrNotConfigured)
			relayClient = relay.DisabledClient{}
			break
		}

		relayClient = relay.Dial(ctx, relay.EthClientConfig{
			Log:             log,
			RPCURL:          cfg.Chain.URL,
			ChainID:         cfg.Chain.ID,
			PrivateKeyHex:   cfg.Signer.Key,
			VaultAddress:    vaultAddress,
			ConfirmTimeout:  cfg.Relay.ConfirmTimeout,
			ReceiptInterval: cfg.Relay.ReceiptInterval,
		})
		if c, ok := relayClient.(interface{ Close() }); ok {
			defer c.Close()
		}
		if ec, ok := relayClient.(*relay.EthClient); ok {
			log.Infow("startup", "status", "relay enabled", "vault", vaultAddress, "relayer", ec.Signer())
		}
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	evts := events.New()
	api := server.New(server.Config{
		Log:     log,
		Relay:   relayClient,
		History: reader,
		Store:   store,
		Events:  evts,
		HMAC: &hmacauth.Verifier{
			Secret:  cfg.Relay.HMACSecret,
			MaxSkew: cfg.Relay.HMACClockSkew,
		},
		Addr:              cfg.Addr(),
		CORSOrigins:       cfg.Web.CORSOrigins,
		IdempotencyWindow: cfg.Store.Window,
		MemoLimit:         cfg.Relay.MemoLimit,
		ReadTimeout:       cfg.Web.ReadTimeout,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- api.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

func openStore(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) (idempotency.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreFile:
		return idempotency.NewFileStore(filepath.Join(cfg.Store.Path, "records.json"))

	case config.StorePebble:
		store, err := idempotency.NewPebbleStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		go prune(log, store, time.Hour)
		return store, nil

	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return idempotency.NewPostgresStore(ctx, cfg.Store.DSN)

	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// prune drops expired pebble records until the store is closed.
func prune(log *zap.SugaredLogger, store *idempotency.PebbleStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		n, err := store.Prune(time.Now())
		if errors.Is(err, idempotency.ErrClosed) {
			return
		}
		if err != nil {
			log.Errorw("prune idempotency records", "ERROR", err)
			continue
		}
		if n > 0 {
			log.Infow("pruned idempotency records", "count", n)
		}
	}
}

// simulatedSigner derives the relayer address from key, or uses a fixed
// development address when no key is set.
func simulatedSigner(key string) (common.Address, error) {
	if key == "" {
		return common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), nil
	}
	pk, err := relay.ParsePrivateKey(key)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(pk.PublicKey), nil
}
