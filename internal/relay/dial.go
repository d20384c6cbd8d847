package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dial builds the relay client for cfg and never fails. Settings that can
// not work (missing or malformed key, bad vault address) give a
// DisabledClient carrying the cause. When the node is unreachable or
// reports another chain the returned client retries on every send and
// ping, so the failure reaches each caller instead of stopping the service.
func Dial(ctx context.Context, cfg EthClientConfig) Client {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	if _, err := cfg.check(); err != nil {
		cfg.Log.Warnw("relay disabled", "ERROR", err)
		return DisabledClient{Err: err}
	}

	c, err := NewEthClient(ctx, cfg)
	if err == nil {
		return c
	}

	cfg.Log.Warnw("relay node unavailable, connecting on demand", "rpc", cfg.RPCURL, "ERROR", err)
	return &LazyClient{cfg: cfg}
}

// LazyClient connects to the node on first use and keeps the connection
// once the chain id check has passed.
type LazyClient struct {
	cfg EthClientConfig

	mu     sync.Mutex
	client *EthClient
}

func (l *LazyClient) connect(ctx context.Context) (*EthClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}

	c, err := NewEthClient(ctx, l.cfg)
	if err != nil {
		return nil, err
	}
	l.cfg.Log.Infow("relay node connected", "rpc", l.cfg.RPCURL, "relayer", c.Signer())
	l.client = c
	return c, nil
}

func (l *LazyClient) RealtimeSend(ctx context.Context, req SendRequest) (SendResult, error) {
	c, err := l.connect(ctx)
	if err != nil {
		return SendResult{}, err
	}
	return c.RealtimeSend(ctx, req)
}

func (l *LazyClient) Ping(ctx context.Context) error {
	c, err := l.connect(ctx)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// Close releases the connection if one was made.
func (l *LazyClient) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}
