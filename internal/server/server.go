// Package server exposes the relay over HTTP: the realtime send endpoint,
// tip history, receipts, an event stream and health probes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"megatips/internal/events"
	"megatips/internal/history"
	"megatips/internal/hmacauth"
	"megatips/internal/idempotency"
	"megatips/internal/logger"
	"megatips/internal/relay"
)

// TipReader reads tip history and receipts from the chain.
type TipReader interface {
	FetchRecentTips(ctx context.Context, recipient string, opts history.Options) (history.Page, error)
	TransactionReceipt(ctx context.Context, txHash string) (*history.Receipt, error)
}

// Config wires a Server. Log, Relay and Store are required.
type Config struct {
	Log     *zap.SugaredLogger
	Relay   relay.Client
	History TipReader
	Store   idempotency.Store
	Events  *events.Events
	HMAC    *hmacauth.Verifier

	Addr              string
	CORSOrigins       []string
	IdempotencyWindow time.Duration
	MemoLimit         int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type Server struct {
	log         *zap.SugaredLogger
	relay       relay.Client
	history     TipReader
	store       idempotency.Store
	events      *events.Events
	hmac        *hmacauth.Verifier
	window      time.Duration
	memoLimit   int
	inflight    singleflight.Group
	ws          websocket.Upgrader
	metrics     *metricsRegistry
	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func New(cfg Config) *Server {
	s := &Server{
		log:       cfg.Log,
		relay:     cfg.Relay,
		history:   cfg.History,
		store:     cfg.Store,
		events:    cfg.Events,
		hmac:      cfg.HMAC,
		window:    cfg.IdempotencyWindow,
		memoLimit: cfg.MemoLimit,
		metrics:   newMetricsRegistry(),
		ws: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.store == nil {
		s.store = idempotency.NewMemoryStore()
	}
	if s.events == nil {
		s.events = events.New()
	}
	if s.hmac == nil {
		s.hmac = &hmacauth.Verifier{}
	}
	if s.window <= 0 {
		s.window = idempotency.DefaultWindow
	}

	s.dbHealthFn = s.store.Ping
	if checker, ok := cfg.Relay.(relay.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           cors(cfg.CORSOrigins, s.routes()),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          zap.NewStdLog(s.log.Desugar()),
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := httptreemux.NewContextMux()

	mux.Handler(http.MethodPost, "/api/realtimeSend",
		s.hmac.Middleware(s.handle("realtimeSend", s.handleRealtimeSend)))
	mux.Handle(http.MethodGet, "/api/tips/:recipient", s.handle("tips", s.handleTips))
	mux.Handle(http.MethodGet, "/api/receipts/:hash", s.handle("receipts", s.handleReceipt))
	mux.Handle(http.MethodGet, "/api/events", s.handle("events", s.handleEvents))
	mux.Handle(http.MethodGet, "/health", s.handle("health", s.handleHealth))
	mux.Handle(http.MethodGet, "/readiness", s.handle("readiness", s.handleReadiness))
	mux.Handler(http.MethodGet, "/metrics", s.metrics.handler())

	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Infow("startup", "status", "api router started", "host", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown releases event subscribers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Shutdown()
	return s.httpServer.Shutdown(ctx)
}
