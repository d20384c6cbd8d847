package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"megatips/internal/events"
	"megatips/internal/history"
	"megatips/internal/idempotency"
	"megatips/internal/lifecycle"
	"megatips/internal/relay"
	"megatips/internal/validate"
)

const maxBodyBytes = 64 << 10

var (
	errInvalidPayload = errors.New("Invalid payload")
	errKeyReused      = errors.New("idempotency key was used with a different payload")
)

// realtimeSendRequest uses pointers so an empty memo is accepted while a
// missing one is not.
type realtimeSendRequest struct {
	Recipient *string `json:"recipient" validate:"required"`
	Memo      *string `json:"memo" validate:"required"`
	AmountEth *string `json:"amountEth" validate:"required"`
}

func (s *Server) handleRealtimeSend(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.incTip("invalid")
		return newTrustedError(errInvalidPayload, http.StatusBadRequest)
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	fingerprint := idempotency.Fingerprint(body)

	if key != "" {
		if existing := s.lookup(ctx, key); existing != nil {
			if existing.Fingerprint != "" && existing.Fingerprint != fingerprint {
				s.metrics.incTip("conflict")
				return newTrustedError(errKeyReused, http.StatusUnprocessableEntity)
			}
			s.metrics.incTip("cached")
			return respondRaw(w, existing.StatusCode, existing.Response)
		}
	}

	var payload realtimeSendRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.incTip("invalid")
		return newTrustedError(errInvalidPayload, http.StatusBadRequest)
	}
	if err := validate.Check(payload); err != nil {
		s.log.Infow("rejected payload", "traceid", requestID(ctx), "fields", validate.GetFieldErrors(err).Fields())
		s.metrics.incTip("invalid")
		return newTrustedError(errInvalidPayload, http.StatusBadRequest)
	}
	if err := lifecycle.CheckMemo(*payload.Memo, s.memoLimit); err != nil {
		s.metrics.incTip("invalid")
		return newTrustedError(err, http.StatusBadRequest)
	}

	req := relay.SendRequest{
		Recipient: *payload.Recipient,
		Memo:      *payload.Memo,
		AmountEth: *payload.AmountEth,
	}

	if key == "" {
		record, err := s.send(ctx, "", fingerprint, req)
		if err != nil {
			return err
		}
		return respondRaw(w, record.StatusCode, record.Response)
	}

	// Requests sharing a key wait on the first one. The store is read again
	// inside the group for requests that missed the lookup above.
	v, err, shared := s.inflight.Do(key, func() (any, error) {
		if existing := s.lookup(ctx, key); existing != nil {
			return *existing, nil
		}
		return s.send(context.WithoutCancel(ctx), key, fingerprint, req)
	})
	if err != nil {
		return err
	}

	record := v.(idempotency.Record)
	if record.Fingerprint != "" && record.Fingerprint != fingerprint {
		s.metrics.incTip("conflict")
		return newTrustedError(errKeyReused, http.StatusUnprocessableEntity)
	}
	if shared {
		s.metrics.incTip("cached")
	}
	return respondRaw(w, record.StatusCode, record.Response)
}

// lookup returns the stored record for key, or nil. Store failures are
// logged and treated as a miss.
func (s *Server) lookup(ctx context.Context, key string) *idempotency.Record {
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Errorw("idempotency lookup failed", "traceid", requestID(ctx), "key", key, "ERROR", err)
		return nil
	}
	return existing
}

// send submits req through the relay, publishes the outcome as an event
// and, when key is set, stores the successful response under it.
func (s *Server) send(ctx context.Context, key, fingerprint string, req relay.SendRequest) (idempotency.Record, error) {
	res, err := s.relay.RealtimeSend(ctx, req)
	if err != nil {
		s.metrics.incTip("failed")
		s.events.Send(events.Event{
			Type:      events.TypeTipFailed,
			Recipient: req.Recipient,
			AmountEth: req.AmountEth,
			Memo:      req.Memo,
			Message:   err.Error(),
		})
		return idempotency.Record{}, err
	}

	blob, err := json.Marshal(res)
	if err != nil {
		return idempotency.Record{}, err
	}

	now := time.Now()
	record := idempotency.Record{
		Fingerprint: fingerprint,
		StatusCode:  http.StatusOK,
		Response:    blob,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.window),
	}
	if key != "" {
		if err := s.store.Save(ctx, key, record); err != nil {
			s.log.Errorw("idempotency save failed", "traceid", requestID(ctx), "key", key, "ERROR", err)
		}
	}

	evt := events.Event{
		Type:            events.TypeTipSubmitted,
		TransactionHash: res.Hash(),
		Recipient:       req.Recipient,
		AmountEth:       req.AmountEth,
		Memo:            req.Memo,
	}
	if res.Confirmed() {
		evt.Type = events.TypeTipConfirmed
		evt.BlockNumber = res.Receipt.BlockNumber
		s.metrics.incTip("confirmed")
	} else {
		s.metrics.incTip("pending")
	}
	s.events.Send(evt)

	return record, nil
}

func (s *Server) handleTips(w http.ResponseWriter, r *http.Request) error {
	if s.history == nil {
		return newTrustedError(history.ErrNotConfigured, http.StatusServiceUnavailable)
	}

	recipient := httptreemux.ContextParams(r.Context())["recipient"]
	q := r.URL.Query()

	page, err := s.history.FetchRecentTips(r.Context(), recipient, history.Options{
		Cursor:    q.Get("cursor"),
		FromBlock: q.Get("fromBlock"),
	})
	switch {
	case errors.Is(err, history.ErrInvalidAddress):
		s.metrics.incHistory("tips", "invalid")
		return newTrustedError(err, http.StatusBadRequest)
	case errors.Is(err, history.ErrNotConfigured):
		s.metrics.incHistory("tips", "unconfigured")
		return newTrustedError(err, http.StatusServiceUnavailable)
	case err != nil:
		s.metrics.incHistory("tips", "failed")
		return newTrustedError(err, http.StatusBadGateway)
	}

	s.metrics.incHistory("tips", "ok")
	return respond(w, http.StatusOK, page)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) error {
	if s.history == nil {
		return newTrustedError(history.ErrNotConfigured, http.StatusServiceUnavailable)
	}

	hash := httptreemux.ContextParams(r.Context())["hash"]
	if raw, err := hexutil.Decode(hash); err != nil || len(raw) != 32 {
		s.metrics.incHistory("receipt", "invalid")
		return newTrustedError(errors.New("invalid transaction hash"), http.StatusBadRequest)
	}

	receipt, err := s.history.TransactionReceipt(r.Context(), hash)
	if err != nil {
		s.metrics.incHistory("receipt", "failed")
		return newTrustedError(err, http.StatusBadGateway)
	}

	status := "pending"
	if receipt != nil {
		status = "ok"
	}
	s.metrics.incHistory("receipt", status)

	return respond(w, http.StatusOK, struct {
		Receipt *history.Receipt `json:"receipt"`
	}{Receipt: receipt})
}

// handleEvents streams relay events to a websocket client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) error {
	c, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	id := uuid.NewString()
	ch := s.events.Acquire(id)
	defer func() {
		_ = s.events.Release(id)
		s.metrics.setSubscribers(s.events.Subscribers())
	}()
	s.metrics.setSubscribers(s.events.Subscribers())

	// Drain reads so control frames are processed and a client close ends
	// the stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}

		case <-closed:
			return nil
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	return respond(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

type probe struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func runProbe(ctx context.Context, fn func(context.Context) error) probe {
	if fn == nil {
		return probe{Connected: true}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		return probe{Error: err.Error()}
	}
	return probe{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) error {
	rpcInfo := runProbe(r.Context(), s.rpcHealthFn)
	dbInfo := runProbe(r.Context(), s.dbHealthFn)

	_, disabled := s.relay.(relay.DisabledClient)

	status, code := "ready", http.StatusOK
	if !rpcInfo.Connected || !dbInfo.Connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	return respond(w, code, struct {
		Status      string `json:"status"`
		RPC         probe  `json:"rpc"`
		Store       probe  `json:"store"`
		RelayActive bool   `json:"relay_active"`
		Subscribers int    `json:"subscribers"`
	}{
		Status:      status,
		RPC:         rpcInfo,
		Store:       dbInfo,
		RelayActive: !disabled,
		Subscribers: s.events.Subscribers(),
	})
}
