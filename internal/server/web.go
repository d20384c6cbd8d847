package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "X-Idempotency-Key"
)

// handlerFunc is an HTTP handler that reports failures as errors. The
// wrapper turns them into JSON responses.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// errorResponse is the form used for API responses from failures.
type errorResponse struct {
	Error string `json:"error"`
}

// trustedError carries a message that is safe to show the caller together
// with its HTTP status.
type trustedError struct {
	Err    error
	Status int
}

func newTrustedError(err error, status int) error {
	return &trustedError{Err: err, Status: status}
}

func (te *trustedError) Error() string {
	return te.Err.Error()
}

func (te *trustedError) Unwrap() error {
	return te.Err
}

func getTrustedError(err error) *trustedError {
	var te *trustedError
	if !errors.As(err, &te) {
		return nil
	}
	return te
}

type ctxKey int

const requestIDKey ctxKey = 1

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// handle adapts h to the router: it assigns the request id, records
// metrics, logs the outcome and renders errors.
func (s *Server) handle(route string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		rec := &statusRecorder{ResponseWriter: w}

		if err := h(rec, r); err != nil {
			status, msg := http.StatusInternalServerError, err.Error()
			if te := getTrustedError(err); te != nil {
				status = te.Status
			}
			if msg == "" {
				msg = http.StatusText(status)
			}

			s.log.Errorw("request failed", "traceid", id, "route", route, "status", status, "ERROR", err)
			if !rec.wrote {
				_ = respond(rec, status, errorResponse{Error: msg})
			}
		}

		s.metrics.observeRequest(route, rec.status(), time.Since(start))
		s.log.Infow("request completed", "traceid", id, "method", r.Method, "route", route,
			"statuscode", rec.status(), "remoteaddr", r.RemoteAddr, "since", time.Since(start).String())
	}
}

// respond converts a Go value to JSON and sends it to the client.
func respond(w http.ResponseWriter, status int, data any) error {
	if status == http.StatusNoContent || data == nil {
		w.WriteHeader(status)
		return nil
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return respondRaw(w, status, blob)
}

func respondRaw(w http.ResponseWriter, status int, blob []byte) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(blob)
	return err
}

// cors answers preflight requests and decorates responses for the allowed
// origins. A "*" entry allows every origin.
func cors(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, "+headerIdempotencyKey+", "+headerRequestID+", X-Request-Signature, X-Request-Timestamp")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the response code. It passes Hijack through so
// websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wrote {
		return
	}
	sr.code = code
	sr.wrote = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wrote {
		sr.WriteHeader(http.StatusOK)
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.wrote = true
	if sr.code == 0 {
		sr.code = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (sr *statusRecorder) status() int {
	if sr.code == 0 {
		return http.StatusOK
	}
	return sr.code
}
