package hmacauth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const tipBody = `{"recipient":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","memo":"gm","amountEth":"0.1"}`

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func TestMiddleware_AllowsSignedRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/realtimeSend", strings.NewReader(tipBody))
	SignRequest(req, "secret", []byte(tipBody), now)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	})

	fixedVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != tipBody {
		t.Fatalf("handler saw body %q, want the original", seen)
	}
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	tests := []struct {
		name string
		set  func(r *http.Request)
		want error
	}{
		{
			name: "no signature",
			set:  func(r *http.Request) { r.Header.Set(HeaderTimestamp, ts) },
			want: ErrMissingSignature,
		},
		{
			name: "no timestamp",
			set:  func(r *http.Request) { r.Header.Set(HeaderSignature, "abc") },
			want: ErrMissingTimestamp,
		},
		{
			name: "stale",
			set: func(r *http.Request) {
				SignRequest(r, "secret", []byte(tipBody), now.Add(-2*time.Minute))
			},
			want: ErrStaleTimestamp,
		},
		{
			name: "wrong secret",
			set: func(r *http.Request) {
				SignRequest(r, "other", []byte(tipBody), now)
			},
			want: ErrInvalidSignature,
		},
		{
			name: "tampered body",
			set: func(r *http.Request) {
				SignRequest(r, "secret", []byte(`{"amountEth":"100"}`), now)
			},
			want: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/realtimeSend", strings.NewReader(tipBody))
			tt.set(req)

			if err := fixedVerifier(now).Verify(req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMiddleware_RejectsWithJSON(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/realtimeSend", strings.NewReader(tipBody))
	req.Header.Set(HeaderSignature, "deadbeef")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	rec := httptest.NewRecorder()

	fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"invalid request signature"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestVerify_DisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/realtimeSend", strings.NewReader(tipBody))

	var v *Verifier
	if err := v.Verify(req); err != nil {
		t.Fatalf("nil verifier should accept, got %v", err)
	}
	if err := (&Verifier{}).Verify(req); err != nil {
		t.Fatalf("empty secret should accept, got %v", err)
	}
}
