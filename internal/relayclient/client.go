// Package relayclient talks to the relay's HTTP API. Client satisfies
// lifecycle.Sender so the submission controller can run against a remote
// relay.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"megatips/internal/history"
	"megatips/internal/hmacauth"
	"megatips/internal/relay"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"

	// DefaultErrorMessage is used when a failed response carries no message.
	DefaultErrorMessage = "Server error"
)

// ResponseError is a non-2xx answer from the relay.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Client calls the relay over HTTP.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	secret     string
	now        func() time.Time

	// Idempotent attaches a fresh idempotency key to every send.
	Idempotent bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHMACSecret signs every request body.
func WithHMACSecret(secret string) Option {
	return func(c *Client) { c.secret = secret }
}

// New builds a client for the relay at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sendPayload struct {
	Recipient string `json:"recipient"`
	Memo      string `json:"memo"`
	AmountEth string `json:"amountEth"`
}

// RealtimeSend posts the tip to /api/realtimeSend.
func (c *Client) RealtimeSend(ctx context.Context, req relay.SendRequest) (relay.SendResult, error) {
	body, err := json.Marshal(sendPayload{
		Recipient: req.Recipient,
		Memo:      req.Memo,
		AmountEth: req.AmountEth,
	})
	if err != nil {
		return relay.SendResult{}, err
	}

	var hdr http.Header
	if c.Idempotent {
		hdr = http.Header{HeaderIdempotencyKey: []string{uuid.NewString()}}
	}

	var res relay.SendResult
	if err := c.do(ctx, http.MethodPost, "/api/realtimeSend", nil, body, hdr, &res); err != nil {
		return relay.SendResult{}, err
	}
	if res.Receipt == nil && res.TxHash == "" {
		return relay.SendResult{}, errors.New("relay response carried neither receipt nor txHash")
	}
	return res, nil
}

// Tips fetches one page of tips sent to recipient.
func (c *Client) Tips(ctx context.Context, recipient string, opts history.Options) (history.Page, error) {
	q := url.Values{}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.FromBlock != "" {
		q.Set("fromBlock", opts.FromBlock)
	}

	var page history.Page
	err := c.do(ctx, http.MethodGet, "/api/tips/"+url.PathEscape(recipient), q, nil, nil, &page)
	if page.Tips == nil {
		page.Tips = []history.TipRecord{}
	}
	return page, err
}

// TransactionReceipt returns the receipt for txHash, or nil while the
// transaction is unconfirmed.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*history.Receipt, error) {
	var out struct {
		Receipt *history.Receipt `json:"receipt"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/receipts/"+url.PathEscape(txHash), nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

// Health calls /health.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("relay reported status %q", out.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, hdr http.Header, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			hmacauth.SignRequest(req, c.secret, body, c.now())
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := DefaultErrorMessage
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &ResponseError{StatusCode: status, Message: msg}
}
