// Package lifecycle drives one tip from user input to a confirmed
// transaction: local validation, the relay call and, when the relay only
// returns a hash, receipt polling until the transaction is included.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"megatips/internal/history"
	"megatips/internal/logger"
	"megatips/internal/relay"
)

const (
	// DefaultPollInterval is the delay between receipt checks.
	DefaultPollInterval = 3 * time.Second

	// DefaultWarnAfter is the number of consecutive failed receipt checks
	// after which a pending submission is reported as stalled.
	DefaultWarnAfter = 5
)

var (
	ErrSubmissionInFlight = errors.New("a tip submission is already in flight")
	ErrClosed             = errors.New("controller is closed")
	ErrAbandoned          = errors.New("submission was reset before the relay answered")
	ErrNoTransaction      = errors.New("relay returned neither a receipt nor a transaction hash")
)

// Sender submits a tip to the relay.
type Sender interface {
	RealtimeSend(ctx context.Context, req relay.SendRequest) (relay.SendResult, error)
}

// ReceiptSource looks up a receipt by transaction hash. A nil receipt with a
// nil error means the transaction is not included yet.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash string) (*history.Receipt, error)
}

// Config wires a Controller.
type Config struct {
	Log      *zap.SugaredLogger
	Sender   Sender
	Receipts ReceiptSource

	// MemoLimit defaults to DefaultMemoLimit.
	MemoLimit int

	// PollInterval is the delay between receipt checks. Nil selects
	// DefaultPollInterval; zero polls back to back.
	PollInterval *time.Duration

	// MaxPollInterval caps the backoff applied after consecutive failed
	// receipt checks. Zero keeps the interval fixed.
	MaxPollInterval time.Duration

	// WarnAfter defaults to DefaultWarnAfter. Negative never reports stalls.
	WarnAfter int

	// OnChange receives every transition in order. It must not call back
	// into the Controller; the status it receives is current.
	OnChange func(Status)
}

// Controller owns the status of one submission at a time.
type Controller struct {
	log       *zap.SugaredLogger
	sender    Sender
	receipts  ReceiptSource
	memoLimit int
	maxPoll   time.Duration
	warnAfter int
	onChange  func(Status)

	mu         sync.Mutex
	status     Status
	interval   time.Duration
	gen        uint64
	closed     bool
	done       chan struct{}
	doneClosed bool
	stopPoll   context.CancelFunc
	wg         sync.WaitGroup

	// notifyMu keeps OnChange calls in transition order.
	notifyMu sync.Mutex
}

// New constructs an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Sender == nil {
		return nil, errors.New("lifecycle: sender is required")
	}

	c := Controller{
		log:       cfg.Log,
		sender:    cfg.Sender,
		receipts:  cfg.Receipts,
		memoLimit: cfg.MemoLimit,
		maxPoll:   cfg.MaxPollInterval,
		warnAfter: cfg.WarnAfter,
		onChange:  cfg.OnChange,
		status:    Status{Kind: StatusIdle},
		interval:  DefaultPollInterval,
	}
	if cfg.PollInterval != nil {
		c.interval = max(*cfg.PollInterval, 0)
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	if c.memoLimit <= 0 {
		c.memoLimit = DefaultMemoLimit
	}
	if c.warnAfter == 0 {
		c.warnAfter = DefaultWarnAfter
	}

	return &c, nil
}

// SetPollInterval changes the delay between receipt checks. Zero is
// allowed and polls back to back.
func (c *Controller) SetPollInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Submit validates req and sends it through the relay. It returns once the
// relay has answered: Confirmed when a receipt came back, Pending when only
// a hash did (polling continues in the background), Error otherwise. A
// Submit while another submission is Sending or Pending is rejected with
// ErrSubmissionInFlight. If Reset runs before the relay answers, Submit
// returns the Idle status and ErrAbandoned.
func (c *Controller) Submit(ctx context.Context, req TipRequest) (Status, error) {
	valid, verr := Validate(req, c.memoLimit)

	first := Status{Kind: StatusSending}
	if verr != nil {
		first = Status{Kind: StatusError, Message: verr.Error()}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	if c.status.Active() {
		st := c.status
		c.mu.Unlock()
		return st, ErrSubmissionInFlight
	}
	c.gen++
	gen := c.gen
	c.done = make(chan struct{})
	c.doneClosed = false
	c.applyLocked(first)

	if verr != nil {
		return first, verr
	}

	res, err := c.sender.RealtimeSend(ctx, relay.SendRequest{
		Recipient: valid.Recipient,
		Memo:      valid.Memo,
		AmountEth: valid.AmountEth,
	})

	var next Status
	switch {
	case err != nil:
		next = Status{Kind: StatusError, Message: errorMessage(err)}
		err = fmt.Errorf("realtime send: %w", err)

	case res.Receipt != nil:
		next = Status{Kind: StatusConfirmed, TransactionHash: res.Receipt.TransactionHash}

	case res.TxHash != "":
		next = Status{Kind: StatusPending, TransactionHash: res.TxHash}

	default:
		next = Status{Kind: StatusError, Message: ErrNoTransaction.Error()}
		err = ErrNoTransaction
	}

	if !c.transition(gen, next) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return c.status, ErrClosed
		}
		return c.status, ErrAbandoned
	}

	if next.Kind == StatusPending {
		c.startPolling(gen, next.TransactionHash)
	}

	return next, err
}

// Wait blocks until the current submission is Confirmed or Error, the
// controller is closed, or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return c.Status(), nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && !c.status.Terminal() {
		return c.status, ErrClosed
	}
	return c.status, nil
}

// Reset abandons the current submission, stopping any receipt polling, and
// returns the controller to Idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	stop := c.stopPoll
	c.stopPoll = nil
	c.gen++
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.wg.Wait()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.releaseWaitersLocked()
	c.done = nil
	c.applyLocked(Status{Kind: StatusIdle})
}

// Close cancels any scheduled receipt poll and waits for the poller to
// exit. No transitions happen after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.releaseWaitersLocked()
	c.mu.Unlock()

	c.wg.Wait()
}

// transition applies next if the controller is open and gen is still the
// current submission.
func (c *Controller) transition(gen uint64, next Status) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.applyLocked(next)
	return true
}

// applyLocked sets the status and notifies the observer. It must be called
// with mu held and releases it.
func (c *Controller) applyLocked(next Status) {
	c.status = next
	if next.Terminal() {
		c.releaseWaitersLocked()
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if c.onChange != nil {
		c.onChange(next)
	}
}

func (c *Controller) releaseWaitersLocked() {
	if c.done != nil && !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}
}

func (c *Controller) startPolling(gen uint64, txHash string) {
	if c.receipts == nil {
		c.log.Infow("no receipt source, leaving transaction pending", "txHash", txHash)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopPoll = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.poll(ctx, gen, txHash)
}

// poll checks for the receipt until it appears or ctx is cancelled. The
// first check runs right away. Failed checks are logged and retried; they
// never end the submission.
func (c *Controller) poll(ctx context.Context, gen uint64, txHash string) {
	defer c.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		receipt, err := c.receipts.TransactionReceipt(ctx, txHash)
		if ctx.Err() != nil {
			return
		}

		var delay time.Duration
		switch {
		case err != nil:
			failures++
			c.log.Errorw("failed to poll receipt", "txHash", txHash, "failures", failures, "ERROR", err)
			if c.warnAfter > 0 && failures == c.warnAfter {
				c.log.Warnw("receipt polling stalled", "txHash", txHash, "failures", failures)
				c.transition(gen, Status{Kind: StatusPending, TransactionHash: txHash, Stalled: true})
			}
			delay = c.backoff(failures)

		case receipt != nil:
			c.transition(gen, Status{Kind: StatusConfirmed, TransactionHash: txHash})

			c.mu.Lock()
			if c.gen == gen && c.stopPoll != nil {
				c.stopPoll()
				c.stopPoll = nil
			}
			c.mu.Unlock()
			return

		default:
			if c.warnAfter > 0 && failures >= c.warnAfter {
				c.transition(gen, Status{Kind: StatusPending, TransactionHash: txHash})
			}
			failures = 0
			delay = c.pollInterval()
		}

		timer.Reset(delay)
	}
}

func (c *Controller) pollInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// backoff doubles the poll interval for each consecutive failure, capped at
// the configured maximum.
func (c *Controller) backoff(failures int) time.Duration {
	base := c.pollInterval()
	if c.maxPoll <= base {
		return base
	}

	d := base
	if d <= 0 {
		d = time.Millisecond
	}
	for i := 0; i < failures && d < c.maxPoll; i++ {
		d *= 2
	}
	if d > c.maxPoll {
		d = c.maxPoll
	}
	return d
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "server error"
}
