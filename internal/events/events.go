// Package events fans relay activity out to registered subscribers such as
// websocket connections.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Types of relay events.
const (
	TypeTipSubmitted = "tip.submitted"
	TypeTipConfirmed = "tip.confirmed"
	TypeTipFailed    = "tip.failed"
)

// Event is one relay occurrence as seen by subscribers.
type Event struct {
	Type            string    `json:"type"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	Recipient       string    `json:"recipient,omitempty"`
	AmountEth       string    `json:"amountEth,omitempty"`
	Memo            string    `json:"memo,omitempty"`
	Message         string    `json:"message,omitempty"`
	Time            time.Time `json:"time"`
}

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan string
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A message is dropped when a subscriber's buffer is full.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Subscribers returns the number of registered channels.
func (evt *Events) Subscribers() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()
	return len(evt.m)
}

// Send encodes e as JSON and signals it to every registered channel. Send
// will not block waiting for a receiver on any given channel.
func (evt *Events) Send(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	blob, err := json.Marshal(e)
	if err != nil {
		return
	}
	msg := string(blob)

	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- msg:
		default:
		}
	}
}
