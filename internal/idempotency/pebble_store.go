package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

const pebbleKeyPrefix = "realtime-send/"

// PebbleStore keeps CBOR-encoded records in an embedded pebble database.
type PebbleStore struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20),
		MemTableSize: 4 << 20,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Get(_ context.Context, key string) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	value, closer, err := p.db.Get([]byte(pebbleKeyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var rec Record
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (p *PebbleStore) Save(_ context.Context, key string, record Record) error {
	blob, err := cbor.Marshal(record)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	return p.db.Set([]byte(pebbleKeyPrefix+key), blob, pebble.Sync)
}

// Prune deletes expired records and returns how many were removed.
func (p *PebbleStore) Prune(now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleKeyPrefix),
		UpperBound: []byte(pebbleKeyPrefix[:len(pebbleKeyPrefix)-1] + "0"),
	})
	if err != nil {
		return 0, err
	}

	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil || rec.Expired(now) {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, k := range stale {
		if err := p.db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (p *PebbleStore) Ping(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
