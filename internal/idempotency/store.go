// Package idempotency remembers realtime-send responses by client key so a
// retried request replays the first answer instead of tipping twice.
package idempotency

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultWindow is how long a stored response stays replayable.
const DefaultWindow = 24 * time.Hour

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("idempotency store is closed")

// Record holds a stored response. Fingerprint identifies the request body
// that produced it.
type Record struct {
	Fingerprint string    `json:"fingerprint" cbor:"1,keyasint"`
	StatusCode  int       `json:"statusCode" cbor:"2,keyasint"`
	Response    []byte    `json:"response" cbor:"3,keyasint"`
	CreatedAt   time.Time `json:"createdAt" cbor:"4,keyasint"`
	ExpiresAt   time.Time `json:"expiresAt" cbor:"5,keyasint"`
}

// Expired reports whether the record may no longer be replayed at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store abstracts idempotency persistence. Get returns nil, nil for unknown
// or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
	Ping(ctx context.Context) error
	Close() error
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || rec.Expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// FileStore persists records to a JSON file. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	if record.Expired(time.Now()) {
		delete(f.data, key)
		_ = f.persist()
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = record
	return f.persist()
}

func (f *FileStore) Ping(context.Context) error { return nil }

func (f *FileStore) Close() error { return nil }
