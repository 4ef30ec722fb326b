package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps admission records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryBackend constructs a MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*Record),
	}
}

// Consume runs one admission step for key under the backend lock.
func (b *MemoryBackend) Consume(_ context.Context, key string, limits Limits, now time.Time) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[key]
	if rec == nil {
		rec = &Record{CallerKey: key, WindowStart: now}
		b.records[key] = rec
	}
	return step(rec, limits, now), nil
}

// Lookup returns a copy of the record for key.
func (b *MemoryBackend) Lookup(_ context.Context, key string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[key]
	if rec == nil {
		return Record{}, false, nil
	}
	return *rec, true, nil
}
