package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConflict is returned by a backend when the stored version no longer
// matches the version the caller last saw.
var ErrConflict = errors.New("history version conflict")

// Snapshot is the persisted window at a version.
type Snapshot struct {
	Records []Record // oldest first
	Version int64
}

// Backend persists the window. Writes carry the version the caller last
// loaded and fail with ErrConflict if someone else wrote in between.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	// Append adds rec, keeps only the newest capacity records and returns
	// the new version.
	Append(ctx context.Context, rec Record, capacity int, expect int64) (int64, error)
	// Replace overwrites all records and returns the new version.
	Replace(ctx context.Context, records []Record, expect int64) (int64, error)
	Close() error
}

// MemoryBackend keeps the window in memory only.
type MemoryBackend struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Records: append([]Record(nil), m.snap.Records...), Version: m.snap.Version}, nil
}

func (m *MemoryBackend) Append(ctx context.Context, rec Record, capacity int, expect int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Version != expect {
		return 0, fmt.Errorf("append at version %d (stored %d): %w", expect, m.snap.Version, ErrConflict)
	}
	m.snap.Records = trimTo(append(m.snap.Records, rec), capacity)
	m.snap.Version++
	return m.snap.Version, nil
}

func (m *MemoryBackend) Replace(ctx context.Context, records []Record, expect int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Version != expect {
		return 0, fmt.Errorf("replace at version %d (stored %d): %w", expect, m.snap.Version, ErrConflict)
	}
	m.snap.Records = append([]Record(nil), records...)
	m.snap.Version++
	return m.snap.Version, nil
}

func (m *MemoryBackend) Close() error { return nil }

func trimTo(records []Record, capacity int) []Record {
	if capacity > 0 && len(records) > capacity {
		return append([]Record(nil), records[len(records)-capacity:]...)
	}
	return records
}
