package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackend stores the window as a JSON Document. Writes go to a temp file
// that is renamed over the original, and the version in the file is checked
// before every write.
type FileBackend struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileBackend creates a backend for path. The file need not exist yet.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &FileBackend{path: path, now: time.Now}, nil
}

// Path returns the document path.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Load(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Records: doc.Records, Version: doc.Version}, nil
}

func (f *FileBackend) Append(ctx context.Context, rec Record, capacity int, expect int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return 0, err
	}
	if doc.Version != expect {
		return 0, fmt.Errorf("append at version %d (file has %d): %w", expect, doc.Version, ErrConflict)
	}
	return f.write(trimTo(append(doc.Records, rec), capacity), doc.Version+1)
}

func (f *FileBackend) Replace(ctx context.Context, records []Record, expect int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return 0, err
	}
	if doc.Version != expect {
		return 0, fmt.Errorf("replace at version %d (file has %d): %w", expect, doc.Version, ErrConflict)
	}
	return f.write(records, doc.Version+1)
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) read() (Document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("reading history: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing history %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *FileBackend) write(records []Record, version int64) (int64, error) {
	data, err := json.MarshalIndent(NewDocument(records, version, f.now()), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".history-*.json")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return 0, fmt.Errorf("replacing history: %w", err)
	}
	return version, nil
}
