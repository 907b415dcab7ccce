package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// conflictRetries bounds how often a write is retried after ErrConflict.
const conflictRetries = 3

// DuplicateReason says which rule flagged a candidate.
type DuplicateReason int

const (
	// SameContent: the (title, preview) fingerprint is already in the window.
	SameContent DuplicateReason = iota + 1
	// RecentTitle: the normalized title matches one of the recent records.
	RecentTitle
	// TopicOverused: the topic hit the reuse limit among the recent records.
	TopicOverused
)

func (r DuplicateReason) String() string {
	switch r {
	case SameContent:
		return "same content"
	case RecentTitle:
		return "recent title"
	case TopicOverused:
		return "topic overused"
	default:
		return "unknown"
	}
}

// DuplicateError reports a candidate rejected by the store.
type DuplicateError struct {
	Title  string
	Topic  string
	Reason DuplicateReason
}

func (e *DuplicateError) Error() string {
	if e.Reason == TopicOverused {
		return fmt.Sprintf("duplicate content: topic %q used too often recently", e.Topic)
	}
	return fmt.Sprintf("duplicate content: %q (%s)", e.Title, e.Reason)
}

// IsDuplicate reports whether err is, or wraps, a *DuplicateError.
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

// Stats summarizes the window.
type Stats struct {
	Total    int            `json:"total"`
	Capacity int            `json:"capacity"`
	Version  int64          `json:"version"`
	ByUnit   map[string]int `json:"byUnit"`
	ByTopic  map[string]int `json:"byTopic"`
	Oldest   time.Time      `json:"oldest,omitempty"`
	Newest   time.Time      `json:"newest,omitempty"`
}

// Store is the fingerprint store. A mutex makes it the single writer of the
// window within the process; the backend's version check catches writes
// from other processes.
type Store struct {
	mu      sync.Mutex
	backend Backend
	rules   Rules
	window  *Window
	version int64
	now     func() time.Time
}

// Open loads the window from backend.
func Open(ctx context.Context, backend Backend, rules Rules) (*Store, error) {
	rules = rules.withDefaults()
	s := &Store{
		backend: backend,
		rules:   rules,
		window:  NewWindow(rules.Capacity),
		now:     time.Now,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Rules returns the thresholds in effect.
func (s *Store) Rules() Rules { return s.rules }

// Len returns the number of records in the window.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Len()
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	records := make([]Record, len(snap.Records))
	for i, r := range snap.Records {
		records[i] = s.rules.normalizeLoaded(r)
	}
	s.window.Reset(records)
	s.version = snap.Version
	return nil
}

// Refresh reloads the window from the backend.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// IsDuplicate reports whether the candidate repeats history: the same
// normalized (title, preview) anywhere in the window, the same normalized
// title among the recent records, or a topic already used TopicReuseLimit
// times among the recent records.
func (s *Store) IsDuplicate(title, preview, topic string) bool {
	return s.Check(Candidate{Title: title, Preview: preview, Topic: topic}) != nil
}

// Check is IsDuplicate with the reason. It returns nil or a *DuplicateError.
func (s *Store) Check(c Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(c)
}

func (s *Store) check(c Candidate) error {
	if s.window.Contains(s.rules.fingerprint(c.Title, c.Preview)) {
		return &DuplicateError{Title: c.Title, Topic: c.Topic, Reason: SameContent}
	}

	title := Normalize(c.Title)
	topic := Normalize(c.Topic)
	uses := 0
	for _, r := range s.recent() {
		if title != "" && r.TitleNormalized == title {
			return &DuplicateError{Title: c.Title, Topic: c.Topic, Reason: RecentTitle}
		}
		if topic != "" && Normalize(r.Topic) == topic {
			uses++
		}
	}
	if topic != "" && uses >= s.rules.TopicReuseLimit {
		return &DuplicateError{Title: c.Title, Topic: c.Topic, Reason: TopicOverused}
	}
	return nil
}

// recent returns the last RecentWindow records inside the lookback.
func (s *Store) recent() []Record {
	last := s.window.Last(s.rules.RecentWindow)
	if s.rules.Lookback <= 0 {
		return last
	}
	cutoff := s.now().Add(-s.rules.Lookback)
	out := last[:0]
	for _, r := range last {
		if r.CreatedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Record appends the candidate unconditionally, evicting the oldest record
// at capacity, and persists it.
func (s *Store) Record(ctx context.Context, c Candidate) (Record, error) {
	return s.commit(ctx, c, false)
}

// RecordUnique checks and records the candidate as one step. Two concurrent
// callers can never both record the same content; the loser gets a
// *DuplicateError.
func (s *Store) RecordUnique(ctx context.Context, c Candidate) (Record, error) {
	return s.commit(ctx, c, true)
}

func (s *Store) commit(ctx context.Context, c Candidate, unique bool) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.rules.newRecord(c, s.now())
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		if unique {
			if dup := s.check(c); dup != nil {
				return Record{}, dup
			}
		}

		var version int64
		version, err = s.backend.Append(ctx, rec, s.rules.Capacity, s.version)
		if err == nil {
			s.window.Push(rec)
			s.version = version
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}

		log.Printf("History changed underneath us (attempt %d/%d), reloading", attempt, conflictRetries)
		if lerr := s.load(ctx); lerr != nil {
			return Record{}, lerr
		}
	}

	// Keep the record in memory so this process still deduplicates against
	// it; it is lost on restart. This also covers running out of conflict
	// retries.
	s.window.Push(rec)
	return rec, fmt.Errorf("persisting history: %w", err)
}

// Recent returns up to n of the newest records, newest first.
func (s *Store) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Last(n)
}

// Document returns the window in its persisted document form.
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewDocument(s.window.All(), s.version, s.now())
}

// Stats summarizes the window.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:    s.window.Len(),
		Capacity: s.window.Cap(),
		Version:  s.version,
		ByUnit:   make(map[string]int),
		ByTopic:  make(map[string]int),
	}
	for _, r := range s.window.All() {
		unit := r.Unit
		if unit == "" {
			unit = "default"
		}
		st.ByUnit[unit]++
		if r.Topic != "" {
			st.ByTopic[r.Topic]++
		}
		if st.Oldest.IsZero() || r.CreatedAt.Before(st.Oldest) {
			st.Oldest = r.CreatedAt
		}
		if r.CreatedAt.After(st.Newest) {
			st.Newest = r.CreatedAt
		}
	}
	return st
}

// Prune drops records older than maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be positive, got %s", maxAge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= conflictRetries; attempt++ {
		cutoff := s.now().Add(-maxAge)
		var kept []Record
		for _, r := range s.window.All() {
			if r.CreatedAt.After(cutoff) {
				kept = append(kept, r)
			}
		}
		removed := s.window.Len() - len(kept)
		if removed == 0 {
			return 0, nil
		}

		version, err := s.backend.Replace(ctx, kept, s.version)
		if err == nil {
			s.window.Reset(kept)
			s.version = version
			return removed, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		if err := s.load(ctx); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("pruning history: %w", ErrConflict)
}
