// Package history keeps the bounded record of previously produced artifacts
// and answers duplicate and topic-rotation queries against it.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Default rule values. They are the single shared definition; config may
// override them.
const (
	DefaultCapacity        = 100
	DefaultRecentWindow    = 10
	DefaultTopicReuseLimit = 3
	DefaultPreviewLength   = 200
	DefaultLookback        = 30 * 24 * time.Hour
	DefaultMaxAge          = 90 * 24 * time.Hour
)

// Rules are the thresholds the store enforces.
type Rules struct {
	// Capacity bounds the window (C).
	Capacity int
	// RecentWindow is how many of the newest records the title and topic
	// rules look at (W).
	RecentWindow int
	// TopicReuseLimit is how often a topic may appear among the recent
	// records before it counts as overused (T).
	TopicReuseLimit int
	// PreviewLength is how many runes of the normalized preview are hashed.
	PreviewLength int
	// Lookback limits the title and topic rules to records newer than this.
	// Zero disables the limit.
	Lookback time.Duration
}

// DefaultRules returns the default thresholds.
func DefaultRules() Rules {
	return Rules{
		Capacity:        DefaultCapacity,
		RecentWindow:    DefaultRecentWindow,
		TopicReuseLimit: DefaultTopicReuseLimit,
		PreviewLength:   DefaultPreviewLength,
		Lookback:        DefaultLookback,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.Capacity <= 0 {
		r.Capacity = d.Capacity
	}
	if r.RecentWindow <= 0 {
		r.RecentWindow = d.RecentWindow
	}
	if r.TopicReuseLimit <= 0 {
		r.TopicReuseLimit = d.TopicReuseLimit
	}
	if r.PreviewLength <= 0 {
		r.PreviewLength = d.PreviewLength
	}
	return r
}

// Record is one previously produced artifact.
type Record struct {
	Title           string    `json:"title"`
	TitleNormalized string    `json:"titleNormalized"`
	ContentHash     string    `json:"hash"`
	Topic           string    `json:"topic"`
	Excerpt         string    `json:"excerpt"`
	Snippet         string    `json:"snippet"`
	Unit            string    `json:"unit,omitempty"`
	CreatedAt       time.Time `json:"date"`
}

// Candidate is what a caller wants to check or record.
type Candidate struct {
	Title   string
	Preview string
	Topic   string
	Excerpt string
	Unit    string
}

// Normalize lowercases s and collapses runs of whitespace to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint hashes the normalized title and preview. Inputs that differ
// only by case or whitespace hash identically.
func Fingerprint(title, preview string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(Normalize(title)+"\x00"+Normalize(preview)))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// fingerprint hashes title and the first PreviewLength runes of the
// normalized preview.
func (r Rules) fingerprint(title, preview string) string {
	return Fingerprint(title, truncateRunes(Normalize(preview), r.PreviewLength))
}

func (r Rules) newRecord(c Candidate, at time.Time) Record {
	snippet := truncateRunes(strings.TrimSpace(c.Preview), r.PreviewLength)
	return Record{
		Title:           strings.TrimSpace(c.Title),
		TitleNormalized: Normalize(c.Title),
		ContentHash:     r.fingerprint(c.Title, c.Preview),
		Topic:           strings.TrimSpace(c.Topic),
		Excerpt:         strings.TrimSpace(c.Excerpt),
		Snippet:         snippet,
		Unit:            c.Unit,
		CreatedAt:       at.UTC(),
	}
}

// normalizeLoaded fills derived fields of records read from older documents.
func (r Rules) normalizeLoaded(rec Record) Record {
	if rec.TitleNormalized == "" {
		rec.TitleNormalized = Normalize(rec.Title)
	}
	if rec.ContentHash == "" {
		rec.ContentHash = r.fingerprint(rec.Title, rec.Snippet)
	}
	return rec
}
