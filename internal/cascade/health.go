package cascade

import (
	"sort"
	"sync"
	"time"
)

// Health is the advisory record for one provider. It only decides which
// provider is tried first and never excludes a provider.
type Health struct {
	Provider            string    `json:"provider"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

type healthBook struct {
	mu     sync.Mutex
	sticky string
	byID   map[string]*Health
	now    func() time.Time
}

func newHealthBook() *healthBook {
	return &healthBook{byID: make(map[string]*Health), now: time.Now}
}

func (b *healthBook) entry(id string) *Health {
	h, ok := b.byID[id]
	if !ok {
		h = &Health{Provider: id}
		b.byID[id] = h
	}
	return h
}

func (b *healthBook) success(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.entry(id)
	h.LastSuccessAt = b.now()
	h.ConsecutiveFailures = 0
	h.LastError = ""
	b.sticky = id
}

func (b *healthBook) failure(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.entry(id)
	h.LastFailureAt = b.now()
	h.ConsecutiveFailures++
	if err != nil {
		h.LastError = err.Error()
	}
}

func (b *healthBook) stickyID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sticky
}

func (b *healthBook) snapshot() []Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Health, 0, len(b.byID))
	for _, h := range b.byID {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
