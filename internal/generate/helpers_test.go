package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
)

// step is one scripted provider reply.
type step struct {
	text string
	err  error
}

// scriptedProvider replays steps in order and repeats the last one.
type scriptedProvider struct {
	id    string
	steps []step

	mu      sync.Mutex
	calls   int
	prompts []string
}

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	p.prompts = append(p.prompts, req.Prompt)

	s := p.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Provider: p.id, Text: s.text}, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Prompt(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[i]
}

func newInvoker(providers ...*scriptedProvider) *cascade.Invoker {
	byID := map[string]*scriptedProvider{}
	var descs []llm.Descriptor
	for i, p := range providers {
		byID[p.id] = p
		descs = append(descs, llm.Descriptor{ID: p.id, Enabled: true, Priority: i + 1})
	}
	return cascade.New(descs, func(d llm.Descriptor) (llm.Provider, error) {
		return byID[d.ID], nil
	})
}

func newStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(context.Background(), history.NewMemoryBackend(), history.DefaultRules())
	require.NoError(t, err)
	return s
}

// article renders a model reply with a body of the given shape.
func article(title string, words, refs int, section bool) string {
	var sb strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("word")
	}
	sb.WriteString("\n\n")
	if section {
		sb.WriteString("## Resources\n\n")
	}
	for i := 0; i < refs; i++ {
		fmt.Fprintf(&sb, "- [ref](https://example.com/source-%d)\n", i)
	}

	data, _ := json.Marshal(map[string]string{
		"title":   title,
		"excerpt": "An excerpt for " + title,
		"body":    sb.String(),
	})
	return string(data)
}

// recordingSleep replaces the backoff sleep and records requested delays.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Backoff = 10 * time.Millisecond
	return opts
}
