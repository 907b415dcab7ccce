// Package generate runs the bounded generation protocol: a uniqueness loop
// around a content-quality loop, with every provider call inside a transport
// retry band.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/quality"
)

// Default loop bounds.
const (
	DefaultMaxUniqueAttempts   = 2
	DefaultMaxContentRetries   = 1
	DefaultMaxTransportRetries = 2
	DefaultBackoff             = 2 * time.Second
)

// Invoker produces raw responses. *cascade.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Store is the part of the fingerprint store the controller needs.
// *history.Store implements it.
type Store interface {
	RecordUnique(ctx context.Context, c history.Candidate) (history.Record, error)
	Record(ctx context.Context, c history.Candidate) (history.Record, error)
}

// Options bound the loops.
type Options struct {
	MaxUniqueAttempts   int
	MaxContentRetries   int
	MaxTransportRetries int
	Backoff             time.Duration
	// Strict rejects instead of returning best-effort output when a loop
	// runs out of attempts. Requests may override it.
	Strict bool
	// Constraints are the base quality rules, used as given. Requests
	// override them field by field.
	Constraints content.Constraints
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{
		MaxUniqueAttempts:   DefaultMaxUniqueAttempts,
		MaxContentRetries:   DefaultMaxContentRetries,
		MaxTransportRetries: DefaultMaxTransportRetries,
		Backoff:             DefaultBackoff,
		Constraints:         content.DefaultConstraints(),
	}
}

// Controller composes the invoker, the quality gate and the fingerprint
// store. It is safe for concurrent use; each Generate call keeps its own
// state.
type Controller struct {
	invoker Invoker
	store   Store
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a controller.
func New(invoker Invoker, store Store, opts Options) *Controller {
	if opts.MaxUniqueAttempts < 1 {
		opts.MaxUniqueAttempts = 1
	}
	if opts.MaxContentRetries < 0 {
		opts.MaxContentRetries = 0
	}
	if opts.MaxTransportRetries < 1 {
		opts.MaxTransportRetries = 1
	}
	return &Controller{invoker: invoker, store: store, opts: opts, sleep: sleepContext}
}

// run is the per-call state.
type run struct {
	id          string
	unit        string
	req         content.Request
	constraints content.Constraints
	strict      bool
	invocations int
}

func (r *run) logf(format string, args ...any) {
	prefix := fmt.Sprintf("[%s]", r.id)
	if r.unit != "" {
		prefix = fmt.Sprintf("[%s %s]", r.id, r.unit)
	}
	log.Printf(prefix+" "+format, args...)
}

// Generate produces one unique artifact that passed the quality gate, or the
// best effort allowed by the strictness setting. On success exactly one
// history record is written.
func (c *Controller) Generate(ctx context.Context, req content.Request) (*content.Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		id:          uuid.NewString()[:8],
		unit:        req.Unit,
		req:         req.Clone(),
		constraints: c.opts.Constraints.Merge(req.Constraints),
		strict:      c.opts.Strict,
	}
	if req.Strict != nil {
		r.strict = *req.Strict
	}

	var last *content.Artifact
	var lastDup error
	for attempt := 1; attempt <= c.opts.MaxUniqueAttempts; attempt++ {
		r.logf("Generation round %d/%d for %q", attempt, c.opts.MaxUniqueAttempts, r.req.Topic)

		art, err := c.produce(ctx, r)
		if err != nil {
			return nil, err
		}
		art.Attempts = r.invocations
		last = art

		_, err = c.store.RecordUnique(ctx, candidateOf(art, r))
		if err == nil {
			r.logf("Accepted %q from %s after %d invocation(s)", art.Title, art.Provider, r.invocations)
			return art, nil
		}
		if history.IsDuplicate(err) {
			r.logf("Duplicate candidate: %v", err)
			lastDup = err
			r.req.AddAvoidTitle(art.Title)
			continue
		}

		// Persistence failures must not cost the artifact.
		r.logf("Recording history failed, returning artifact anyway: %v", err)
		return art, nil
	}

	if r.strict {
		return nil, &Error{
			Kind:    KindAllAttemptsExhausted,
			Message: fmt.Sprintf("no unique candidate after %d rounds", c.opts.MaxUniqueAttempts),
			Cause:   lastDup,
		}
	}

	r.logf("No unique candidate after %d rounds, accepting %q", c.opts.MaxUniqueAttempts, last.Title)
	if _, err := c.store.Record(ctx, candidateOf(last, r)); err != nil {
		r.logf("Recording history failed: %v", err)
	}
	return last, nil
}

// produce runs the content-quality loop and returns a parsed artifact.
func (c *Controller) produce(ctx context.Context, r *run) (*content.Artifact, error) {
	base := buildPrompt(r.req, r.constraints)
	prompt := base

	var best *content.Artifact
	var bestReport quality.Report
	var lastErr error

	attempts := 1 + c.opts.MaxContentRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.invoke(ctx, r, llm.Request{System: systemPrompt, Prompt: prompt, Schema: artifactSchema})
		if err != nil {
			return nil, err
		}

		art, err := parseResponse(resp)
		if err != nil {
			r.logf("Unusable response (attempt %d/%d): %v", attempt, attempts, err)
			lastErr = err
			prompt = amend(base, invalidRemediation)
			continue
		}

		report := quality.Check(*art, r.constraints)
		art.WordCount = report.Metrics.WordCount
		art.EmbeddedReferenceCount = report.Metrics.ReferenceCount
		art.HasRequiredSection = report.Metrics.HasRequiredSection
		if report.Passed {
			return art, nil
		}

		r.logf("Quality check failed (attempt %d/%d): %s: %s", attempt, attempts, report.Reason, report.Detail)
		lastErr = &QualityError{Report: report}
		if best == nil || quality.Better(report, bestReport) {
			best, bestReport = art, report
		}
		prompt = amend(base, remediation(report, r.constraints))
	}

	if r.strict {
		return nil, &Error{
			Kind:    KindAllAttemptsExhausted,
			Message: fmt.Sprintf("no acceptable content after %d attempts", attempts),
			Cause:   lastErr,
		}
	}
	if best != nil {
		r.logf("Using best-effort draft %q (%s)", best.Title, bestReport.Reason)
		return best, nil
	}
	return nil, &Error{
		Kind:    KindProviderResponseInvalid,
		Message: fmt.Sprintf("no parseable response after %d attempts", attempts),
		Cause:   lastErr,
	}
}

// invoke runs the whole cascade up to MaxTransportRetries times with
// exponential backoff between rounds.
func (c *Controller) invoke(ctx context.Context, r *run, req llm.Request) (*llm.Response, error) {
	var err error
	for attempt := 1; attempt <= c.opts.MaxTransportRetries; attempt++ {
		r.invocations++
		var resp *llm.Response
		resp, err = c.invoker.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, &Error{Kind: KindProviderTransportError, Message: "generation cancelled", Cause: err}
		}
		var all *cascade.AllProvidersFailedError
		if errors.As(err, &all) && !all.Retryable() {
			return nil, &Error{Kind: KindProviderUnavailable, Message: "no usable provider", Cause: err}
		}
		if attempt == c.opts.MaxTransportRetries {
			break
		}

		delay := c.opts.Backoff * time.Duration(1<<(attempt-1))
		r.logf("Cascade failed (attempt %d/%d), retrying in %s: %v", attempt, c.opts.MaxTransportRetries, delay, err)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, &Error{Kind: KindProviderTransportError, Message: "generation cancelled", Cause: serr}
		}
	}

	return nil, &Error{
		Kind:    KindAllAttemptsExhausted,
		Message: fmt.Sprintf("all providers failed after %d cascade attempts", c.opts.MaxTransportRetries),
		Cause:   err,
	}
}

func candidateOf(a *content.Artifact, r *run) history.Candidate {
	return history.Candidate{
		Title:   a.Title,
		Preview: a.Body,
		Topic:   r.req.Topic,
		Excerpt: a.Excerpt,
		Unit:    r.unit,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
