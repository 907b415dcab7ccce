// Package cascade tries generation backends one after another in priority
// order until one of them answers.
package cascade

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/contentforge/internal/llm"
)

// Failure is one provider's failed attempt within a cascade.
type Failure struct {
	Provider string
	Err      error
}

// AllProvidersFailedError is returned when no provider produced a response.
type AllProvidersFailedError struct {
	Failures []Failure
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Failures) == 0 {
		return "all providers failed: no providers enabled"
	}
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.Provider
	}
	last := e.Failures[len(e.Failures)-1]
	return fmt.Sprintf("all providers failed (%s): last error: %v", strings.Join(ids, ", "), last.Err)
}

// Unwrap returns the last underlying error.
func (e *AllProvidersFailedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

// Retryable reports whether restarting the cascade could help. It is false
// when there are no providers or every provider is unavailable.
func (e *AllProvidersFailedError) Retryable() bool {
	for _, f := range e.Failures {
		if !llm.IsUnavailable(f.Err) {
			return true
		}
	}
	return false
}

// Invoker runs the cascade. It is safe for concurrent use; concurrent
// callers share the sticky provider and the health book.
type Invoker struct {
	providers []llm.Descriptor
	factory   llm.Factory
	limiters  map[string]*rate.Limiter
	health    *healthBook
}

// New creates an invoker over the enabled descriptors, ordered by priority
// (lower first). A nil factory uses llm.NewProvider.
func New(descriptors []llm.Descriptor, factory llm.Factory) *Invoker {
	if factory == nil {
		factory = llm.NewProvider
	}

	var enabled []llm.Descriptor
	for _, d := range descriptors {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	limiters := make(map[string]*rate.Limiter)
	for _, d := range enabled {
		if d.RequestsPerMinute > 0 {
			limiters[d.ID] = rate.NewLimiter(rate.Limit(float64(d.RequestsPerMinute)/60.0), 1)
		}
	}

	return &Invoker{
		providers: enabled,
		factory:   factory,
		limiters:  limiters,
		health:    newHealthBook(),
	}
}

// Providers returns the enabled descriptors in priority order.
func (inv *Invoker) Providers() []llm.Descriptor {
	return append([]llm.Descriptor(nil), inv.providers...)
}

// Order returns the order the next Invoke will try providers in: priority
// order with the sticky provider moved to the front.
func (inv *Invoker) Order() []llm.Descriptor {
	sticky := inv.health.stickyID()
	order := make([]llm.Descriptor, 0, len(inv.providers))
	for _, d := range inv.providers {
		if d.ID == sticky {
			order = append(order, d)
		}
	}
	for _, d := range inv.providers {
		if d.ID != sticky {
			order = append(order, d)
		}
	}
	return order
}

// Sticky returns the ID of the last provider that succeeded, if any.
func (inv *Invoker) Sticky() string {
	return inv.health.stickyID()
}

// Health returns a snapshot of the per-provider health records.
func (inv *Invoker) Health() []Health {
	return inv.health.snapshot()
}

// Invoke sends req to each provider in Order until one succeeds. Providers
// are never called concurrently. If every provider fails the error is an
// *AllProvidersFailedError; if ctx ends first the context error is returned.
func (inv *Invoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var failures []Failure

	for _, d := range inv.Order() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cascade interrupted: %w", err)
		}

		resp, err := inv.call(ctx, d, req)
		if err == nil {
			inv.health.success(d.ID)
			return resp, nil
		}

		// The caller's own deadline is not the provider's fault.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("cascade interrupted: %w", ctx.Err())
		}

		log.Printf("Provider %s failed: %v", d.ID, err)
		inv.health.failure(d.ID, err)
		failures = append(failures, Failure{Provider: d.ID, Err: err})
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

func (inv *Invoker) call(ctx context.Context, d llm.Descriptor, req llm.Request) (*llm.Response, error) {
	p, err := inv.factory(d)
	if err != nil {
		if !llm.IsUnavailable(err) {
			err = &llm.UnavailableError{Provider: d.ID, Reason: err.Error()}
		}
		return nil, err
	}

	callCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	if lim := inv.limiters[d.ID]; lim != nil {
		if err := lim.Wait(callCtx); err != nil {
			return nil, &llm.TransportError{Provider: d.ID, Cause: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	resp, err := p.Generate(callCtx, req)
	if err != nil {
		return nil, llm.Classify(d.ID, err)
	}
	if resp.Provider == "" {
		resp.Provider = d.ID
	}
	return resp, nil
}
