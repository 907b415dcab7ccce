// Package orchestrator generates every configured content unit in one run,
// isolating failures so a broken unit never blocks the others.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/generate"
	"github.com/TobiSchelling/contentforge/internal/research"
)

// Defaults for Options.
const (
	DefaultConcurrency = 2
	DefaultUnitTimeout = 10 * time.Minute
)

// Generator produces one artifact per request. *generate.Controller
// implements it.
type Generator interface {
	Generate(ctx context.Context, req content.Request) (*content.Artifact, error)
}

// Researcher gathers trend context once per run. *research.Researcher
// implements it.
type Researcher interface {
	Collect(ctx context.Context) *research.Briefing
}

// Reporter stores unit outcomes. *database.DB implements it.
type Reporter interface {
	InsertRunReport(r database.RunReport) (int64, error)
}

// Unit is one independently generated piece of content, such as an article
// for one channel.
type Unit struct {
	Name    string
	Request content.Request
}

// UnitResult holds the outcome of a single unit.
type UnitResult struct {
	Unit     string
	Topic    string
	Artifact *content.Artifact
	Err      error
	Kind     generate.Kind
	Duration time.Duration
}

// OK reports whether the unit produced an artifact.
func (u UnitResult) OK() bool { return u.Err == nil && u.Artifact != nil }

// Result holds the results of a full run, in unit order.
type Result struct {
	RunID string
	Units []UnitResult
}

// Succeeded counts the units that produced an artifact.
func (r *Result) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.OK() {
			n++
		}
	}
	return n
}

// Failed counts the units that did not.
func (r *Result) Failed() int { return len(r.Units) - r.Succeeded() }

// Options configure an Orchestrator.
type Options struct {
	Concurrency int
	UnitTimeout time.Duration
}

// Orchestrator fans units out to a Generator.
type Orchestrator struct {
	gen        Generator
	researcher Researcher
	reports    Reporter
	opts       Options
}

// New creates an orchestrator. researcher and reports may be nil.
func New(gen Generator, researcher Researcher, reports Reporter, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = DefaultUnitTimeout
	}
	return &Orchestrator{gen: gen, researcher: researcher, reports: reports, opts: opts}
}

// Run generates all units. It never fails as a whole; per-unit errors are
// in the result.
func (o *Orchestrator) Run(ctx context.Context, units []Unit) *Result {
	r := &Result{RunID: uuid.NewString(), Units: make([]UnitResult, len(units))}
	log.Printf("Run %s: generating %d unit(s), %d at a time", r.RunID[:8], len(units), o.opts.Concurrency)

	var briefing *research.Briefing
	if o.researcher != nil && len(units) > 0 {
		briefing = o.researcher.Collect(ctx)
	}

	// Unit goroutines always return nil so one failure cannot cancel the
	// group's siblings.
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, u := range units {
		g.Go(func() error {
			r.Units[i] = o.runUnit(ctx, r.RunID, u, briefing)
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("Run %s complete: %d succeeded, %d failed", r.RunID[:8], r.Succeeded(), r.Failed())
	return r
}

func (o *Orchestrator) runUnit(ctx context.Context, runID string, u Unit, briefing *research.Briefing) (res UnitResult) {
	start := time.Now()
	req := briefing.Enrich(u.Request)
	if req.Unit == "" {
		req.Unit = u.Name
	}
	res = UnitResult{Unit: u.Name, Topic: req.Topic}

	defer func() {
		if p := recover(); p != nil {
			res.Artifact = nil
			res.Err = fmt.Errorf("unit %s panicked: %v", u.Name, p)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Kind = generate.KindOf(res.Err)
			log.Printf("Unit %s failed after %s: %v", u.Name, res.Duration.Round(time.Millisecond), res.Err)
		}
		o.report(runID, res)
	}()

	unitCtx, cancel := context.WithTimeout(ctx, o.opts.UnitTimeout)
	defer cancel()

	art, err := o.gen.Generate(unitCtx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Artifact = art
	log.Printf("Unit %s produced %q (%d words) via %s", u.Name, art.Title, art.WordCount, art.Provider)
	return res
}

func (o *Orchestrator) report(runID string, res UnitResult) {
	if o.reports == nil {
		return
	}
	rep := database.RunReport{
		RunID:    runID,
		Unit:     res.Unit,
		Topic:    res.Topic,
		Status:   "ok",
		Duration: res.Duration,
	}
	if res.Artifact != nil {
		rep.Provider = &res.Artifact.Provider
		rep.Title = &res.Artifact.Title
		rep.Attempts = res.Artifact.Attempts
	}
	if res.Err != nil {
		f := generate.FailureOf(res.Err)
		kind, msg := string(f.Kind), f.Message
		rep.Status = "failed"
		rep.ErrorKind = &kind
		rep.ErrorMessage = &msg
	}
	if _, err := o.reports.InsertRunReport(rep); err != nil {
		log.Printf("Failed to store run report for %s: %v", res.Unit, err)
	}
}

// Plan is one line of a dry run.
type Plan struct {
	Unit    string
	Topic   string
	Context []string
}

// DryRun shows what Run would generate without calling any provider.
func (o *Orchestrator) DryRun(ctx context.Context, units []Unit) []Plan {
	var briefing *research.Briefing
	if o.researcher != nil && len(units) > 0 {
		briefing = o.researcher.Collect(ctx)
	}

	plans := make([]Plan, 0, len(units))
	for _, u := range units {
		req := briefing.Enrich(u.Request)
		p := Plan{Unit: u.Name, Topic: req.Topic}
		for k := range req.Context {
			p.Context = append(p.Context, k)
		}
		sort.Strings(p.Context)
		plans = append(plans, p)
	}
	return plans
}
