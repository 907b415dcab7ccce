// Package research gathers trend context for generation requests from
// RSS/Atom feeds, NewsAPI and the lead article behind them.
package research

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/contentforge/internal/content"
)

// Context keys filled by Enrich.
const (
	KeyHeadlines   = "headlines"
	KeyLeadExcerpt = "lead_excerpt"
	KeySources     = "sources"
	KeyCategory    = "category"
)

const leadExcerptLength = 1200

// Options configure a Researcher.
type Options struct {
	Feeds        []Feed
	DaysBack     int
	MaxHeadlines int
	FetchLead    bool
	Timeout      time.Duration
	NewsAPI      NewsAPI
}

// Briefing is the result of one research pass.
type Briefing struct {
	Entries     []Entry
	LeadExcerpt string
	Category    string
}

// Headlines returns the entry titles.
func (b *Briefing) Headlines() []string {
	out := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, e.Title)
	}
	return out
}

// Sources returns the entry links.
func (b *Briefing) Sources() []string {
	out := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, e.URL)
	}
	return out
}

// Researcher collects headlines once per run and enriches requests with them.
type Researcher struct {
	opts    Options
	parser  *gofeed.Parser
	fetcher *fetcher
	news    *newsAPIClient
	now     func() time.Time
}

// New creates a Researcher.
func New(opts Options) *Researcher {
	if opts.DaysBack <= 0 {
		opts.DaysBack = 3
	}
	if opts.MaxHeadlines <= 0 {
		opts.MaxHeadlines = 5
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	r := &Researcher{
		opts:    opts,
		parser:  parser,
		fetcher: newFetcher(opts.Timeout),
		now:     time.Now,
	}
	if opts.NewsAPI.Enabled {
		r.news = newNewsAPIClient(opts.NewsAPI, opts.Timeout)
	}
	return r
}

// Collect builds a briefing from the configured sources. It never fails; an
// empty briefing means nothing usable was found.
func (r *Researcher) Collect(ctx context.Context) *Briefing {
	b := &Briefing{Category: TopicGeneral}
	cutoff := r.now().AddDate(0, 0, -r.opts.DaysBack)

	var entries []Entry
	if len(r.opts.Feeds) > 0 {
		entries = parseAll(ctx, r.parser, r.opts.Feeds, cutoff)
	}
	if r.news != nil {
		if !r.news.configured() {
			log.Printf("NewsAPI enabled but %s is empty, skipping", r.opts.NewsAPI.APIKeyEnv)
		} else if found, err := r.news.search(ctx, r.opts.NewsAPI.Query, cutoff, r.opts.MaxHeadlines*4); err != nil {
			log.Printf("NewsAPI search failed: %v", err)
		} else {
			log.Printf("Fetched %d articles from NewsAPI for %q", len(found), r.opts.NewsAPI.Query)
			entries = mergeEntries(entries, found)
		}
	}

	if len(entries) > r.opts.MaxHeadlines {
		entries = entries[:r.opts.MaxHeadlines]
	}
	b.Entries = entries
	if len(entries) == 0 {
		log.Println("Research found no recent headlines")
		return b
	}

	lead := entries[0]
	b.LeadExcerpt = lead.Summary
	if r.opts.FetchLead {
		text, err := r.fetcher.text(ctx, lead.URL)
		switch {
		case err != nil:
			log.Printf("Lead article fetch failed, using feed summary: %v", err)
		case text != "":
			b.LeadExcerpt = text
		}
	}
	b.LeadExcerpt = truncate(b.LeadExcerpt, leadExcerptLength)
	b.Category = DetectTopic(lead.Title + " " + lead.Summary)

	log.Printf("Research collected %d headlines (category %s)", len(entries), b.Category)
	return b
}

// Enrich returns a copy of req with the briefing in its context. An empty
// topic is filled from the lead headline. Keys already set on the request
// win.
func (b *Briefing) Enrich(req content.Request) content.Request {
	out := req.Clone()
	if b == nil || len(b.Entries) == 0 {
		return out
	}
	if strings.TrimSpace(out.Topic) == "" {
		out.Topic = b.Entries[0].Title
	}
	if out.Context == nil {
		out.Context = map[string]any{}
	}
	set := func(k string, v any) {
		if _, ok := out.Context[k]; !ok {
			out.Context[k] = v
		}
	}
	set(KeyHeadlines, b.Headlines())
	set(KeySources, b.Sources())
	set(KeyCategory, b.Category)
	if b.LeadExcerpt != "" {
		set(KeyLeadExcerpt, b.LeadExcerpt)
	}
	return out
}

// mergeEntries adds extra to entries, skipping URLs already present, and
// keeps the result freshest first.
func mergeEntries(entries, extra []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.URL] = struct{}{}
	}
	for _, e := range extra {
		if _, ok := seen[e.URL]; ok {
			continue
		}
		seen[e.URL] = struct{}{}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Published.After(entries[j].Published)
	})
	return entries
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
