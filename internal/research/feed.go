package research

import (
	"context"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const maxPerFeed = 20

// Entry is a parsed feed item.
type Entry struct {
	URL       string
	Title     string
	Published time.Time // zero when the feed carries no date
	Summary   string
	Source    string
}

// Feed is a single feed configuration.
type Feed struct {
	URL  string `yaml:"url" validate:"required,url"`
	Name string `yaml:"name"`
}

// parseAll parses every feed and returns entries newer than cutoff, freshest
// first. Broken feeds are logged and skipped.
func parseAll(ctx context.Context, parser *gofeed.Parser, feeds []Feed, cutoff time.Time) []Entry {
	var all []Entry
	for _, fc := range feeds {
		if ctx.Err() != nil {
			break
		}
		name := fc.Name
		if name == "" {
			name = sourceName(fc.URL)
		}

		entries, err := parseFeed(ctx, parser, fc.URL, name, cutoff)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}
		all = append(all, entries...)
		log.Printf("Parsed %d entries from %s", len(entries), name)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Published.After(all[j].Published)
	})
	return all
}

func parseFeed(ctx context.Context, parser *gofeed.Parser, feedURL, source string, cutoff time.Time) ([]Entry, error) {
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}
		e, ok := parseItem(item, source)
		if !ok {
			continue
		}
		// Undated items get the benefit of the doubt.
		if e.Published.IsZero() || !e.Published.Before(cutoff) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func parseItem(item *gofeed.Item, source string) (Entry, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return Entry{}, false
	}

	e := Entry{URL: link, Title: title, Source: source}
	switch {
	case item.PublishedParsed != nil:
		e.Published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		e.Published = *item.UpdatedParsed
	}
	if item.Description != "" {
		e.Summary = stripHTML(item.Description)
	} else if item.Content != "" {
		e.Summary = stripHTML(item.Content)
	}
	return e, true
}

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(entities.Replace(b.String())), " ")
}

// sourceName derives a display name from a feed URL, e.g.
// https://feeds.coindesk.com/rss -> Coindesk.
func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	name := host
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
