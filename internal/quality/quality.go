// Package quality implements the structural quality gate for generated artifacts.
package quality

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/markup"
)

// Reason identifies the first rule an artifact failed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTooShort
	ReasonMissingReferences
	ReasonMissingSection
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonTooShort:
		return "TooShort"
	case ReasonMissingReferences:
		return "MissingReferences"
	case ReasonMissingSection:
		return "MissingSection"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Metrics are the measurements a report was derived from.
type Metrics struct {
	WordCount          int
	ReferenceCount     int
	HasRequiredSection bool
}

// Report is the outcome of a quality check.
type Report struct {
	Passed  bool
	Reason  Reason
	Detail  string
	Metrics Metrics
}

// Measure computes the metrics for a markdown body under the given constraints.
func Measure(body string, c content.Constraints) Metrics {
	a := markup.Analyze(body)
	return Metrics{
		WordCount:          a.Words,
		ReferenceCount:     countReferences(a.Links, c.ReferenceAllowlist),
		HasRequiredSection: hasSection(body, c.RequiredSection),
	}
}

// Check validates an artifact. It has no side effects and only reports the
// first failing rule: length, then references, then the required section.
func Check(a content.Artifact, c content.Constraints) Report {
	m := Measure(a.Body, c)
	r := Report{Passed: true, Metrics: m}

	switch {
	case m.WordCount < c.MinWords:
		r.Passed = false
		r.Reason = ReasonTooShort
		r.Detail = fmt.Sprintf("%d words, need at least %d", m.WordCount, c.MinWords)
	case m.ReferenceCount < c.MinReferences:
		r.Passed = false
		r.Reason = ReasonMissingReferences
		r.Detail = fmt.Sprintf("%d allowed references, need at least %d", m.ReferenceCount, c.MinReferences)
	case !m.HasRequiredSection:
		r.Passed = false
		r.Reason = ReasonMissingSection
		r.Detail = fmt.Sprintf("missing %q section", c.RequiredSection)
	}
	return r
}

// Better reports whether a ranks above b. Artifacts that fail a later rule
// rank higher; ties go to the longer body.
func Better(a, b Report) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra > rb
	}
	return a.Metrics.WordCount > b.Metrics.WordCount
}

func rank(r Report) int {
	if r.Passed {
		return 4
	}
	return int(r.Reason)
}

func hasSection(body, marker string) bool {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return true
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(marker))
}

func countReferences(links, allowlist []string) int {
	n := 0
	for _, link := range links {
		if isAllowed(link, allowlist) {
			n++
		}
	}
	return n
}

// isAllowed matches a link against allow-list entries. An entry matches when
// the link starts with it or when the link's host equals or is a subdomain of
// the entry's host. An empty allow-list accepts any http(s) link.
func isAllowed(link string, allowlist []string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(allowlist) == 0 {
		return true
	}

	host := strings.ToLower(u.Hostname())
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(link), strings.ToLower(entry)) {
			return true
		}
		eh := entry
		if eu, err := url.Parse(entry); err == nil && eu.Host != "" {
			eh = eu.Hostname()
		}
		eh = strings.TrimPrefix(strings.ToLower(eh), "www.")
		h := strings.TrimPrefix(host, "www.")
		if h == eh || strings.HasSuffix(h, "."+eh) {
			return true
		}
	}
	return false
}
