package content

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalidRequest is wrapped by every Request.Validate failure.
var ErrInvalidRequest = errors.New("invalid request")

// Default quality thresholds.
const (
	DefaultMinWords        = 900
	DefaultMinReferences   = 3
	DefaultRequiredSection = "resources"
)

// Constraints are the structural rules an artifact must satisfy.
type Constraints struct {
	MinWords           int      `json:"minWords" yaml:"min_words" validate:"gte=0"`
	MinReferences      int      `json:"minReferences" yaml:"min_references" validate:"gte=0"`
	RequiredSection    string   `json:"requiredSection" yaml:"required_section"`
	ReferenceAllowlist []string `json:"referenceAllowlist,omitempty" yaml:"reference_allowlist"`
}

// DefaultConstraints returns the blog-grade defaults.
func DefaultConstraints() Constraints {
	return Constraints{
		MinWords:        DefaultMinWords,
		MinReferences:   DefaultMinReferences,
		RequiredSection: DefaultRequiredSection,
	}
}

// Override is a partial Constraints. A nil field keeps the base value; a
// set field wins even when it is zero or empty, so a unit can drop the
// reference or section requirement entirely. A non-nil empty allow-list
// accepts any http(s) link.
type Override struct {
	MinWords           *int     `json:"minWords,omitempty" yaml:"min_words" validate:"omitempty,gte=0"`
	MinReferences      *int     `json:"minReferences,omitempty" yaml:"min_references" validate:"omitempty,gte=0"`
	RequiredSection    *string  `json:"requiredSection,omitempty" yaml:"required_section"`
	ReferenceAllowlist []string `json:"referenceAllowlist,omitempty" yaml:"reference_allowlist"`
}

// Merge overlays the set fields of o on c.
func (c Constraints) Merge(o Override) Constraints {
	if o.MinWords != nil {
		c.MinWords = *o.MinWords
	}
	if o.MinReferences != nil {
		c.MinReferences = *o.MinReferences
	}
	if o.RequiredSection != nil {
		c.RequiredSection = *o.RequiredSection
	}
	if o.ReferenceAllowlist != nil {
		c.ReferenceAllowlist = slices.Clone(o.ReferenceAllowlist)
	}
	return c
}

// Request is a single generation request. It is owned by one Generate call.
type Request struct {
	Topic       string         `json:"topic" validate:"required"`
	Unit        string         `json:"unit,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Style       []string       `json:"style,omitempty"`
	Constraints Override       `json:"constraints"`
	AvoidTitles []string       `json:"avoidTitles,omitempty"`
	Strict      *bool          `json:"strict,omitempty"`
}

// Validate checks the request's required fields and bounds.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Clone returns a deep copy of the request's mutable fields.
func (r Request) Clone() Request {
	out := r
	if r.Context != nil {
		out.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			out.Context[k] = v
		}
	}
	out.Style = append([]string(nil), r.Style...)
	out.AvoidTitles = append([]string(nil), r.AvoidTitles...)
	out.Constraints.ReferenceAllowlist = slices.Clone(r.Constraints.ReferenceAllowlist)
	return out
}

// AddAvoidTitle appends title unless an equal title (ignoring case and
// surrounding whitespace) is already present.
func (r *Request) AddAvoidTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	for _, t := range r.AvoidTitles {
		if strings.EqualFold(strings.TrimSpace(t), title) {
			return false
		}
	}
	r.AvoidTitles = append(r.AvoidTitles, title)
	return true
}

// Artifact is a parsed, measured piece of generated content.
type Artifact struct {
	Title                  string `json:"title"`
	Body                   string `json:"body"`
	Excerpt                string `json:"excerpt"`
	WordCount              int    `json:"wordCount"`
	EmbeddedReferenceCount int    `json:"embeddedReferenceCount"`
	HasRequiredSection     bool   `json:"-"`

	Provider string `json:"-"`
	Attempts int    `json:"-"`
}
