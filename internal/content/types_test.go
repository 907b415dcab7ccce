package content

import (
	"encoding/json"
	"errors"
	"testing"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestMergeKeepsDefaultsForUnsetFields(t *testing.T) {
	c := DefaultConstraints().Merge(Override{MinReferences: intPtr(5)})
	if c.MinWords != DefaultMinWords {
		t.Errorf("expected min words %d, got %d", DefaultMinWords, c.MinWords)
	}
	if c.MinReferences != 5 {
		t.Errorf("expected min references 5, got %d", c.MinReferences)
	}
	if c.RequiredSection != DefaultRequiredSection {
		t.Errorf("expected section %q, got %q", DefaultRequiredSection, c.RequiredSection)
	}
}

func TestMergeHonorsExplicitZeroValues(t *testing.T) {
	base := DefaultConstraints()
	base.ReferenceAllowlist = []string{"coindesk.com"}

	c := base.Merge(Override{
		MinWords:           intPtr(0),
		MinReferences:      intPtr(0),
		RequiredSection:    strPtr(""),
		ReferenceAllowlist: []string{},
	})
	if c.MinWords != 0 || c.MinReferences != 0 || c.RequiredSection != "" {
		t.Errorf("expected explicit zero values to win, got %+v", c)
	}
	if len(c.ReferenceAllowlist) != 0 {
		t.Errorf("expected allow-list cleared, got %v", c.ReferenceAllowlist)
	}
}

func TestOverrideJSONDistinguishesZeroFromUnset(t *testing.T) {
	var r Request
	if err := json.Unmarshal([]byte(`{"topic": "t", "constraints": {"minReferences": 0, "requiredSection": ""}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Constraints.MinWords != nil {
		t.Errorf("expected minWords unset, got %d", *r.Constraints.MinWords)
	}
	if r.Constraints.MinReferences == nil || *r.Constraints.MinReferences != 0 {
		t.Errorf("expected explicit minReferences 0, got %v", r.Constraints.MinReferences)
	}
	if r.Constraints.RequiredSection == nil || *r.Constraints.RequiredSection != "" {
		t.Errorf("expected explicit empty section, got %v", r.Constraints.RequiredSection)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := Request{
		Topic:       "ai",
		Context:     map[string]any{"k": "v"},
		AvoidTitles: []string{"One"},
	}
	c := r.Clone()
	c.Context["k"] = "changed"
	c.AddAvoidTitle("Two")

	if r.Context["k"] != "v" {
		t.Error("expected original context untouched")
	}
	if len(r.AvoidTitles) != 1 {
		t.Errorf("expected original avoid titles untouched, got %v", r.AvoidTitles)
	}
}

func TestAddAvoidTitleDeduplicates(t *testing.T) {
	var r Request
	if !r.AddAvoidTitle("Hello World") {
		t.Fatal("expected first add to succeed")
	}
	if r.AddAvoidTitle("  hello world ") {
		t.Error("expected case-insensitive duplicate to be ignored")
	}
	if r.AddAvoidTitle("   ") {
		t.Error("expected blank title to be ignored")
	}
	if len(r.AvoidTitles) != 1 {
		t.Errorf("expected 1 avoid title, got %d", len(r.AvoidTitles))
	}
}

func TestValidate(t *testing.T) {
	if err := (Request{Topic: "crypto"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Request{Topic: "   "}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for blank topic, got %v", err)
	}
	bad := Request{Topic: "crypto", Constraints: Override{MinWords: intPtr(-1)}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for negative min words, got %v", err)
	}
}
