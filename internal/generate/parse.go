package generate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/markup"
)

// excerptLength caps derived excerpts, in runes.
const excerptLength = 200

type structuredArtifact struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Body    string `json:"body"`
}

// parseResponse turns a provider response into an artifact. Structured
// responses are decoded directly; anything else is scanned for the first
// balanced JSON object.
func parseResponse(resp *llm.Response) (*content.Artifact, error) {
	if strings.TrimSpace(resp.Text) == "" {
		return nil, &ResponseInvalidError{Provider: resp.Provider, Reason: "empty response"}
	}

	if resp.Structured {
		if a, ok := decodeStructured(resp.Text); ok {
			return finish(resp.Provider, a)
		}
	}

	obj, ok := llm.ExtractObject(resp.Text)
	if !ok {
		return nil, &ResponseInvalidError{Provider: resp.Provider, Reason: "no JSON object in response"}
	}
	if !gjson.Valid(obj) {
		return nil, &ResponseInvalidError{Provider: resp.Provider, Reason: "malformed JSON object"}
	}

	doc := gjson.Parse(obj)
	a := structuredArtifact{
		Title:   firstString(doc, "title", "headline"),
		Body:    firstString(doc, "body", "content", "article"),
		Excerpt: firstString(doc, "excerpt", "summary"),
	}
	return finish(resp.Provider, a)
}

func decodeStructured(text string) (structuredArtifact, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(text))))
	dec.DisallowUnknownFields()
	var a structuredArtifact
	if err := dec.Decode(&a); err != nil {
		return structuredArtifact{}, false
	}
	return a, true
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
	}
	return ""
}

func finish(provider string, a structuredArtifact) (*content.Artifact, error) {
	title := strings.TrimSpace(a.Title)
	body := strings.TrimSpace(a.Body)
	switch {
	case title == "" && body == "":
		return nil, &ResponseInvalidError{Provider: provider, Reason: "missing title and body"}
	case title == "":
		return nil, &ResponseInvalidError{Provider: provider, Reason: "missing title"}
	case body == "":
		return nil, &ResponseInvalidError{Provider: provider, Reason: "missing body"}
	}

	excerpt := strings.TrimSpace(a.Excerpt)
	if excerpt == "" {
		excerpt = deriveExcerpt(body)
	}
	return &content.Artifact{Title: title, Body: body, Excerpt: excerpt, Provider: provider}, nil
}

// deriveExcerpt takes the first paragraph of the stripped body, cut at a
// word boundary.
func deriveExcerpt(body string) string {
	p := strings.Join(strings.Fields(markup.Analyze(body).FirstParagraph), " ")
	r := []rune(p)
	if len(r) <= excerptLength {
		return p
	}
	cut := string(r[:excerptLength])
	if i := strings.LastIndexByte(cut, ' '); i > excerptLength/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
