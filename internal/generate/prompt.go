package generate

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/quality"
)

const systemPrompt = `You are an experienced writer producing original, well-researched articles for a niche publication. You write in clear, concrete language, cite real sources with markdown links, and never pad text with filler. You always answer with a single JSON object and nothing else.`

const articlePrompt = `Write an original long-form article about: %s

Requirements:
%s
%s%s
Respond with ONLY this JSON:
{
    "title": "A specific, compelling title of at most 12 words",
    "excerpt": "One or two sentences summarising the article",
    "body": "The full article in markdown"
}`

const invalidRemediation = `Your previous reply could not be parsed. Respond with ONLY the JSON object described above, with no text before or after it and no code fences.`

var artifactSchema = &llm.Schema{
	Name:        "article",
	Description: "A generated article with title, excerpt and markdown body",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"excerpt": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
		"required":             []string{"title", "excerpt", "body"},
		"additionalProperties": false,
	},
}

// buildPrompt renders the base prompt for a request.
func buildPrompt(req content.Request, c content.Constraints) string {
	var rules []string
	if c.MinWords > 0 {
		rules = append(rules, fmt.Sprintf("- The body must contain at least %d words of prose.", c.MinWords))
	}
	if c.MinReferences > 0 {
		line := fmt.Sprintf("- Embed at least %d reference links as markdown links", c.MinReferences)
		if len(c.ReferenceAllowlist) > 0 {
			line += " pointing to these sources: " + strings.Join(c.ReferenceAllowlist, ", ")
		}
		rules = append(rules, line+".")
	}
	if c.RequiredSection != "" {
		rules = append(rules, fmt.Sprintf("- End with a section headed %q that lists the references.", titleCase(c.RequiredSection)))
	}
	for _, s := range req.Style {
		if s = strings.TrimSpace(s); s != "" {
			rules = append(rules, "- "+s)
		}
	}

	return fmt.Sprintf(articlePrompt, req.Topic, strings.Join(rules, "\n"), formatContext(req.Context), avoidInstruction(req.AvoidTitles))
}

func formatContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("\nBackground material:\n")
	for _, k := range keys {
		switch v := ctx[k].(type) {
		case []string:
			fmt.Fprintf(&sb, "%s:\n", k)
			for _, item := range v {
				fmt.Fprintf(&sb, "  - %s\n", item)
			}
		case []any:
			fmt.Fprintf(&sb, "%s:\n", k)
			for _, item := range v {
				fmt.Fprintf(&sb, "  - %v\n", item)
			}
		default:
			fmt.Fprintf(&sb, "%s: %v\n", k, v)
		}
	}
	return sb.String()
}

// avoidInstruction tells the model which titles are already taken.
func avoidInstruction(titles []string) string {
	if len(titles) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nDo not reuse any of these titles, they have already been published:\n")
	for _, t := range titles {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	sb.WriteString("Choose a clearly different title and angle.\n")
	return sb.String()
}

// remediation explains a failed quality report to the model.
func remediation(r quality.Report, c content.Constraints) string {
	m := r.Metrics
	switch r.Reason {
	case quality.ReasonTooShort:
		return fmt.Sprintf("Your previous draft had only %d words. Rewrite it with at least %d words, adding depth, examples and practical detail.", m.WordCount, c.MinWords)
	case quality.ReasonMissingReferences:
		msg := fmt.Sprintf("Your previous draft embedded only %d qualifying reference links. Include at least %d markdown links", m.ReferenceCount, c.MinReferences)
		if len(c.ReferenceAllowlist) > 0 {
			msg += " to " + strings.Join(c.ReferenceAllowlist, ", ")
		}
		return msg + "."
	case quality.ReasonMissingSection:
		return fmt.Sprintf("Your previous draft had no %q section. Add a section with that heading listing the references.", titleCase(c.RequiredSection))
	}
	return ""
}

func amend(prompt, note string) string {
	if note == "" {
		return prompt
	}
	return prompt + "\n\nIMPORTANT: " + note
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
