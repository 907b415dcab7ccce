package research

import (
	"strings"
	"unicode"
)

// Topic categories.
const (
	TopicCrypto       = "crypto"
	TopicCreditRepair = "credit_repair"
	TopicAIAutomation = "ai_automation"
	TopicGeneral      = "general"
)

// Categories are checked in order; the first keyword hit wins.
var categories = []struct {
	name     string
	keywords []string
}{
	{TopicCrypto, []string{"crypto", "defi", "trading", "token", "blockchain", "bitcoin", "ethereum", "yieldbot"}},
	{TopicCreditRepair, []string{"credit", "score", "dispute", "repair", "fico", "debt"}},
	{TopicAIAutomation, []string{"ai", "automation", "agent", "workflow", "coding", "saas"}},
}

// DetectTopic classifies text into one of the topic categories.
//
// Keywords match at word starts, so "ai" matches "AI agents" but not
// "maintain".
func DetectTopic(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, c := range categories {
		for _, kw := range c.keywords {
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return c.name
				}
			}
		}
	}
	return TopicGeneral
}
