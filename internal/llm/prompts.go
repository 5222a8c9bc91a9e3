// Package llm provides the language-model side of vibegraph: text and
// embedding clients for Ollama, OpenAI and Anthropic behind a circuit
// breaker, strict JSON-only prompt templates, tolerant response parsing,
// the vibe extractor used by ingest cycles and the advice generator.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/vibegraph/pkg/types"
)

// categoryDescriptions is rendered into the extraction prompt in this order.
var categoryDescriptions = []struct {
	cat  types.Category
	desc string
}{
	{types.CategoryMeme, "Viral joke, image format or catchphrase; burns out in days"},
	{types.CategoryEvent, "Something that happened at a point in time"},
	{types.CategoryTrend, "Behavior or product gaining adoption over weeks"},
	{types.CategoryTopic, "Subject of ongoing conversation"},
	{types.CategorySentiment, "Shared mood or attitude"},
	{types.CategoryAesthetic, "Visual or stylistic sensibility"},
	{types.CategoryMovement, "Organized or long-running cultural shift"},
}

// VibeExtractionPrompt builds a strict JSON-only prompt asking the model to
// extract cultural signals from a batch of collected content.
func VibeExtractionPrompt(batch []types.RawContent) string {
	var cats strings.Builder
	for _, c := range categoryDescriptions {
		fmt.Fprintf(&cats, "- %s: %s\n", c.cat, c.desc)
	}

	var content strings.Builder
	for i, item := range batch {
		fmt.Fprintf(&content, "[%d] source=%s", i+1, item.Source)
		if item.Title != "" {
			fmt.Fprintf(&content, " title=%q", item.Title)
		}
		content.WriteString("\n")
		content.WriteString(strings.TrimSpace(item.Body))
		content.WriteString("\n\n")
	}

	return fmt.Sprintf(`TASK: Identify cultural signals ("vibes") in the content below.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. MUST BE AN OBJECT.

CATEGORIES (use exactly one):
%s
REQUIRED JSON STRUCTURE:
{"vibes":[{"name":"short name","description":"one sentence","category":"trend","keywords":["k1","k2"],"domains":["fashion"],"sentiment":"positive","strength":0.6,"region":"global","related":["other vibe name"]}]}

RULES:
- strength is 0.0 to 1.0: how prominent the signal is in this content
- keywords are lowercase single words or short phrases
- region is "global" or a lowercase region or country name
- related lists names of other vibes in this same answer
- merge duplicates; at most 15 vibes
- if nothing qualifies return {"vibes":[]}

CONTENT:
%s
JSON OUTPUT:`, cats.String(), content.String())
}

// AdvicePrompt builds a strict JSON-only prompt asking for recommendations
// for scenario grounded in the given matches.
func AdvicePrompt(scenario types.Scenario, matches []types.Match) string {
	var signals strings.Builder
	for _, m := range matches {
		if m.Vibe == nil {
			continue
		}
		fmt.Fprintf(&signals, "- id=%s name=%q category=%s relevance=%.2f: %s\n",
			m.Vibe.ID, m.Vibe.Name, m.Vibe.Category, m.Score, m.Vibe.Description)
	}
	if signals.Len() == 0 {
		signals.WriteString("- (no matching signals)\n")
	}

	return fmt.Sprintf(`TASK: Advise on the scenario using the current cultural signals listed.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. MUST BE AN OBJECT.

REQUIRED JSON STRUCTURE:
{"summary":"two sentences","recommendations":[{"title":"short imperative","detail":"what to do","vibe_ids":["id"],"rationale":"why it fits"}]}

RULES:
- only cite vibe_ids from the list
- 1 to 5 recommendations

SCENARIO:
%s

SIGNALS:
%s
JSON OUTPUT:`, scenario.Text(), signals.String())
}
