package llm

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/scrypster/vibegraph/pkg/types"
)

// DefaultBatchTokens is the prompt budget for one extraction batch.
const DefaultBatchTokens = 3000

// Batcher packs raw content into extraction batches that fit a token budget.
// Items larger than the budget are split on sentence boundaries first.
type Batcher struct {
	MaxTokens int // default: DefaultBatchTokens
}

// Batch packs items greedily in input order. Items with an empty body are
// dropped. Each returned batch holds at least one item.
func (b Batcher) Batch(items []types.RawContent) [][]types.RawContent {
	budget := b.MaxTokens
	if budget <= 0 {
		budget = DefaultBatchTokens
	}

	var batches [][]types.RawContent
	var cur []types.RawContent
	curTokens := 0

	flush := func() {
		if len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			curTokens = 0
		}
	}

	for _, item := range items {
		if strings.TrimSpace(item.Body) == "" {
			continue
		}
		for _, part := range splitContent(item, budget) {
			n := contentTokens(part)
			if curTokens+n > budget {
				flush()
			}
			cur = append(cur, part)
			curTokens += n
		}
	}
	flush()
	return batches
}

func contentTokens(c types.RawContent) int {
	return EstimateTokens(c.Title) + EstimateTokens(c.Body)
}

// splitContent returns item unchanged when it fits budget, otherwise one
// RawContent per run of sentences that fits. Parts get an "#n" id suffix.
func splitContent(item types.RawContent, budget int) []types.RawContent {
	if contentTokens(item) <= budget {
		return []types.RawContent{item}
	}

	var parts []types.RawContent
	var body strings.Builder
	tokens := EstimateTokens(item.Title)

	emit := func() {
		if strings.TrimSpace(body.String()) == "" {
			return
		}
		p := item
		p.ID = item.ID + "#" + strconv.Itoa(len(parts)+1)
		p.Body = strings.TrimSpace(body.String())
		parts = append(parts, p)
		body.Reset()
		tokens = EstimateTokens(item.Title)
	}

	for _, s := range splitSentences(item.Body) {
		n := EstimateTokens(s)
		if tokens+n > budget && body.Len() > 0 {
			emit()
		}
		// A single sentence over budget is hard-cut.
		for n > budget && len(s) > 0 {
			cut := min(len(s), budget*4)
			body.WriteString(s[:cut])
			emit()
			s = s[cut:]
			n = EstimateTokens(s)
		}
		body.WriteString(s)
		tokens += n
	}
	emit()
	return parts
}

// EstimateTokens estimates the number of tokens in text at roughly four
// characters per token, rounding up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitSentences splits text after '.', '!' or '?' when followed by
// whitespace and an upper-case letter. Terminators and the following
// whitespace stay with the sentence.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+2 < len(runes) && unicode.IsSpace(runes[i+1]) && unicode.IsUpper(runes[i+2]) {
			cur.WriteRune(runes[i+1])
			i++
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		sentences = append(sentences, cur.String())
	}
	return sentences
}
