package llm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/pkg/types"
)

// maxExtractedVibes caps how many vibes one response may contribute.
const maxExtractedVibes = 15

// VibeResponse is a single vibe as returned by the extraction prompt.
type VibeResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords"`
	Domains     []string `json:"domains"`
	Sentiment   string   `json:"sentiment"`
	Strength    float64  `json:"strength"`
	Region      string   `json:"region"`
	Related     []string `json:"related"`
}

// VibeExtractionResponse is the envelope of the extraction prompt.
type VibeExtractionResponse struct {
	Vibes []VibeResponse `json:"vibes"`
}

// AdviceResponse is the envelope of the advice prompt.
type AdviceResponse struct {
	Summary         string `json:"summary"`
	Recommendations []struct {
		Title     string   `json:"title"`
		Detail    string   `json:"detail"`
		VibeIDs   []string `json:"vibe_ids"`
		Rationale string   `json:"rationale"`
	} `json:"recommendations"`
}

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	// Try to find JSON object boundaries
	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}

	// Find the matching closing brace
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		// Handle string escaping
		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		// Track if we're inside a string
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					// Found complete JSON object, return it
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON found, return as-is
}

// ParseVibeExtraction parses an extraction response into candidate vibes.
// Entries without a name are skipped, duplicate names (case-insensitive)
// keep the first entry, categories fall back to custom and strengths are
// clamped. Every candidate gets a fresh id; "related" names that refer to
// another candidate in the same response become RelatedVibes ids.
// Only malformed JSON is an error.
func ParseVibeExtraction(text string) ([]*types.Vibe, error) {
	var resp VibeExtractionResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse vibe extraction response")
	}

	vibes := make([]*types.Vibe, 0, len(resp.Vibes))
	byName := make(map[string]*types.Vibe, len(resp.Vibes))
	related := make(map[*types.Vibe][]string)

	for _, r := range resp.Vibes {
		name := strings.TrimSpace(r.Name)
		key := strings.ToLower(name)
		if name == "" || byName[key] != nil {
			continue
		}
		if len(vibes) == maxExtractedVibes {
			break
		}

		v := &types.Vibe{
			ID:          types.NewVibeID(),
			Name:        name,
			Description: strings.TrimSpace(r.Description),
			Category:    types.ParseCategory(r.Category),
			Keywords:    cleanList(r.Keywords, true),
			Domains:     cleanList(r.Domains, true),
			Sentiment:   strings.ToLower(strings.TrimSpace(r.Sentiment)),
			Strength:    types.Clamp01(r.Strength),
		}
		if region := strings.ToLower(strings.TrimSpace(r.Region)); region != "" {
			v.Geography = &types.Geography{Primary: region}
		}
		vibes = append(vibes, v)
		byName[key] = v
		related[v] = r.Related
	}

	for _, v := range vibes {
		for _, name := range related[v] {
			other := byName[strings.ToLower(strings.TrimSpace(name))]
			if other != nil && other != v {
				v.RelatedVibes = append(v.RelatedVibes, other.ID)
			}
		}
	}
	return vibes, nil
}

// ParseAdvice parses an advice response. Recommendations without a title
// are dropped, and cited vibe ids not in known are removed when known is
// non-nil.
func ParseAdvice(text string, known map[string]struct{}, now time.Time) (*types.Advice, error) {
	var resp AdviceResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse advice response")
	}

	advice := &types.Advice{
		Summary:         strings.TrimSpace(resp.Summary),
		Recommendations: []types.Recommendation{},
		GeneratedAt:     now,
	}
	for _, r := range resp.Recommendations {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		rec := types.Recommendation{
			Title:     title,
			Detail:    strings.TrimSpace(r.Detail),
			Rationale: strings.TrimSpace(r.Rationale),
		}
		for _, id := range r.VibeIDs {
			if known != nil {
				if _, ok := known[id]; !ok {
					continue
				}
			}
			rec.VibeIDs = append(rec.VibeIDs, id)
		}
		advice.Recommendations = append(advice.Recommendations, rec)
	}
	return advice, nil
}

// cleanList trims entries, drops empties and duplicates, and optionally
// lower-cases.
func cleanList(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
