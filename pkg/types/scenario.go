package types

import (
	"sort"
	"strings"
	"time"
)

// Scenario is a query context: a situation for which relevant vibes are sought.
type Scenario struct {
	Description string            `json:"description"`
	Audience    string            `json:"audience,omitempty"`
	Location    string            `json:"location,omitempty"`
	Timeframe   string            `json:"timeframe,omitempty"`
	Goal        string            `json:"goal,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Text flattens the scenario into the single string that gets embedded.
// Attribute order is stable so the same scenario always yields the same text.
func (s Scenario) Text() string {
	parts := []string{s.Description}
	add := func(label, val string) {
		if val = strings.TrimSpace(val); val != "" {
			parts = append(parts, label+": "+val)
		}
	}
	add("Audience", s.Audience)
	add("Location", s.Location)
	add("Timeframe", s.Timeframe)
	add("Goal", s.Goal)

	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, s.Attributes[k])
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// UserProfile carries the personalization preferences of a requester.
type UserProfile struct {
	ID          string   `json:"id,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	AvoidTopics []string `json:"avoid_topics,omitempty"`
	Region      string   `json:"region,omitempty"`
}

// Match is one ranked result of a matching strategy.
type Match struct {
	Vibe        *Vibe   `json:"vibe"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
	Strategy    string  `json:"strategy,omitempty"`
}

// Advice is the structured output of the advice generator.
type Advice struct {
	Summary         string           `json:"summary"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// Recommendation is a single piece of advice, optionally tied to vibes.
type Recommendation struct {
	Title     string   `json:"title"`
	Detail    string   `json:"detail"`
	VibeIDs   []string `json:"vibe_ids,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// RawContent is a unit of collected content handed to an analyzer.
type RawContent struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	URL         string            `json:"url,omitempty"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	CollectedAt time.Time         `json:"collected_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
