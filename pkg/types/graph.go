package types

import "time"

// SnapshotVersion is the format version stamped on every GraphSnapshot.
const SnapshotVersion = "1.0"

// Edge is a directed, typed relation between two vibes. Its identity is the
// (From, To, Type) triple; saving an edge with an existing triple overwrites it.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      EdgeType  `json:"type"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// EdgeKey is the identity of an Edge.
type EdgeKey struct {
	From string
	To   string
	Type EdgeType
}

// Key returns the identity triple of e.
func (e Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Type: e.Type}
}

// Touches reports whether id is either endpoint of e.
func (e Edge) Touches(id string) bool {
	return e.From == id || e.To == id
}

// GraphSnapshot is a read view of the whole graph. The Vibes map is a fresh
// copy owned by the caller.
type GraphSnapshot struct {
	Vibes    map[string]*Vibe `json:"vibes"`
	Edges    []Edge           `json:"edges"`
	Metadata SnapshotMetadata `json:"metadata"`
}

// SnapshotMetadata describes a GraphSnapshot.
type SnapshotMetadata struct {
	VibeCount   int       `json:"vibe_count"`
	EdgeCount   int       `json:"edge_count"`
	LastUpdated time.Time `json:"last_updated"`
	Version     string    `json:"version"`
}

// VibeList returns the snapshot's vibes as a slice, in no particular order.
func (g *GraphSnapshot) VibeList() []*Vibe {
	if g == nil {
		return nil
	}
	out := make([]*Vibe, 0, len(g.Vibes))
	for _, v := range g.Vibes {
		out = append(out, v)
	}
	return out
}

// Subset returns a snapshot holding only the vibes for which keep returns
// true, together with the edges whose endpoints both survive. Vibe pointers
// are shared with g.
func (g *GraphSnapshot) Subset(keep func(*Vibe) bool) *GraphSnapshot {
	out := &GraphSnapshot{
		Vibes:    make(map[string]*Vibe),
		Metadata: g.Metadata,
	}
	for id, v := range g.Vibes {
		if keep(v) {
			out.Vibes[id] = v
		}
	}
	for _, e := range g.Edges {
		if _, ok := out.Vibes[e.From]; !ok {
			continue
		}
		if _, ok := out.Vibes[e.To]; !ok {
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	out.Metadata.VibeCount = len(out.Vibes)
	out.Metadata.EdgeCount = len(out.Edges)
	return out
}
