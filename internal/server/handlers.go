package server

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/matcher"
	"github.com/scrypster/vibegraph/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"version":    s.version,
		"uptime":     time.Since(s.started).Seconds(),
		"store_ok":   err == nil,
		"vibes":      count,
		"ws_clients": s.hub.Clients(),
	})
}

// handleListVibes returns vibes ordered by live relevance. Optional query
// parameters: category, min_relevance, limit.
func (s *Server) handleListVibes(w http.ResponseWriter, r *http.Request) {
	vibes, err := s.store.All(r.Context())
	if err != nil {
		respondStoreError(w, "failed to list vibes", err)
		return
	}

	q := r.URL.Query()
	category := strings.ToLower(strings.TrimSpace(q.Get("category")))
	minRelevance := 0.0
	if v := q.Get("min_relevance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "min_relevance must be a number", err)
			return
		}
		minRelevance = f
	}

	now := time.Now()
	out := vibes[:0]
	for _, v := range vibes {
		if category != "" && string(v.Category) != category {
			continue
		}
		v.CurrentRelevance = s.engine.Relevance().Decay(v, now)
		if v.CurrentRelevance < minRelevance {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CurrentRelevance != out[j].CurrentRelevance {
			return out[i].CurrentRelevance > out[j].CurrentRelevance
		}
		return out[i].ID < out[j].ID
	})

	limit := min(queryInt(r, "limit", defaultListLimit), maxListLimit)
	if len(out) > limit {
		out = out[:limit]
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"vibes": out, "total": len(out)})
}

// handlePutVibe upserts a vibe as given. Missing id, half-life and
// timestamps are filled in; merging and halo effects belong to /api/ingest.
func (s *Server) handlePutVibe(w http.ResponseWriter, r *http.Request) {
	var v types.Vibe
	if err := decodeJSON(w, r, &v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if strings.TrimSpace(v.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	now := time.Now()
	if v.ID == "" {
		v.ID = types.NewVibeID()
	}
	v.Category = types.ParseCategory(string(v.Category))
	if v.HalfLife == 0 && v.DecayRate == 0 {
		v.HalfLife = engine.SuggestHalfLife(&v)
	}
	if v.FirstSeen.IsZero() {
		v.FirstSeen = now
	}
	if v.LastSeen.IsZero() {
		v.LastSeen = now
	}
	v.Timestamp = now
	v.CurrentRelevance = s.engine.Relevance().Decay(&v, now)

	if err := s.engine.PutVibe(r.Context(), &v); err != nil {
		respondStoreError(w, "failed to save vibe", err)
		return
	}
	saved, err := s.store.Get(r.Context(), v.ID)
	if err != nil {
		respondStoreError(w, "failed to load saved vibe", err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetVibe(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "vibe not found", err)
		return
	}
	v.CurrentRelevance = s.engine.Relevance().Decay(v, time.Now())
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVibe(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteVibe(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, "failed to delete vibe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentVibes(w http.ResponseWriter, r *http.Request) {
	vibes, err := s.store.FindRecent(r.Context(), min(queryInt(r, "limit", 0), maxListLimit))
	if err != nil {
		respondStoreError(w, "failed to list recent vibes", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"vibes": vibes, "total": len(vibes)})
}

// SearchRequest is the body of POST /api/vibes/search. Keywords take
// precedence when both are set.
type SearchRequest struct {
	Keywords  []string  `json:"keywords,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

// SearchHit is one embedding search result.
type SearchHit struct {
	Vibe       *types.Vibe `json:"vibe"`
	Similarity float64     `json:"similarity"`
}

func (s *Server) handleSearchVibes(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	switch {
	case len(req.Keywords) > 0:
		vibes, err := s.store.FindByKeywords(r.Context(), req.Keywords)
		if err != nil {
			respondStoreError(w, "keyword search failed", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"vibes": vibes, "total": len(vibes)})
	case len(req.Embedding) > 0:
		scored, err := s.store.FindByEmbedding(r.Context(), req.Embedding, req.TopK)
		if err != nil {
			respondStoreError(w, "embedding search failed", err)
			return
		}
		hits := make([]SearchHit, len(scored))
		for i, sv := range scored {
			hits[i] = SearchHit{Vibe: sv.Vibe, Similarity: sv.Similarity}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits, "total": len(hits)})
	default:
		respondError(w, http.StatusBadRequest, "keywords or embedding is required", nil)
	}
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := s.store.GetEdges(r.Context(), r.URL.Query().Get("vibe_id"))
	if err != nil {
		respondStoreError(w, "failed to list edges", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"edges": edges, "total": len(edges)})
}

func (s *Server) handlePutEdge(w http.ResponseWriter, r *http.Request) {
	var e types.Edge
	if err := decodeJSON(w, r, &e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.store.PutEdge(r.Context(), e); err != nil {
		respondStoreError(w, "failed to save edge", err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		respondStoreError(w, "failed to snapshot graph", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		respondStoreError(w, "failed to compute stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"strategies": s.matcher.Strategies()})
}

// MatchRequest is the body of POST /api/match.
type MatchRequest struct {
	matcher.Request
	Advise bool `json:"advise,omitempty"`
}

// MatchResponse is the reply of POST /api/match.
type MatchResponse struct {
	matcher.Response
	Advice *types.Advice `json:"advice,omitempty"`
}

// handleMatch ranks vibes for a scenario. Upstream failures inside a
// strategy yield an empty list, never a 5xx.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if strings.TrimSpace(req.Scenario.Description) == "" {
		respondError(w, http.StatusBadRequest, "scenario.description is required", nil)
		return
	}

	resp := MatchResponse{Response: *s.matcher.Match(r.Context(), req.Request)}
	if req.Advise && s.advisor != nil {
		resp.Advice = s.advisor.Advise(r.Context(), req.Scenario, resp.Matches)
	}
	respondJSON(w, http.StatusOK, resp)
}

// IngestRequest is the body of POST /api/ingest. With no vibes a full
// collect cycle runs.
type IngestRequest struct {
	Vibes []*types.Vibe `json:"vibes,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	if len(req.Vibes) == 0 {
		res, err := s.engine.RunCycle(r.Context())
		if err != nil {
			respondStoreError(w, "ingest cycle failed", err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	res, err := s.engine.Ingest(r.Context(), req.Vibes)
	if err != nil {
		respondStoreError(w, "ingest failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ApplyDecayAndPrune(r.Context())
	if err != nil {
		respondStoreError(w, "decay failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
