package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/vibegraph/internal/config"
	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/matcher"
	"github.com/scrypster/vibegraph/internal/server"
	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/storage/memory"
	"github.com/scrypster/vibegraph/pkg/types"
)

type testEnv struct {
	url    string
	store  storage.GraphStore
	server *server.Server
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

type stubAdvisor struct{}

func (stubAdvisor) Advise(ctx context.Context, scenario types.Scenario, matches []types.Match) *types.Advice {
	return &types.Advice{Summary: "advice for " + scenario.Description}
}

// startTestServer serves a fresh in-memory graph over httptest.
func startTestServer(t *testing.T, cfg config.ServerConfig, opts storage.Options, strategies matcher.Embedder) *testEnv {
	t.Helper()

	store := memory.New(opts)
	eng, err := engine.NewVibeEngine(store, engine.DefaultConfig())
	require.NoError(t, err)

	svc := matcher.NewService(store, matcher.NewDefaultRegistry(strategies), 0)
	s := server.New(cfg, server.Deps{Engine: eng, Matcher: svc, Advisor: stubAdvisor{}, Version: "test"})
	go s.Hub().Run()

	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Hub().Stop()
		_ = store.Close()
	})
	return &testEnv{url: ts.URL, store: store, server: s}
}

func defaultEnv(t *testing.T) *testEnv {
	return startTestServer(t, config.ServerConfig{}, storage.DefaultOptions(), nil)
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_HealthEndpoint(t *testing.T) {
	env := defaultEnv(t)

	var body map[string]interface{}
	status := doJSON(t, http.MethodGet, env.url+"/api/health", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["store_ok"])
}

func TestServer_SecurityHeaders(t *testing.T) {
	env := defaultEnv(t)

	resp, err := http.Get(env.url + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestServer_VibeCRUD(t *testing.T) {
	env := defaultEnv(t)

	var created types.Vibe
	status := doJSON(t, http.MethodPost, env.url+"/api/vibes", map[string]interface{}{
		"name":     "Quiet Luxury",
		"category": "Aesthetic",
		"keywords": []string{"fashion", "minimal"},
		"strength": 0.8,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, types.CategoryAesthetic, created.Category)
	assert.Greater(t, created.HalfLife, 0.0)
	assert.False(t, created.FirstSeen.IsZero())

	var got types.Vibe
	status = doJSON(t, http.MethodGet, env.url+"/api/vibes/"+created.ID, nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Quiet Luxury", got.Name)

	var list struct {
		Vibes []types.Vibe `json:"vibes"`
		Total int          `json:"total"`
	}
	status = doJSON(t, http.MethodGet, env.url+"/api/vibes?category=aesthetic", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, list.Total)

	status = doJSON(t, http.MethodGet, env.url+"/api/vibes?category=meme", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, list.Total)

	status = doJSON(t, http.MethodDelete, env.url+"/api/vibes/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	var errResp server.ErrorResponse
	status = doJSON(t, http.MethodGet, env.url+"/api/vibes/"+created.ID, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not Found", errResp.Code)

	status = doJSON(t, http.MethodDelete, env.url+"/api/vibes/"+created.ID, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_PutVibeValidation(t *testing.T) {
	env := defaultEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing name", body: map[string]interface{}{"category": "meme"}},
		{name: "unsupported dimension", body: map[string]interface{}{"name": "x", "embedding": []float32{1, 2, 3}}},
		{name: "not an object", body: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp server.ErrorResponse
			status := doJSON(t, http.MethodPost, env.url+"/api/vibes", tt.body, &errResp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, errResp.Error)
		})
	}

	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "rejected writes leave the store untouched")
}

func TestServer_CapacityExceeded(t *testing.T) {
	env := startTestServer(t, config.ServerConfig{}, storage.Options{MaxVibes: 1}, nil)

	status := doJSON(t, http.MethodPost, env.url+"/api/vibes", map[string]string{"name": "one"}, nil)
	require.Equal(t, http.StatusCreated, status)

	var errResp server.ErrorResponse
	status = doJSON(t, http.MethodPost, env.url+"/api/vibes", map[string]string{"name": "two"}, &errResp)
	assert.Equal(t, http.StatusInsufficientStorage, status)
}

func TestServer_Edges(t *testing.T) {
	env := defaultEnv(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, env.store.Put(ctx, &types.Vibe{ID: id, Name: id, Category: types.CategoryTrend, Strength: 0.5, LastSeen: now}))
	}

	edge := map[string]interface{}{"from": "a", "to": "missing", "type": "related", "strength": 0.5}
	status := doJSON(t, http.MethodPost, env.url+"/api/edges", edge, nil)
	assert.Equal(t, http.StatusNotFound, status)

	edge["to"] = "b"
	status = doJSON(t, http.MethodPost, env.url+"/api/edges", edge, nil)
	require.Equal(t, http.StatusCreated, status)

	edge["type"] = "not-a-type"
	status = doJSON(t, http.MethodPost, env.url+"/api/edges", edge, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var edges struct {
		Edges []types.Edge `json:"edges"`
	}
	doJSON(t, http.MethodGet, env.url+"/api/edges?vibe_id=b", nil, &edges)
	assert.Len(t, edges.Edges, 1)

	doJSON(t, http.MethodDelete, env.url+"/api/vibes/a", nil, nil)
	doJSON(t, http.MethodGet, env.url+"/api/edges", nil, &edges)
	assert.Empty(t, edges.Edges, "deleting a vibe cascades to its edges")

	var snap types.GraphSnapshot
	status = doJSON(t, http.MethodGet, env.url+"/api/graph", nil, &snap)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, snap.Vibes, 1)
}

func TestServer_Search(t *testing.T) {
	env := defaultEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Put(ctx, &types.Vibe{
		ID: "y2k", Name: "Y2K", Category: types.CategoryAesthetic, Strength: 0.5,
		Keywords: []string{"Nostalgia", "chrome"}, LastSeen: time.Now(),
	}))

	var res struct {
		Vibes []types.Vibe `json:"vibes"`
	}
	status := doJSON(t, http.MethodPost, env.url+"/api/vibes/search", map[string]interface{}{"keywords": []string{"NOSTALGIA"}}, &res)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, res.Vibes, 1)
	assert.Equal(t, "y2k", res.Vibes[0].ID)

	status = doJSON(t, http.MethodPost, env.url+"/api/vibes/search", map[string]interface{}{"embedding": []float32{1, 0}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodPost, env.url+"/api/vibes/search", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Match(t *testing.T) {
	env := defaultEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Put(ctx, &types.Vibe{
		ID: "cc", Name: "Cottagecore", Category: types.CategoryAesthetic, Strength: 0.9,
		Keywords: []string{"linen", "baking"}, LastSeen: time.Now(),
	}))

	var resp server.MatchResponse
	status := doJSON(t, http.MethodPost, env.url+"/api/match", map[string]interface{}{
		"strategy": "semantic",
		"scenario": map[string]string{"description": "A linen clothing pop-up with baking classes"},
		"advise":   true,
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, matcher.StrategyKeyword, resp.Strategy, "unknown strategies fall back")
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "cc", resp.Matches[0].Vibe.ID)
	require.NotNil(t, resp.Advice)
	assert.Contains(t, resp.Advice.Summary, "linen")

	status = doJSON(t, http.MethodPost, env.url+"/api/match", map[string]interface{}{"scenario": map[string]string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_MatchUpstreamFailure(t *testing.T) {
	env := startTestServer(t, config.ServerConfig{}, storage.DefaultOptions(), failingEmbedder{})
	require.NoError(t, env.store.Put(context.Background(), &types.Vibe{
		ID: "v", Name: "v", Category: types.CategoryTrend, Strength: 1, LastSeen: time.Now(),
	}))

	var resp server.MatchResponse
	status := doJSON(t, http.MethodPost, env.url+"/api/match", map[string]interface{}{
		"strategy": "semantic",
		"scenario": map[string]string{"description": "anything"},
	}, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, matcher.StrategySemantic, resp.Strategy)
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
}

func TestServer_IngestAndDecay(t *testing.T) {
	env := defaultEnv(t)

	body := map[string]interface{}{"vibes": []map[string]interface{}{
		{"name": "Dopamine Dressing", "category": "trend", "keywords": []string{"color"}},
	}}

	var first engine.IngestResult
	status := doJSON(t, http.MethodPost, env.url+"/api/ingest", body, &first)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, first.Created, 1)

	var second engine.IngestResult
	status = doJSON(t, http.MethodPost, env.url+"/api/ingest", body, &second)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, second.Created)
	assert.Equal(t, first.Created, second.Merged)

	var cycle engine.CycleResult
	status = doJSON(t, http.MethodPost, env.url+"/api/ingest", nil, &cycle)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, cycle.Collected)

	var decay engine.DecayResult
	status = doJSON(t, http.MethodPost, env.url+"/api/decay", nil, &decay)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decay.Pruned)

	var stats engine.Stats
	status = doJSON(t, http.MethodGet, env.url+"/api/stats", nil, &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, stats.Count)
}

func TestServer_RateLimit(t *testing.T) {
	env := startTestServer(t, config.ServerConfig{RateLimit: 0.1, RateBurst: 2}, storage.DefaultOptions(), nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(env.url + "/api/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_WebSocketEvents(t *testing.T) {
	env := defaultEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.url, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	status := doJSON(t, http.MethodPost, env.url+"/api/ingest", map[string]interface{}{
		"vibes": []map[string]string{{"name": "Brat Summer", "category": "meme"}},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt engine.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, engine.EventVibeCreated, evt.Type)
	assert.NotEmpty(t, evt.VibeID)
}
