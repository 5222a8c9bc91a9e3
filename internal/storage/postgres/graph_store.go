// Package postgres provides a PostgreSQL implementation of storage.GraphStore.
// Embeddings are kept in a REAL[] column; when the pgvector extension is
// installed they are mirrored into a vector column and similarity search
// runs in the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/m-mizutani/goerr/v2"
	pgvector "github.com/pgvector/pgvector-go"
	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/vecmath"
	"github.com/scrypster/vibegraph/pkg/types"
)

const metaLastUpdated = "last_updated"

const vibeColumns = `id, name, description, category, keywords, sources, domains, sentiment,
	strength, current_relevance, half_life, decay_rate, first_seen, last_seen, timestamp,
	embedding, related_vibes, influences, metadata, geography`

// GraphStore implements storage.GraphStore using PostgreSQL.
type GraphStore struct {
	db                *sql.DB
	opts              storage.Options
	pgvectorAvailable bool

	mu sync.RWMutex
}

// New connects to dsn, applies the schema and enables pgvector when the
// server has it.
func New(dsn string, opts storage.Options) (*GraphStore, error) {
	opts.Normalize()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "postgres: failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "postgres: failed to ping database")
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "postgres: failed to apply schema")
	}

	s := &GraphStore{db: db, opts: opts}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.WithError(err).Warn("postgres: pgvector extension not available, similarity search runs in process")
	} else if _, err := db.Exec(MigrationPgvector); err != nil {
		log.WithError(err).Warn("postgres: failed to add vector column, similarity search runs in process")
	} else {
		s.pgvectorAvailable = true
	}
	return s, nil
}

// VectorSearch reports whether similarity search runs in the database.
func (s *GraphStore) VectorSearch() bool {
	return s.pgvectorAvailable
}

// Put creates or updates a vibe.
func (s *GraphStore) Put(ctx context.Context, v *types.Vibe) error {
	return s.PutMany(ctx, []*types.Vibe{v})
}

// PutMany validates every vibe, then writes the batch in one transaction.
// The vibes table is locked against concurrent writers while capacity is
// checked, so two processes cannot both take the last free slot.
func (s *GraphStore) PutMany(ctx context.Context, vibes []*types.Vibe) error {
	now := time.Now()
	prepared := make([]*types.Vibe, 0, len(vibes))
	ids := make([]string, 0, len(vibes))
	for _, v := range vibes {
		stored, err := storage.Prepare(v, s.opts.Dimensions, now)
		if err != nil {
			return err
		}
		prepared = append(prepared, stored)
		ids = append(ids, stored.ID)
	}
	if len(prepared) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE vibes IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return goerr.Wrap(err, "failed to lock vibes table")
		}

		var count, existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vibes`).Scan(&count); err != nil {
			return goerr.Wrap(err, "failed to count vibes")
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM vibes WHERE id = ANY($1)`, pq.Array(ids)).Scan(&existing); err != nil {
			return goerr.Wrap(err, "failed to look up vibes")
		}
		newIDs := len(uniqueStrings(ids)) - existing
		if count+newIDs > s.opts.MaxVibes {
			return goerr.Wrap(storage.ErrCapacityExceeded, "cannot insert batch",
				goerr.V("new_vibes", newIDs),
				goerr.V("stored", count),
				goerr.V("max_vibes", s.opts.MaxVibes))
		}

		for _, v := range prepared {
			if err := s.upsertVibe(ctx, tx, v); err != nil {
				return err
			}
		}
		return touch(ctx, tx, now)
	})
}

// UpdateMany writes, in one transaction, the vibes whose id is still stored.
// Each surviving row is locked FOR UPDATE, so a concurrent Delete waits for
// the commit instead of being overwritten.
func (s *GraphStore) UpdateMany(ctx context.Context, vibes []*types.Vibe) ([]string, error) {
	now := time.Now()
	prepared := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		stored, err := storage.Prepare(v, s.opts.Dimensions, now)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, stored)
	}
	if len(prepared) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		skipped = skipped[:0]
		written := 0
		for _, v := range prepared {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM vibes WHERE id = $1 FOR UPDATE`, v.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				skipped = append(skipped, v.ID)
				continue
			}
			if err != nil {
				return goerr.Wrap(err, "failed to look up vibe", goerr.V("id", v.ID))
			}
			if err := s.upsertVibe(ctx, tx, v); err != nil {
				return err
			}
			written++
		}
		if written == 0 {
			return nil
		}
		return touch(ctx, tx, now)
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

func (s *GraphStore) upsertVibe(ctx context.Context, tx *sql.Tx, v *types.Vibe) error {
	args := []interface{}{
		v.ID, v.Name, v.Description, string(v.Category),
		jsonb(v.Keywords, v.Keywords == nil), jsonb(v.Sources, v.Sources == nil), jsonb(v.Domains, v.Domains == nil),
		v.Sentiment, v.Strength, v.CurrentRelevance, v.HalfLife, v.DecayRate,
		v.FirstSeen, v.LastSeen, v.Timestamp,
		embeddingArray(v.Embedding),
		jsonb(v.RelatedVibes, v.RelatedVibes == nil), jsonb(v.Influences, v.Influences == nil),
		jsonb(v.Metadata, v.Metadata == nil), jsonb(v.Geography, v.Geography == nil),
		len(v.Embedding),
		pq.Array(lowerKeywords(v.Keywords)),
	}
	for i, a := range args {
		if j, ok := a.(jsonValue); ok {
			data, err := j.encode()
			if err != nil {
				return goerr.Wrap(err, "failed to encode vibe", goerr.V("id", v.ID))
			}
			args[i] = data
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO vibes (`+vibeColumns+`, embedding_dim, keywords_lower)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			keywords = EXCLUDED.keywords,
			sources = EXCLUDED.sources,
			domains = EXCLUDED.domains,
			sentiment = EXCLUDED.sentiment,
			strength = EXCLUDED.strength,
			current_relevance = EXCLUDED.current_relevance,
			half_life = EXCLUDED.half_life,
			decay_rate = EXCLUDED.decay_rate,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			timestamp = EXCLUDED.timestamp,
			embedding = EXCLUDED.embedding,
			related_vibes = EXCLUDED.related_vibes,
			influences = EXCLUDED.influences,
			metadata = EXCLUDED.metadata,
			geography = EXCLUDED.geography,
			embedding_dim = EXCLUDED.embedding_dim,
			keywords_lower = EXCLUDED.keywords_lower`, args...)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert vibe", goerr.V("id", v.ID))
	}

	if !s.pgvectorAvailable {
		return nil
	}
	var vec interface{}
	if len(v.Embedding) > 0 {
		vec = pgvector.NewVector(v.Embedding)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE vibes SET embedding_vec = $1 WHERE id = $2`, vec, v.ID); err != nil {
		return goerr.Wrap(err, "failed to store vector", goerr.V("id", v.ID))
	}
	return nil
}

// Get returns the vibe with the given id.
func (s *GraphStore) Get(ctx context.Context, id string) (*types.Vibe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := scanVibe(s.db.QueryRowContext(ctx, `SELECT `+vibeColumns+` FROM vibes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(storage.ErrNotFound, "vibe not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get vibe", goerr.V("id", id))
	}
	return v, nil
}

// Delete removes the vibe; the foreign keys cascade to its edges.
func (s *GraphStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM vibes WHERE id = $1`, id)
		if err != nil {
			return goerr.Wrap(err, "failed to delete vibe", goerr.V("id", id))
		}
		if n, err := res.RowsAffected(); err != nil {
			return goerr.Wrap(err, "failed to delete vibe", goerr.V("id", id))
		} else if n == 0 {
			return goerr.Wrap(storage.ErrNotFound, "vibe not found", goerr.V("id", id))
		}
		return touch(ctx, tx, time.Now())
	})
}

// PutEdge upserts an edge. Both endpoints must already be stored.
func (s *GraphStore) PutEdge(ctx context.Context, e types.Edge) error {
	if err := storage.ValidateEdge(e); err != nil {
		return err
	}
	e.Strength = types.Clamp01(e.Strength)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, endpoint := range []string{e.From, e.To} {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM vibes WHERE id = $1`, endpoint).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return goerr.Wrap(storage.ErrNotFound, "edge endpoint not found",
					goerr.V("id", endpoint), goerr.V("type", e.Type))
			}
			if err != nil {
				return goerr.Wrap(err, "failed to look up edge endpoint", goerr.V("id", endpoint))
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO vibe_edges (from_id, to_id, type, strength, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (from_id, to_id, type) DO UPDATE SET
				strength = EXCLUDED.strength,
				created_at = EXCLUDED.created_at`,
			e.From, e.To, string(e.Type), e.Strength, e.CreatedAt)
		if err != nil {
			return goerr.Wrap(err, "failed to upsert edge",
				goerr.V("from", e.From), goerr.V("to", e.To), goerr.V("type", e.Type))
		}
		return touch(ctx, tx, time.Now())
	})
}

// GetEdges returns every edge when id is empty, otherwise the edges touching id.
func (s *GraphStore) GetEdges(ctx context.Context, id string) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edges(ctx, id)
}

func (s *GraphStore) edges(ctx context.Context, id string) ([]types.Edge, error) {
	query := `SELECT from_id, to_id, type, strength, created_at FROM vibe_edges`
	var args []interface{}
	if id != "" {
		query += ` WHERE from_id = $1 OR to_id = $1`
		args = append(args, id)
	}
	query += ` ORDER BY from_id, to_id, type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query edges", goerr.V("id", id))
	}
	defer rows.Close()

	out := []types.Edge{}
	for rows.Next() {
		var (
			e   types.Edge
			typ string
		)
		if err := rows.Scan(&e.From, &e.To, &typ, &e.Strength, &e.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan edge")
		}
		e.Type = types.EdgeType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// All returns every vibe, ordered by id.
func (s *GraphStore) All(ctx context.Context) ([]*types.Vibe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryVibes(ctx, `SELECT `+vibeColumns+` FROM vibes ORDER BY id`)
}

// Count returns the number of stored vibes.
func (s *GraphStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vibes`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count vibes")
	}
	return n, nil
}

// Snapshot reads vibes and edges in one repeatable-read transaction.
func (s *GraphStore) Snapshot(ctx context.Context) (*types.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin snapshot")
	}
	defer func() { _ = tx.Rollback() }()

	snap := &types.GraphSnapshot{Vibes: make(map[string]*types.Vibe), Edges: []types.Edge{}}

	rows, err := tx.QueryContext(ctx, `SELECT `+vibeColumns+` FROM vibes`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query vibes")
	}
	for rows.Next() {
		v, err := scanVibe(rows)
		if err != nil {
			rows.Close()
			return nil, goerr.Wrap(err, "failed to scan vibe")
		}
		snap.Vibes[v.ID] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read vibes")
	}

	erows, err := tx.QueryContext(ctx,
		`SELECT from_id, to_id, type, strength, created_at FROM vibe_edges ORDER BY from_id, to_id, type`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query edges")
	}
	for erows.Next() {
		var (
			e   types.Edge
			typ string
		)
		if err := erows.Scan(&e.From, &e.To, &typ, &e.Strength, &e.CreatedAt); err != nil {
			erows.Close()
			return nil, goerr.Wrap(err, "failed to scan edge")
		}
		e.Type = types.EdgeType(typ)
		snap.Edges = append(snap.Edges, e)
	}
	erows.Close()
	if err := erows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read edges")
	}

	var lastUpdated time.Time
	err = tx.QueryRowContext(ctx, `SELECT updated_at FROM graph_meta WHERE key = $1`, metaLastUpdated).Scan(&lastUpdated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(err, "failed to read graph metadata")
	}

	snap.Metadata = types.SnapshotMetadata{
		VibeCount:   len(snap.Vibes),
		EdgeCount:   len(snap.Edges),
		LastUpdated: lastUpdated,
		Version:     types.SnapshotVersion,
	}
	return snap, nil
}

// FindByKeywords uses the GIN-indexed lower-cased keyword array.
func (s *GraphStore) FindByKeywords(ctx context.Context, keywords []string) ([]*types.Vibe, error) {
	set := storage.KeywordSet(keywords)
	if len(set) == 0 {
		return []*types.Vibe{}, nil
	}
	query := make([]string, 0, len(set))
	for k := range set {
		query = append(query, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryVibes(ctx, `
		SELECT `+vibeColumns+`
		FROM vibes
		WHERE keywords_lower && $1
		ORDER BY cardinality(ARRAY(
			SELECT unnest(keywords_lower) INTERSECT SELECT unnest($1::text[])
		)) DESC, timestamp DESC, id`, pq.Array(query))
}

// FindByEmbedding ranks vibes of the query's dimensionality by cosine
// similarity, in the database when pgvector is available.
func (s *GraphStore) FindByEmbedding(ctx context.Context, query []float32, topK int) ([]storage.ScoredVibe, error) {
	if err := storage.ValidateQueryVector(query, s.opts.Dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = storage.DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pgvectorAvailable {
		return s.findByVector(ctx, query, topK)
	}

	candidates, err := s.queryVibes(ctx,
		`SELECT `+vibeColumns+` FROM vibes WHERE embedding_dim = $1`, len(query))
	if err != nil {
		return nil, err
	}
	scored := make([]storage.ScoredVibe, 0, len(candidates))
	for _, v := range candidates {
		scored = append(scored, storage.ScoredVibe{Vibe: v, Similarity: vecmath.Cosine(query, v.Embedding)})
	}
	storage.SortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *GraphStore) findByVector(ctx context.Context, query []float32, topK int) ([]storage.ScoredVibe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vibeColumns+`, 1 - (embedding_vec <=> $1) AS similarity
		FROM vibes
		WHERE embedding_dim = $2 AND embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $1, id
		LIMIT $3`, pgvector.NewVector(query), len(query), topK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run vector search")
	}
	defer rows.Close()

	out := []storage.ScoredVibe{}
	for rows.Next() {
		var sim sql.NullFloat64
		v, err := scanVibe(rows, &sim)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan vector result")
		}
		// A zero-norm vector has an undefined (NaN) cosine distance.
		similarity := 0.0
		if sim.Valid && !math.IsNaN(sim.Float64) {
			similarity = sim.Float64
		}
		out = append(out, storage.ScoredVibe{Vibe: v, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	storage.SortScored(out)
	return out, nil
}

// FindRecent returns the most recently mutated vibes.
func (s *GraphStore) FindRecent(ctx context.Context, limit int) ([]*types.Vibe, error) {
	if limit <= 0 {
		limit = storage.DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryVibes(ctx,
		`SELECT `+vibeColumns+` FROM vibes ORDER BY timestamp DESC, id LIMIT $1`, limit)
}

// Close closes the connection pool.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

func (s *GraphStore) queryVibes(ctx context.Context, query string, args ...interface{}) ([]*types.Vibe, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query vibes")
	}
	defer rows.Close()

	out := []*types.Vibe{}
	for rows.Next() {
		v, err := scanVibe(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan vibe")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *GraphStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO graph_meta (key, updated_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		metaLastUpdated, now)
	if err != nil {
		return goerr.Wrap(err, "failed to update graph metadata")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanVibe reads the vibeColumns of one row; extra receives any trailing
// columns the query selected.
func scanVibe(sc rowScanner, extra ...interface{}) (*types.Vibe, error) {
	var (
		v                              types.Vibe
		category                       string
		keywords, sources, domains     []byte
		related, influences, meta, geo []byte
		embedding                      pq.Float64Array
	)
	dest := []interface{}{&v.ID, &v.Name, &v.Description, &category,
		&keywords, &sources, &domains, &v.Sentiment,
		&v.Strength, &v.CurrentRelevance, &v.HalfLife, &v.DecayRate,
		&v.FirstSeen, &v.LastSeen, &v.Timestamp,
		&embedding, &related, &influences, &meta, &geo}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	v.Category = types.Category(category)
	if len(embedding) > 0 {
		v.Embedding = make([]float32, len(embedding))
		for i, x := range embedding {
			v.Embedding[i] = float32(x)
		}
	}
	for _, f := range []struct {
		src []byte
		dst interface{}
	}{
		{keywords, &v.Keywords},
		{sources, &v.Sources},
		{domains, &v.Domains},
		{related, &v.RelatedVibes},
		{influences, &v.Influences},
		{meta, &v.Metadata},
		{geo, &v.Geography},
	} {
		if f.src == nil {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, goerr.Wrap(err, "corrupt vibe column", goerr.V("id", v.ID))
		}
	}
	return &v, nil
}

// jsonValue defers encoding of a JSONB argument; a skipped value is SQL NULL.
type jsonValue struct {
	val  interface{}
	skip bool
}

func jsonb(val interface{}, skip bool) jsonValue {
	return jsonValue{val: val, skip: skip}
}

func (j jsonValue) encode() (interface{}, error) {
	if j.skip {
		return nil, nil
	}
	data, err := json.Marshal(j.val)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func embeddingArray(vec []float32) interface{} {
	if len(vec) == 0 {
		return nil
	}
	out := make(pq.Float64Array, len(vec))
	for i, x := range vec {
		out[i] = float64(x)
	}
	return out
}

func lowerKeywords(keywords []string) []string {
	set := storage.KeywordSet(keywords)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Compile-time assertion.
var _ storage.GraphStore = (*GraphStore)(nil)
