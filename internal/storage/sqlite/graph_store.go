// Package sqlite provides a durable storage.GraphStore on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/vecmath"
	"github.com/scrypster/vibegraph/pkg/types"
)

const metaLastUpdated = "last_updated"

// GraphStore implements storage.GraphStore using SQLite.
type GraphStore struct {
	db   *sql.DB
	opts storage.Options

	// mu is the store-wide lock: writes are exclusive, reads shared.
	mu sync.RWMutex
}

// New opens (or creates) the database at dsn with WAL self-healing.
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func New(dsn string, opts storage.Options) (*GraphStore, error) {
	opts.Normalize()

	store, err := open(dsn, opts)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	store, retryErr := open(dsn, opts)
	if retryErr != nil {
		return nil, goerr.Wrap(retryErr, "failed after WAL recovery", goerr.V("original", err.Error()))
	}
	log.WithField("path", dbPath).Warn("sqlite: recovered from stale WAL files")
	return store, nil
}

func open(dsn string, opts storage.Options) (*GraphStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("dsn", dsn))
	}

	// SQLite only supports one concurrent writer; one connection also keeps
	// an in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, goerr.Wrap(err, "failed to configure database", goerr.V("pragma", pragma))
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to create schema")
	}
	return &GraphStore{db: db, opts: opts}, nil
}

// Put creates or updates a vibe. Updates to an existing id never count
// against the capacity limit.
func (s *GraphStore) Put(ctx context.Context, v *types.Vibe) error {
	return s.PutMany(ctx, []*types.Vibe{v})
}

// PutMany validates every vibe, then writes the batch in one transaction
// after checking capacity for the ids it would add.
func (s *GraphStore) PutMany(ctx context.Context, vibes []*types.Vibe) error {
	now := time.Now()
	prepared := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		stored, err := storage.Prepare(v, s.opts.Dimensions, now)
		if err != nil {
			return err
		}
		prepared = append(prepared, stored)
	}
	if len(prepared) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vibes`).Scan(&count); err != nil {
			return goerr.Wrap(err, "failed to count vibes")
		}

		newIDs := make(map[string]struct{})
		for _, v := range prepared {
			if _, seen := newIDs[v.ID]; seen {
				continue
			}
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM vibes WHERE id = ?`, v.ID).Scan(&one)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				newIDs[v.ID] = struct{}{}
			case err != nil:
				return goerr.Wrap(err, "failed to look up vibe", goerr.V("id", v.ID))
			}
		}
		if count+len(newIDs) > s.opts.MaxVibes {
			return goerr.Wrap(storage.ErrCapacityExceeded, "cannot insert batch",
				goerr.V("new_vibes", len(newIDs)),
				goerr.V("stored", count),
				goerr.V("max_vibes", s.opts.MaxVibes))
		}

		for _, v := range prepared {
			if err := upsertVibe(ctx, tx, v); err != nil {
				return err
			}
		}
		return touch(ctx, tx, now)
	})
}

// UpdateMany writes, in one transaction, the vibes whose id is still stored.
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
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM vibes WHERE id = ?`, v.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				skipped = append(skipped, v.ID)
				continue
			}
			if err != nil {
				return goerr.Wrap(err, "failed to look up vibe", goerr.V("id", v.ID))
			}
			if err := upsertVibe(ctx, tx, v); err != nil {
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

func upsertVibe(ctx context.Context, tx *sql.Tx, v *types.Vibe) error {
	r, err := encodeVibe(v)
	if err != nil {
		return err
	}

	// ON CONFLICT DO UPDATE keeps the row, so edges referencing it survive.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vibes (`+vibeColumns+`, embedding_dim)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			keywords = excluded.keywords,
			sources = excluded.sources,
			domains = excluded.domains,
			sentiment = excluded.sentiment,
			strength = excluded.strength,
			current_relevance = excluded.current_relevance,
			half_life = excluded.half_life,
			decay_rate = excluded.decay_rate,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			timestamp = excluded.timestamp,
			embedding = excluded.embedding,
			related_vibes = excluded.related_vibes,
			influences = excluded.influences,
			metadata = excluded.metadata,
			geography = excluded.geography,
			embedding_dim = excluded.embedding_dim`,
		v.ID, v.Name, v.Description, string(v.Category),
		r.keywords, r.sources, r.domains, v.Sentiment,
		v.Strength, v.CurrentRelevance, v.HalfLife, v.DecayRate,
		r.firstSeen, r.lastSeen, r.timestamp,
		r.embedding, r.relatedVibes, r.influences, r.metadata, r.geography,
		len(v.Embedding))
	if err != nil {
		return goerr.Wrap(err, "failed to upsert vibe", goerr.V("id", v.ID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vibe_keywords WHERE vibe_id = ?`, v.ID); err != nil {
		return goerr.Wrap(err, "failed to clear keywords", goerr.V("id", v.ID))
	}
	for _, k := range indexKeywords(v.Keywords) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vibe_keywords (vibe_id, keyword) VALUES (?, ?)`, v.ID, k); err != nil {
			return goerr.Wrap(err, "failed to index keyword", goerr.V("id", v.ID), goerr.V("keyword", k))
		}
	}
	return nil
}

// Get returns the vibe with the given id.
func (s *GraphStore) Get(ctx context.Context, id string) (*types.Vibe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+vibeColumns+` FROM vibes WHERE id = ?`, id)
	v, err := scanVibe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(storage.ErrNotFound, "vibe not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get vibe", goerr.V("id", id))
	}
	return v, nil
}

// Delete removes the vibe; foreign keys cascade to its edges and keywords.
func (s *GraphStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM vibes WHERE id = ?`, id)
		if err != nil {
			return goerr.Wrap(err, "failed to delete vibe", goerr.V("id", id))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return goerr.Wrap(err, "failed to delete vibe", goerr.V("id", id))
		}
		if n == 0 {
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
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM vibes WHERE id = ?`, endpoint).Scan(&one)
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
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(from_id, to_id, type) DO UPDATE SET
				strength = excluded.strength,
				created_at = excluded.created_at`,
			e.From, e.To, string(e.Type), e.Strength, e.CreatedAt.UnixNano())
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
		query += ` WHERE from_id = ? OR to_id = ?`
		args = append(args, id, id)
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
			e       types.Edge
			typ     string
			created int64
		)
		if err := rows.Scan(&e.From, &e.To, &typ, &e.Strength, &created); err != nil {
			return nil, goerr.Wrap(err, "failed to scan edge")
		}
		e.Type = types.EdgeType(typ)
		e.CreatedAt = fromNanos(created)
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

// Snapshot reads the whole graph under one read lock.
func (s *GraphStore) Snapshot(ctx context.Context) (*types.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vibes, err := s.queryVibes(ctx, `SELECT `+vibeColumns+` FROM vibes`)
	if err != nil {
		return nil, err
	}
	edges, err := s.edges(ctx, "")
	if err != nil {
		return nil, err
	}

	snap := &types.GraphSnapshot{
		Vibes: make(map[string]*types.Vibe, len(vibes)),
		Edges: edges,
	}
	for _, v := range vibes {
		snap.Vibes[v.ID] = v
	}

	var lastUpdated time.Time
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM graph_meta WHERE key = ?`, metaLastUpdated).Scan(&raw)
	if err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			lastUpdated = fromNanos(n)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
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

// FindByKeywords uses the keyword index, ordering by overlap then recency.
func (s *GraphStore) FindByKeywords(ctx context.Context, keywords []string) ([]*types.Vibe, error) {
	set := storage.KeywordSet(keywords)
	if len(set) == 0 {
		return []*types.Vibe{}, nil
	}

	args := make([]interface{}, 0, len(set))
	for k := range set {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryVibes(ctx, `
		SELECT `+prefixed("v", vibeColumns)+`
		FROM vibes v
		JOIN (
			SELECT vibe_id, COUNT(*) AS overlap
			FROM vibe_keywords
			WHERE keyword IN (`+placeholders+`)
			GROUP BY vibe_id
		) k ON k.vibe_id = v.id
		ORDER BY k.overlap DESC, v.timestamp DESC, v.id`, args...)
}

// FindByEmbedding loads the vibes whose embedding has the query's length
// and ranks them by cosine similarity.
func (s *GraphStore) FindByEmbedding(ctx context.Context, query []float32, topK int) ([]storage.ScoredVibe, error) {
	if err := storage.ValidateQueryVector(query, s.opts.Dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = storage.DefaultTopK
	}

	s.mu.RLock()
	candidates, err := s.queryVibes(ctx,
		`SELECT `+vibeColumns+` FROM vibes WHERE embedding_dim = ?`, len(query))
	s.mu.RUnlock()
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

// FindRecent returns the most recently mutated vibes.
func (s *GraphStore) FindRecent(ctx context.Context, limit int) ([]*types.Vibe, error) {
	if limit <= 0 {
		limit = storage.DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryVibes(ctx,
		`SELECT `+vibeColumns+` FROM vibes ORDER BY timestamp DESC, id LIMIT ?`, limit)
}

// Close closes the database.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle, for tests and maintenance tooling.
func (s *GraphStore) DB() *sql.DB {
	return s.db
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
		INSERT INTO graph_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastUpdated, strconv.FormatInt(now.UnixNano(), 10))
	if err != nil {
		return goerr.Wrap(err, "failed to update graph metadata")
	}
	return nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths ("/path/to/db.sqlite") and file: URIs ("file:/path/to/db.sqlite?mode=rwc").
// Returns empty string for in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no process has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Warn("sqlite: failed to remove stale WAL file")
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Compile-time assertion.
var _ storage.GraphStore = (*GraphStore)(nil)
