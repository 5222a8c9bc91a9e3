// Package storage provides the graph store contract for vibegraph.
//
// GraphStore is implemented by the in-memory reference store (storage/memory)
// and by two durable backends (storage/sqlite, storage/postgres). All
// implementations share the same validation rules, capacity semantics and
// cascade-on-delete guarantee.
package storage

import (
	"context"

	"github.com/scrypster/vibegraph/pkg/types"
)

// GraphStore provides keyed storage for vibes and the typed edges between them.
type GraphStore interface {
	// Put creates or updates a vibe (upsert semantics). The embedding is
	// validated first; a rejected write leaves the store untouched.
	// Returns ErrInvalidEmbedding, ErrInvalidInput or ErrCapacityExceeded.
	Put(ctx context.Context, vibe *types.Vibe) error

	// PutMany applies Put to every vibe. Either all vibes are written or none are.
	PutMany(ctx context.Context, vibes []*types.Vibe) error

	// UpdateMany writes only the vibes whose id is still stored, in one
	// atomic step. Ids deleted since the caller read them are skipped and
	// returned, so a read-modify-write pass never resurrects a vibe.
	UpdateMany(ctx context.Context, vibes []*types.Vibe) (skipped []string, err error)

	// Get retrieves a deep copy of a vibe by ID.
	// Returns ErrNotFound if the vibe doesn't exist.
	Get(ctx context.Context, id string) (*types.Vibe, error)

	// Delete removes a vibe and every edge that touches it.
	// Returns ErrNotFound if the vibe doesn't exist.
	Delete(ctx context.Context, id string) error

	// PutEdge upserts an edge keyed by (From, To, Type). Both endpoints must exist.
	PutEdge(ctx context.Context, edge types.Edge) error

	// GetEdges returns every edge when id is empty, otherwise every edge with
	// id as either endpoint.
	GetEdges(ctx context.Context, id string) ([]types.Edge, error)

	// All returns deep copies of every stored vibe.
	All(ctx context.Context) ([]*types.Vibe, error)

	// Count returns the number of stored vibes.
	Count(ctx context.Context) (int, error)

	// Snapshot returns the full graph with a fresh copy of the vibe map.
	Snapshot(ctx context.Context) (*types.GraphSnapshot, error)

	// FindByKeywords returns vibes whose keyword set intersects keywords,
	// compared case-insensitively, ordered by overlap then recency.
	FindByKeywords(ctx context.Context, keywords []string) ([]*types.Vibe, error)

	// FindByEmbedding returns the topK vibes most similar to query. Only vibes
	// whose embedding has the query's dimensionality are considered.
	FindByEmbedding(ctx context.Context, query []float32, topK int) ([]ScoredVibe, error)

	// FindRecent returns vibes ordered by Timestamp descending, truncated to limit.
	FindRecent(ctx context.Context, limit int) ([]*types.Vibe, error)

	// Close releases any resources held by the store.
	Close() error
}
