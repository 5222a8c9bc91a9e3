package postgres

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// TruncateForTest removes every row from the graph tables.
func (s *GraphStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE vibe_edges, vibes, graph_meta")
	if err != nil {
		return goerr.Wrap(err, "failed to truncate graph tables")
	}
	return nil
}
