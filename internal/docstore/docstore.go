// Package docstore is the document-store adapter named in §6. No example
// repository in the retrieval pack imports a document-database driver, so
// rather than introduce an ungrounded dependency this module models the
// spec's indexed collections as Postgres tables with a `doc jsonb` column,
// built on the teacher's existing jackc/pgx/v5 stack (see DESIGN.md).
package docstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the pgx connection pool shared by every collection repository.
type Store struct {
	Pool *pgxpool.Pool
}

// Connect opens the pool. Each service's repository type is constructed with
// the same *Store so all collections share one connection pool, mirroring
// the teacher's db.DB being threaded through services.New.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}
