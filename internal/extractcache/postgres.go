package extractcache

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/kg"
)

// Postgres is a Cache backed by a single table, one row per
// (project, cache type, content hash) key.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Cache, creating its table and
// indices if they do not already exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS extraction_cache (
  id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  cache_type TEXT NOT NULL,
  chunk_id TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  result TEXT NOT NULL,
  tokens_used INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(project_id, cache_type, content_hash)
);
`)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS extraction_cache_chunk ON extraction_cache(project_id, chunk_id)`); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, projectID string, cacheType kg.CacheType, contentHash string) (kg.ExtractionCacheEntry, bool, error) {
	op := func() (kg.ExtractionCacheEntry, error) {
		row := p.pool.QueryRow(ctx, `
SELECT id, project_id, cache_type, chunk_id, content_hash, result, tokens_used, created_at
FROM extraction_cache WHERE project_id=$1 AND cache_type=$2 AND content_hash=$3
`, projectID, string(cacheType), contentHash)
		var e kg.ExtractionCacheEntry
		var ct string
		err := row.Scan(&e.ID, &e.ProjectID, &ct, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &e.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return kg.ExtractionCacheEntry{}, backoff.Permanent(err)
		}
		e.CacheType = kg.CacheType(ct)
		return e, err
	}
	e, err := retry(ctx, op)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kg.ExtractionCacheEntry{}, false, nil
		}
		return kg.ExtractionCacheEntry{}, false, err
	}
	return e, true, nil
}

func (p *Postgres) Put(ctx context.Context, entry kg.ExtractionCacheEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := retry(ctx, func() (struct{}, error) {
		_, err := p.pool.Exec(ctx, `
INSERT INTO extraction_cache(id, project_id, cache_type, chunk_id, content_hash, result, tokens_used, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (project_id, cache_type, content_hash)
DO UPDATE SET result=EXCLUDED.result, tokens_used=EXCLUDED.tokens_used, created_at=EXCLUDED.created_at, chunk_id=EXCLUDED.chunk_id
`, entry.ID, entry.ProjectID, string(entry.CacheType), entry.ChunkID, entry.ContentHash, entry.Result, entry.TokensUsed, entry.CreatedAt)
		return struct{}{}, err
	})
	return err
}

func (p *Postgres) ListByChunk(ctx context.Context, projectID, chunkID string) ([]kg.ExtractionCacheEntry, error) {
	return retry(ctx, func() ([]kg.ExtractionCacheEntry, error) {
		rows, err := p.pool.Query(ctx, `
SELECT id, project_id, cache_type, chunk_id, content_hash, result, tokens_used, created_at
FROM extraction_cache WHERE project_id=$1 AND chunk_id=$2
`, projectID, chunkID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []kg.ExtractionCacheEntry
		for rows.Next() {
			var e kg.ExtractionCacheEntry
			var ct string
			if err := rows.Scan(&e.ID, &e.ProjectID, &ct, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &e.CreatedAt); err != nil {
				return nil, err
			}
			e.CacheType = kg.CacheType(ct)
			out = append(out, e)
		}
		return out, rows.Err()
	})
}

func (p *Postgres) DeleteByChunk(ctx context.Context, projectID, chunkID string) error {
	_, err := retry(ctx, func() (struct{}, error) {
		_, err := p.pool.Exec(ctx, `DELETE FROM extraction_cache WHERE project_id=$1 AND chunk_id=$2`, projectID, chunkID)
		return struct{}{}, err
	})
	return err
}

// retry wraps op with up to three attempts of jittered exponential
// backoff, for the transient connection drops and timeouts the
// specification classifies as retryable I/O errors. op can abort
// immediately with a non-retryable error by returning
// backoff.Permanent(err).
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		return op()
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

var _ Cache = (*Postgres)(nil)
