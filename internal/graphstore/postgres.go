package graphstore

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/kg"
)

// Postgres is a GraphStore backed by two tables, entities and
// relations, scoped by project id.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed GraphStore, creating its tables
// and indices if they do not already exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kg_entities (
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			source_chunk_ids TEXT[] NOT NULL DEFAULT '{}',
			document_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			global_keys TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (project_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_relations (
			project_id TEXT NOT NULL,
			src_name TEXT NOT NULL,
			tgt_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '',
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			source_chunk_ids TEXT[] NOT NULL DEFAULT '{}',
			document_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (project_id, src_name, tgt_name)
		)`,
		`CREATE INDEX IF NOT EXISTS kg_relations_src ON kg_relations(project_id, src_name)`,
		`CREATE INDEX IF NOT EXISTS kg_relations_tgt ON kg_relations(project_id, tgt_name)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, err
		}
	}
	return &Postgres{pool: pool}, nil
}

func pgRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) { return op() }, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func (g *Postgres) UpsertEntity(ctx context.Context, e kg.Entity) error {
	_, err := pgRetry(ctx, func() (struct{}, error) {
		_, err := g.pool.Exec(ctx, `
INSERT INTO kg_entities(project_id, name, type, description, source_chunk_ids, document_id, file_path, global_keys)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (project_id, name) DO UPDATE SET
  type=EXCLUDED.type, description=EXCLUDED.description, source_chunk_ids=EXCLUDED.source_chunk_ids,
  document_id=EXCLUDED.document_id, file_path=EXCLUDED.file_path, global_keys=EXCLUDED.global_keys
`, e.ProjectID, e.Name, e.Type, e.Description, e.SourceChunkIDs, e.DocumentID, e.FilePath, e.GlobalKeys)
		return struct{}{}, err
	})
	return err
}

func (g *Postgres) UpsertEntities(ctx context.Context, es []kg.Entity) error {
	for _, e := range es {
		if err := g.UpsertEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (g *Postgres) GetEntity(ctx context.Context, projectID, name string) (kg.Entity, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT project_id, name, type, description, source_chunk_ids, document_id, file_path, global_keys
FROM kg_entities WHERE project_id=$1 AND name=$2
`, projectID, name)
	var e kg.Entity
	err := row.Scan(&e.ProjectID, &e.Name, &e.Type, &e.Description, &e.SourceChunkIDs, &e.DocumentID, &e.FilePath, &e.GlobalKeys)
	if err != nil {
		return kg.Entity{}, false, nil
	}
	return e, true, nil
}

func (g *Postgres) DeleteEntity(ctx context.Context, projectID, name string) error {
	_, err := pgRetry(ctx, func() (struct{}, error) {
		_, err := g.pool.Exec(ctx, `DELETE FROM kg_entities WHERE project_id=$1 AND name=$2`, projectID, name)
		return struct{}{}, err
	})
	return err
}

func (g *Postgres) UpsertRelation(ctx context.Context, r kg.Relation) error {
	if err := ValidateRelation(r); err != nil {
		return err
	}
	_, err := pgRetry(ctx, func() (struct{}, error) {
		_, err := g.pool.Exec(ctx, `
INSERT INTO kg_relations(project_id, src_name, tgt_name, description, keywords, weight, source_chunk_ids, document_id, file_path)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (project_id, src_name, tgt_name) DO UPDATE SET
  description=EXCLUDED.description, keywords=EXCLUDED.keywords, weight=EXCLUDED.weight,
  source_chunk_ids=EXCLUDED.source_chunk_ids, document_id=EXCLUDED.document_id, file_path=EXCLUDED.file_path
`, r.ProjectID, r.SrcName, r.TgtName, r.Description, r.Keywords, r.Weight, r.SourceChunkIDs, r.DocumentID, r.FilePath)
		return struct{}{}, err
	})
	return err
}

func (g *Postgres) UpsertRelations(ctx context.Context, rs []kg.Relation) error {
	for _, r := range rs {
		if err := g.UpsertRelation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *Postgres) GetRelation(ctx context.Context, projectID, src, tgt string) (kg.Relation, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT project_id, src_name, tgt_name, description, keywords, weight, source_chunk_ids, document_id, file_path
FROM kg_relations WHERE project_id=$1 AND src_name=$2 AND tgt_name=$3
`, projectID, src, tgt)
	var r kg.Relation
	err := row.Scan(&r.ProjectID, &r.SrcName, &r.TgtName, &r.Description, &r.Keywords, &r.Weight, &r.SourceChunkIDs, &r.DocumentID, &r.FilePath)
	if err != nil {
		return kg.Relation{}, false, nil
	}
	return r, true, nil
}

func (g *Postgres) DeleteRelation(ctx context.Context, projectID, src, tgt string) error {
	_, err := pgRetry(ctx, func() (struct{}, error) {
		_, err := g.pool.Exec(ctx, `DELETE FROM kg_relations WHERE project_id=$1 AND src_name=$2 AND tgt_name=$3`, projectID, src, tgt)
		return struct{}{}, err
	})
	return err
}

func (g *Postgres) Neighbors(ctx context.Context, projectID, name string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `
SELECT tgt_name FROM kg_relations WHERE project_id=$1 AND src_name=$2
UNION
SELECT src_name FROM kg_relations WHERE project_id=$1 AND tgt_name=$2
ORDER BY 1
`, projectID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *Postgres) RelationsOf(ctx context.Context, projectID, name string) ([]kg.Relation, error) {
	rows, err := g.pool.Query(ctx, `
SELECT project_id, src_name, tgt_name, description, keywords, weight, source_chunk_ids, document_id, file_path
FROM kg_relations WHERE project_id=$1 AND (src_name=$2 OR tgt_name=$2)
`, projectID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

func (g *Postgres) EntitiesBySourceChunk(ctx context.Context, projectID, chunkID string) ([]kg.Entity, error) {
	rows, err := g.pool.Query(ctx, `
SELECT project_id, name, type, description, source_chunk_ids, document_id, file_path, global_keys
FROM kg_entities WHERE project_id=$1 AND $2 = ANY(source_chunk_ids)
`, projectID, chunkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []kg.Entity
	for rows.Next() {
		var e kg.Entity
		if err := rows.Scan(&e.ProjectID, &e.Name, &e.Type, &e.Description, &e.SourceChunkIDs, &e.DocumentID, &e.FilePath, &e.GlobalKeys); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Postgres) RelationsBySourceChunk(ctx context.Context, projectID, chunkID string) ([]kg.Relation, error) {
	rows, err := g.pool.Query(ctx, `
SELECT project_id, src_name, tgt_name, description, keywords, weight, source_chunk_ids, document_id, file_path
FROM kg_relations WHERE project_id=$1 AND $2 = ANY(source_chunk_ids)
`, projectID, chunkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

func (g *Postgres) AllEntities(ctx context.Context, projectID string) ([]kg.Entity, error) {
	rows, err := g.pool.Query(ctx, `
SELECT project_id, name, type, description, source_chunk_ids, document_id, file_path, global_keys
FROM kg_entities WHERE project_id=$1 ORDER BY name
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []kg.Entity
	for rows.Next() {
		var e kg.Entity
		if err := rows.Scan(&e.ProjectID, &e.Name, &e.Type, &e.Description, &e.SourceChunkIDs, &e.DocumentID, &e.FilePath, &e.GlobalKeys); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Postgres) AllRelations(ctx context.Context, projectID string) ([]kg.Relation, error) {
	rows, err := g.pool.Query(ctx, `
SELECT project_id, src_name, tgt_name, description, keywords, weight, source_chunk_ids, document_id, file_path
FROM kg_relations WHERE project_id=$1 ORDER BY src_name, tgt_name
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRelations(rows pgxRows) ([]kg.Relation, error) {
	var out []kg.Relation
	for rows.Next() {
		var r kg.Relation
		if err := rows.Scan(&r.ProjectID, &r.SrcName, &r.TgtName, &r.Description, &r.Keywords, &r.Weight, &r.SourceChunkIDs, &r.DocumentID, &r.FilePath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ GraphStore = (*Postgres)(nil)
