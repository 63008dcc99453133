package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresBackend stores chunks in the rag_chunks table with pgvector.
// Ties in distance are broken by the seq column, which follows insertion.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

var _ Backend = (*PostgresBackend)(nil)

// where appends the filter's predicates to args and returns the clause.
func (f Filter) where(args []any) (string, []any) {
	var clauses []string
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("doc_id", f.DocID)
	add("source_id", f.SourceID)
	add("source_type", string(f.SourceType))
	add("chunk_type", f.ChunkType)

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (b *PostgresBackend) Replace(ctx context.Context, owner Owner, records []Record) (err error) {
	if b.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// serialise concurrent re-indexing of the same owner
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", owner.Key()); err != nil {
		return fmt.Errorf("lock owner %s: %w", owner.Key(), err)
	}

	where, args := owner.Filter().where(nil)
	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks"+where, args...); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	for _, r := range records {
		meta, marshalErr := json.Marshal(r.Metadata)
		if marshalErr != nil {
			err = fmt.Errorf("marshal metadata for %s: %w", r.ID, marshalErr)
			return err
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, doc_id, source_type, source_id, chunk_type, chunk_index, content, metadata, embedding, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, NOW())
		`, r.ID, r.Metadata.DocID, string(r.Metadata.SourceType), r.Metadata.SourceID, r.Metadata.ChunkType,
			r.Metadata.ChunkIndex, r.Content, meta, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", r.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if b.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	where, args := filter.where([]any{pgvector.NewVector(vector)})
	args = append(args, k)
	rows, err := conn.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, (embedding <-> $1::vector) AS distance
		FROM rag_chunks%s
		ORDER BY distance, seq
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	return scanResults(rows)
}

func (b *PostgresBackend) Fetch(ctx context.Context, filter Filter, limit int) ([]Result, error) {
	if b.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	where, args := filter.where(nil)
	query := "SELECT id, content, metadata, 0::float8 FROM rag_chunks" + where + " ORDER BY seq"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	return scanResults(rows)
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			item Result
			meta []byte
		)
		if err := rows.Scan(&item.ID, &item.Content, &meta, &item.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, filter Filter) (int, error) {
	if b.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	where, args := filter.where(nil)
	tag, err := b.pool.Exec(ctx, "DELETE FROM rag_chunks"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) Count(ctx context.Context, filter Filter) (int, error) {
	if b.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	where, args := filter.where(nil)
	var n int
	if err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rag_chunks"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (b *PostgresBackend) DocumentIDs(ctx context.Context) ([]string, error) {
	if b.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	rows, err := b.pool.Query(ctx, "SELECT DISTINCT doc_id FROM rag_chunks ORDER BY doc_id")
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
