package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureRAGSchema creates the document, source, comment and chunk tables.
// Chunks carry no foreign key to documents: the index is kept consistent
// by the indexer, and secondary chunks must survive a primary re-index.
func EnsureRAGSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS fund_documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			file_path TEXT,
			page_count INT NOT NULL DEFAULT 0,
			fund_name TEXT,
			report_period TEXT,
			benchmark TEXT,
			currency TEXT,
			extracted JSONB,
			upload_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS secondary_sources (
			source_id TEXT PRIMARY KEY,
			parent_doc_id TEXT NOT NULL REFERENCES fund_documents(id) ON DELETE CASCADE,
			source_type TEXT NOT NULL,
			name TEXT NOT NULL,
			content_md TEXT,
			original_url TEXT,
			ticker TEXT,
			is_temporary BOOLEAN NOT NULL DEFAULT TRUE,
			session_id TEXT,
			file_size BIGINT NOT NULL DEFAULT 0,
			is_processed BOOLEAN NOT NULL DEFAULT FALSE,
			chunk_count INT NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS generated_comments (
			id BIGSERIAL PRIMARY KEY,
			doc_id TEXT NOT NULL REFERENCES fund_documents(id) ON DELETE CASCADE,
			comment_type TEXT NOT NULL,
			parameters JSONB,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			seq BIGSERIAL UNIQUE,
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT,
			chunk_type TEXT,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_secondary_sources_parent ON secondary_sources(parent_doc_id)",
		"CREATE INDEX IF NOT EXISTS idx_secondary_sources_session ON secondary_sources(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_generated_comments_doc ON generated_comments(doc_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_doc ON rag_chunks(doc_id, source_type)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_source ON rag_chunks(source_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// DropRAGSchema removes every table created by EnsureRAGSchema. Used by
// the clear command.
func DropRAGSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range []string{"rag_chunks", "generated_comments", "secondary_sources", "fund_documents"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}
