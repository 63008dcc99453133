package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/fundlens/models"
)

// Postgres implements the stores on the tables created by
// database.EnsureRAGSchema. Sources and comments cascade with their
// document through foreign keys.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var (
	_ Documents = (*Postgres)(nil)
	_ Sources   = (*PostgresSources)(nil)
	_ Comments  = (*PostgresComments)(nil)
)

func (p *Postgres) Sources() *PostgresSources   { return &PostgresSources{p.pool} }
func (p *Postgres) Comments() *PostgresComments { return &PostgresComments{p.pool} }

const documentColumns = `id, filename, file_hash, COALESCE(file_path, ''), page_count, COALESCE(fund_name, ''),
	COALESCE(report_period, ''), COALESCE(benchmark, ''), COALESCE(currency, ''), extracted, upload_date, last_accessed`

func scanDocument(row pgx.Row) (models.Document, error) {
	var (
		doc       models.Document
		extracted []byte
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.FileHash, &doc.FilePath, &doc.PageCount, &doc.FundName,
		&doc.ReportPeriod, &doc.Benchmark, &doc.Currency, &extracted, &doc.UploadDate, &doc.LastAccessed); err != nil {
		return models.Document{}, err
	}
	if len(extracted) > 0 {
		var data models.ExtractedData
		if err := json.Unmarshal(extracted, &data); err != nil {
			return models.Document{}, fmt.Errorf("decode extracted data for %s: %w", doc.ID, err)
		}
		doc.Extracted = &data
	}
	return doc, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func (p *Postgres) Add(ctx context.Context, doc models.Document) (string, bool, error) {
	if existing, err := p.GetByHash(ctx, doc.FileHash); err == nil {
		if err := p.Touch(ctx, existing.ID); err != nil {
			return "", false, err
		}
		return existing.ID, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	if doc.ID == "" {
		doc.ID = models.DocumentID(doc.Filename, doc.FileHash)
	}
	var extracted []byte
	if doc.Extracted != nil {
		var err error
		if extracted, err = json.Marshal(doc.Extracted); err != nil {
			return "", false, fmt.Errorf("encode extracted data: %w", err)
		}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO fund_documents (id, filename, file_hash, file_path, page_count, fund_name, report_period, benchmark, currency, extracted)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
		ON CONFLICT (file_hash) DO NOTHING
	`, doc.ID, doc.Filename, doc.FileHash, doc.FilePath, doc.PageCount, doc.FundName, doc.ReportPeriod, doc.Benchmark, doc.Currency, extracted)
	if err != nil {
		return "", false, fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, true, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Document, error) {
	doc, err := scanDocument(p.pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM fund_documents WHERE id = $1", id))
	if err != nil {
		return models.Document{}, notFound(err, "document "+id)
	}
	return doc, nil
}

func (p *Postgres) GetByHash(ctx context.Context, hash string) (models.Document, error) {
	doc, err := scanDocument(p.pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM fund_documents WHERE file_hash = $1", hash))
	if err != nil {
		return models.Document{}, notFound(err, "document with hash "+hash)
	}
	return doc, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, "SELECT "+documentColumns+" FROM fund_documents ORDER BY last_accessed DESC, id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *Postgres) Touch(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE fund_documents SET last_accessed = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM fund_documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

type PostgresSources struct{ pool *pgxpool.Pool }

const sourceColumns = `source_id, parent_doc_id, source_type, name, COALESCE(content_md, ''), COALESCE(original_url, ''),
	COALESCE(ticker, ''), is_temporary, COALESCE(session_id, ''), created_at, file_size, is_processed, chunk_count, COALESCE(error, '')`

func scanSource(row pgx.Row) (models.SecondarySource, error) {
	var src models.SecondarySource
	err := row.Scan(&src.SourceID, &src.ParentDocID, &src.SourceType, &src.Name, &src.ContentMD, &src.OriginalURL,
		&src.Ticker, &src.IsTemporary, &src.SessionID, &src.CreatedAt, &src.FileSize, &src.IsProcessed, &src.ChunkCount, &src.Error)
	return src, err
}

func (s *PostgresSources) query(ctx context.Context, where string, args ...any) ([]models.SecondarySource, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+sourceColumns+" FROM secondary_sources WHERE "+where+" ORDER BY created_at DESC, source_id", args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.SecondarySource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *PostgresSources) Add(ctx context.Context, src models.SecondarySource) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO secondary_sources (source_id, parent_doc_id, source_type, name, content_md, original_url, ticker,
			is_temporary, session_id, created_at, file_size, is_processed, chunk_count, error)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12, $13, NULLIF($14, ''))
	`, src.SourceID, src.ParentDocID, string(src.SourceType), src.Name, src.ContentMD, src.OriginalURL, src.Ticker,
		src.IsTemporary, src.SessionID, src.CreatedAt, src.FileSize, src.IsProcessed, src.ChunkCount, src.Error)
	if err != nil {
		return fmt.Errorf("insert source %s: %w", src.SourceID, err)
	}
	return nil
}

func (s *PostgresSources) Get(ctx context.Context, id string) (models.SecondarySource, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, "SELECT "+sourceColumns+" FROM secondary_sources WHERE source_id = $1", id))
	if err != nil {
		return models.SecondarySource{}, notFound(err, "source "+id)
	}
	return src, nil
}

func (s *PostgresSources) Update(ctx context.Context, src models.SecondarySource) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE secondary_sources
		SET name = $2, content_md = $3, original_url = NULLIF($4, ''), ticker = NULLIF($5, ''), is_temporary = $6,
			file_size = $7, is_processed = $8, chunk_count = $9, error = NULLIF($10, '')
		WHERE source_id = $1
	`, src.SourceID, src.Name, src.ContentMD, src.OriginalURL, src.Ticker, src.IsTemporary,
		src.FileSize, src.IsProcessed, src.ChunkCount, src.Error)
	if err != nil {
		return fmt.Errorf("update source %s: %w", src.SourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", src.SourceID, ErrNotFound)
	}
	return nil
}

func (s *PostgresSources) ListByParent(ctx context.Context, parentDocID string, includeTemporary bool) ([]models.SecondarySource, error) {
	if includeTemporary {
		return s.query(ctx, "parent_doc_id = $1", parentDocID)
	}
	return s.query(ctx, "parent_doc_id = $1 AND NOT is_temporary", parentDocID)
}

func (s *PostgresSources) ListBySession(ctx context.Context, sessionID string) ([]models.SecondarySource, error) {
	return s.query(ctx, "session_id = $1", sessionID)
}

func (s *PostgresSources) ListTemporaryBefore(ctx context.Context, cutoff time.Time) ([]models.SecondarySource, error) {
	return s.query(ctx, "is_temporary AND created_at < $1", cutoff)
}

func (s *PostgresSources) MakePermanent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE secondary_sources SET is_temporary = FALSE WHERE source_id = $1", id)
	if err != nil {
		return fmt.Errorf("make source %s permanent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresSources) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM secondary_sources WHERE source_id = $1", id)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresSources) DeleteByParent(ctx context.Context, parentDocID string) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM secondary_sources WHERE parent_doc_id = $1", parentDocID)
	if err != nil {
		return 0, fmt.Errorf("delete sources of %s: %w", parentDocID, err)
	}
	return int(tag.RowsAffected()), nil
}

type PostgresComments struct{ pool *pgxpool.Pool }

func (c *PostgresComments) Save(ctx context.Context, comment models.Comment) (models.Comment, error) {
	params, err := json.Marshal(comment.Parameters)
	if err != nil {
		return models.Comment{}, fmt.Errorf("encode comment parameters: %w", err)
	}
	err = c.pool.QueryRow(ctx, `
		INSERT INTO generated_comments (doc_id, comment_type, parameters, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, comment.DocID, string(comment.CommentType), params, comment.Content).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (c *PostgresComments) ListByDocument(ctx context.Context, docID string) ([]models.Comment, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, doc_id, comment_type, parameters, content, created_at
		FROM generated_comments
		WHERE doc_id = $1
		ORDER BY created_at DESC, id DESC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var (
			comment models.Comment
			params  []byte
		)
		if err := rows.Scan(&comment.ID, &comment.DocID, &comment.CommentType, &params, &comment.Content, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &comment.Parameters); err != nil {
				return nil, fmt.Errorf("decode comment parameters: %w", err)
			}
		}
		out = append(out, comment)
	}
	return out, rows.Err()
}
