package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is a primary uploaded report.
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	FileHash     string         `json:"file_hash"`
	FilePath     string         `json:"file_path,omitempty"`
	PageCount    int            `json:"page_count"`
	FundName     string         `json:"fund_name,omitempty"`
	ReportPeriod string         `json:"report_period,omitempty"`
	Benchmark    string         `json:"benchmark,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	Extracted    *ExtractedData `json:"extracted,omitempty"`
	UploadDate   time.Time      `json:"upload_date"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// DocumentID derives the document id from the file name and content hash,
// so the same file always maps to the same id.
func DocumentID(filename, hash string) string {
	stem := filename
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, stem)
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("%s_%s", stem, hash)
}

type SourceType string

const (
	SourcePDF   SourceType = "pdf"
	SourceDOCX  SourceType = "docx"
	SourceTXT   SourceType = "txt"
	SourceCSV   SourceType = "csv"
	SourceURL   SourceType = "url"
	SourceStock SourceType = "stock"
)

// SecondarySource is supporting material attached to one primary document.
type SecondarySource struct {
	SourceID    string     `json:"source_id"`
	ParentDocID string     `json:"parent_doc_id"`
	SourceType  SourceType `json:"source_type"`
	Name        string     `json:"name"`
	ContentMD   string     `json:"content_md,omitempty"`
	OriginalURL string     `json:"original_url,omitempty"`
	Ticker      string     `json:"ticker,omitempty"`
	IsTemporary bool       `json:"is_temporary"`
	SessionID   string     `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FileSize    int64      `json:"file_size"`
	IsProcessed bool       `json:"is_processed"`
	ChunkCount  int        `json:"chunk_count"`
	Error       string     `json:"error,omitempty"`
}

// NewSourceID returns a fresh "sec_" prefixed identifier.
func NewSourceID() string {
	return "sec_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Comment is a generated commentary kept in the document history.
type Comment struct {
	ID          int64             `json:"id"`
	DocID       string            `json:"doc_id"`
	CommentType CommentType       `json:"comment_type"`
	Parameters  CommentParameters `json:"parameters"`
	Content     string            `json:"content"`
	CreatedAt   time.Time         `json:"created_at"`
}
