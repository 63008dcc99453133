// Package storage keeps document metadata, secondary sources and the
// generated comment history. Chunks live in the vectorstore package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fabfab/fundlens/models"
)

var ErrNotFound = errors.New("not found")

type Documents interface {
	// Add stores doc unless a document with the same file hash exists, in
	// which case the existing id is returned with created=false.
	Add(ctx context.Context, doc models.Document) (id string, created bool, err error)
	Get(ctx context.Context, id string) (models.Document, error)
	GetByHash(ctx context.Context, hash string) (models.Document, error)
	// List returns documents most recently accessed first.
	List(ctx context.Context, limit int) ([]models.Document, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type Sources interface {
	Add(ctx context.Context, src models.SecondarySource) error
	Get(ctx context.Context, id string) (models.SecondarySource, error)
	Update(ctx context.Context, src models.SecondarySource) error
	// ListByParent returns newest first; temporary sources are included
	// only when includeTemporary is set.
	ListByParent(ctx context.Context, parentDocID string, includeTemporary bool) ([]models.SecondarySource, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.SecondarySource, error)
	// ListTemporaryBefore returns temporary sources created before cutoff.
	ListTemporaryBefore(ctx context.Context, cutoff time.Time) ([]models.SecondarySource, error)
	MakePermanent(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByParent(ctx context.Context, parentDocID string) (int, error)
}

type Comments interface {
	Save(ctx context.Context, c models.Comment) (models.Comment, error)
	// ListByDocument returns newest first.
	ListByDocument(ctx context.Context, docID string) ([]models.Comment, error)
}
