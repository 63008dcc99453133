package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/chunking"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/market"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/storage"
)

const (
	SecondaryChunkSize = 500
	SecondaryOverlap   = 50
	urlNamePathLimit   = 30
)

type PageFetcher interface {
	Markdown(ctx context.Context, pageURL string) (string, error)
}

type QuoteLookup interface {
	Lookup(ctx context.Context, nameOrTicker string) (string, error)
}

// Attach says where a new source belongs. Temporary sources live until
// their session ends or the cleanup removes them.
type Attach struct {
	ParentDocID string
	SessionID   string
	Temporary   bool
}

// Processor converts attachments to markdown and indexes them as
// secondary sources of a document.
type Processor struct {
	indexer *Indexer
	sources storage.Sources
	fetcher PageFetcher
	quotes  QuoteLookup
	chunker *chunking.Chunker
	logger  *log.Logger
	now     func() time.Time
}

// NewProcessor returns a processor. fetcher and quotes may be nil, which
// disables URL and ticker sources.
func NewProcessor(indexer *Indexer, sources storage.Sources, fetcher PageFetcher, quotes QuoteLookup, chunker *chunking.Chunker, logger *log.Logger) *Processor {
	if chunker == nil {
		chunker = chunking.New(chunking.WithChunkSize(SecondaryChunkSize), chunking.WithOverlap(SecondaryOverlap))
	}
	return &Processor{
		indexer: indexer,
		sources: sources,
		fetcher: fetcher,
		quotes:  quotes,
		chunker: chunker,
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
}

// AddFile converts an uploaded file. A conversion failure is recorded on
// the stored source and also returned.
func (p *Processor) AddFile(ctx context.Context, at Attach, filename string, data []byte) (models.SecondarySource, error) {
	src := p.newSource(at, DetectSourceType(filename, data), filename)
	src.FileSize = int64(len(data))
	return p.process(ctx, src, func() (string, error) {
		return ToMarkdown(src.SourceType, data)
	})
}

func (p *Processor) AddURL(ctx context.Context, at Attach, rawURL string) (models.SecondarySource, error) {
	if p.fetcher == nil {
		return models.SecondarySource{}, errors.New("url sources are not configured")
	}
	src := p.newSource(at, models.SourceURL, URLName(rawURL))
	src.OriginalURL = rawURL
	return p.process(ctx, src, func() (string, error) {
		return p.fetcher.Markdown(ctx, rawURL)
	})
}

// AddTicker stores a quote snapshot. It goes stale, so it is indexed like
// any other source and cleaned up with the session.
func (p *Processor) AddTicker(ctx context.Context, at Attach, nameOrTicker string) (models.SecondarySource, error) {
	if p.quotes == nil {
		return models.SecondarySource{}, errors.New("stock sources are not configured")
	}
	ticker := market.ResolveTicker(nameOrTicker)
	if ticker == "" {
		return models.SecondarySource{}, errors.New("ticker is required")
	}
	src := p.newSource(at, models.SourceStock, ticker+" stock data")
	src.Ticker = ticker
	return p.process(ctx, src, func() (string, error) {
		return p.quotes.Lookup(ctx, ticker)
	})
}

func (p *Processor) newSource(at Attach, kind models.SourceType, name string) models.SecondarySource {
	return models.SecondarySource{
		SourceID:    models.NewSourceID(),
		ParentDocID: at.ParentDocID,
		SourceType:  kind,
		Name:        name,
		IsTemporary: at.Temporary,
		SessionID:   at.SessionID,
		CreatedAt:   p.now(),
	}
}

func (p *Processor) process(ctx context.Context, src models.SecondarySource, convert func() (string, error)) (models.SecondarySource, error) {
	if src.ParentDocID == "" {
		return models.SecondarySource{}, errors.New("parent document id is required")
	}

	content, err := convert()
	if err == nil && strings.TrimSpace(content) == "" {
		err = errors.New("no content extracted")
	}
	if err != nil {
		src.Error = err.Error()
		if addErr := p.sources.Add(ctx, src); addErr != nil {
			return src, fmt.Errorf("store failed source: %w", addErr)
		}
		p.logger.Warn().Err(err).Str("source_id", src.SourceID).Str("name", src.Name).Msg("source conversion failed")
		return src, fmt.Errorf("convert %s: %w", src.Name, err)
	}

	src.ContentMD = content
	src.IsProcessed = true
	if src.FileSize == 0 {
		src.FileSize = int64(len(content))
	}
	if err := p.sources.Add(ctx, src); err != nil {
		return src, fmt.Errorf("store source: %w", err)
	}

	n, err := p.indexer.IndexSource(ctx, src, p.chunker)
	if err != nil {
		src.IsProcessed = false
		src.Error = err.Error()
		if upErr := p.sources.Update(ctx, src); upErr != nil {
			p.logger.Error().Err(upErr).Str("source_id", src.SourceID).Msg("record indexing failure")
		}
		return src, err
	}
	src.ChunkCount = n
	if err := p.sources.Update(ctx, src); err != nil {
		return src, fmt.Errorf("update source: %w", err)
	}

	p.logger.Info().
		Str("source_id", src.SourceID).
		Str("parent_doc_id", src.ParentDocID).
		Str("type", string(src.SourceType)).
		Int("chunks", n).
		Msg("indexed source")
	return src, nil
}

func (p *Processor) List(ctx context.Context, parentDocID string, includeTemporary bool) ([]models.SecondarySource, error) {
	return p.sources.ListByParent(ctx, parentDocID, includeTemporary)
}

func (p *Processor) MakePermanent(ctx context.Context, sourceID string) error {
	return p.sources.MakePermanent(ctx, sourceID)
}

// DeleteSession removes the temporary sources attached during a session.
// Sources made permanent survive.
func (p *Processor) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	srcs, err := p.sources.ListBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list session sources: %w", err)
	}
	var temp []models.SecondarySource
	for _, s := range srcs {
		if s.IsTemporary {
			temp = append(temp, s)
		}
	}
	return p.deleteAll(ctx, temp)
}

// CleanupTemporary removes temporary sources older than maxAge.
func (p *Processor) CleanupTemporary(ctx context.Context, maxAge time.Duration) (int, error) {
	srcs, err := p.sources.ListTemporaryBefore(ctx, p.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("list expired sources: %w", err)
	}
	return p.deleteAll(ctx, srcs)
}

func (p *Processor) deleteAll(ctx context.Context, srcs []models.SecondarySource) (int, error) {
	removed := 0
	var errs []error
	for _, s := range srcs {
		if _, err := p.indexer.DeleteSource(ctx, s.SourceID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// URLName is the display name of a fetched page: host plus path, with long
// paths cut at 30 characters.
func URLName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if path := []rune(u.Path); len(path) > urlNamePathLimit {
		return u.Host + string(path[:urlNamePathLimit]) + "..."
	}
	return u.Host + u.Path
}
