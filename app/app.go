// Package app wires configuration into the services used by the CLI, the
// HTTP API and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/agent"
	"github.com/fabfab/fundlens/chunking"
	"github.com/fabfab/fundlens/commentary"
	"github.com/fabfab/fundlens/config"
	"github.com/fabfab/fundlens/database"
	"github.com/fabfab/fundlens/embeddings"
	"github.com/fabfab/fundlens/ingestion"
	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/llm"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/market"
	"github.com/fabfab/fundlens/memory"
	"github.com/fabfab/fundlens/search"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/tools"
	"github.com/fabfab/fundlens/vectorstore"
	"github.com/fabfab/fundlens/webfetch"
)

// App holds one set of service handles. Close releases the connections it
// opened.
type App struct {
	Config config.Config
	Logger *log.Logger

	Documents storage.Documents
	Sources   storage.Sources
	Comments  storage.Comments
	Index     *vectorstore.Store
	Search    *search.Searcher
	Graph     knowledge.Graph
	Memory    memory.Store
	Embedder  embeddings.Embedder
	LLM       llm.Client

	Fetcher *webfetch.Fetcher
	Market  *market.Client
	Tools   *tools.Registry
	Agent   *agent.Orchestrator
	Comment *commentary.Generator

	Indexer   *ingestion.Indexer
	Processor *ingestion.Processor

	pool    *pgxpool.Pool
	closers []func()

	// set when running without postgres
	memStore *storage.Memory
	memIndex *vectorstore.MemoryBackend
}

// New builds every service from cfg. Missing credentials and unreachable
// databases fail here instead of on first use.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logging.OrDefault(logger)}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	embedder, err := embeddings.NewEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("embedder setup: %w", err)
	}
	if cfg.Embeddings.CacheDir != "" {
		cache, err := embeddings.OpenCache(cfg.Embeddings.CacheDir, cfg.Embeddings.CacheTTL)
		if err != nil {
			return fmt.Errorf("embedding cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		embedder = embeddings.Cached(embedder, cache, a.Logger)
	}
	a.Embedder = embedder

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}
	a.LLM = client

	var backend vectorstore.Backend
	switch cfg.VectorStore.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		if err := database.EnsureRAGSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		pg := storage.NewPostgres(pool)
		a.Documents, a.Sources, a.Comments = pg, pg.Sources(), pg.Comments()
		backend = vectorstore.NewPostgresBackend(pool)
	default:
		mem := storage.NewMemory()
		a.Documents, a.Sources, a.Comments = mem, mem.Sources(), mem.Comments()
		a.memStore, a.memIndex = mem, vectorstore.NewMemoryBackend()
		backend = a.memIndex
	}
	a.Index = vectorstore.New(backend, embedder, a.Logger)
	a.Search = search.New(a.Index, search.WithLimit(cfg.Agent.PageSize))

	a.Graph = knowledge.Noop{}
	if cfg.Neo4j.Enabled {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password)
		if err != nil {
			return fmt.Errorf("neo4j connection: %w", err)
		}
		a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
		a.Graph = knowledge.NewNeo4jGraph(driver)
	}

	a.Memory = memory.NewInMemory()
	if cfg.SQLite.Path != "" {
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("conversation store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.Memory = memory.NewSQLiteStore(db)
	}

	fetchOpts := webfetch.Options{
		Timeout:        cfg.Fetch.Timeout,
		UserAgent:      cfg.Fetch.UserAgent,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
	}
	if cfg.Fetch.RenderJS {
		fetchOpts.Browser = webfetch.NewBrowserRenderer(cfg.Fetch.Timeout, a.Logger)
	}
	a.Fetcher = webfetch.New(fetchOpts, a.Logger)
	a.Market = market.NewClient(a.Logger, market.WithUserAgent(cfg.Fetch.UserAgent))

	a.Tools = tools.NewRegistry(a.Logger)
	err = tools.Register(a.Tools, tools.Deps{
		Index:       a.Index,
		Documents:   a.Documents,
		Graph:       a.Graph,
		Fetcher:     a.Fetcher,
		Market:      a.Market,
		PageSize:    cfg.Agent.PageSize,
		MaxURLChars: cfg.Fetch.MaxChars,
	})
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	a.Agent = agent.New(client, a.Tools, a.Memory, agent.Config{
		MaxIterations:    cfg.Agent.MaxIterations,
		Timeout:          cfg.Agent.Timeout,
		ExhaustiveSearch: cfg.Agent.ExhaustiveSearch,
	}, a.Logger)
	a.Comment = commentary.New(client, a.Agent, a.Logger)

	chunker := chunking.New(
		chunking.WithChunkSize(cfg.Chunking.ChunkSize),
		chunking.WithOverlap(cfg.Chunking.Overlap),
		chunking.WithMaxTokens(cfg.Chunking.MaxTokens),
		chunking.WithMaxTableRows(cfg.Chunking.MaxTableRows),
	)
	secondary := chunking.New(
		chunking.WithChunkSize(cfg.Chunking.SecondarySize),
		chunking.WithOverlap(cfg.Chunking.SecondaryOverlap),
	)
	a.Indexer = ingestion.NewIndexer(a.Documents, a.Sources, a.Index, a.Graph, chunker, a.Logger)
	a.Processor = ingestion.NewProcessor(a.Indexer, a.Sources, a.Fetcher, a.Market, secondary, a.Logger)

	a.Logger.Info().
		Str("vector_backend", cfg.VectorStore.Backend).
		Str("embeddings", cfg.Embeddings.Provider+"/"+cfg.Embeddings.Model).
		Str("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model).
		Bool("neo4j", cfg.Neo4j.Enabled).
		Str("sqlite", filepath.Clean(cfg.SQLite.Path)).
		Msg("application ready")
	return nil
}

// Clear drops every indexed document, source, comment and graph node.
// Conversation memory is kept.
func (a *App) Clear(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := database.DropRAGSchema(ctx, a.pool); err != nil {
			errs = append(errs, err)
		} else if err := database.EnsureRAGSchema(ctx, a.pool, a.Config.Embeddings.Dimension); err != nil {
			errs = append(errs, err)
		}
	}
	if a.memStore != nil {
		a.memStore.Reset()
	}
	if a.memIndex != nil {
		a.memIndex.Reset()
	}
	if err := a.Graph.Purge(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge graph: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
