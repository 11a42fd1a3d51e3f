package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/quarrydev/quarry/internal/analyzer"
	"github.com/quarrydev/quarry/internal/catalog"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/embedding"
	"github.com/quarrydev/quarry/internal/kb"
	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/log"
	"github.com/quarrydev/quarry/internal/notebook"
	"github.com/quarrydev/quarry/internal/provider"
	"github.com/quarrydev/quarry/internal/query"
)

// app bundles the wired components shared by the subcommands. The
// provider side is connected lazily so offline subcommands (stats,
// validate) run without credentials.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	store    *knowledge.Store
	pipeline *embedding.Pipeline
	gemini   *provider.Gemini
}

// newApp loads configuration and connects the storage layer. The caller
// must close() the returned app.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: logLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := knowledge.NewStore(pool, cfg.PostgresURL(), cfg.IndexName,
		logger.With("component", "knowledge"))
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  store,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// connectProvider constructs the Gemini client and the embedding
// pipeline on first use. Only the subcommands that embed or generate
// pay the credential requirement.
func (a *app) connectProvider(ctx context.Context) error {
	if a.gemini != nil {
		return nil
	}
	if err := a.cfg.RequireAPIKey(); err != nil {
		return err
	}

	gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:          a.cfg.GeminiAPIKey,
		EmbeddingModel:  a.cfg.EmbeddingModel,
		GenerationModel: a.cfg.GenerationModel,
		OutputDim:       a.cfg.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	a.gemini = gemini
	a.pipeline = embedding.NewPipeline(gemini, embedding.Config{
		BatchSize:         a.cfg.BatchSize,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
		CallTimeout:       a.cfg.CallTimeout,
		MaxAttempts:       a.cfg.Retry.MaxAttempts,
		BaseDelay:         a.cfg.Retry.BaseDelay,
		MaxDelay:          a.cfg.Retry.MaxDelay,
	}, a.logger.With("component", "embedding"))
	return nil
}

// builder assembles the full build pipeline on top of the shared
// components.
func (a *app) builder(ctx context.Context) (*kb.Builder, error) {
	if err := a.connectProvider(ctx); err != nil {
		return nil, err
	}

	ingester := notebook.NewIngester(a.cfg.NotebookSource, a.cfg.ContextWindow,
		a.logger.With("component", "notebook"))
	client := catalog.NewPostgresClient(a.pool,
		catalog.WithAssumedRole(a.cfg.Catalog.AssumeRoleToken))
	extractor := catalog.NewExtractor(client, a.logger.With("component", "catalog"))
	an := analyzer.New(analyzer.WithLogger(a.logger.With("component", "analyzer")))

	return kb.NewBuilder(ingester, extractor, an, a.pipeline, a.store,
		kb.Config{
			Selectors: catalog.Selectors{
				Databases: a.cfg.Catalog.Databases,
				Tables:    a.cfg.Catalog.Tables,
			},
			MaxWorkers: a.cfg.MaxWorkers,
		}, a.logger.With("component", "builder")), nil
}

// engine assembles the query engine on top of the shared components.
func (a *app) engine(ctx context.Context) (*query.Engine, error) {
	if err := a.connectProvider(ctx); err != nil {
		return nil, err
	}
	return query.NewEngine(a.pipeline, a.store, a.gemini, query.Config{
		GenerationModel:     a.cfg.GenerationModel,
		TextWeight:          a.cfg.TextWeight,
		SimilarityThreshold: a.cfg.SimilarityThreshold,
		AllowMutations:      a.cfg.AllowMutations,
	}, a.logger.With("component", "query")), nil
}

// validator assembles an engine wired for static validation only, with
// no provider behind it.
func (a *app) validator() *query.Engine {
	return query.NewEngine(nil, a.store, nil, query.Config{
		AllowMutations: a.cfg.AllowMutations,
	}, a.logger.With("component", "query"))
}

// newPool opens a pgx pool with pgvector types registered on every
// connection, so vector columns scan directly into pgvector.Vector.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	return pool, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
