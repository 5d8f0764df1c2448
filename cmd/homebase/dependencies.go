package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/augielopez/homebase/internal/ai"
	"github.com/augielopez/homebase/internal/domain/categorization"
	"github.com/augielopez/homebase/internal/domain/imports/schema"
	importservice "github.com/augielopez/homebase/internal/domain/imports/service"
	"github.com/augielopez/homebase/internal/domain/reconciliation"
	"github.com/augielopez/homebase/internal/store"
	"github.com/augielopez/homebase/pkg/config"
	"github.com/augielopez/homebase/pkg/cron"
	"github.com/augielopez/homebase/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Store  *store.Postgres
	Logger *slog.Logger

	Registry *schema.Registry
	Archive  storage.Archive

	CategorizationService *categorization.Service
	ImportService         *importservice.Service
	ReconciliationService *reconciliation.Service
	Scheduler             *cron.Scheduler
}

// NewDependencies wires the full pipeline from configuration.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	st, pool, err := store.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	archive, err := storage.NewLocalArchive("./archive")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init archive: %w", err)
	}

	catService := categorization.NewService(categorization.NewRepository(st), logger).
		WithSimilarityThreshold(cfg.Categorization.SimilarityThreshold)
	if cfg.OpenAI.APIKey != "" {
		opts := []ai.Option{ai.WithModels(cfg.OpenAI.ChatModel, cfg.OpenAI.EmbeddingModel)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client := ai.NewHTTPClient(cfg.OpenAI.APIKey, opts...)

		index, err := categorization.NewSimilarityIndex()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init similarity index: %w", err)
		}
		catService = catService.WithAIClient(client).
			WithSimilarityIndex(index).
			WithGenerativeEnabled(cfg.Categorization.GenerativeEnabled)
	}

	registry := schema.NewRegistry()
	impService := importservice.NewService(st, registry, logger).
		WithDuplicateGuard(store.NewExactGuard(st)).
		WithCategorizer(catService)

	recCfg := reconciliation.Config{
		AmountTolerance:   decimal.NewFromFloat(cfg.Reconciliation.AmountTolerance),
		DateToleranceDays: cfg.Reconciliation.DateToleranceDays,
		MinConfidence:     cfg.Reconciliation.MinConfidence,
	}
	recService := reconciliation.NewService(st, recCfg, logger)

	return &Dependencies{
		Config:                cfg,
		Pool:                  pool,
		Store:                 st,
		Logger:                logger,
		Registry:              registry,
		Archive:               archive,
		CategorizationService: catService,
		ImportService:         impService,
		ReconciliationService: recService,
		Scheduler:             cron.NewScheduler(st, catService, recService, logger),
	}, nil
}

// Close releases held resources.
func (d *Dependencies) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}
