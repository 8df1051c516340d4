package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/infer"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/pipeline"
	"github.com/harborline/manifest-cli/internal/resilience"
	"github.com/harborline/manifest-cli/internal/store"
	anthropicpkg "github.com/harborline/manifest-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store, catalog, and orchestrator needed
// by the ingest/batch/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Catalog      *model.FieldCatalog
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "manifest.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadCatalog() (*model.FieldCatalog, error) {
	if cfg.Catalog.Path == "" {
		return model.DefaultCatalog(), nil
	}
	catalog, err := model.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load field catalog")
	}
	zap.L().Info("field catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("fields", len(catalog.Names())))
	return catalog, nil
}

// buildInferrer returns nil when no API key is configured; the translator
// then runs dictionary-only in degraded mode.
func buildInferrer() infer.Inferrer {
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("MANIFEST_ANTHROPIC_KEY not set, header inference disabled")
		return nil
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return infer.NewAnthropicInferrer(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens,
		infer.WithRateLimit(cfg.Anthropic.RateRPS, cfg.Anthropic.RateBurst),
		infer.WithRetry(resilience.FromSettings(
			cfg.Anthropic.RetryMaxAttempts,
			cfg.Anthropic.RetryInitialBackoffMs,
			cfg.Anthropic.RetryMaxBackoffMs,
		)),
	)
}

// initPipeline sets up the store, the inference client, and the orchestrator.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	catalog, err := loadCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	inferrer := buildInferrer()

	orch := pipeline.NewOrchestrator(
		st,
		pipeline.NewMapper(st, inferrer, catalog, cfg.Mapping),
		pipeline.NewPersister(st, catalog),
		pipeline.NewAuditor(st, catalog, cfg.Audit),
		pipeline.NewLearner(st, inferrer, catalog, cfg.Learner, cfg.Mapping.AcceptThreshold),
		cfg.Mapping.ApprovalThreshold,
	)

	return &pipelineEnv{
		Store:        st,
		Catalog:      catalog,
		Orchestrator: orch,
	}, nil
}

// fetchOptions translates CLI flags and config into fetcher options.
func fetchOptions(sheetName string, sheetIndex int, delimiter string) fetcher.Options {
	opts := fetcher.Options{
		SheetIndex: sheetIndex,
		SheetName:  sheetName,
		FTPTimeout: time.Duration(cfg.Ingest.FTPTimeoutSecs) * time.Second,
	}
	if delimiter != "" {
		opts.Delimiter = rune(delimiter[0])
	}
	return opts
}
