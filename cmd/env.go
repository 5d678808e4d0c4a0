package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/analyzer"
	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/jobs"
	"github.com/sitelens/intel-cli/internal/store"
	anthropicpkg "github.com/sitelens/intel-cli/pkg/anthropic"
	"github.com/sitelens/intel-cli/pkg/imagegen"
	"github.com/sitelens/intel-cli/pkg/scraper"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the analyze/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Jobs     jobs.Store
	Pipeline *intel.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Jobs != nil {
		_ = pe.Jobs.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initJobs connects to Redis when configured and falls back to the process
// local store otherwise. Only serve needs cross-process job state.
func initJobs(ctx context.Context) jobs.Store {
	if cfg.Jobs.RedisAddr == "" {
		zap.L().Info("redis not configured, using in-memory job store")
		return jobs.NewMemory()
	}
	js, err := jobs.NewRedis(ctx, cfg.Jobs)
	if err != nil {
		zap.L().Warn("redis unavailable, falling back to in-memory job store", zap.Error(err))
		return jobs.NewMemory()
	}
	return js
}

// initPipeline sets up the store and all API clients, and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, cfg.Anthropic.RequestsPerSec)
	ai := analyzer.New(anthropicClient, cfg.Anthropic)

	sc := scraper.NewHTTPScraper(
		cfg.Scrape.UserAgent,
		time.Duration(cfg.Scrape.TimeoutSecs)*time.Second,
		cfg.Scrape.MaxBodyBytes,
	)

	// Image generation is optional; scenarios degrade to no imagery.
	var images intel.ImageGenerator
	if cfg.ImageGen.Key != "" {
		gem, err := imagegen.NewGemini(ctx, cfg.ImageGen.Key, cfg.ImageGen.Model)
		if err != nil {
			zap.L().Warn("image generation disabled", zap.Error(err))
		} else {
			images = gem
		}
	} else {
		zap.L().Debug("INTEL_IMAGEGEN_KEY not set, scenario imagery disabled")
	}

	p := intel.New(cfg.Pipeline, st, sc, ai, images)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
	}, nil
}
