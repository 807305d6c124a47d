package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/config"
	"github.com/intentops/intent-eval/internal/db"
	"github.com/intentops/intent-eval/internal/embeddings"
	"github.com/intentops/intent-eval/internal/evaluation"
	"github.com/intentops/intent-eval/internal/feedback"
	"github.com/intentops/intent-eval/internal/samplelib"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `intent-eval init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// createEmbedderFromConfig creates an embeddings.Embedder based on config.
func createEmbedderFromConfig(cfg *config.Config) (embeddings.Embedder, error) {
	switch cfg.Embeddings.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI embeddings")
		}
		return embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(cfg.Embeddings.Model)), nil
	case config.ProviderOllama:
		return embeddings.NewOllamaEmbedder(cfg.Embeddings.Model, 768, cfg.Embeddings.BaseURL), nil
	default:
		return embeddings.NewLocalEmbedder(), nil
	}
}

// openDatabase opens the SQLite database under the configured data dir.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	return db.Open(filepath.Join(cfg.Server.DataDir, "intent-eval.db"))
}

// openLibrary loads the sample library and builds its retrieval mirror.
func openLibrary(ctx context.Context, cfg *config.Config) (*samplelib.Library, *samplelib.Mirror, error) {
	lib, err := samplelib.Load(cfg.Calibration.LibraryPath, cfg.Calibration.LibraryMaxSize)
	if err != nil {
		return nil, nil, fmt.Errorf("loading sample library: %w", err)
	}

	embedder, err := createEmbedderFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	mirror, err := samplelib.NewMirror(embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("creating retrieval mirror: %w", err)
	}
	if err := mirror.Rebuild(ctx, lib.List()); err != nil {
		return nil, nil, fmt.Errorf("indexing sample library: %w", err)
	}

	return lib, mirror, nil
}

// evalOptions builds evaluation options from config for a given window.
func evalOptions(cfg *config.Config, since, until time.Time) evaluation.Options {
	return evaluation.Options{
		Intents:                cfg.Evaluation.Intents,
		LowConfidenceThreshold: cfg.Evaluation.LowConfidenceThreshold,
		OODRate:                cfg.Evaluation.OODRate,
		WindowStart:            since,
		WindowEnd:              until,
	}
}

// evaluateWindow reads closed records from [since, until) and computes
// metrics over them.
func evaluateWindow(ctx context.Context, cfg *config.Config, store *feedback.Store, since, until time.Time) (evaluation.Metrics, []feedback.PredictionRecord, error) {
	records, err := store.QueryWindow(ctx, since, until)
	if err != nil {
		return evaluation.Metrics{}, nil, fmt.Errorf("querying records: %w", err)
	}
	return evaluation.Evaluate(records, evalOptions(cfg, since, until)), records, nil
}

// makeRunFunc binds the calibrator to the record store so routes and the
// scheduler can trigger full evaluate-then-calibrate passes.
func makeRunFunc(cfg *config.Config, store *feedback.Store, cal *calibration.Calibrator) calibration.RunFunc {
	return func(ctx context.Context, window time.Duration) (calibration.Report, error) {
		until := time.Now().UTC()
		since := until.Add(-window)
		metrics, records, err := evaluateWindow(ctx, cfg, store, since, until)
		if err != nil {
			return calibration.Report{}, err
		}
		return cal.Run(ctx, metrics, records)
	}
}
