package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (INTENTEVAL_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: INTENTEVAL_SERVER_PORT -> server.port, etc.
	if err := k.Load(env.Provider("INTENTEVAL_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "INTENTEVAL_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized embedding provider values.
var validProviders = map[EmbeddingProvider]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderLocal:  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Collector.ExpiryHorizon <= 0 {
		return fmt.Errorf("collector.expiry_horizon must be positive")
	}
	if c.Collector.FlushBatchSize <= 0 {
		return fmt.Errorf("collector.flush_batch_size must be positive")
	}
	if c.Collector.FlushInterval <= 0 {
		return fmt.Errorf("collector.flush_interval must be positive")
	}
	if c.Collector.QueueSize <= 0 {
		return fmt.Errorf("collector.queue_size must be positive")
	}

	if len(c.Evaluation.Intents) == 0 {
		return fmt.Errorf("evaluation.intents must not be empty")
	}
	if c.Evaluation.LowConfidenceThreshold < 0 || c.Evaluation.LowConfidenceThreshold > 1 {
		return fmt.Errorf("evaluation.low_confidence_threshold must be in [0,1]")
	}

	for name, v := range map[string]float64{
		"calibration.accuracy_floor":         c.Calibration.AccuracyFloor,
		"calibration.f1_warn_threshold":      c.Calibration.F1WarnThreshold,
		"calibration.f1_recommend_threshold": c.Calibration.F1RecommendThreshold,
		"calibration.ece_max":                c.Calibration.ECEMax,
		"calibration.ood_rate_floor":         c.Calibration.OODRateFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Calibration.LibraryMaxSize <= 0 {
		return fmt.Errorf("calibration.library_max_size must be positive")
	}
	if c.Calibration.LibraryPath == "" {
		return fmt.Errorf("calibration.library_path is required")
	}
	if c.Calibration.BackupDir == "" {
		return fmt.Errorf("calibration.backup_dir is required")
	}

	if c.Embeddings.Provider != "" && !validProviders[c.Embeddings.Provider] {
		return fmt.Errorf("invalid embeddings.provider %q: must be one of openai, ollama, local", c.Embeddings.Provider)
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider EmbeddingProvider) string {
	if provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return ""
}
