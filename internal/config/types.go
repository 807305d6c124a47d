package config

import "time"

// EmbeddingProvider identifies how sample-library inputs are embedded for
// the retrieval mirror.
type EmbeddingProvider string

const (
	ProviderOpenAI EmbeddingProvider = "openai"
	ProviderOllama EmbeddingProvider = "ollama"
	// ProviderLocal uses a deterministic offline embedder. Retrieval quality
	// is poor but the mirror stays functional without an API key.
	ProviderLocal EmbeddingProvider = "local"
)

// Config is the top-level intent-eval configuration, corresponding to .intent-eval.yml.
type Config struct {
	Server      ServerConfig      `yaml:"server" koanf:"server"`
	Collector   CollectorConfig   `yaml:"collector" koanf:"collector"`
	Evaluation  EvaluationConfig  `yaml:"evaluation" koanf:"evaluation"`
	Calibration CalibrationConfig `yaml:"calibration" koanf:"calibration"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" koanf:"embeddings"`
	Schedule    ScheduleConfig    `yaml:"schedule" koanf:"schedule"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port" koanf:"port"`
	DataDir  string `yaml:"data_dir" koanf:"data_dir"`
	AllowAll bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// CollectorConfig controls the feedback collector's cache and flush pipeline.
type CollectorConfig struct {
	// ExpiryHorizon is how long a record waits for feedback before it is
	// finalized as UNCERTAIN.
	ExpiryHorizon time.Duration `yaml:"expiry_horizon" koanf:"expiry_horizon"`
	// ExpiryPollInterval is how often the deadline heap is checked.
	ExpiryPollInterval time.Duration `yaml:"expiry_poll_interval" koanf:"expiry_poll_interval"`
	// FlushBatchSize is the number of finalized records that triggers a flush.
	FlushBatchSize int `yaml:"flush_batch_size" koanf:"flush_batch_size"`
	// FlushInterval flushes a non-empty pending batch even below the size threshold.
	FlushInterval time.Duration `yaml:"flush_interval" koanf:"flush_interval"`
	// QueueSize bounds the finalize handoff channel. A full queue surfaces
	// as a backpressure error to producers.
	QueueSize int `yaml:"queue_size" koanf:"queue_size"`
}

// EvaluationConfig controls metric computation.
type EvaluationConfig struct {
	// Intents is the full known intent vocabulary. Per-intent metrics are
	// reported for every entry even with zero support.
	Intents []string `yaml:"intents" koanf:"intents"`
	// LowConfidenceThreshold is the confidence below which a record counts
	// toward the low-confidence total.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" koanf:"low_confidence_threshold"`
	// OODRate is an externally measured out-of-distribution detection rate.
	// Negative means "not measured" and disables OOD recommendations.
	OODRate float64 `yaml:"ood_rate" koanf:"ood_rate"`
}

// CalibrationConfig controls alert thresholds and sample-library mutation.
type CalibrationConfig struct {
	AccuracyFloor        float64 `yaml:"accuracy_floor" koanf:"accuracy_floor"`
	F1WarnThreshold      float64 `yaml:"f1_warn_threshold" koanf:"f1_warn_threshold"`
	F1RecommendThreshold float64 `yaml:"f1_recommend_threshold" koanf:"f1_recommend_threshold"`
	ECEMax               float64 `yaml:"ece_max" koanf:"ece_max"`
	OODRateFloor         float64 `yaml:"ood_rate_floor" koanf:"ood_rate_floor"`
	// QualityScoreMin is the minimum heuristic score for a record to become
	// a library-insertion candidate.
	QualityScoreMin int `yaml:"quality_score_min" koanf:"quality_score_min"`
	// LibraryMaxSize caps the sample library.
	LibraryMaxSize int `yaml:"library_max_size" koanf:"library_max_size"`
	// LibraryPath is the JSON file holding the sample library.
	LibraryPath string `yaml:"library_path" koanf:"library_path"`
	// BackupDir receives timestamped library backups before every mutation.
	BackupDir string `yaml:"backup_dir" koanf:"backup_dir"`
}

// EmbeddingsConfig selects the embedder for the library's retrieval mirror.
type EmbeddingsConfig struct {
	Provider EmbeddingProvider `yaml:"provider" koanf:"provider"`
	Model    string            `yaml:"model" koanf:"model"`
	BaseURL  string            `yaml:"base_url" koanf:"base_url"`
}

// ScheduleConfig wires periodic evaluation and calibration runs.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression. Empty disables scheduling.
	Cron string `yaml:"cron" koanf:"cron"`
	// Window is how far back each scheduled run reads closed records.
	Window time.Duration `yaml:"window" koanf:"window"`
	// WebhookURL receives calibration alerts. Empty disables delivery.
	WebhookURL string `yaml:"webhook_url" koanf:"webhook_url"`
}
