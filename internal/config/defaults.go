package config

import "time"

// DefaultIntents is a starter intent vocabulary. Deployments replace this
// with the intent codes their classifier actually serves.
var DefaultIntents = []string{
	"10", "11", "20", "21", "30", "31", "40", "90",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			DataDir: "data",
		},
		Collector: CollectorConfig{
			ExpiryHorizon:      24 * time.Hour,
			ExpiryPollInterval: time.Second,
			FlushBatchSize:     100,
			FlushInterval:      60 * time.Second,
			QueueSize:          1024,
		},
		Evaluation: EvaluationConfig{
			Intents:                DefaultIntents,
			LowConfidenceThreshold: 0.7,
			OODRate:                -1,
		},
		Calibration: CalibrationConfig{
			AccuracyFloor:        0.85,
			F1WarnThreshold:      0.70,
			F1RecommendThreshold: 0.80,
			ECEMax:               0.15,
			OODRateFloor:         0.90,
			QualityScoreMin:      4,
			LibraryMaxSize:       500,
			LibraryPath:          "data/sample_library.json",
			BackupDir:            "data/backups",
		},
		Embeddings: EmbeddingsConfig{
			Provider: ProviderLocal,
			Model:    "text-embedding-3-small",
		},
		Schedule: ScheduleConfig{
			Cron:   "",
			Window: 24 * time.Hour,
		},
	}
}
