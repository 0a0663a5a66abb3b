package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds every recognised option named in the external interfaces
// table, plus the connection strings the collaborators need to dial out.
type Config struct {
	// Event Ingestor
	EventPollInterval time.Duration
	EventBatchLimit   int
	AutoStartListener bool

	// Intent Store / coordinator
	RecordTTL         time.Duration
	FlushOnEmptyPassed bool
	PipelineConcurrency int

	// Per-operation timeouts
	SimulatorTimeout time.Duration
	FetchTimeout     time.Duration
	StoreTimeout     time.Duration
	EnqueueTimeout   time.Duration

	// Collaborator endpoints
	DatabaseURL     string
	ChainRPCURL     string
	ChainPackageAddr string
	BlobStoreURL    string
	SimulatorURL    string

	// Backfill chunk size used by the Event Ingestor's startup catch-up.
	BackfillChunk int

	// Operational surface
	HTTPAddr    string
	MetricsAddr string
}

// LoadConfig loads configuration from the environment, applying the
// defaults named in the Configuration table.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		EventPollInterval:   msEnvOrDefault("EVENT_POLL_INTERVAL_MS", 2000),
		EventBatchLimit:     intEnvOrDefault("EVENT_BATCH_LIMIT", 50),
		AutoStartListener:   boolEnvOrDefault("AUTO_START_LISTENER", true),
		RecordTTL:           msEnvOrDefault("RECORD_TTL_MS", 3_600_000),
		FlushOnEmptyPassed:  boolEnvOrDefault("FLUSH_ON_EMPTY_PASSED", false),
		PipelineConcurrency: intEnvOrDefault("PIPELINE_CONCURRENCY", 16),
		SimulatorTimeout:    msEnvOrDefault("SIMULATOR_TIMEOUT_MS", 10_000),
		FetchTimeout:        msEnvOrDefault("FETCH_TIMEOUT_MS", 5_000),
		StoreTimeout:        msEnvOrDefault("STORE_TIMEOUT_MS", 1_000),
		EnqueueTimeout:      msEnvOrDefault("ENQUEUE_TIMEOUT_MS", 2_000),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", "postgresql://localhost:5432/preranking?sslmode=disable"),
		ChainRPCURL:         getEnvOrDefault("CHAIN_RPC_URL", "http://localhost:8545"),
		ChainPackageAddr:    getEnvOrDefault("CHAIN_PACKAGE_ADDR", ""),
		BlobStoreURL:        getEnvOrDefault("BLOB_STORE_URL", "http://localhost:9090"),
		SimulatorURL:        getEnvOrDefault("SIMULATOR_URL", "http://localhost:9091"),
		HTTPAddr:            getEnvOrDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:         getEnvOrDefault("METRICS_ADDR", ""),
		BackfillChunk:       intEnvOrDefault("BACKFILL_CHUNK", 5000),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.ChainPackageAddr == "" {
		return nil, errors.New("CHAIN_PACKAGE_ADDR must not be empty")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func msEnvOrDefault(key string, defaultMS int) time.Duration {
	return time.Duration(intEnvOrDefault(key, defaultMS)) * time.Millisecond
}

func boolEnvOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
