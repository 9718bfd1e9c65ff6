// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreLanceDB  = "lancedb"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
	StoreMemory   = "memory"
)

// Embedding providers.
const (
	ProviderFal    = "fal"
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// Object stores for uploads.
const (
	ObjectStoreS3    = "s3"
	ObjectStoreMinIO = "minio"
)

// Validation errors returned by Load.
var (
	ErrAPIKeyRequired         = errors.New("API_KEY environment variable is required but not set")
	ErrInvalidStoreBackend    = errors.New("STORE_BACKEND must be one of: lancedb, postgres, bolt, memory")
	ErrInvalidProvider        = errors.New("EMBEDDING_PROVIDER must be one of: fal, openai, google")
	ErrInvalidObjectStore     = errors.New("OBJECT_STORE must be one of: s3, minio (or empty to disable uploads)")
	ErrMissingLanceDBSettings = errors.New("LANCEDB_URI and LANCEDB_API_KEY are required for the lancedb backend")
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required for the postgres backend")
	ErrMissingFalSettings     = errors.New("FAL_ENDPOINT is required for the fal provider")
	ErrInvalidMetric          = errors.New("DEFAULT_METRIC must be one of: l2, cosine, dot")
	ErrNonPositive            = errors.New("value must be a positive integer")
)

// Config holds all application configuration.
type Config struct {
	Port     string
	APIKey   string
	LogLevel string

	// Vector store
	StoreBackend        string
	LanceDBURI          string
	LanceDBAPIKey       string
	LanceDBRegion       string
	LanceDBHostOverride string
	LanceDBTable        string
	DatabaseURL         string
	BoltPath            string
	EmbeddingDimension  int
	DefaultMetric       string
	RecordCacheSize     int

	// Query embedding generator
	EmbeddingProvider       string
	EmbeddingModel          string
	EmbeddingProviderAPIKey string
	FalEndpoint             string
	FalKey                  string
	FalTimeout              time.Duration
	FalRetryMax             int

	// Background embedding jobs (River; enabled when DATABASE_URL is set)
	EmbeddingMaxConcurrent int
	EmbeddingMaxAttempts   int

	// Uploads
	ObjectStore      string
	S3Bucket         string
	S3Region         string
	S3PublicBaseURL  string
	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	MinIOPublicURL   string
	MaxRequestBodyMB int

	// Browse/search sessions
	SessionDebounce  time.Duration
	SessionPageSize  int
	SessionIncrement int
	SessionTTL       time.Duration
	SessionMax       int

	// Media metadata probing
	ProbeCacheSize int
	ProbeTimeout   time.Duration

	// Observability
	OtelMetricsExporter string
	OtelTracesExporter  string
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBool accepts anything strconv.ParseBool does.
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration parses Go duration strings such as "800ms" or "30m".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s: %w", name, ErrNonPositive)
	}

	return nil
}

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() {
	// Skip logging when absent (e.g. env from secrets/parameter store).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

// LoadStore reads and validates only the store and embedding settings (no API key needed).
func LoadStore() (*Config, error) {
	LoadDotEnv()

	cfg := LoadStoreSettings()
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
// API_KEY is required; backend-specific settings are required only for the selected backend.
func Load() (*Config, error) {
	LoadDotEnv()

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	cfg := LoadStoreSettings()
	cfg.Port = getEnv("PORT", "8080")
	cfg.APIKey = apiKey
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.ObjectStore = strings.ToLower(os.Getenv("OBJECT_STORE"))
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3PublicBaseURL = os.Getenv("S3_PUBLIC_BASE_URL")
	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinIOUseSSL = getEnvAsBool("MINIO_USE_SSL", true)
	cfg.MinIOPublicURL = os.Getenv("MINIO_PUBLIC_URL")
	cfg.MaxRequestBodyMB = getEnvAsInt("MAX_REQUEST_BODY_MB", 700)

	cfg.EmbeddingMaxConcurrent = getEnvAsInt("EMBEDDING_MAX_CONCURRENT", 3)
	cfg.EmbeddingMaxAttempts = getEnvAsInt("EMBEDDING_MAX_ATTEMPTS", 3)

	cfg.SessionDebounce = getEnvAsDuration("SESSION_DEBOUNCE", 800*time.Millisecond)
	cfg.SessionPageSize = getEnvAsInt("SESSION_PAGE_SIZE", 20)
	cfg.SessionIncrement = getEnvAsInt("SESSION_INCREMENT", 20)
	cfg.SessionTTL = getEnvAsDuration("SESSION_TTL", 30*time.Minute)
	cfg.SessionMax = getEnvAsInt("SESSION_MAX", 1000)

	cfg.ProbeCacheSize = getEnvAsInt("PROBE_CACHE_SIZE", 5000)
	cfg.ProbeTimeout = getEnvAsDuration("PROBE_TIMEOUT", 10*time.Second)

	cfg.OtelMetricsExporter = strings.ToLower(os.Getenv("OTEL_METRICS_EXPORTER"))
	cfg.OtelTracesExporter = strings.ToLower(os.Getenv("OTEL_TRACES_EXPORTER"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStoreSettings reads the store and embedding settings without validating them.
func LoadStoreSettings() *Config {
	return &Config{
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", StoreLanceDB)),
		LanceDBURI:          os.Getenv("LANCEDB_URI"),
		LanceDBAPIKey:       os.Getenv("LANCEDB_API_KEY"),
		LanceDBRegion:       getEnv("LANCEDB_REGION", "us-east-1"),
		LanceDBHostOverride: os.Getenv("LANCEDB_HOST_OVERRIDE"),
		LanceDBTable:        getEnv("LANCEDB_TABLE", "embeddings"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		BoltPath:            getEnv("BOLT_PATH", "gallery.db"),
		EmbeddingDimension:  getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		DefaultMetric:       strings.ToLower(getEnv("DEFAULT_METRIC", "cosine")),
		RecordCacheSize:     getEnvAsInt("RECORD_CACHE_SIZE", 2000),

		EmbeddingProvider:       strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderFal)),
		EmbeddingModel:          os.Getenv("EMBEDDING_MODEL"),
		EmbeddingProviderAPIKey: os.Getenv("EMBEDDING_PROVIDER_API_KEY"),
		FalEndpoint:             strings.TrimRight(os.Getenv("FAL_ENDPOINT"), "/"),
		FalKey:                  os.Getenv("FAL_KEY"),
		FalTimeout:              getEnvAsDuration("FAL_TIMEOUT", 300*time.Second),
		FalRetryMax:             getEnvAsInt("FAL_RETRY_MAX", 0),
	}
}

// ValidateStore checks the store and provider settings shared by the server and the ingest CLI.
func (c *Config) ValidateStore() error {
	switch c.StoreBackend {
	case StoreLanceDB:
		if c.LanceDBURI == "" || c.LanceDBAPIKey == "" {
			return ErrMissingLanceDBSettings
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case StoreBolt, StoreMemory:
	default:
		return ErrInvalidStoreBackend
	}

	switch c.EmbeddingProvider {
	case ProviderFal:
		if c.FalEndpoint == "" {
			return ErrMissingFalSettings
		}
	case ProviderOpenAI, ProviderGoogle:
	default:
		return ErrInvalidProvider
	}

	switch c.DefaultMetric {
	case "l2", "cosine", "dot":
	default:
		return ErrInvalidMetric
	}

	if c.FalRetryMax < 0 {
		return fmt.Errorf("FAL_RETRY_MAX must not be negative, got %d", c.FalRetryMax)
	}

	if err := positive("EMBEDDING_DIMENSION", c.EmbeddingDimension); err != nil {
		return err
	}

	return positive("RECORD_CACHE_SIZE", c.RecordCacheSize)
}

// Validate checks the full server configuration.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.ObjectStore {
	case "", ObjectStoreS3, ObjectStoreMinIO:
	default:
		return ErrInvalidObjectStore
	}

	checks := []struct {
		name  string
		value int
	}{
		{"EMBEDDING_MAX_CONCURRENT", c.EmbeddingMaxConcurrent},
		{"EMBEDDING_MAX_ATTEMPTS", c.EmbeddingMaxAttempts},
		{"SESSION_PAGE_SIZE", c.SessionPageSize},
		{"SESSION_INCREMENT", c.SessionIncrement},
		{"SESSION_MAX", c.SessionMax},
		{"PROBE_CACHE_SIZE", c.ProbeCacheSize},
		{"MAX_REQUEST_BODY_MB", c.MaxRequestBodyMB},
	}

	for _, chk := range checks {
		if err := positive(chk.name, chk.value); err != nil {
			return err
		}
	}

	return nil
}

// MaxRequestBodyBytes returns the request body limit in bytes.
func (c *Config) MaxRequestBodyBytes() int64 {
	return int64(c.MaxRequestBodyMB) * 1024 * 1024
}

// JobsEnabled reports whether background embedding jobs can run (they need Postgres).
func (c *Config) JobsEnabled() bool {
	return c.DatabaseURL != ""
}
