package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT_OK", "200")
	t.Setenv("TEST_INT_BAD", "abc")

	assert.Equal(t, 200, getEnvAsInt("TEST_INT_OK", 100))
	assert.Equal(t, 100, getEnvAsInt("TEST_INT_BAD", 100))
	assert.Equal(t, 100, getEnvAsInt("TEST_INT_MISSING", 100))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DUR_OK", "250ms")
	t.Setenv("TEST_DUR_BAD", "soon")

	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("TEST_DUR_OK", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DUR_BAD", time.Second))
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL_FALSE", "false")

	assert.False(t, getEnvAsBool("TEST_BOOL_FALSE", true))
	assert.True(t, getEnvAsBool("TEST_BOOL_MISSING", true))
}

// setMinimalEnv sets the variables required for a memory-backed server with the fal provider.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_KEY", "secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("FAL_ENDPOINT", "https://fal.run/acme/embed-app/")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setMinimalEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, StoreMemory, cfg.StoreBackend)
		assert.Equal(t, ProviderFal, cfg.EmbeddingProvider)
		assert.Equal(t, "https://fal.run/acme/embed-app", cfg.FalEndpoint, "trailing slash trimmed")
		assert.Equal(t, 1536, cfg.EmbeddingDimension)
		assert.Equal(t, "cosine", cfg.DefaultMetric)
		assert.Equal(t, 300*time.Second, cfg.FalTimeout)
		assert.Equal(t, 0, cfg.FalRetryMax)
		assert.Equal(t, 800*time.Millisecond, cfg.SessionDebounce)
		assert.Equal(t, "embeddings", cfg.LanceDBTable)
		assert.Equal(t, "us-east-1", cfg.LanceDBRegion)
		assert.False(t, cfg.JobsEnabled())
	})

	t.Run("missing API_KEY", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("API_KEY", "")

		_, err := Load()
		assert.ErrorIs(t, err, ErrAPIKeyRequired)
	})

	t.Run("lancedb requires uri and key", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("STORE_BACKEND", "lancedb")
		t.Setenv("LANCEDB_URI", "db://gallery-x1")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingLanceDBSettings)
	})

	t.Run("postgres requires DATABASE_URL", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("STORE_BACKEND", "postgres")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingDatabaseURL)
	})

	t.Run("unknown backend", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("STORE_BACKEND", "sqlite")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidStoreBackend)
	})

	t.Run("fal requires endpoint", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("FAL_ENDPOINT", "")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingFalSettings)
	})

	t.Run("openai provider needs no fal endpoint", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("FAL_ENDPOINT", "")
		t.Setenv("EMBEDDING_PROVIDER", "OpenAI")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, cfg.EmbeddingProvider)
	})

	t.Run("invalid object store", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("OBJECT_STORE", "gcs")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidObjectStore)
	})

	t.Run("invalid metric", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("DEFAULT_METRIC", "hamming")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidMetric)
	})

	t.Run("non-positive page size", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("SESSION_PAGE_SIZE", "0")

		_, err := Load()
		assert.ErrorIs(t, err, ErrNonPositive)
	})

	t.Run("jobs enabled with DATABASE_URL", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/gallery")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.JobsEnabled())
		assert.Equal(t, int64(700*1024*1024), cfg.MaxRequestBodyBytes())
	})
}

func TestLoadStore(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("STORE_BACKEND", "bolt")
	t.Setenv("EMBEDDING_PROVIDER", "google")

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, StoreBolt, cfg.StoreBackend)
	assert.Equal(t, "gallery.db", cfg.BoltPath)
}
