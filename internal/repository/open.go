package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/pkg/database"
)

// OpenParams selects and wraps a backend.
type OpenParams struct {
	Config *config.Config
	// RetryMax applies to the lancedb transport; the ingest CLI raises it.
	RetryMax int
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Open creates the configured backend, ensures its schema, and wraps it with metrics and the
// record cache. The returned Store owns any connection it opened.
func Open(ctx context.Context, p OpenParams) (Store, error) {
	cfg := p.Config

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)

	switch cfg.StoreBackend {
	case config.StoreLanceDB:
		store, err = openLanceDB(ctx, cfg, p.RetryMax, logger)
	case config.StorePostgres:
		store, err = openPostgres(ctx, cfg)
	case config.StoreBolt:
		store, err = NewBoltStore(cfg.BoltPath, cfg.EmbeddingDimension)
	case config.StoreMemory:
		store = NewMemoryStore(cfg.EmbeddingDimension)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreBackend, cfg.StoreBackend)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("embedding store ready", "backend", cfg.StoreBackend, "dimension", cfg.EmbeddingDimension)

	var (
		storeMetrics observability.StoreMetrics
		cacheMetrics observability.CacheMetrics
	)

	if p.Metrics != nil {
		storeMetrics = p.Metrics.Store
		cacheMetrics = p.Metrics.Cache
	}

	cached, err := NewCached(NewInstrumented(store, cfg.StoreBackend, storeMetrics), cfg.RecordCacheSize, cacheMetrics)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("create record cache: %w", err)
	}

	return cached, nil
}

func openLanceDB(ctx context.Context, cfg *config.Config, retryMax int, logger *slog.Logger) (Store, error) {
	store, err := NewLanceDBStore(LanceDBOptions{
		URI:          cfg.LanceDBURI,
		APIKey:       cfg.LanceDBAPIKey,
		Region:       cfg.LanceDBRegion,
		HostOverride: cfg.LanceDBHostOverride,
		Table:        cfg.LanceDBTable,
		Dimension:    cfg.EmbeddingDimension,
		RetryMax:     retryMax,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	if err := store.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure lancedb table: %w", err)
	}

	return store, nil
}

// pooledStore closes the pool it was opened with.
type pooledStore struct {
	*PostgresStore

	close func()
}

func (s *pooledStore) Close() error {
	s.close()

	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (Store, error) {
	if err := database.EnsureVectorExtension(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("ensure pgvector: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithVectorTypes())
	if err != nil {
		return nil, err
	}

	store := NewPostgresStore(pool, cfg.EmbeddingDimension)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return &pooledStore{PostgresStore: store, close: pool.Close}, nil
}
