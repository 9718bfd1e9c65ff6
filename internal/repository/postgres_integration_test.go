//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/pkg/database"
)

// startPgvector runs a disposable pgvector container and returns a pool with vector types registered.
func startPgvector(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("gallery_test"),
		tcpostgres.WithUsername("gallery"),
		tcpostgres.WithPassword("gallery"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.EnsureVectorExtension(ctx, dsn))

	pool, err := database.NewPostgresPool(ctx, dsn, database.WithVectorTypes())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := startPgvector(t)

	store := NewPostgresStore(pool, testDim)
	require.NoError(t, store.EnsureSchema(context.Background()))

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := pool.Exec(ctx, "TRUNCATE embedding_records")
		require.NoError(t, err)

		return store
	})
}

func TestPostgresStore_ClosedPoolIsUnavailable(t *testing.T) {
	pool := startPgvector(t)

	store := NewPostgresStore(pool, testDim)
	require.NoError(t, store.EnsureSchema(context.Background()))

	pool.Close()

	_, err := store.Count(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, galleryerrors.ErrStoreUnavailable)
}
