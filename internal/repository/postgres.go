package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

// PostgresStore stores records in a pgvector table. Distances are computed by the database
// and converted to the shared metric conventions.
type PostgresStore struct {
	db        *pgxpool.Pool
	dimension int
}

// NewPostgresStore creates a store on a pool created with database.WithVectorTypes.
func NewPostgresStore(db *pgxpool.Pool, dimension int) *PostgresStore {
	return &PostgresStore{db: db, dimension: dimension}
}

// EnsureSchema creates the embedding_records table and its created_at index.
func (r *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS embedding_records (
			id         TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			text       TEXT NOT NULL DEFAULT '',
			image_url  TEXT NOT NULL DEFAULT '',
			video_url  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`, r.dimension))
	if err != nil {
		return mapPgError("create embedding_records", err)
	}

	_, err = r.db.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS embedding_records_created_at_idx ON embedding_records (created_at DESC, id)`)
	if err != nil {
		return mapPgError("create created_at index", err)
	}

	return nil
}

// mapPgError marks connection-level failures as StoreUnavailable; SQL errors stay plain.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P is operator intervention (e.g. shutdown).
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, fmt.Errorf("%s: %w", op, err))
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, fmt.Errorf("%s: %w", op, err))
}

const insertRecordSQL = `
	INSERT INTO embedding_records (id, embedding, text, image_url, video_url, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		embedding = EXCLUDED.embedding, text = EXCLUDED.text, image_url = EXCLUDED.image_url,
		video_url = EXCLUDED.video_url, created_at = EXCLUDED.created_at`

// Insert stores rec, replacing an existing row with the same id.
func (r *PostgresStore) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	if err := validateRecord(rec, r.dimension); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, insertRecordSQL,
		rec.ID, pgvector.NewVector(rec.Vector), rec.Text, rec.ImageURL, rec.VideoURL, rec.CreatedAt)
	if err != nil {
		return mapPgError("insert embedding record", err)
	}

	return nil
}

// InsertBatch writes all records in one transaction.
func (r *PostgresStore) InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := validateRecord(rec, r.dimension); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertRecordSQL,
			rec.ID, pgvector.NewVector(rec.Vector), rec.Text, rec.ImageURL, rec.VideoURL, rec.CreatedAt)
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return mapPgError("insert embedding batch", err)
	}

	return nil
}

const selectColumns = `id, embedding, text, image_url, video_url, created_at`

func scanRecord(row pgx.Row, extra ...any) (models.EmbeddingRecord, error) {
	var (
		rec models.EmbeddingRecord
		vec pgvector.Vector
	)

	dest := append([]any{&rec.ID, &vec, &rec.Text, &rec.ImageURL, &rec.VideoURL, &rec.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return rec, err
	}

	rec.Vector = vec.Slice()
	rec.CreatedAt = rec.CreatedAt.UTC()

	return rec, nil
}

func collectRecords(rows pgx.Rows, op string) ([]models.EmbeddingRecord, error) {
	defer rows.Close()

	out := []models.EmbeddingRecord{}

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, mapPgError(op, err)
	}

	return out, nil
}

// GetByID returns the record or NotFound.
func (r *PostgresStore) GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM embedding_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}

		return nil, mapPgError("get embedding record", err)
	}

	return &rec, nil
}

// ListRecent returns a page ordered by created_at descending.
func (r *PostgresStore) ListRecent(ctx context.Context, limit, offset int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+selectColumns+` FROM embedding_records
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapPgError("list embedding records", err)
	}

	return collectRecords(rows, "list embedding records")
}

// Count returns the number of rows.
func (r *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM embedding_records`).Scan(&n); err != nil {
		return 0, mapPgError("count embedding records", err)
	}

	return n, nil
}

// SampleRandom reads every id, shuffles them, and fetches the chosen rows.
func (r *PostgresStore) SampleRandom(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, 0); err != nil {
		return nil, err
	}

	ids, err := r.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	chosen := sampleIDs(ids, limit)
	if len(chosen) == 0 {
		return []models.EmbeddingRecord{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM embedding_records WHERE id = ANY($1)`, chosen)
	if err != nil {
		return nil, mapPgError("sample embedding records", err)
	}

	fetched, err := collectRecords(rows, "sample embedding records")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.EmbeddingRecord, len(fetched))
	for _, rec := range fetched {
		byID[rec.ID] = rec
	}

	// Keep the shuffled order; rows deleted between the two reads are dropped.
	out := make([]models.EmbeddingRecord, 0, len(chosen))

	for _, id := range chosen {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

// distanceSQL returns the distance expression (in the shared convention) and the ORDER BY
// expression that lets pgvector use an index.
func distanceSQL(m models.Metric) (distance, order string) {
	switch m {
	case models.MetricL2:
		return "(embedding <-> $1) ^ 2", "embedding <-> $1"
	case models.MetricDot:
		// <#> is the negative inner product.
		return "1 + (embedding <#> $1)", "embedding <#> $1"
	default:
		return "embedding <=> $1", "embedding <=> $1"
	}
}

// NearestNeighbors orders by the metric's pgvector operator.
func (r *PostgresStore) NearestNeighbors(ctx context.Context, q models.NearestQuery) ([]models.SearchResult, error) {
	if err := validateQuery(q, r.dimension); err != nil {
		return nil, err
	}

	distance, order := distanceSQL(q.Metric)

	//nolint:gosec // distance and order come from a fixed switch, not user input
	sql := fmt.Sprintf(`
		SELECT %s, %s AS distance FROM embedding_records
		WHERE ($2 = '' OR id <> $2) AND ($3::float8 IS NULL OR %s <= $3)
		ORDER BY %s, id
		LIMIT $4`, selectColumns, distance, distance, order)

	rows, err := r.db.Query(ctx, sql, pgvector.NewVector(q.Vector), q.ExcludeID, q.MaxDistance, q.Limit)
	if err != nil {
		return nil, mapPgError("nearest embedding records", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}

	for rows.Next() {
		var d float64

		rec, err := scanRecord(rows, &d)
		if err != nil {
			return nil, fmt.Errorf("scan nearest embedding record: %w", err)
		}

		results = append(results, models.SearchResult{EmbeddingRecord: rec, Distance: d, Metric: q.Metric})
	}

	if err := rows.Err(); err != nil {
		return nil, mapPgError("nearest embedding records", err)
	}

	return results, nil
}

// Delete removes id. Missing ids are not an error.
func (r *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM embedding_records WHERE id = $1`, id); err != nil {
		return mapPgError("delete embedding record", err)
	}

	return nil
}

// ListIDs returns every id.
func (r *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM embedding_records`)
	if err != nil {
		return nil, mapPgError("list embedding ids", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapPgError("list embedding ids", err)
	}

	return ids, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *PostgresStore) Close() error {
	return nil
}
