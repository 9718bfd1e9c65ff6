package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

const (
	contentTypeArrowStream = "application/vnd.apache.arrow.stream"
	contentTypeJSON        = "application/json"

	defaultLanceRegion    = "us-east-1"
	defaultLanceTable     = "embeddings"
	defaultLanceTimeout   = 30 * time.Second
	defaultLanceScanLimit = 100_000
)

// ErrInvalidLanceURI is returned when the database URI is not of the form db://name.
var ErrInvalidLanceURI = errors.New("lancedb uri must look like db://<database>")

// LanceDBOptions configures the LanceDB Cloud store.
type LanceDBOptions struct {
	// URI is the database URI, e.g. db://gallery-x1y2z3.
	URI    string
	APIKey string
	// Region defaults to us-east-1.
	Region string
	// HostOverride replaces https://{db}.{region}.api.lancedb.com (self-hosted or tests).
	HostOverride string
	// Table defaults to "embeddings".
	Table     string
	Dimension int
	// ScanLimit bounds full-table reads (listing, sampling, id listing).
	ScanLimit int
	// RetryMax is the number of retries for connection errors and 5xx (default: none).
	RetryMax int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// LanceDBStore talks to the LanceDB Cloud REST API. Writes are Arrow IPC streams,
// queries are JSON with Arrow IPC responses.
type LanceDBStore struct {
	baseURL    string
	apiKey     string
	table      string
	dimension  int
	scanLimit  int
	schema     *arrow.Schema
	httpClient *retryablehttp.Client
	scans      singleflight.Group
	timeout    time.Duration
	logger     *slog.Logger
}

// NewLanceDBStore creates a client for the configured table. Call EnsureTable before use.
func NewLanceDBStore(opts LanceDBOptions) (*LanceDBStore, error) {
	baseURL := strings.TrimSuffix(opts.HostOverride, "/")
	if baseURL == "" {
		name, ok := strings.CutPrefix(opts.URI, "db://")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLanceURI, opts.URI)
		}

		region := opts.Region
		if region == "" {
			region = defaultLanceRegion
		}

		baseURL = fmt.Sprintf("https://%s.%s.api.lancedb.com", name, region)
	}

	if opts.Table == "" {
		opts.Table = defaultLanceTable
	}

	if opts.Timeout == 0 {
		opts.Timeout = defaultLanceTimeout
	}

	if opts.ScanLimit <= 0 {
		opts.ScanLimit = defaultLanceScanLimit
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	// Return the last response instead of a generic "giving up" error so status codes can be mapped.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &LanceDBStore{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		table:      opts.Table,
		dimension:  opts.Dimension,
		scanLimit:  opts.ScanLimit,
		schema:     lanceSchema(opts.Dimension),
		httpClient: retryClient,
		timeout:    opts.Timeout,
		logger:     logger,
	}, nil
}

func (s *LanceDBStore) tableURL(action string) string {
	return fmt.Sprintf("%s/v1/table/%s/%s/", s.baseURL, url.PathEscape(s.table), action)
}

// do sends one request and returns the response body for 2xx. Connection errors, 429, and 5xx
// are StoreUnavailable; 404 is returned as NotFound for the table.
func (s *LanceDBStore) do(ctx context.Context, action, contentType string, body []byte, query url.Values) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "lancedb."+action,
		attribute.String("db.system", "lancedb"),
		attribute.String("db.collection.name", s.table),
	)

	out, err := s.send(ctx, action, contentType, body, query)
	observability.EndSpan(span, err)

	return out, err
}

func (s *LanceDBStore) send(ctx context.Context, action, contentType string, body []byte, query url.Values) ([]byte, error) {
	reqURL := s.tableURL(action)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("lancedb %s: create request: %w", action, err)
	}

	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, fmt.Errorf("lancedb %s: %w", action, err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, fmt.Errorf("lancedb %s: read body: %w", action, err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, galleryerrors.NewNotFoundError("table", s.table)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceStore,
			fmt.Errorf("lancedb %s: status %d: %s", action, resp.StatusCode, truncate(respBody)))
	default:
		return nil, fmt.Errorf("lancedb %s: status %d: %s", action, resp.StatusCode, truncate(respBody))
	}
}

func truncate(b []byte) string {
	const maxErrorBody = 512
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}

	return string(b)
}

// EnsureTable creates the table when describe reports it missing.
func (s *LanceDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.do(ctx, "describe", contentTypeJSON, []byte("{}"), nil)
	if err == nil {
		return nil
	}

	if !errors.Is(err, galleryerrors.ErrNotFound) {
		return err
	}

	var buf bytes.Buffer
	if err := encodeArrowStream(&buf, s.schema, nil); err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	if _, err := s.do(ctx, "create", contentTypeArrowStream, buf.Bytes(), nil); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	s.logger.Info("created lancedb table", "table", s.table, "dimension", s.dimension)

	return nil
}

// Insert upserts rec.
func (s *LanceDBStore) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	return s.InsertBatch(ctx, []models.EmbeddingRecord{rec})
}

// InsertBatch merges all records in one Arrow batch keyed on id: an existing row with the same
// id is replaced. Within the batch the last record for an id wins.
func (s *LanceDBStore) InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error {
	if len(recs) == 0 {
		return nil
	}

	for _, rec := range recs {
		if err := validateRecord(rec, s.dimension); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := encodeArrowStream(&buf, s.schema, lastByID(recs)); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	_, err := s.do(ctx, "merge_insert", contentTypeArrowStream, buf.Bytes(), url.Values{
		"on":                          {colID},
		"when_matched_update_all":     {"true"},
		"when_not_matched_insert_all": {"true"},
	})

	return err
}

// lastByID drops earlier duplicates of an id, keeping input order otherwise.
func lastByID(recs []models.EmbeddingRecord) []models.EmbeddingRecord {
	last := make(map[string]int, len(recs))
	for i, rec := range recs {
		last[rec.ID] = i
	}

	if len(last) == len(recs) {
		return recs
	}

	out := make([]models.EmbeddingRecord, 0, len(last))
	for i, rec := range recs {
		if last[rec.ID] == i {
			out = append(out, rec)
		}
	}

	return out
}

// queryRequest is the body of /query/.
type queryRequest struct {
	Vector       []float32 `json:"vector,omitempty"`
	K            int       `json:"k"`
	DistanceType string    `json:"distance_type,omitempty"`
	Filter       string    `json:"filter,omitempty"`
	Prefilter    bool      `json:"prefilter,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
}

var (
	allColumns = []string{colID, colEmbedding, colText, colImageURL, colVideoURL, colCreatedAt}
	idColumns  = []string{colID}
)

func (s *LanceDBStore) query(ctx context.Context, q queryRequest) ([]decodedRow, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	resp, err := s.do(ctx, "query", contentTypeJSON, body, nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeArrow(resp)
	if err != nil {
		return nil, fmt.Errorf("decode lancedb response: %w", err)
	}

	return rows, nil
}

// sqlString quotes s as a SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// GetByID returns the record or NotFound.
func (s *LanceDBStore) GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	rows, err := s.query(ctx, queryRequest{
		K:       1,
		Filter:  colID + " = " + sqlString(id),
		Columns: allColumns,
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, notFound(id)
	}

	rec := rows[0].Record

	return &rec, nil
}

// scanAll reads the whole table. Concurrent scans share one request, which is detached from
// the caller that started it and bounded by the store timeout instead.
func (s *LanceDBStore) scanAll(ctx context.Context) ([]models.EmbeddingRecord, error) {
	ch := s.scans.DoChan("all", func() (any, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		rows, err := s.query(scanCtx, queryRequest{
			K:       s.scanLimit,
			Filter:  colID + " IS NOT NULL",
			Columns: allColumns,
		})
		if err != nil {
			return nil, err
		}

		if len(rows) == s.scanLimit {
			s.logger.Warn("lancedb scan hit the row limit; listing and sampling see a truncated table",
				"table", s.table, "scan_limit", s.scanLimit)
		}

		recs := make([]models.EmbeddingRecord, len(rows))
		for i, row := range rows {
			recs[i] = row.Record
		}

		return recs, nil
	})

	var res singleflight.Result

	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("lancedb scan: %w", ctx.Err())
	}

	if res.Err != nil {
		return nil, res.Err
	}

	shared := res.Val.([]models.EmbeddingRecord)

	// Callers shuffle or sort in place.
	out := make([]models.EmbeddingRecord, len(shared))
	copy(out, shared)

	return out, nil
}

// ListRecent reads the table and sorts client side; the REST API has no ORDER BY.
func (s *LanceDBStore) ListRecent(ctx context.Context, limit, offset int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	sortRecent(all)

	return page(all, limit, offset), nil
}

// Count calls count_rows.
func (s *LanceDBStore) Count(ctx context.Context) (int64, error) {
	resp, err := s.do(ctx, "count_rows", contentTypeJSON, []byte("{}"), nil)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := json.Unmarshal(bytes.TrimSpace(resp), &n); err != nil {
		return 0, fmt.Errorf("decode count_rows: %w", err)
	}

	return n, nil
}

// SampleRandom reads the table and returns a uniform sample without replacement.
func (s *LanceDBStore) SampleRandom(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, 0); err != nil {
		return nil, err
	}

	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	return sampleWithoutReplacement(all, limit, nil), nil
}

// NearestNeighbors runs a vector query. The threshold is applied to the returned _distance.
func (s *LanceDBStore) NearestNeighbors(ctx context.Context, q models.NearestQuery) ([]models.SearchResult, error) {
	if err := validateQuery(q, s.dimension); err != nil {
		return nil, err
	}

	if q.Limit == 0 {
		return []models.SearchResult{}, nil
	}

	req := queryRequest{
		Vector:       q.Vector,
		K:            q.Limit,
		DistanceType: string(q.Metric),
		Columns:      allColumns,
	}
	if q.ExcludeID != "" {
		req.Filter = colID + " != " + sqlString(q.ExcludeID)
		req.Prefilter = true
	}

	rows, err := s.query(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(rows))

	for _, row := range rows {
		if row.Distance == nil {
			return nil, fmt.Errorf("lancedb query response has no %s column", colDistance)
		}

		if q.MaxDistance != nil && *row.Distance > *q.MaxDistance {
			continue
		}

		results = append(results, models.SearchResult{EmbeddingRecord: row.Record, Distance: *row.Distance, Metric: q.Metric})
	}

	return results, nil
}

type deleteRequest struct {
	Predicate string `json:"predicate"`
}

// Delete removes id. Missing ids are not an error.
func (s *LanceDBStore) Delete(ctx context.Context, id string) error {
	body, err := json.Marshal(deleteRequest{Predicate: colID + " = " + sqlString(id)})
	if err != nil {
		return fmt.Errorf("marshal delete: %w", err)
	}

	_, err = s.do(ctx, "delete", contentTypeJSON, body, nil)

	return err
}

// ListIDs reads only the id column.
func (s *LanceDBStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, queryRequest{
		K:       s.scanLimit,
		Filter:  colID + " IS NOT NULL",
		Columns: idColumns,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.Record.ID
	}

	return ids, nil
}

// Close releases idle connections.
func (s *LanceDBStore) Close() error {
	s.httpClient.HTTPClient.CloseIdleConnections()

	return nil
}
