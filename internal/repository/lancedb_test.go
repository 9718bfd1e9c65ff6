package repository

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/pkg/embeddings"
)

// fakeLance emulates the subset of the LanceDB Cloud REST API used by LanceDBStore.
type fakeLance struct {
	t         *testing.T
	dimension int

	mu       sync.Mutex
	created  bool
	rows     []models.EmbeddingRecord
	queries  []queryRequest
	failNext int

	// When holdScan is set, queries signal scanStarted and wait for holdScan to close.
	holdScan    chan struct{}
	scanStarted chan struct{}
}

func (f *fakeLance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != "test-key" {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	if f.holdScan != nil && strings.HasSuffix(r.URL.Path, "/query/") {
		select {
		case f.scanStarted <- struct{}{}:
		default:
		}

		<-f.holdScan
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	action := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/table/embeddings/"), "/")

	switch action {
	case "describe":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(`{"version":1}`))
	case "create":
		assert.Equal(f.t, contentTypeArrowStream, r.Header.Get("Content-Type"))

		rdr, err := ipc.NewReader(bytes.NewReader(body))
		require.NoError(f.t, err)
		assert.True(f.t, rdr.Schema().Equal(lanceSchema(f.dimension)))
		rdr.Release()

		f.created = true
	case "merge_insert":
		q := r.URL.Query()
		assert.Equal(f.t, colID, q.Get("on"))
		assert.Equal(f.t, "true", q.Get("when_matched_update_all"))
		assert.Equal(f.t, "true", q.Get("when_not_matched_insert_all"))

		rows, err := decodeArrow(body)
		require.NoError(f.t, err)

		for _, row := range rows {
			i := slices.IndexFunc(f.rows, func(rec models.EmbeddingRecord) bool { return rec.ID == row.Record.ID })
			if i >= 0 {
				f.rows[i] = row.Record
			} else {
				f.rows = append(f.rows, row.Record)
			}
		}
	case "query":
		var q queryRequest
		require.NoError(f.t, json.Unmarshal(body, &q))
		f.queries = append(f.queries, q)
		f.writeQuery(w, q)
	case "count_rows":
		_, _ = w.Write([]byte(strconv.Itoa(len(f.rows))))
	case "delete":
		var d deleteRequest
		require.NoError(f.t, json.Unmarshal(body, &d))
		f.rows = slices.DeleteFunc(f.rows, func(rec models.EmbeddingRecord) bool {
			return matches(d.Predicate, rec.ID)
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func matches(filter, id string) bool {
	switch {
	case filter == "" || filter == "id IS NOT NULL":
		return true
	case strings.HasPrefix(filter, "id != "):
		return sqlString(id) != strings.TrimPrefix(filter, "id != ")
	case strings.HasPrefix(filter, "id = "):
		return sqlString(id) == strings.TrimPrefix(filter, "id = ")
	default:
		return false
	}
}

type scored struct {
	rec      models.EmbeddingRecord
	distance float32
}

func (f *fakeLance) writeQuery(w http.ResponseWriter, q queryRequest) {
	var hits []scored

	for _, rec := range f.rows {
		if !matches(q.Filter, rec.ID) {
			continue
		}

		s := scored{rec: rec}

		if len(q.Vector) > 0 {
			dist, err := embeddings.ForMetric(models.Metric(q.DistanceType))
			require.NoError(f.t, err)

			s.distance = float32(dist(q.Vector, rec.Vector))
		}

		hits = append(hits, s)
	}

	if len(q.Vector) > 0 {
		slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(a.distance, b.distance) })
	}

	if len(hits) > q.K {
		hits = hits[:q.K]
	}

	schema := lanceSchema(f.dimension)
	if len(q.Vector) > 0 {
		schema = arrow.NewSchema(append(schema.Fields(), arrow.Field{Name: colDistance, Type: arrow.PrimitiveTypes.Float32}), nil)
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for _, h := range hits {
		b.Field(0).(*array.StringBuilder).Append(h.rec.ID)
		b.Field(1).(*array.FixedSizeListBuilder).Append(true)
		b.Field(1).(*array.FixedSizeListBuilder).ValueBuilder().(*array.Float32Builder).AppendValues(h.rec.Vector, nil)
		appendNullable(b.Field(2).(*array.StringBuilder), h.rec.Text)
		appendNullable(b.Field(3).(*array.StringBuilder), h.rec.ImageURL)
		appendNullable(b.Field(4).(*array.StringBuilder), h.rec.VideoURL)
		b.Field(5).(*array.Float64Builder).Append(unixSeconds(h.rec.CreatedAt))

		if len(q.Vector) > 0 {
			b.Field(6).(*array.Float32Builder).Append(h.distance)
		}
	}

	batch := b.NewRecord()
	defer batch.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema))
	require.NoError(f.t, err)
	require.NoError(f.t, fw.Write(batch))
	require.NoError(f.t, fw.Close())
}

func newFakeLance(t *testing.T) (*fakeLance, *LanceDBStore) {
	t.Helper()

	fake := &fakeLance{t: t, dimension: testDim}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewLanceDBStore(LanceDBOptions{
		HostOverride: srv.URL,
		APIKey:       "test-key",
		Dimension:    testDim,
	})
	require.NoError(t, err)

	return fake, store
}

func TestLanceDBStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		_, store := newFakeLance(t)
		require.NoError(t, store.EnsureTable(t.Context()))

		return store
	})
}

func TestLanceDBStore_EnsureTableIsIdempotent(t *testing.T) {
	fake, store := newFakeLance(t)

	require.NoError(t, store.EnsureTable(t.Context()))
	require.NoError(t, store.EnsureTable(t.Context()))
	assert.True(t, fake.created)
}

func TestLanceDBStore_NearestSendsMetricAndPrefilter(t *testing.T) {
	fake, store := newFakeLance(t)
	require.NoError(t, store.EnsureTable(t.Context()))
	seed(t, store)

	_, err := store.NearestNeighbors(t.Context(), models.NearestQuery{
		Vector: []float32{1, 0, 0}, Limit: 2, Metric: models.MetricDot, ExcludeID: "o'brien",
	})
	require.NoError(t, err)

	last := fake.queries[len(fake.queries)-1]
	assert.Equal(t, "dot", last.DistanceType)
	assert.Equal(t, 2, last.K)
	assert.Equal(t, "id != 'o''brien'", last.Filter)
	assert.True(t, last.Prefilter)
}

func TestLanceDBStore_ServerErrorIsStoreUnavailable(t *testing.T) {
	fake, store := newFakeLance(t)
	require.NoError(t, store.EnsureTable(t.Context()))

	fake.failNext = 1

	_, err := store.Count(t.Context())
	require.ErrorIs(t, err, galleryerrors.ErrStoreUnavailable)
	assert.True(t, galleryerrors.IsRetryable(err))
}

func TestLanceDBStore_ConnectionRefusedIsStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	store, err := NewLanceDBStore(LanceDBOptions{HostOverride: srv.URL, APIKey: "k", Dimension: testDim})
	require.NoError(t, err)

	_, err = store.GetByID(t.Context(), "a")
	assert.ErrorIs(t, err, galleryerrors.ErrStoreUnavailable)
}

func TestLanceDBStore_SharedScanOutlivesCancelledCaller(t *testing.T) {
	fake, store := newFakeLance(t)
	require.NoError(t, store.EnsureTable(t.Context()))
	seed(t, store)

	fake.holdScan = make(chan struct{})
	fake.scanStarted = make(chan struct{}, 1)

	first, cancel := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)

	go func() {
		_, err := store.ListRecent(first, 10, 0)
		firstErr <- err
	}()

	<-fake.scanStarted
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	type listed struct {
		recs []models.EmbeddingRecord
		err  error
	}

	second := make(chan listed, 1)

	go func() {
		recs, err := store.ListRecent(t.Context(), 10, 0)
		second <- listed{recs, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(fake.holdScan)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, ids(got.recs))
}

func TestNewLanceDBStore_URI(t *testing.T) {
	store, err := NewLanceDBStore(LanceDBOptions{URI: "db://gallery-x1", Region: "eu-west-1", Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, "https://gallery-x1.eu-west-1.api.lancedb.com/v1/table/embeddings/query/", store.tableURL("query"))

	_, err = NewLanceDBStore(LanceDBOptions{URI: "s3://bucket", Dimension: 4})
	assert.ErrorIs(t, err, ErrInvalidLanceURI)
}

func TestArrowRoundTrip(t *testing.T) {
	recs := []models.EmbeddingRecord{
		{ID: "v1", Vector: []float32{0.5, -1, 2}, VideoURL: "https://cdn.example.com/a.mp4", CreatedAt: baseTime},
		{ID: "t1", Vector: []float32{1, 1, 1}, Text: "a red fox", CreatedAt: baseTime.Add(1500 * time.Millisecond)},
	}

	var buf bytes.Buffer
	require.NoError(t, encodeArrowStream(&buf, lanceSchema(testDim), recs))

	rows, err := decodeArrow(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for i, row := range rows {
		assert.Equal(t, recs[i].ID, row.Record.ID)
		assert.Equal(t, recs[i].Vector, row.Record.Vector)
		assert.Equal(t, recs[i].Text, row.Record.Text)
		assert.Equal(t, recs[i].VideoURL, row.Record.VideoURL)
		assert.WithinDuration(t, recs[i].CreatedAt, row.Record.CreatedAt, time.Microsecond)
		assert.Nil(t, row.Distance)
	}
}
