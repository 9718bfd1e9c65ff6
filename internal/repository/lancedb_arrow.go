package repository

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/mediaembed/gallery/internal/models"
)

// Column names of the hosted embeddings table.
const (
	colID        = "id"
	colEmbedding = "embedding"
	colText      = "text"
	colImageURL  = "imageUrl"
	colVideoURL  = "videoUrl"
	colCreatedAt = "createdAt"
	colDistance  = "_distance"
)

// arrowFileMagic prefixes Arrow IPC files; streams start with a continuation marker instead.
var arrowFileMagic = []byte("ARROW1")

// lanceSchema is the table schema for vectors of the given dimension. createdAt is unix seconds.
func lanceSchema(dimension int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: colID, Type: arrow.BinaryTypes.String},
		{Name: colEmbedding, Type: arrow.FixedSizeListOf(int32(dimension), arrow.PrimitiveTypes.Float32)},
		{Name: colText, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: colImageURL, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: colVideoURL, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: colCreatedAt, Type: arrow.PrimitiveTypes.Float64},
	}, nil)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	sec := int64(s)

	return time.Unix(sec, int64((s-float64(sec))*float64(time.Second))).UTC()
}

func appendNullable(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()

		return
	}

	b.Append(s)
}

// encodeArrowStream writes recs as a single-batch Arrow IPC stream. An empty recs writes
// only the schema, which is what table creation expects.
func encodeArrowStream(w io.Writer, schema *arrow.Schema, recs []models.EmbeddingRecord) error {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	ids := b.Field(0).(*array.StringBuilder)
	vectors := b.Field(1).(*array.FixedSizeListBuilder)
	values := vectors.ValueBuilder().(*array.Float32Builder)
	texts := b.Field(2).(*array.StringBuilder)
	images := b.Field(3).(*array.StringBuilder)
	videos := b.Field(4).(*array.StringBuilder)
	created := b.Field(5).(*array.Float64Builder)

	for _, rec := range recs {
		ids.Append(rec.ID)
		vectors.Append(true)
		values.AppendValues(rec.Vector, nil)
		appendNullable(texts, rec.Text)
		appendNullable(images, rec.ImageURL)
		appendNullable(videos, rec.VideoURL)
		created.Append(unixSeconds(rec.CreatedAt))
	}

	batch := b.NewRecord()
	defer batch.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))

	if len(recs) > 0 {
		if err := wr.Write(batch); err != nil {
			return fmt.Errorf("write arrow batch: %w", err)
		}
	}

	if err := wr.Close(); err != nil {
		return fmt.Errorf("close arrow writer: %w", err)
	}

	return nil
}

// decodedRow is one row of a query response. Distance is nil when the query had no vector.
type decodedRow struct {
	Record   models.EmbeddingRecord
	Distance *float64
}

// decodeArrow reads a query response in either IPC file or IPC stream format.
func decodeArrow(body []byte) ([]decodedRow, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var rows []decodedRow

	if bytes.HasPrefix(body, arrowFileMagic) {
		fr, err := ipc.NewFileReader(bytes.NewReader(body), ipc.WithAllocator(memory.DefaultAllocator))
		if err != nil {
			return nil, fmt.Errorf("open arrow file: %w", err)
		}
		defer fr.Close()

		for i := range fr.NumRecords() {
			rec, err := fr.Record(i)
			if err != nil {
				return nil, fmt.Errorf("read arrow record %d: %w", i, err)
			}

			decoded, err := decodeBatch(rec)
			if err != nil {
				return nil, err
			}

			rows = append(rows, decoded...)
		}

		return rows, nil
	}

	sr, err := ipc.NewReader(bytes.NewReader(body), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer sr.Release()

	for sr.Next() {
		decoded, err := decodeBatch(sr.Record())
		if err != nil {
			return nil, err
		}

		rows = append(rows, decoded...)
	}

	if err := sr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}

	return rows, nil
}

type stringColumn interface {
	Len() int
	IsNull(i int) bool
	Value(i int) string
}

type listColumn interface {
	IsNull(i int) bool
	ValueOffsets(i int) (start, end int64)
	ListValues() arrow.Array
}

func column(rec arrow.Record, name string) arrow.Array {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil
	}

	return rec.Column(idx[0])
}

func stringAt(col arrow.Array, i int) (string, error) {
	if col == nil {
		return "", nil
	}

	sc, ok := col.(stringColumn)
	if !ok {
		return "", fmt.Errorf("column has type %s, want string", col.DataType())
	}

	if sc.IsNull(i) {
		return "", nil
	}

	return sc.Value(i), nil
}

func floatAt(col arrow.Array, i int) (float64, bool, error) {
	if col == nil || col.IsNull(i) {
		return 0, false, nil
	}

	switch c := col.(type) {
	case *array.Float32:
		return float64(c.Value(i)), true, nil
	case *array.Float64:
		return c.Value(i), true, nil
	default:
		return 0, false, fmt.Errorf("column has type %s, want float", col.DataType())
	}
}

func vectorAt(col arrow.Array, i int) ([]float32, error) {
	if col == nil {
		return nil, nil
	}

	lc, ok := col.(listColumn)
	if !ok {
		return nil, fmt.Errorf("embedding column has type %s, want list", col.DataType())
	}

	if lc.IsNull(i) {
		return nil, nil
	}

	values, ok := lc.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("embedding values have type %s, want float32", lc.ListValues().DataType())
	}

	start, end := lc.ValueOffsets(i)
	out := make([]float32, end-start)
	copy(out, values.Float32Values()[start:end])

	return out, nil
}

func decodeBatch(rec arrow.Record) ([]decodedRow, error) {
	var (
		ids       = column(rec, colID)
		vectors   = column(rec, colEmbedding)
		texts     = column(rec, colText)
		images    = column(rec, colImageURL)
		videos    = column(rec, colVideoURL)
		created   = column(rec, colCreatedAt)
		distances = column(rec, colDistance)
	)

	if ids == nil {
		return nil, fmt.Errorf("arrow response has no %q column", colID)
	}

	rows := make([]decodedRow, 0, rec.NumRows())

	for i := range int(rec.NumRows()) {
		var (
			row decodedRow
			err error
		)

		if row.Record.ID, err = stringAt(ids, i); err != nil {
			return nil, fmt.Errorf("%s: %w", colID, err)
		}

		if row.Record.Vector, err = vectorAt(vectors, i); err != nil {
			return nil, err
		}

		if row.Record.Text, err = stringAt(texts, i); err != nil {
			return nil, fmt.Errorf("%s: %w", colText, err)
		}

		if row.Record.ImageURL, err = stringAt(images, i); err != nil {
			return nil, fmt.Errorf("%s: %w", colImageURL, err)
		}

		if row.Record.VideoURL, err = stringAt(videos, i); err != nil {
			return nil, fmt.Errorf("%s: %w", colVideoURL, err)
		}

		ts, ok, err := floatAt(created, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", colCreatedAt, err)
		}

		if ok {
			row.Record.CreatedAt = fromUnixSeconds(ts)
		}

		d, ok, err := floatAt(distances, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", colDistance, err)
		}

		if ok {
			row.Distance = &d
		}

		rows = append(rows, row)
	}

	return rows, nil
}
