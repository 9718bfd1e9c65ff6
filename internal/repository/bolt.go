package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

var (
	bucketRecords   = []byte("records")
	bucketVectors   = []byte("vectors")
	bucketByCreated = []byte("by_created")
)

// BoltStore is a single-file store for local development. Metadata is JSON, vectors are
// little-endian float32, and a by_created index serves ListRecent without a full scan.
type BoltStore struct {
	db        *bolt.DB
	dimension int
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, dimension int) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, fmt.Errorf("open bolt %s: %w", path, err))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketVectors, bucketByCreated} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &BoltStore{db: db, dimension: dimension}, nil
}

// createdKey sorts newest first: inverted nanoseconds, then id.
func createdKey(rec models.EmbeddingRecord) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(math.MaxInt64-rec.CreatedAt.UnixNano()))

	return append(key, rec.ID...)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}

	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}

	return v
}

// Insert stores rec, replacing an existing record with the same id.
func (s *BoltStore) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	return s.InsertBatch(ctx, []models.EmbeddingRecord{rec})
}

// InsertBatch writes all records in one transaction.
func (s *BoltStore) InsertBatch(_ context.Context, recs []models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := validateRecord(rec, s.dimension); err != nil {
			return err
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		byCreated := tx.Bucket(bucketByCreated)

		for _, rec := range recs {
			if old := records.Get([]byte(rec.ID)); old != nil {
				var prev models.EmbeddingRecord
				if err := json.Unmarshal(old, &prev); err == nil {
					if err := byCreated.Delete(createdKey(prev)); err != nil {
						return fmt.Errorf("delete index entry: %w", err)
					}
				}
			}

			meta, err := json.Marshal(rec.WithoutVector())
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", rec.ID, err)
			}

			if err := records.Put([]byte(rec.ID), meta); err != nil {
				return fmt.Errorf("put record: %w", err)
			}

			if err := tx.Bucket(bucketVectors).Put([]byte(rec.ID), encodeVector(rec.Vector)); err != nil {
				return fmt.Errorf("put vector: %w", err)
			}

			if err := byCreated.Put(createdKey(rec), []byte(rec.ID)); err != nil {
				return fmt.Errorf("put index entry: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt insert: %w", err)
	}

	return nil
}

func loadRecord(tx *bolt.Tx, id []byte, withVector bool) (*models.EmbeddingRecord, error) {
	meta := tx.Bucket(bucketRecords).Get(id)
	if meta == nil {
		return nil, nil
	}

	var rec models.EmbeddingRecord
	if err := json.Unmarshal(meta, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}

	if withVector {
		rec.Vector = decodeVector(tx.Bucket(bucketVectors).Get(id))
	}

	return &rec, nil
}

// GetByID returns the record or NotFound.
func (s *BoltStore) GetByID(_ context.Context, id string) (*models.EmbeddingRecord, error) {
	var rec *models.EmbeddingRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error

		rec, err = loadRecord(tx, []byte(id), true)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bolt get: %w", err)
	}

	if rec == nil {
		return nil, notFound(id)
	}

	return rec, nil
}

// ListRecent walks the by_created index, skipping offset entries.
func (s *BoltStore) ListRecent(_ context.Context, limit, offset int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	out := make([]models.EmbeddingRecord, 0, limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByCreated).Cursor()
		skipped := 0

		for k, id := c.First(); k != nil && len(out) < limit; k, id = c.Next() {
			if skipped < offset {
				skipped++

				continue
			}

			rec, err := loadRecord(tx, id, true)
			if err != nil {
				return err
			}

			if rec != nil {
				out = append(out, *rec)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt list: %w", err)
	}

	return out, nil
}

// Count returns the number of stored records.
func (s *BoltStore) Count(_ context.Context) (int64, error) {
	var n int

	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt count: %w", err)
	}

	return int64(n), nil
}

func (s *BoltStore) scan(withVectors bool) ([]models.EmbeddingRecord, error) {
	var out []models.EmbeddingRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, _ []byte) error {
			rec, err := loadRecord(tx, k, withVectors)
			if err != nil {
				return err
			}

			out = append(out, *rec)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt scan: %w", err)
	}

	return out, nil
}

// SampleRandom reads every record and returns a uniform sample without replacement.
func (s *BoltStore) SampleRandom(_ context.Context, limit int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, 0); err != nil {
		return nil, err
	}

	all, err := s.scan(true)
	if err != nil {
		return nil, err
	}

	return sampleWithoutReplacement(all, limit, nil), nil
}

// NearestNeighbors scans every record. Bolt iterates keys in order, so ties are broken by id.
func (s *BoltStore) NearestNeighbors(_ context.Context, q models.NearestQuery) ([]models.SearchResult, error) {
	if err := validateQuery(q, s.dimension); err != nil {
		return nil, err
	}

	all, err := s.scan(true)
	if err != nil {
		return nil, err
	}

	return rankByDistance(all, q)
}

// Delete removes id. Missing ids are not an error.
func (s *BoltStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := loadRecord(tx, []byte(id), false)
		if err != nil || rec == nil {
			return err
		}

		if err := tx.Bucket(bucketByCreated).Delete(createdKey(*rec)); err != nil {
			return err
		}

		if err := tx.Bucket(bucketVectors).Delete([]byte(id)); err != nil {
			return err
		}

		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}

	return nil
}

// ListIDs returns every stored id in key order.
func (s *BoltStore) ListIDs(_ context.Context) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt list ids: %w", err)
	}

	return ids, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close bolt: %w", err)
	}

	return nil
}
