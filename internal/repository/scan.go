package repository

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/pkg/embeddings"
)

// rankByDistance is the brute-force nearest-neighbor scan used by the bolt and memory backends.
// Results are ordered by ascending distance, ties keep scan order.
func rankByDistance(records []models.EmbeddingRecord, q models.NearestQuery) ([]models.SearchResult, error) {
	distance, err := embeddings.ForMetric(q.Metric)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(records))

	for _, rec := range records {
		if rec.ID == q.ExcludeID && q.ExcludeID != "" {
			continue
		}

		d := distance(q.Vector, rec.Vector)
		if q.MaxDistance != nil && d > *q.MaxDistance {
			continue
		}

		results = append(results, models.SearchResult{EmbeddingRecord: rec, Distance: d, Metric: q.Metric})
	}

	slices.SortStableFunc(results, func(a, b models.SearchResult) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results, nil
}

// sampleWithoutReplacement returns up to limit records in uniformly random order using a
// partial Fisher–Yates shuffle. It reorders records in place.
func sampleWithoutReplacement(records []models.EmbeddingRecord, limit int, rng *rand.Rand) []models.EmbeddingRecord {
	n := min(limit, len(records))

	for i := range n {
		var j int
		if rng != nil {
			j = i + rng.IntN(len(records)-i)
		} else {
			j = i + rand.IntN(len(records)-i)
		}

		records[i], records[j] = records[j], records[i]
	}

	return records[:n]
}

// sampleIDs is sampleWithoutReplacement for stores that shuffle ids before fetching rows.
func sampleIDs(ids []string, limit int) []string {
	n := min(limit, len(ids))

	for i := range n {
		j := i + rand.IntN(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}

	return ids[:n]
}

// sortRecent orders records by CreatedAt descending, ties by id for a stable page boundary.
func sortRecent(records []models.EmbeddingRecord) {
	slices.SortFunc(records, func(a, b models.EmbeddingRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}

// page returns records[offset:offset+limit], clamped.
func page(records []models.EmbeddingRecord, limit, offset int) []models.EmbeddingRecord {
	if offset >= len(records) {
		return []models.EmbeddingRecord{}
	}

	end := min(offset+limit, len(records))

	return records[offset:end]
}

func sortByID(records []models.EmbeddingRecord) {
	slices.SortFunc(records, func(a, b models.EmbeddingRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
