// Package gallery computes the presentation of result lists: masonry column layout, paging,
// lazily probed media aspect ratios, and hover-to-preview state.
package gallery

import "github.com/mediaembed/gallery/internal/models"

// Default aspect ratios (width / height) used when media metadata is unknown.
const (
	DefaultVideoAspect = 16.0 / 9.0
	DefaultImageAspect = 1.0
	DefaultTextAspect  = 1.0
)

// Tile is one item to place. AspectRatio is width / height.
type Tile struct {
	ID          string           `json:"id"`
	Kind        models.MediaKind `json:"kind"`
	AspectRatio float64          `json:"aspectRatio"`
	Probed      bool             `json:"probed"`
}

// PlacedTile is a tile positioned in a column of unit width.
type PlacedTile struct {
	Tile

	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Column is one layout column.
type Column struct {
	Tiles  []PlacedTile `json:"tiles"`
	Height float64      `json:"height"`
}

// DefaultAspect returns the fallback aspect ratio for kind.
func DefaultAspect(kind models.MediaKind) float64 {
	switch kind {
	case models.MediaVideo:
		return DefaultVideoAspect
	case models.MediaImage:
		return DefaultImageAspect
	default:
		return DefaultTextAspect
	}
}

// Layout places tiles in order, each into the currently shortest column (leftmost on ties).
// Heights are relative to a column width of 1. columns < 1 is treated as 1.
func Layout(tiles []Tile, columns int) []Column {
	columns = max(columns, 1)
	cols := make([]Column, columns)

	for i := range cols {
		cols[i].Tiles = []PlacedTile{}
	}

	for _, t := range tiles {
		if t.AspectRatio <= 0 {
			t.AspectRatio = DefaultAspect(t.Kind)
		}

		shortest := 0
		for i := 1; i < columns; i++ {
			if cols[i].Height < cols[shortest].Height {
				shortest = i
			}
		}

		h := 1 / t.AspectRatio
		col := &cols[shortest]
		col.Tiles = append(col.Tiles, PlacedTile{Tile: t, Top: col.Height, Height: h})
		col.Height += h
	}

	return cols
}

// Paginate returns page (1-based) of items and the total page count. Pages past the end are empty.
func Paginate[T any](items []T, page, size int) ([]T, int) {
	if size <= 0 {
		return nil, 0
	}

	pages := (len(items) + size - 1) / size
	if page < 1 || page > pages {
		return []T{}, pages
	}

	start := (page - 1) * size
	end := min(start+size, len(items))

	return items[start:end], pages
}
