// Package admin pages through stored records for listing and deletion.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediaembed/gallery/internal/models"
)

// PageSize is fixed at the largest page the store serves.
const PageSize = models.MaxPageSize

var (
	// ErrNoNextPage is returned by Next on the last page.
	ErrNoNextPage = errors.New("admin: already on the last page")
	// ErrNoPrevPage is returned by Prev on the first page.
	ErrNoPrevPage = errors.New("admin: already on the first page")
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("admin: page must be at least 1")
)

// Client lists and deletes records.
type Client interface {
	List(ctx context.Context, limit, offset int) (*models.ListResponse, error)
	Delete(ctx context.Context, id string) error
}

// Page is one loaded page. Number is 1-based.
type Page struct {
	Number int                      `json:"page"`
	Items  []models.EmbeddingRecord `json:"items"`
	Total  int64                    `json:"total"`
	Pages  int                      `json:"pages"`
}

// HasNext reports whether a later page exists.
func (p *Page) HasNext() bool {
	return p.Number < p.Pages
}

// HasPrev reports whether an earlier page exists.
func (p *Page) HasPrev() bool {
	return p.Number > 1
}

// Pager keeps the current page. A failed load leaves the current page unchanged.
type Pager struct {
	client  Client
	current *Page
	logger  *slog.Logger
}

// NewPager creates a Pager with no page loaded.
func NewPager(client Client, logger *slog.Logger) *Pager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pager{client: client, logger: logger}
}

// Current returns the loaded page, or nil before the first Load.
func (p *Pager) Current() *Page {
	return p.current
}

// Load fetches page n (1-based).
func (p *Pager) Load(ctx context.Context, n int) (*Page, error) {
	if n < 1 {
		return nil, ErrInvalidPage
	}

	resp, err := p.client.List(ctx, PageSize, (n-1)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", n, err)
	}

	page := &Page{
		Number: n,
		Items:  resp.Embeddings,
		Total:  resp.Total,
		Pages:  pageCount(resp.Total),
	}
	p.current = page

	return page, nil
}

// Next loads the following page.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.current == nil {
		return p.Load(ctx, 1)
	}

	if !p.current.HasNext() {
		return nil, ErrNoNextPage
	}

	return p.Load(ctx, p.current.Number+1)
}

// Prev loads the preceding page.
func (p *Pager) Prev(ctx context.Context) (*Page, error) {
	if p.current == nil || !p.current.HasPrev() {
		return nil, ErrNoPrevPage
	}

	return p.Load(ctx, p.current.Number-1)
}

// Delete removes id and refetches the current page. When the page comes back empty and is not
// the first, it steps back one page.
func (p *Pager) Delete(ctx context.Context, id string) (*Page, error) {
	if err := p.client.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}

	p.logger.Info("admin: record deleted", "id", id)

	n := 1
	if p.current != nil {
		n = p.current.Number
	}

	page, err := p.Load(ctx, n)
	if err != nil {
		return nil, err
	}

	if len(page.Items) == 0 && n > 1 {
		return p.Load(ctx, n-1)
	}

	return page, nil
}

func pageCount(total int64) int {
	if total <= 0 {
		return 1
	}

	return int((total + PageSize - 1) / PageSize)
}
