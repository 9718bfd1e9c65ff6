// Package session implements the browse/search view-model behind the gallery: it turns raw
// random samples and nearest-neighbor rows into a de-duplicated, stably ordered result stream
// and discards responses that arrive after the query has moved on.
package session

import (
	"slices"

	"github.com/mediaembed/gallery/internal/models"
)

// Mode is the kind of result list a session shows.
type Mode string

const (
	// ModeBrowse shows an extendable random sample (empty query).
	ModeBrowse Mode = "browse"
	// ModeSearch shows nearest neighbors of the active query.
	ModeSearch Mode = "search"
)

// Default sizes used when Settings leaves them zero.
const (
	DefaultPageSize  = 20
	DefaultIncrement = 20
)

// Settings configures page sizes and the search metric.
type Settings struct {
	PageSize  int
	Increment int
	Metric    models.Metric
	Threshold *float64
}

func (s Settings) withDefaults() Settings {
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}

	if s.Increment <= 0 {
		s.Increment = DefaultIncrement
	}

	s.PageSize = min(s.PageSize, models.MaxPageSize)

	return s
}

// Item is one visible result. Distance is set only in search mode; browse items carry their
// display order in Rank and no distance.
type Item struct {
	models.EmbeddingRecord

	Distance *float64      `json:"distance,omitempty"`
	Metric   models.Metric `json:"metric,omitempty"`
	Rank     int           `json:"rank"`
}

// Ticket identifies one issued remote request. Responses are applied only while the ticket's
// generation is still current.
type Ticket struct {
	Generation uint64
	Mode       Mode
	Query      models.MediaInput
	Limit      int
	Metric     models.Metric
	Threshold  *float64
	LoadMore   bool
}

// Kind labels the ticket for metrics and logs.
func (t Ticket) Kind() string {
	if t.LoadMore {
		return "load_more"
	}

	return "initial"
}

// View is a read-only snapshot of a session.
type View struct {
	Mode       Mode              `json:"mode"`
	Query      models.MediaInput `json:"query"`
	Items      []Item            `json:"items"`
	HasMore    bool              `json:"hasMore"`
	Loading    bool              `json:"loading"`
	LastError  string            `json:"lastError,omitempty"`
	Generation uint64            `json:"generation"`
	Previewing string            `json:"previewing,omitempty"`
}

// State is the per-session view-model. It is not safe for concurrent use; Controller guards it.
// The seen set always holds exactly the ids of items. The shown fields describe the query
// whose results are visible and change only when a response is applied.
type State struct {
	settings Settings

	mode       Mode
	query      models.MediaInput
	lastIssued *models.MediaInput
	generation uint64
	pending    bool

	shownMode  Mode
	shownQuery models.MediaInput
	applied    bool

	items   []Item
	seen    map[string]struct{}
	limit   int
	hasMore bool

	lastErr error
}

// NewState returns an empty session in browse mode with nothing issued yet.
func NewState(settings Settings) *State {
	return &State{
		settings:  settings.withDefaults(),
		mode:      ModeBrowse,
		shownMode: ModeBrowse,
		seen:     make(map[string]struct{}),
	}
}

// Begin handles a (debounced) query input change. It returns false when the normalized query
// equals the last issued one.
func (s *State) Begin(q models.MediaInput) (Ticket, bool) {
	q = q.Normalize()
	if s.lastIssued != nil && *s.lastIssued == q {
		return Ticket{}, false
	}

	s.mode = ModeBrowse
	if !q.IsEmpty() {
		s.mode = ModeSearch
	}

	s.query = q
	s.lastIssued = &q

	return s.issue(s.settings.PageSize, false), true
}

// LoadMore returns the next page of the shown query, or false when a request is in flight, no
// response has been applied yet, or the list is exhausted. Search pages grow the limit since
// nearest-neighbor queries have no offset; once the limit would pass models.MaxPageSize the
// list is exhausted.
func (s *State) LoadMore() (Ticket, bool) {
	if s.pending || !s.applied || !s.hasMore {
		return Ticket{}, false
	}

	s.mode = s.shownMode
	s.query = s.shownQuery

	if s.mode == ModeBrowse {
		return s.issue(s.settings.Increment, true), true
	}

	next := s.limit + s.settings.Increment
	if next > models.MaxPageSize {
		s.hasMore = false

		return Ticket{}, false
	}

	return s.issue(next, true), true
}

func (s *State) issue(limit int, loadMore bool) Ticket {
	s.generation++
	s.pending = true

	return Ticket{
		Generation: s.generation,
		Mode:       s.mode,
		Query:      s.query,
		Limit:      limit,
		Metric:     s.settings.Metric,
		Threshold:  s.settings.Threshold,
		LoadMore:   loadMore,
	}
}

// Current reports whether t is the ticket the session is waiting on.
func (s *State) Current(t Ticket) bool {
	return s.pending && t.Generation == s.generation
}

// ApplySearch merges nearest-neighbor rows for t. It returns false for stale tickets.
func (s *State) ApplySearch(t Ticket, results []models.SearchResult) bool {
	if !s.Current(t) || t.Mode != ModeSearch {
		return false
	}

	incoming := make([]Item, 0, len(results))
	for _, r := range results {
		d := r.Distance
		incoming = append(incoming, Item{EmbeddingRecord: r.EmbeddingRecord, Distance: &d, Metric: r.Metric})
	}

	s.complete(t)

	added := s.merge(t.LoadMore, incoming)
	slices.SortStableFunc(s.items, func(a, b Item) int {
		switch {
		case *a.Distance < *b.Distance:
			return -1
		case *a.Distance > *b.Distance:
			return 1
		default:
			return 0
		}
	})
	s.renumber()

	s.hasMore = added > 0

	return true
}

// ApplyBrowse merges a random sample for t, appending unseen records in sample order. It returns
// false for stale tickets.
func (s *State) ApplyBrowse(t Ticket, records []models.EmbeddingRecord) bool {
	if !s.Current(t) || t.Mode != ModeBrowse {
		return false
	}

	incoming := make([]Item, 0, len(records))
	for _, r := range records {
		incoming = append(incoming, Item{EmbeddingRecord: r})
	}

	s.complete(t)

	added := s.merge(t.LoadMore, incoming)
	s.renumber()

	s.hasMore = added > 0

	return true
}

// Fail records a failed request for t. Visible items are kept. A failed initial request rolls
// the active query back to the shown one, so re-entering the failed query issues again. It
// returns false for stale tickets.
func (s *State) Fail(t Ticket, err error) bool {
	if !s.Current(t) {
		return false
	}

	s.pending = false
	s.lastErr = err

	if !t.LoadMore {
		s.mode = s.shownMode
		s.query = s.shownQuery
		s.lastIssued = nil

		if s.applied {
			shown := s.shownQuery
			s.lastIssued = &shown
		}
	}

	return true
}

func (s *State) complete(t Ticket) {
	s.pending = false
	s.lastErr = nil
	s.limit = t.Limit
	s.shownMode = t.Mode
	s.shownQuery = t.Query
	s.applied = true
}

// merge replaces (initial) or extends (load more) the visible list with incoming items that are
// not yet visible, and returns how many were added.
func (s *State) merge(loadMore bool, incoming []Item) int {
	if !loadMore {
		s.items = s.items[:0:0]
		clear(s.seen)
	}

	added := 0

	for _, it := range incoming {
		if _, ok := s.seen[it.ID]; ok {
			continue
		}

		s.seen[it.ID] = struct{}{}
		s.items = append(s.items, it)
		added++
	}

	return added
}

func (s *State) renumber() {
	for i := range s.items {
		s.items[i].Rank = i
	}
}

// HasMore reports whether LoadMore may issue another request.
func (s *State) HasMore() bool {
	return s.hasMore
}

// Mode returns the mode of the shown results.
func (s *State) Mode() Mode {
	return s.shownMode
}

// LastError returns the most recent failure, cleared by the next successful response.
func (s *State) LastError() error {
	return s.lastErr
}

// Snapshot copies the visible state.
func (s *State) Snapshot() View {
	v := View{
		Mode:       s.shownMode,
		Query:      s.shownQuery,
		Items:      slices.Clone(s.items),
		HasMore:    s.hasMore,
		Loading:    s.pending,
		Generation: s.generation,
	}

	if v.Items == nil {
		v.Items = []Item{}
	}

	if s.lastErr != nil {
		v.LastError = Describe(s.lastErr)
	}

	return v
}
