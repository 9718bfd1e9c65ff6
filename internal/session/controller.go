package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mediaembed/gallery/internal/gallery"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

// DefaultCallTimeout bounds a single remote call issued by a session.
const DefaultCallTimeout = 5 * time.Minute

// ControllerParams configures a Controller.
type ControllerParams struct {
	ID          string
	Backend     Backend
	Settings    Settings
	Debounce    time.Duration
	CallTimeout time.Duration
	Metrics     observability.SessionMetrics // may be nil
	Logger      *slog.Logger
	// OnChange, when set, receives a snapshot after every state change.
	OnChange func(View)
}

// Controller drives a State from concurrent callers. Remote calls run in their own goroutines
// and are never cancelled when superseded; their responses pass through the state's stale check.
type Controller struct {
	id          string
	backend     Backend
	debouncer   *Debouncer
	callTimeout time.Duration
	metrics     observability.SessionMetrics
	logger      *slog.Logger
	onChange    func(View)
	preview     *gallery.Preview

	mu     sync.Mutex
	state  *State
	closed bool

	inflight sync.WaitGroup
}

// NewController creates a controller with nothing issued. Call Start to load the first sample.
func NewController(p ControllerParams) *Controller {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Controller{
		id:          p.ID,
		backend:     p.Backend,
		debouncer:   NewDebouncer(p.Debounce),
		callTimeout: timeout,
		metrics:     p.Metrics,
		logger:      logger.With("session_id", p.ID),
		onChange:    p.OnChange,
		preview:     gallery.NewPreview(),
		state:       NewState(p.Settings),
	}
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Start issues the initial browse sample.
func (c *Controller) Start() bool {
	return c.Submit(models.MediaInput{})
}

// Input records a query change. The query is issued once input has been quiet for the debounce
// interval.
func (c *Controller) Input(q models.MediaInput) {
	c.debouncer.Trigger(func() { c.Submit(q) })
}

// Flush issues a debounced query immediately. It returns false when none was waiting.
func (c *Controller) Flush() bool {
	return c.debouncer.Flush()
}

// Submit issues q now. It returns false when q equals the last issued query or the controller
// is closed. An empty q switches to browse mode with a fresh sample.
func (c *Controller) Submit(q models.MediaInput) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return false
	}

	t, ok := c.state.Begin(q)
	if ok {
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("session: identical query suppressed")

		return false
	}

	c.dispatch(t)

	return true
}

// LoadMore requests the next page. It returns false when a request is in flight or the list is
// exhausted.
func (c *Controller) LoadMore() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return false
	}

	t, ok := c.state.LoadMore()
	if ok {
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.dispatch(t)

	return true
}

// Preview returns the session's hover-preview state.
func (c *Controller) Preview() *gallery.Preview {
	return c.preview
}

// View returns a snapshot of the session.
func (c *Controller) View() View {
	c.mu.Lock()
	v := c.state.Snapshot()
	c.mu.Unlock()

	v.Previewing = c.preview.Active()

	return v
}

// Wait blocks until every issued remote call has returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close drops any pending input and waits for in-flight calls. Later calls are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Stop()
	c.inflight.Wait()
}

// dispatch runs t in the background. The caller has already added it to inflight.
func (c *Controller) dispatch(t Ticket) {
	ctx := observability.WithSessionID(context.Background(), c.id)

	if c.metrics != nil {
		c.metrics.RecordQueryIssued(ctx, string(t.Mode), t.Kind())
	}

	c.logger.Debug("session: request issued",
		"generation", t.Generation,
		"mode", t.Mode,
		"kind", t.Kind(),
		"limit", t.Limit,
	)

	c.notify()

	go func() {
		defer c.inflight.Done()

		c.run(ctx, t)
	}()
}

func (c *Controller) run(ctx context.Context, t Ticket) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var (
		applied bool
		err     error
	)

	switch t.Mode {
	case ModeSearch:
		var results []models.SearchResult

		results, err = c.backend.Search(ctx, models.SearchRequest{
			Text:      t.Query.Text,
			ImageURL:  t.Query.ImageURL,
			VideoURL:  t.Query.VideoURL,
			Limit:     t.Limit,
			Metric:    string(t.Metric),
			Threshold: t.Threshold,
		})

		c.mu.Lock()
		if err != nil {
			applied = c.state.Fail(t, err)
		} else {
			applied = c.state.ApplySearch(t, results)
		}
		c.mu.Unlock()
	case ModeBrowse:
		var records []models.EmbeddingRecord

		records, err = c.backend.Random(ctx, t.Limit)

		c.mu.Lock()
		if err != nil {
			applied = c.state.Fail(t, err)
		} else {
			applied = c.state.ApplyBrowse(t, records)
		}
		c.mu.Unlock()
	}

	if !applied {
		if c.metrics != nil {
			c.metrics.RecordStaleDiscard(ctx, string(t.Mode))
		}

		c.logger.Debug("session: stale response discarded", "generation", t.Generation, "mode", t.Mode)

		return
	}

	if err != nil {
		c.logger.Warn("session: request failed", "generation", t.Generation, "mode", t.Mode, "error", err)
	}

	c.notify()
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}

	c.onChange(c.View())
}
