package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/observability"
)

// Registry defaults.
const (
	DefaultMaxSessions = 1000
	DefaultSessionTTL  = 30 * time.Minute
)

// RegistryParams configures a Registry. NewController builds the controller for a new id.
type RegistryParams struct {
	MaxSessions   int
	TTL           time.Duration
	NewController func(id string) *Controller
	Metrics       observability.SessionMetrics // may be nil
}

// Registry holds live sessions by id. Sessions idle for longer than the TTL, or pushed out by
// newer ones, are closed.
type Registry struct {
	cache         *expirable.LRU[string, *Controller]
	newController func(id string) *Controller
	metrics       observability.SessionMetrics
	active        atomic.Int64
	closing       sync.WaitGroup
	newID         func() string
}

// NewRegistry creates a Registry.
func NewRegistry(p RegistryParams) *Registry {
	size := p.MaxSessions
	if size <= 0 {
		size = DefaultMaxSessions
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	r := &Registry{
		newController: p.NewController,
		metrics:       p.Metrics,
		newID:         uuid.NewString,
	}
	r.cache = expirable.NewLRU[string, *Controller](size, r.evicted, ttl)

	return r
}

// evicted runs under the cache lock, so the controller is closed in the background.
func (r *Registry) evicted(_ string, c *Controller) {
	r.setActive(r.active.Add(-1))

	r.closing.Add(1)

	go func() {
		defer r.closing.Done()

		c.Close()
	}()
}

func (r *Registry) setActive(n int64) {
	if r.metrics != nil {
		r.metrics.SetActiveSessions(int(n))
	}
}

// Create starts a new session with its initial browse sample in flight.
func (r *Registry) Create() *Controller {
	c := r.newController(r.newID())
	r.cache.Add(c.ID(), c)
	r.setActive(r.active.Add(1))

	c.Start()

	return c
}

// Get returns a live session and extends its lifetime.
func (r *Registry) Get(id string) (*Controller, error) {
	c, ok := r.cache.Get(id)
	if !ok {
		return nil, galleryerrors.NewNotFoundError("session", id)
	}

	r.cache.Add(id, c)

	return c, nil
}

// Remove ends a session and waits for its in-flight calls. Removing an unknown id is not an error.
func (r *Registry) Remove(id string) {
	c, ok := r.cache.Peek(id)
	r.cache.Remove(id)

	if ok {
		c.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close ends every session and waits for their in-flight calls.
func (r *Registry) Close() {
	r.cache.Purge()
	r.closing.Wait()
}
