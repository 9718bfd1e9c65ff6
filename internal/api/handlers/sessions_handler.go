package handlers

import (
	"context"
	"net/http"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/gallery"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/session"
)

// SessionStore owns the live browse/search sessions.
type SessionStore interface {
	Create() *session.Controller
	Get(id string) (*session.Controller, error)
	Remove(id string)
}

// TileProber resolves media aspect ratios for layout.
type TileProber interface {
	Tiles(ctx context.Context, recs []models.EmbeddingRecord) ([]gallery.Tile, error)
}

// SessionResponse is a session id with its current view.
type SessionResponse struct {
	ID string `json:"id"`
	session.View
}

// LoadMoreResponse reports whether a page request was issued.
type LoadMoreResponse struct {
	Accepted bool `json:"accepted"`
	session.View
}

// LayoutResponse is the column layout of a session's visible items.
type LayoutResponse struct {
	Columns []gallery.Column `json:"columns"`
	Page    int              `json:"page"`
	Pages   int              `json:"pages"`
}

// DefaultLayoutColumns is used when the columns parameter is absent.
const DefaultLayoutColumns = 4

// SessionsHandler exposes interactive browse/search sessions.
type SessionsHandler struct {
	sessions SessionStore
	prober   TileProber
}

// NewSessionsHandler creates a new sessions handler. prober may be nil, in which case layout
// uses default aspect ratios.
func NewSessionsHandler(sessions SessionStore, prober TileProber) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, prober: prober}
}

// Create handles POST /v1/sessions. The initial random sample is already loading when it returns.
func (h *SessionsHandler) Create(w http.ResponseWriter, _ *http.Request) {
	c := h.sessions.Create()

	response.RespondJSON(w, http.StatusCreated, SessionResponse{ID: c.ID(), View: c.View()})
}

// View handles GET /v1/sessions/{id}
func (h *SessionsHandler) View(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	response.RespondJSON(w, http.StatusOK, SessionResponse{ID: c.ID(), View: c.View()})
}

// Query handles PUT /v1/sessions/{id}/query. Input is debounced unless immediate is set.
func (h *SessionsHandler) Query(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.SessionQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Immediate {
		c.Submit(req.Input())
	} else {
		c.Input(req.Input())
	}

	response.RespondJSON(w, http.StatusAccepted, SessionResponse{ID: c.ID(), View: c.View()})
}

// More handles POST /v1/sessions/{id}/more
func (h *SessionsHandler) More(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	accepted := c.LoadMore()

	response.RespondJSON(w, http.StatusAccepted, LoadMoreResponse{Accepted: accepted, View: c.View()})
}

// Layout handles GET /v1/sessions/{id}/layout
func (h *SessionsHandler) Layout(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	var q models.LayoutQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	columns := q.Columns
	if columns == 0 {
		columns = DefaultLayoutColumns
	}

	items := c.View().Items

	page, pages := 1, 1
	if q.PageSize > 0 {
		page = max(q.Page, 1)
		items, pages = gallery.Paginate(items, page, q.PageSize)
	}

	recs := make([]models.EmbeddingRecord, len(items))
	for i, it := range items {
		recs[i] = it.EmbeddingRecord
	}

	tiles, err := h.tiles(r.Context(), recs)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, LayoutResponse{
		Columns: gallery.Layout(tiles, columns),
		Page:    page,
		Pages:   pages,
	})
}

func (h *SessionsHandler) tiles(ctx context.Context, recs []models.EmbeddingRecord) ([]gallery.Tile, error) {
	if h.prober != nil {
		return h.prober.Tiles(ctx, recs) //nolint:wrapcheck // already wrapped by the prober
	}

	tiles := make([]gallery.Tile, len(recs))
	for i, rec := range recs {
		kind := rec.MediaKind()
		tiles[i] = gallery.Tile{ID: rec.ID, Kind: kind, AspectRatio: gallery.DefaultAspect(kind)}
	}

	return tiles, nil
}

// Preview handles PUT /v1/sessions/{id}/preview
func (h *SessionsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.PreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	replaced := c.Preview().Enter(req.ItemID)

	response.RespondJSON(w, http.StatusOK, models.PreviewResponse{Previewing: req.ItemID, Replaced: replaced})
}

// EndPreview handles DELETE /v1/sessions/{id}/preview/{itemId}. A late leave for an item that is
// no longer previewing leaves the current preview running.
func (h *SessionsHandler) EndPreview(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	c.Preview().Leave(r.PathValue("itemId"))

	response.RespondJSON(w, http.StatusOK, models.PreviewResponse{Previewing: c.Preview().Active()})
}

// Delete handles DELETE /v1/sessions/{id}. In-flight calls finish before it returns.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Remove(r.PathValue("id"))

	response.RespondJSON(w, http.StatusOK, models.DeleteResponse{Success: true})
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		response.RespondServiceError(w, r, err)

		return nil, false
	}

	return c, true
}
