package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/layersync/internal/attrsync"
	"github.com/mohammed-shakir/layersync/internal/core/health"
	"github.com/mohammed-shakir/layersync/internal/core/middleware"
	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/crud"
	"github.com/mohammed-shakir/layersync/internal/edit"
	"github.com/mohammed-shakir/layersync/internal/layers"
)

// API is the viewer session the routes drive.
type API interface {
	Ready(ctx context.Context) bool
	Viewport(ctx context.Context) (model.Viewport, error)
	SetViewport(ctx context.Context, vp model.Viewport) error
	Layers(ctx context.Context) ([]layers.Status, error)
	SetLayerVisible(ctx context.Context, id string, visible bool) error
	SetFilters(ctx context.Context, f layers.FilterState) (layers.FilterState, error)
	ResetFilters(ctx context.Context) error
	DatasetKeys() []string
	Dataset(ctx context.Context, key string) (attrsync.Dataset, error)
	ZoomToRow(ctx context.Context, key string, rowID int) (model.Viewport, error)
	Table(ctx context.Context, op, key string) (attrsync.Panel, error)
	Click(ctx context.Context, layerID string, i int) (edit.Snapshot, error)
	EditState(ctx context.Context) (edit.Snapshot, error)
	EditOp(ctx context.Context, op string) (edit.Snapshot, error)
	PatchDraft(ctx context.Context, p edit.Patch) (edit.Snapshot, error)
	Save(ctx context.Context) (edit.Snapshot, error)
	Rows(ctx context.Context, q crud.ListQuery) (crud.Page, error)
	WatchTable(buf int) (<-chan attrsync.Change, func())
}

type Options struct {
	Metrics http.Handler
	// Extra readiness checks, e.g. the change consumer.
	Checks []health.Check
}

// Routes builds the viewer HTTP API.
func Routes(api API, logger *slog.Logger, opts Options) http.Handler {
	h := &handlers{api: api, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	checks := append([]health.Check{{Name: "map", Ready: func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		return api.Ready(ctx)
	}}}, opts.Checks...)
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(checks...))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/viewport", h.getViewport)
	r.Put("/viewport", h.putViewport)
	r.Get("/layers", h.getLayers)
	r.Put("/layers/{id}/visible", h.putVisible)
	r.Put("/filters", h.putFilters)
	r.Delete("/filters", h.deleteFilters)
	r.Get("/datasets", h.getDatasetKeys)
	r.Get("/datasets/{key}", h.getDataset)
	r.Post("/datasets/{key}/rows/{rowid}/zoom", h.zoomToRow)
	r.Get("/table/{op}", h.table)
	r.Post("/table/{op}", h.table)
	r.Get("/table/rows", h.tableRows)
	r.Get("/table/events", h.tableEvents)
	r.Post("/map/click", h.click)
	r.Get("/edit", h.getEdit)
	r.Post("/edit/{op:enable|disable|cancel}", h.editOp)
	r.Post("/edit/save", h.save)
	r.Patch("/edit/draft", h.patchDraft)
	return r
}

type handlers struct {
	api    API
	logger *slog.Logger
}

func (h *handlers) getViewport(w http.ResponseWriter, r *http.Request) {
	vp, err := h.api.Viewport(r.Context())
	h.reply(w, r, vp, err)
}

type viewportBody struct {
	BBox string `json:"bbox"`
	Zoom *int   `json:"zoom"`
}

func (h *handlers) putViewport(w http.ResponseWriter, r *http.Request) {
	var body viewportBody
	if !h.decode(w, r, &body) {
		return
	}
	b, err := model.ParseBBox(body.BBox)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Zoom == nil {
		h.fail(w, r, fmt.Errorf("%w: zoom is required", model.ErrInput))
		return
	}
	vp := model.Viewport{Bounds: b, Zoom: *body.Zoom}
	if err := h.api.SetViewport(r.Context(), vp); err != nil {
		h.fail(w, r, err)
		return
	}
	h.getViewport(w, r)
}

func (h *handlers) getLayers(w http.ResponseWriter, r *http.Request) {
	st, err := h.api.Layers(r.Context())
	h.reply(w, r, st, err)
}

func (h *handlers) putVisible(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible bool `json:"visible"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.api.SetLayerVisible(r.Context(), chi.URLParam(r, "id"), body.Visible); err != nil {
		h.fail(w, r, err)
		return
	}
	h.getLayers(w, r)
}

func (h *handlers) putFilters(w http.ResponseWriter, r *http.Request) {
	var f layers.FilterState
	if !h.decode(w, r, &f) {
		return
	}
	out, err := h.api.SetFilters(r.Context(), f)
	h.reply(w, r, out, err)
}

func (h *handlers) deleteFilters(w http.ResponseWriter, r *http.Request) {
	if err := h.api.ResetFilters(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getDatasetKeys(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.api.DatasetKeys(), nil)
}

func (h *handlers) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := h.api.Dataset(r.Context(), chi.URLParam(r, "key"))
	h.reply(w, r, ds, err)
}

func (h *handlers) zoomToRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "rowid"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", model.ErrInput, err))
		return
	}
	vp, err := h.api.ZoomToRow(r.Context(), chi.URLParam(r, "key"), id)
	h.reply(w, r, vp, err)
}

func (h *handlers) table(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	if r.Method == http.MethodGet && op != "state" {
		h.fail(w, r, fmt.Errorf("%w: use POST to change the table", model.ErrInput))
		return
	}
	p, err := h.api.Table(r.Context(), op, r.URL.Query().Get("key"))
	h.reply(w, r, p, err)
}

func (h *handlers) tableRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := crud.ListQuery{Q: q.Get("q")}
	lq.Page, _ = strconv.Atoi(q.Get("page"))
	lq.PageSize, _ = strconv.Atoi(q.Get("pageSize"))
	if raw := q.Get("bbox"); raw != "" {
		b, err := model.ParseBBox(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		lq.BBox = &b
	}
	p, err := h.api.Rows(r.Context(), lq)
	h.reply(w, r, p, err)
}

func (h *handlers) click(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Layer string `json:"layer"`
		Index int    `json:"index"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	snap, err := h.api.Click(r.Context(), body.Layer, body.Index)
	h.reply(w, r, snap, err)
}

func (h *handlers) getEdit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.EditState(r.Context())
	h.reply(w, r, snap, err)
}

func (h *handlers) editOp(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.EditOp(r.Context(), chi.URLParam(r, "op"))
	h.reply(w, r, snap, err)
}

func (h *handlers) patchDraft(w http.ResponseWriter, r *http.Request) {
	var p edit.Patch
	if !h.decode(w, r, &p) {
		return
	}
	snap, err := h.api.PatchDraft(r.Context(), p)
	h.reply(w, r, snap, err)
}

// save answers with the session snapshot in both outcomes so a client can
// show the retained draft next to the error.
func (h *handlers) save(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.Save(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "save failed", "err", err)
		writeJSON(w, statusFor(err), struct {
			Error   string        `json:"error"`
			Session edit.Snapshot `json:"session"`
		}{err.Error(), snap})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
