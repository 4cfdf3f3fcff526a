package layers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

// Registry owns the ordered set of layers. Order is registration order and
// defines draw and attach order. It must only be used from the event loop.
type Registry struct {
	logger *slog.Logger
	layers []Layer
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// RegisterOnce inserts l, or replaces the layer with the same id in place.
// A replaced layer that was attached is detached and l attached to the same
// surface. It returns the replaced layer, if any.
func (r *Registry) RegisterOnce(l Layer) Layer {
	id := l.Descriptor().ID
	i := r.index(id)
	if i < 0 {
		r.layers = append(r.layers, l)
		return nil
	}
	old := r.layers[i]
	r.layers[i] = l
	if s := old.Surface(); s != nil {
		r.guard(old, "detach", func() error { return old.Detach(s) })
		r.guard(l, "attach", func() error { return l.Attach(s) })
	}
	return old
}

func (r *Registry) Layers() []Layer { return slices.Clone(r.layers) }

func (r *Registry) Get(id string) (Layer, bool) {
	if i := r.index(id); i >= 0 {
		return r.layers[i], true
	}
	return nil, false
}

func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l.Status())
	}
	return out
}

func (r *Registry) AddAll(s Surface) {
	r.whenReady(s, func() { r.each("attach", nil, func(l Layer) error { return l.Attach(s) }) })
}

func (r *Registry) RemoveAll(s Surface) {
	r.whenReady(s, func() { r.each("detach", nil, func(l Layer) error { return l.Detach(s) }) })
}

func (r *Registry) ReloadAll(s Surface) {
	r.whenReady(s, func() { r.each("reconcile", nil, func(l Layer) error { return l.Reconcile(s) }) })
}

func (r *Registry) ReloadVisible(s Surface) {
	r.whenReady(s, func() { r.each("reconcile", visible, func(l Layer) error { return l.Reconcile(s) }) })
}

// ApplyVisibility attaches visible layers and detaches the rest.
func (r *Registry) ApplyVisibility(s Surface) {
	r.whenReady(s, func() {
		r.each("apply visibility", nil, func(l Layer) error {
			if l.Descriptor().Visible {
				return l.Attach(s)
			}
			return l.Detach(s)
		})
	})
}

// RefreshVisible refetches every visible layer even when its key is
// unchanged, bypassing response caches. Used after a write.
func (r *Registry) RefreshVisible(s Surface) {
	r.whenReady(s, func() {
		r.each("refresh", visible, func(l Layer) error {
			l.Invalidate()
			return l.Reconcile(s)
		})
	})
}

// RefreshWhere refetches visible layers matching keep.
func (r *Registry) RefreshWhere(s Surface, keep func(Layer) bool) {
	r.whenReady(s, func() {
		r.each("refresh", func(l Layer) bool { return visible(l) && keep(l) }, func(l Layer) error {
			l.Invalidate()
			return l.Reconcile(s)
		})
	})
}

// SetVisible toggles one layer and applies it to s.
func (r *Registry) SetVisible(s Surface, id string, v bool) error {
	l, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: layer %q", model.ErrNotFound, id)
	}
	l.SetVisible(v)
	r.whenReady(s, func() {
		r.guard(l, "apply visibility", func() error {
			if v {
				return l.Attach(s)
			}
			return l.Detach(s)
		})
	})
	return nil
}

func visible(l Layer) bool { return l.Descriptor().Visible }

func (r *Registry) whenReady(s Surface, fn func()) {
	if s == nil {
		r.logger.Error("registry operation without a surface")
		return
	}
	s.WhenReady(fn)
}

func (r *Registry) each(op string, keep func(Layer) bool, fn func(Layer) error) {
	for _, l := range slices.Clone(r.layers) {
		if keep != nil && !keep(l) {
			continue
		}
		r.guard(l, op, func() error { return fn(l) })
	}
}

// guard runs one layer operation, logging its error or panic as that
// layer's failure only.
func (r *Registry) guard(l Layer, op string, fn func() error) {
	id := "?"
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("layer operation panicked", "layer", id, "op", op, "panic", rec)
		}
	}()
	id = l.Descriptor().ID
	if err := fn(); err != nil {
		level := slog.LevelError
		if errors.Is(err, model.ErrInput) {
			level = slog.LevelWarn
		}
		r.logger.Log(context.Background(), level, "layer operation failed", "layer", id, "op", op, "err", err)
	}
}

func (r *Registry) index(id string) int {
	return slices.IndexFunc(r.layers, func(l Layer) bool { return l.Descriptor().ID == id })
}
