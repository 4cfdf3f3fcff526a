package invalidation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/layers"
	"github.com/mohammed-shakir/layersync/internal/logger"
)

// Event outcomes as recorded in metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeOutside   = "outside_view"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Loop runs fn on the viewer's event loop and waits. *eventloop.Loop
// satisfies it.
type Loop interface {
	Do(ctx context.Context, fn func()) error
}

type Refresher interface {
	Layers() []layers.Layer
	RefreshWhere(s layers.Surface, keep func(layers.Layer) bool)
}

// Dropper discards an edit selection invalidated by an external change.
type Dropper interface {
	Drop(layerID, featureID string) bool
}

// Purger forgets cached responses. *spatialquery.Cached satisfies it.
type Purger interface {
	Purge()
}

// Applier force-refreshes the visible layers an event touches.
type Applier struct {
	logger  *slog.Logger
	loop    Loop
	reg     Refresher
	surface layers.Surface
	edits   Dropper
	cache   Purger
	seen    *versionDedupe
}

// NewApplier builds an Applier. edits and cache may be nil.
func NewApplier(logger *slog.Logger, loop Loop, reg Refresher, surface layers.Surface, edits Dropper, cache Purger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		logger:  logger,
		loop:    loop,
		reg:     reg,
		surface: surface,
		edits:   edits,
		cache:   cache,
		seen:    newVersionDedupe(8192),
	}
}

// Apply validates ev, drops redeliveries and stale events, then refreshes on
// the loop every visible layer matching ev.Layer whose view intersects the
// changed region.
func (a *Applier) Apply(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		observability.IncChangeEvent(ev.Op, OutcomeInvalid)
		return fmt.Errorf("validate: %w", err)
	}
	key, version := ev.DedupeKey(), ev.TS.UnixNano()
	if !a.seen.isNew(key, version) {
		observability.IncChangeEvent(ev.Op, OutcomeDuplicate)
		a.logger.Debug("change event skipped", "layer", ev.Layer, "key", key)
		return nil
	}

	outcome := OutcomeApplied
	err := a.loop.Do(ctx, func() {
		a.dropSelection(ctx, ev)
		// Responses cached for other viewports may hold the old row too.
		if a.cache != nil {
			a.cache.Purge()
		}
		if b, ok := ev.Bound(); ok && !a.surface.Viewport().Bounds.Intersects(b) {
			outcome = OutcomeOutside
			return
		}
		a.reg.RefreshWhere(a.surface, func(l layers.Layer) bool {
			return Matches(l.Descriptor(), ev.Layer)
		})
	})
	if err != nil {
		observability.IncChangeEvent(ev.Op, OutcomeError)
		return fmt.Errorf("apply on loop: %w", err)
	}
	a.seen.record(key, version)
	observability.IncChangeEvent(ev.Op, outcome)
	a.logger.DebugContext(logger.WithLayer(ctx, ev.Layer), "change event handled", "op", ev.Op, "outcome", outcome)
	return nil
}

// dropSelection discards the edit draft of the changed feature. ev.Layer may
// be an endpoint or table key, so it is resolved to layer ids first.
func (a *Applier) dropSelection(ctx context.Context, ev Event) {
	if a.edits == nil {
		return
	}
	id, ok := ev.Feature()
	if !ok {
		return
	}
	for _, l := range a.reg.Layers() {
		d := l.Descriptor()
		if Matches(d, ev.Layer) && a.edits.Drop(d.ID, id) {
			a.logger.InfoContext(ctx, "edit selection dropped", "layer", d.ID, "id", id)
		}
	}
}

// Matches reports whether a change to name concerns the layer. The backend
// may name a layer by id, by endpoint or by its table key.
func Matches(d layers.Descriptor, name string) bool {
	return name == d.ID || name == d.Endpoint || name == d.TableKey
}
