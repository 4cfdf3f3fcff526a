package layers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/fetchgate"
	"github.com/mohammed-shakir/layersync/internal/logger"
	"github.com/mohammed-shakir/layersync/internal/mapview"
	"github.com/mohammed-shakir/layersync/internal/render"
	"github.com/mohammed-shakir/layersync/internal/spatialquery"
)

// painter turns one feature into a drawn shape. Each variant has its own.
type painter interface {
	paint(f *geojson.Feature) render.Shape
}

// Deps are the collaborators shared by every layer.
type Deps struct {
	Logger   *slog.Logger
	Sched    eventloop.Scheduler
	Query    spatialquery.Querier
	Sink     Sink
	Selector Selector
	Filters  *FilterState
	Timeout  time.Duration
}

// base is the reconcile state machine shared by all variants. All methods
// run on the event loop.
type base struct {
	spec    Spec
	deps    Deps
	logger  *slog.Logger
	painter painter

	visible  bool
	gate     fetchgate.Gate
	fresh    bool
	data     *geojson.FeatureCollection
	artifact *render.Artifact
	state    RenderState
	fitted   bool
	lastErr  error

	surface Surface
	sub     mapview.Subscription

	cancel context.CancelFunc
}

func newBase(spec Spec, deps Deps, p painter) *base {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 15 * time.Second
	}
	b := &base{
		spec:    spec,
		deps:    deps,
		logger:  deps.Logger.With("layer", spec.ID),
		painter: p,
		visible: spec.visibleByDefault(),
	}
	var interact func(*geojson.Feature)
	if spec.Interactive {
		interact = b.onClick
	}
	b.artifact = render.NewArtifact(spec.ID, interact)
	return b
}

func (b *base) Descriptor() Descriptor {
	return Descriptor{
		ID:            b.spec.ID,
		Title:         b.spec.Title,
		MinRenderZoom: b.spec.MinRenderZoom,
		Legend:        b.spec.legend(),
		Visible:       b.visible,
		TableKey:      b.spec.tableKey(),
		Endpoint:      b.spec.Endpoint,
	}
}

func (b *base) Surface() Surface { return b.surface }

func (b *base) State() RenderState { return b.state }

func (b *base) SetVisible(v bool) { b.visible = v }

func (b *base) Invalidate() {
	b.gate.Reset()
	b.fresh = true
}

// Artifact exposes the drawn shapes, mainly for tests and the HTTP view.
func (b *base) Artifact() *render.Artifact { return b.artifact }

func (b *base) Status() Status {
	st := Status{
		Descriptor: b.Descriptor(),
		State:      b.state,
		IssuedKey:  b.gate.Issued(),
		AppliedKey: b.gate.AppliedKey(),
		Drawn:      b.artifact.Len(),
		Attached:   b.surface != nil,
		Inflight:   b.cancel != nil,
	}
	if b.data != nil {
		st.Features = len(b.data.Features)
	}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

func (b *base) Attach(s Surface) error {
	if s == nil {
		return errors.New("attach: nil surface")
	}
	if !b.visible {
		return nil
	}
	if b.surface != nil && b.surface != s {
		if err := b.Detach(b.surface); err != nil {
			return err
		}
	}
	if b.surface == nil {
		b.surface = s
		b.sub = s.On(func(model.Viewport) {
			if err := b.Reconcile(s); err != nil {
				b.logger.Warn("reconcile on view change", "err", err)
			}
		})
	}
	s.AddArtifact(b.artifact)
	return b.Reconcile(s)
}

func (b *base) Detach(s Surface) error {
	if s == nil {
		return nil
	}
	if b.surface == s {
		s.Off(b.sub)
		b.surface = nil
		b.sub = ""
		if b.cancel != nil {
			b.cancel()
			b.cancel = nil
			b.gate.Abandon()
		}
	}
	s.RemoveArtifact(b.artifact)
	b.state = Off
	return nil
}

func (b *base) Reconcile(s Surface) error {
	if s == nil {
		return errors.New("reconcile: nil surface")
	}
	if !b.visible {
		s.RemoveArtifact(b.artifact)
		b.state = Off
		return nil
	}

	vp := s.Viewport()
	if err := vp.Validate(); err != nil {
		b.lastErr = err
		return err
	}
	s.AddArtifact(b.artifact)

	params := b.spec.keying().ParamsFor(b.spec.ID, vp, b.spec.ZoomFloor, b.filters())
	req := spatialquery.NewRequest(b.spec.Endpoint, params, b.spec.limit())

	ticket, ok := b.gate.Admit(req.Key)
	if !ok {
		observability.IncLayerFetch(b.spec.ID, observability.FetchSkipped)
		b.repaint(vp.Zoom)
		return nil
	}
	req.Fresh = b.fresh
	b.fresh = false
	b.issue(s, ticket, req)
	return nil
}

func (b *base) filters() map[string]string {
	if b.deps.Filters == nil {
		return nil
	}
	return b.deps.Filters.Values(b.spec.Filters)
}

func (b *base) issue(s Surface, ticket fetchgate.Ticket, req spatialquery.Request) {
	if b.cancel != nil {
		b.cancel()
	}
	ctx := logger.WithFetchKey(logger.WithLayer(context.Background(), b.spec.ID), req.Key)
	ctx, cancel := context.WithTimeout(ctx, b.deps.Timeout)
	b.cancel = cancel

	observability.IncLayerFetch(b.spec.ID, observability.FetchIssued)
	b.logger.DebugContext(ctx, "issue layer query", "endpoint", req.Endpoint, "fresh", req.Fresh)

	var (
		fc  *geojson.FeatureCollection
		err error
	)
	start := time.Now()
	b.deps.Sched.Async(ctx, func(ctx context.Context) {
		fc, err = b.deps.Query.Query(ctx, req)
	}, func() {
		cancel()
		b.complete(ctx, s, ticket, fc, err, time.Since(start))
	})
}

func (b *base) complete(ctx context.Context, s Surface, t fetchgate.Ticket, fc *geojson.FeatureCollection, err error, took time.Duration) {
	if !b.gate.Current(t) {
		observability.IncLayerFetch(b.spec.ID, observability.FetchStale)
		b.logger.DebugContext(ctx, "discard stale response")
		return
	}
	b.cancel = nil
	observability.ObserveLayerFetch(b.spec.ID, took.Seconds())

	if err != nil {
		b.gate.Failed(t)
		b.lastErr = err
		observability.IncLayerFetch(b.spec.ID, observability.FetchFailed)
		b.logger.WarnContext(ctx, "layer query failed", "err", err)
		return
	}

	b.gate.Applied(t)
	b.lastErr = nil
	b.data = normalized(fc)
	observability.IncLayerFetch(b.spec.ID, observability.FetchApplied)

	if b.deps.Sink != nil {
		b.deps.Sink.PushFeatureCollection(b.spec.tableKey(), b.data)
	}
	if !b.visible || b.surface == nil {
		return
	}
	b.repaint(s.Viewport().Zoom)
	b.fitOnce(s)
}

// repaint applies render gating to the data already held.
func (b *base) repaint(zoom int) {
	if zoom < b.spec.MinRenderZoom {
		b.artifact.Clear()
		b.state = FetchedHiddenByZoom
		return
	}
	b.state = Rendering
	if b.data == nil {
		b.artifact.Clear()
		return
	}
	shapes := make([]render.Shape, 0, len(b.data.Features))
	for _, f := range b.data.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		sh := b.painter.paint(f)
		sh.Popup = b.spec.Popup.Render(f)
		sh.Feature = f
		shapes = append(shapes, sh)
	}
	b.artifact.Draw(shapes)
}

// fitOnce frames the surface on the collection's extent the first time one
// arrives, for layers that ask for it.
func (b *base) fitOnce(s Surface) {
	if !b.spec.FitToExtent || b.fitted {
		return
	}
	ext, ok := model.Extent(b.data)
	if !ok {
		return
	}
	b.fitted = true
	if err := s.FitBounds(ext.Bound(), 0); err != nil {
		b.logger.Warn("fit to extent", "err", err)
	}
}

func (b *base) onClick(f *geojson.Feature) {
	if b.deps.Selector == nil || f == nil {
		return
	}
	b.deps.Selector.Select(b.spec.ID, f)
}

func normalized(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	out.ExtraMembers = fc.ExtraMembers
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		out.Features = append(out.Features, model.Normalize(f))
	}
	return out
}
