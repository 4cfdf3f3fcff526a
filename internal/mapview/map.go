// Package mapview is a headless viewport controller: it owns the live
// viewport, fires view-change events, and hosts the artifacts layers draw.
package mapview

import (
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/render"
)

// Subscription identifies one view-change handler.
type Subscription string

type Config struct {
	Padding        float64
	PointZoomFloor int
	HighlightDwell time.Duration
}

func DefaultConfig() Config {
	return Config{Padding: 0.2, PointZoomFloor: 16, HighlightDwell: 2 * time.Second}
}

type subscriber struct {
	id Subscription
	fn func(model.Viewport)
}

// Map must only be used from the event loop.
type Map struct {
	logger *slog.Logger
	sched  eventloop.Scheduler
	cfg    Config

	vp        model.Viewport
	ready     bool
	readyFns  []func()
	subs      []subscriber
	artifacts []*render.Artifact

	highlight      *render.Artifact
	highlightTimer eventloop.Timer
}

func New(logger *slog.Logger, sched eventloop.Scheduler, cfg Config, initial model.Viewport) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HighlightDwell <= 0 {
		cfg.HighlightDwell = 2 * time.Second
	}
	return &Map{logger: logger, sched: sched, cfg: cfg, vp: initial}
}

func (m *Map) Viewport() model.Viewport { return m.vp }

func (m *Map) Ready() bool { return m.ready }

// WhenReady runs fn now if the map is ready, otherwise once it becomes ready.
func (m *Map) WhenReady(fn func()) {
	if m.ready {
		fn()
		return
	}
	m.readyFns = append(m.readyFns, fn)
}

// SetReady marks the surface ready and flushes deferred callbacks in order.
func (m *Map) SetReady() {
	if m.ready {
		return
	}
	m.ready = true
	fns := m.readyFns
	m.readyFns = nil
	for _, fn := range fns {
		fn()
	}
}

// On registers a view-change handler.
func (m *Map) On(fn func(model.Viewport)) Subscription {
	id := Subscription(uuid.NewString())
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return id
}

func (m *Map) Off(id Subscription) bool {
	for i, s := range m.subs {
		if s.id == id {
			m.subs = slices.Delete(m.subs, i, i+1)
			return true
		}
	}
	return false
}

func (m *Map) SubscriberCount() int { return len(m.subs) }

// SetViewport moves the view and notifies subscribers when it changed.
func (m *Map) SetViewport(vp model.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	if vp == m.vp {
		return nil
	}
	m.vp = vp
	subs := slices.Clone(m.subs)
	for _, s := range subs {
		s.fn(vp)
	}
	return nil
}

func (m *Map) AddArtifact(a *render.Artifact) {
	if a == nil || m.HasArtifact(a) {
		return
	}
	m.artifacts = append(m.artifacts, a)
}

func (m *Map) RemoveArtifact(a *render.Artifact) {
	if i := slices.Index(m.artifacts, a); i >= 0 {
		m.artifacts = slices.Delete(m.artifacts, i, i+1)
	}
}

func (m *Map) HasArtifact(a *render.Artifact) bool {
	return slices.Contains(m.artifacts, a)
}

// Artifacts returns the artifacts on the map in z-order.
func (m *Map) Artifacts() []*render.Artifact { return slices.Clone(m.artifacts) }

func (m *Map) Artifact(id string) (*render.Artifact, bool) {
	for _, a := range m.artifacts {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// Click simulates a user clicking the i-th shape of an artifact on the map.
func (m *Map) Click(artifactID string, i int) bool {
	a, ok := m.Artifact(artifactID)
	if !ok {
		return false
	}
	return a.Click(i)
}

// FitBounds moves the view so that b, grown by pad on every side, is visible.
func (m *Map) FitBounds(b orb.Bound, pad float64) error {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	w, h = w*(1+2*pad), h*(1+2*pad)
	z := fitZoom(w, h)
	return m.SetViewport(model.Viewport{Bounds: window(b.Center(), z), Zoom: z})
}

// SetView centres the view on c at zoom z.
func (m *Map) SetView(c orb.Point, z int) error {
	z = min(max(z, 0), model.MaxZoom)
	return m.SetViewport(model.Viewport{Bounds: window(c, z), Zoom: z})
}

func span(z int) (float64, float64) {
	f := math.Exp2(float64(z))
	return 360 / f, 180 / f
}

// fitZoom is the deepest zoom whose view span still covers w x h degrees.
func fitZoom(w, h float64) int {
	for z := model.MaxZoom; z > 0; z-- {
		sw, sh := span(z)
		if sw >= w && sh >= h {
			return z
		}
	}
	return 0
}

// window is the view of zoom z centred on c, shifted back inside the world.
func window(c orb.Point, z int) model.BBox {
	sw, sh := span(z)
	west, east := shiftInto(c[0]-sw/2, c[0]+sw/2, -180, 180)
	south, north := shiftInto(c[1]-sh/2, c[1]+sh/2, -90, 90)
	return model.BBox{West: west, South: south, East: east, North: north}
}

func shiftInto(lo, hi, minV, maxV float64) (float64, float64) {
	if lo < minV {
		hi += minV - lo
		lo = minV
	}
	if hi > maxV {
		lo -= hi - maxV
		hi = maxV
	}
	return max(lo, minV), min(hi, maxV)
}
