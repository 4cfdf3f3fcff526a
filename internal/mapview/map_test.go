package mapview

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/render"
)

var startVP = model.Viewport{Bounds: model.BBox{West: 10, South: 10, East: 20, North: 20}, Zoom: 9}

func newTestMap(t *testing.T) (*Map, *eventloop.Manual) {
	t.Helper()
	sched := eventloop.NewManual()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, sched, DefaultConfig(), startVP), sched
}

func TestWhenReady_DefersUntilReady(t *testing.T) {
	m, _ := newTestMap(t)
	var order []int
	m.WhenReady(func() { order = append(order, 1) })
	m.WhenReady(func() { order = append(order, 2) })
	if len(order) != 0 {
		t.Fatalf("callbacks ran before ready: %v", order)
	}
	m.SetReady()
	m.WhenReady(func() { order = append(order, 3) })
	if len(order) != 3 || order[0] != 1 || order[2] != 3 {
		t.Fatalf("order=%v want [1 2 3]", order)
	}
}

func TestSetViewport_NotifiesOnlyOnChange(t *testing.T) {
	m, _ := newTestMap(t)
	calls := 0
	sub := m.On(func(model.Viewport) { calls++ })

	if err := m.SetViewport(startVP); err != nil {
		t.Fatalf("SetViewport: %v", err)
	}
	if calls != 0 {
		t.Fatalf("unchanged viewport fired %d events", calls)
	}
	next := startVP
	next.Zoom = 12
	if err := m.SetViewport(next); err != nil {
		t.Fatalf("SetViewport: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
	if !m.Off(sub) || m.Off(sub) {
		t.Fatalf("Off must succeed once")
	}
	next.Zoom = 13
	_ = m.SetViewport(next)
	if calls != 1 {
		t.Fatalf("handler fired after Off")
	}
}

func TestSetViewport_RejectsInvalid(t *testing.T) {
	m, _ := newTestMap(t)
	bad := model.Viewport{Bounds: model.BBox{West: 20, South: 10, East: 10, North: 20}, Zoom: 3}
	if err := m.SetViewport(bad); err == nil {
		t.Fatalf("expected error for inverted bounds")
	}
	if m.Viewport() != startVP {
		t.Fatalf("viewport changed after rejected update")
	}
}

func TestArtifacts_AddIsIdempotent(t *testing.T) {
	m, _ := newTestMap(t)
	a := render.NewArtifact("stations", nil)
	m.AddArtifact(a)
	m.AddArtifact(a)
	if n := len(m.Artifacts()); n != 1 {
		t.Fatalf("artifacts=%d want 1", n)
	}
	m.RemoveArtifact(a)
	m.RemoveArtifact(a)
	if m.HasArtifact(a) {
		t.Fatalf("artifact still present")
	}
}

func TestFocusFeature_FitsPolygonBounds(t *testing.T) {
	m, _ := newTestMap(t)
	poly := orb.Polygon{{{77.10, 28.50}, {77.12, 28.50}, {77.12, 28.52}, {77.10, 28.52}, {77.10, 28.50}}}
	f := geojson.NewFeature(poly)
	if !m.FocusFeature(f) {
		t.Fatalf("FocusFeature returned false")
	}
	vp := m.Viewport()
	if !vp.Bounds.Contains(poly.Bound()) {
		t.Fatalf("viewport %v does not contain %v", vp, poly.Bound())
	}
	if vp.Zoom <= startVP.Zoom {
		t.Fatalf("zoom=%d should have zoomed in from %d", vp.Zoom, startVP.Zoom)
	}
}

func TestFocusFeature_CentresPointAtZoomFloor(t *testing.T) {
	m, _ := newTestMap(t)
	f := geojson.NewFeature(orb.Point{77.2, 28.6})
	if !m.FocusFeature(f) {
		t.Fatalf("FocusFeature returned false")
	}
	vp := m.Viewport()
	if vp.Zoom != 16 {
		t.Fatalf("zoom=%d want 16", vp.Zoom)
	}
	c := vp.Bounds.Center()
	if abs(c[0]-77.2) > 1e-9 || abs(c[1]-28.6) > 1e-9 {
		t.Fatalf("center=%v want [77.2 28.6]", c)
	}
}

func TestFocusFeature_KeepsDeeperZoomForPoints(t *testing.T) {
	m, _ := newTestMap(t)
	deep := startVP
	deep.Zoom = 18
	_ = m.SetViewport(deep)
	m.FocusFeature(geojson.NewFeature(orb.Point{15, 15}))
	if m.Viewport().Zoom != 18 {
		t.Fatalf("zoom=%d want 18", m.Viewport().Zoom)
	}
}

func TestFocusFeature_NilGeometryIsNoop(t *testing.T) {
	m, _ := newTestMap(t)
	if m.FocusFeature(geojson.NewFeature(nil)) {
		t.Fatalf("expected false for nil geometry")
	}
	if m.Highlight() != nil {
		t.Fatalf("no highlight expected")
	}
}

func TestHighlight_RemovedAfterDwell(t *testing.T) {
	m, sched := newTestMap(t)
	m.FocusFeature(geojson.NewFeature(orb.Point{15, 15}))
	if m.Highlight() == nil {
		t.Fatalf("highlight missing")
	}
	sched.Advance(1999 * time.Millisecond)
	if m.Highlight() == nil {
		t.Fatalf("highlight removed early")
	}
	sched.Advance(time.Millisecond)
	if m.Highlight() != nil {
		t.Fatalf("highlight still present after dwell")
	}
}

func TestHighlight_SupersededTimerIsCancelled(t *testing.T) {
	m, sched := newTestMap(t)
	m.FocusFeature(geojson.NewFeature(orb.Point{15, 15}))
	sched.Advance(1500 * time.Millisecond)
	m.FocusFeature(geojson.NewFeature(orb.Point{16, 16}))

	sched.Advance(time.Second)
	if m.Highlight() == nil {
		t.Fatalf("second highlight removed by the first timer")
	}
	sched.Advance(time.Second)
	if m.Highlight() != nil {
		t.Fatalf("second highlight not removed")
	}
	n := 0
	for _, a := range m.Artifacts() {
		if a.ID() == highlightID {
			n++
		}
	}
	if n != 0 {
		t.Fatalf("highlight artifacts left=%d", n)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestFocusFeature_EmptyGeometryIsNoop(t *testing.T) {
	m, _ := newTestMap(t)
	for _, g := range []orb.Geometry{orb.Polygon{}, orb.MultiPoint{}, orb.LineString{}} {
		if m.FocusFeature(geojson.NewFeature(g)) {
			t.Fatalf("FocusFeature(%T{}) returned true", g)
		}
	}
	if m.Viewport() != startVP {
		t.Fatalf("viewport moved to %v", m.Viewport())
	}
	if m.Highlight() != nil {
		t.Fatalf("highlight shown for empty geometry")
	}
}
