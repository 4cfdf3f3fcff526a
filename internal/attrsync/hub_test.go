package attrsync

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/mapview"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func feature(g orb.Geometry, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties = props
	return f
}

func TestBuildDataset_RowIDsMatchFeatures(t *testing.T) {
	feats := []*geojson.Feature{
		feature(orb.Point{1, 1}, map[string]any{"name": "a", "id": 7}),
		nil,
		feature(orb.Point{2, 2}, nil),
		feature(orb.Point{3, 3}, map[string]any{"km": 12, "zeta": true, "alpha": 1}),
	}
	ds := BuildDataset(feats)

	if ds.Count != 3 || len(ds.Rows) != 3 || len(ds.Features) != 3 {
		t.Fatalf("count=%d rows=%d features=%d", ds.Count, len(ds.Rows), len(ds.Features))
	}
	for i, row := range ds.Rows {
		id, ok := RowID(row)
		if !ok || id != i {
			t.Fatalf("row %d has rowid %v", i, row[RowIDKey])
		}
		if ds.Features[id].Properties == nil {
			t.Fatalf("feature %d has nil properties", id)
		}
	}
	if ds.Features[2].Properties["km"] != 12 {
		t.Fatalf("row 2 not produced by the third feature")
	}
	want := []string{"id", "km", "alpha", "name", "zeta"}
	if !reflect.DeepEqual(ds.Columns, want) {
		t.Fatalf("columns=%v want %v", ds.Columns, want)
	}
}

func TestRowID_AcceptsJSONShapes(t *testing.T) {
	cases := []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{float64(4), 4, true},
		{4.5, 0, false},
		{"5", 5, true},
		{"x", 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		got, ok := RowID(Row{RowIDKey: c.in})
		if got != c.want || ok != c.ok {
			t.Fatalf("RowID(%v)=%d,%v want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestPush_ReplacesWholesaleAndNotifiesWatchers(t *testing.T) {
	h := New(discard(), "Station", "Km Post")
	changes, stop := h.Watch(4)

	fc := geojson.NewFeatureCollection()
	fc.Append(feature(orb.Point{1, 1}, map[string]any{"id": 1}))
	fc.Append(feature(orb.Point{2, 2}, map[string]any{"id": 2}))
	h.PushFeatureCollection("Station", fc)
	first := h.Datasets()
	h.PushFeatureCollection("Station", collection(feature(orb.Point{3, 3}, map[string]any{"id": 3})))

	for _, want := range []int{2, 1} {
		select {
		case c := <-changes:
			if c.Kind != ChangeDataset || c.Layer != "Station" || c.Rows != want {
				t.Fatalf("change=%+v want dataset Station rows=%d", c, want)
			}
		default:
			t.Fatalf("missing change with rows=%d", want)
		}
	}
	if _, ok := h.Datasets()["Km Post"]; !ok {
		t.Fatalf("other tabs dropped on replace")
	}
	// an earlier map is not mutated by later pushes
	if first["Station"].Count != 2 {
		t.Fatalf("earlier snapshot mutated")
	}

	stop()
	if _, open := <-changes; open {
		t.Fatalf("stop must close the channel")
	}
	h.PushFeatureCollection("Station", nil)
}

func collection(fs ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		fc.Append(f)
	}
	return fc
}

func TestZoomToRow_PublishesAndGuardsStaleRows(t *testing.T) {
	h := New(discard(), "Station")
	var got []ZoomToFeature
	h.SubscribeZoom(func(z ZoomToFeature) { got = append(got, z) })

	fc := geojson.NewFeatureCollection()
	for i := range 3 {
		fc.Append(feature(orb.Point{float64(i), 0}, map[string]any{"id": i}))
	}
	h.PushFeatureCollection("Station", fc)
	ds, _ := h.Dataset("Station")
	stale := ds.Rows[2]

	if !h.ZoomToRow("Station", ds.Rows[1]) {
		t.Fatalf("zoom to row 1 failed")
	}
	if len(got) != 1 || got[0].Feature.Properties["id"] != 1 || got[0].Layer != "Station" {
		t.Fatalf("event=%+v", got)
	}

	h.PushFeatureCollection("Station", collection(feature(orb.Point{9, 9}, nil)))
	if h.ZoomToRow("Station", stale) {
		t.Fatalf("row from a replaced dataset must not resolve")
	}
	if h.ZoomToRow("Unknown", Row{RowIDKey: 0}) || h.ZoomToRowID("Station", -1) {
		t.Fatalf("unknown layer or negative id resolved")
	}
	if len(got) != 1 {
		t.Fatalf("events=%d want 1", len(got))
	}
}

func TestPanel_StateIsIndependent(t *testing.T) {
	h := New(discard(), "Station", "Km Post")
	changes, stop := h.Watch(8)
	defer stop()

	if p := h.Panel(); p.Open || p.Active != "Station" {
		t.Fatalf("initial panel=%+v", p)
	}
	h.Toggle()
	h.SetActive("Km Post")
	h.Hide()
	h.Show()
	if p := h.Panel(); !p.Open || p.Active != "Km Post" {
		t.Fatalf("panel=%+v", p)
	}
	if n := len(changes); n != 4 {
		t.Fatalf("panel changes=%d want 4", n)
	}
	if c := <-changes; c.Kind != ChangePanel || c.Panel == nil || !c.Panel.Open {
		t.Fatalf("first change=%+v", c)
	}
}

func TestZoomRoundTrip_ViewportContainsFeature(t *testing.T) {
	sched := eventloop.NewManual()
	start := model.Viewport{Bounds: model.BBox{West: 60, South: 0, East: 100, North: 40}, Zoom: 4}
	view := mapview.New(discard(), sched, mapview.DefaultConfig(), start)
	h := New(discard(), "Railway Track")
	h.SubscribeZoom(func(z ZoomToFeature) { view.FocusFeature(z.Feature) })

	line := orb.LineString{{77.1, 28.6}, {77.3, 28.7}}
	pt := orb.Point{72.83, 18.94}
	fc := geojson.NewFeatureCollection()
	fc.Append(feature(line, map[string]any{"id": "t1"}))
	fc.Append(feature(pt, map[string]any{"id": "t2"}))
	h.PushFeatureCollection("Railway Track", fc)
	ds, _ := h.Dataset("Railway Track")

	h.ZoomToRow("Railway Track", ds.Rows[0])
	vp := view.Viewport()
	if !vp.Bounds.Contains(line.Bound()) {
		t.Fatalf("viewport %v does not contain %v", vp.Bounds, line.Bound())
	}

	h.ZoomToRow("Railway Track", ds.Rows[1])
	vp = view.Viewport()
	if vp.Zoom < 16 {
		t.Fatalf("point zoom=%d want >= 16", vp.Zoom)
	}
	c := vp.Bounds.Center()
	if abs(c[0]-pt[0]) > 1e-9 || abs(c[1]-pt[1]) > 1e-9 {
		t.Fatalf("point not centred: %v", c)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
