package invalidation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/edit"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/fetchgate"
	"github.com/mohammed-shakir/layersync/internal/layers"
	"github.com/mohammed-shakir/layersync/internal/mapview"
	"github.com/mohammed-shakir/layersync/internal/render"
	"github.com/mohammed-shakir/layersync/internal/spatialquery"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type countingQuery struct{ reqs []spatialquery.Request }

func (q *countingQuery) Query(_ context.Context, r spatialquery.Request) (*geojson.FeatureCollection, error) {
	q.reqs = append(q.reqs, r)
	return geojson.NewFeatureCollection(), nil
}

func (q *countingQuery) count(endpoint string) (n, fresh int) {
	for _, r := range q.reqs {
		if r.Endpoint == endpoint {
			n++
			if r.Fresh {
				fresh++
			}
		}
	}
	return n, fresh
}

// inline runs loop work immediately, as the viewer's loop would.
type inline struct{ err error }

func (l inline) Do(_ context.Context, fn func()) error {
	if l.err != nil {
		return l.err
	}
	fn()
	return nil
}

// flaky fails the first n calls to Do.
type flaky struct{ fails int }

func (l *flaky) Do(_ context.Context, fn func()) error {
	if l.fails > 0 {
		l.fails--
		return errors.New("loop busy")
	}
	fn()
	return nil
}

type drops struct{ got []string }

func (d *drops) Drop(layerID, featureID string) bool {
	d.got = append(d.got, layerID+"/"+featureID)
	return true
}

type purges struct{ n int }

func (p *purges) Purge() { p.n++ }

type fixture struct {
	sched *eventloop.Manual
	view  *mapview.Map
	reg   *layers.Registry
	q     *countingQuery
	drops *drops
	cache *purges
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := eventloop.NewManual()
	vp := model.Viewport{Bounds: model.BBox{West: 76, South: 27, East: 79, North: 30}, Zoom: 10}
	view := mapview.New(discard(), sched, mapview.DefaultConfig(), vp)
	view.SetReady()

	q := &countingQuery{}
	deps := layers.Deps{Logger: discard(), Sched: sched, Query: q}
	specs := []layers.Spec{
		{ID: "stations", Endpoint: "stations", Shape: render.Point, Keying: fetchgate.ByBounds, TableKey: "Station"},
		{ID: "tracks", Endpoint: "tracks", Shape: render.Line, Keying: fetchgate.ByBounds},
	}
	ls, err := layers.Build(specs, deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	reg := layers.NewRegistry(discard())
	for _, l := range ls {
		reg.RegisterOnce(l)
	}
	reg.AddAll(view)
	sched.RunAll()
	return &fixture{sched: sched, view: view, reg: reg, q: q, drops: &drops{}, cache: &purges{}}
}

func (f *fixture) applier(loop Loop) *Applier {
	return NewApplier(discard(), loop, f.reg, f.view, f.drops, f.cache)
}

func event(layer string, id any, b *BBox) Event {
	return Event{Version: 1, Op: OpUpdate, Layer: layer, TS: mustTS(), FeatureID: id, BBox: b}
}

func TestApply_RefreshesOnlyMatchingLayer(t *testing.T) {
	f := newFixture(t)
	a := f.applier(inline{})

	ev := event("Station", "42", &BBox{X1: 77, Y1: 28, X2: 77.5, Y2: 28.5})
	if err := a.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.sched.RunAll()

	if n, fresh := f.q.count("stations"); n != 2 || fresh != 1 {
		t.Fatalf("stations queries=%d fresh=%d want 2,1", n, fresh)
	}
	if n, _ := f.q.count("tracks"); n != 1 {
		t.Fatalf("tracks queries=%d want 1", n)
	}
	if len(f.drops.got) != 1 || f.drops.got[0] != "stations/42" {
		t.Fatalf("drops=%v", f.drops.got)
	}
}

func TestApply_OutsideViewDropsSelectionAndPurgesCache(t *testing.T) {
	f := newFixture(t)
	a := f.applier(inline{})

	ev := event("stations", 7.0, &BBox{X1: 10, Y1: 10, X2: 11, Y2: 11})
	if err := a.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.sched.RunAll()

	if n, _ := f.q.count("stations"); n != 1 {
		t.Fatalf("stations queries=%d want 1", n)
	}
	if len(f.drops.got) != 1 || f.drops.got[0] != "stations/7" {
		t.Fatalf("drops=%v", f.drops.got)
	}
	if f.cache.n != 1 {
		t.Fatalf("cache purges=%d want 1", f.cache.n)
	}
}

func TestApply_DropsRedeliveredAndOlderEvents(t *testing.T) {
	f := newFixture(t)
	a := f.applier(inline{})
	ev := event("tracks", nil, nil)

	for range 2 {
		if err := a.Apply(context.Background(), ev); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		f.sched.RunAll()
	}
	older := ev
	older.TS = ev.TS.Add(-1)
	_ = a.Apply(context.Background(), older)
	f.sched.RunAll()

	if n, fresh := f.q.count("tracks"); n != 2 || fresh != 1 {
		t.Fatalf("tracks queries=%d fresh=%d want 2,1", n, fresh)
	}
	if f.cache.n != 1 {
		t.Fatalf("cache purges=%d want 1", f.cache.n)
	}
}

func TestApply_InvalidAndLoopErrors(t *testing.T) {
	f := newFixture(t)

	bad := event("tracks", nil, nil)
	bad.Version = 0
	if err := f.applier(inline{}).Apply(context.Background(), bad); !errors.Is(err, model.ErrInput) {
		t.Fatalf("invalid err=%v", err)
	}

	stopped := errors.New("stopped")
	if err := f.applier(inline{err: stopped}).Apply(context.Background(), event("tracks", nil, nil)); !errors.Is(err, stopped) {
		t.Fatalf("loop err=%v", err)
	}
}

func TestMatches(t *testing.T) {
	d := layers.Descriptor{ID: "landplan_ontrack", Endpoint: "land_plan_on_track", TableKey: "Land Plan Ontrack"}
	for _, name := range []string{"landplan_ontrack", "land_plan_on_track", "Land Plan Ontrack"} {
		if !Matches(d, name) {
			t.Fatalf("Matches(%q)=false", name)
		}
	}
	if Matches(d, "tracks") {
		t.Fatalf("matched unrelated name")
	}
}

func TestApply_RedeliveryAfterLoopFailureStillRefreshes(t *testing.T) {
	f := newFixture(t)
	a := f.applier(&flaky{fails: 1})
	ev := event("stations", "42", nil)

	if err := a.Apply(context.Background(), ev); err == nil {
		t.Fatalf("first Apply must report the loop failure")
	}
	if err := a.Apply(context.Background(), ev); err != nil {
		t.Fatalf("redelivered Apply: %v", err)
	}
	f.sched.RunAll()

	if n, fresh := f.q.count("stations"); n != 2 || fresh != 1 {
		t.Fatalf("stations queries=%d fresh=%d want 2,1", n, fresh)
	}
	if err := a.Apply(context.Background(), ev); err != nil {
		t.Fatalf("third Apply: %v", err)
	}
	f.sched.RunAll()
	if n, _ := f.q.count("stations"); n != 2 {
		t.Fatalf("applied event was not deduplicated, queries=%d", n)
	}
}

func TestApply_TableKeyEventDropsEditDraft(t *testing.T) {
	f := newFixture(t)
	s := edit.New(discard(), f.sched, nil, nil, edit.Config{Layers: []string{"stations"}})
	s.Enable()
	feat := geojson.NewFeature(orb.Point{77.2, 28.6})
	feat.Properties["id"] = float64(42)
	if !s.Select("stations", feat) {
		t.Fatalf("select failed")
	}

	a := NewApplier(discard(), inline{}, f.reg, f.view, s, nil)
	if err := a.Apply(context.Background(), event("Station", "42", nil)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.sched.RunAll()

	if s.Feature() != nil || s.State() != edit.Enabled {
		t.Fatalf("draft survived external change: state=%v", s.State())
	}
}
