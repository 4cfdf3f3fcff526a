package invalidation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_BBoxAndPolygonMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: OpUpdate, Layer: "stations", TS: mustTS(),
		BBox:     &BBox{X1: 77, Y1: 28, X2: 78, Y2: 29, SRID: "EPSG:4326"},
		Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[77,28],[78,28],[78,29],[77,29],[77,28]]]}`),
	}
	if err := ev.Validate(); !errors.Is(err, model.ErrInput) {
		t.Fatalf("expected ErrInput when both bbox and geometry are set, got %v", err)
	}
}

func TestEvent_Validate_HappyPaths(t *testing.T) {
	evs := []Event{
		{Version: 1, Op: OpDelete, Layer: "stations", TS: mustTS(), FeatureID: 42.0,
			BBox: &BBox{X1: 77, Y1: 28, X2: 78, Y2: 29, SRID: "EPSG:4326"}},
		{Version: 1, Op: OpInsert, Layer: "stations", TS: mustTS(),
			Geometry: json.RawMessage(`{"type":"Point","coordinates":[77.2,28.6]}`)},
		{Version: 1, Op: OpUpdate, Layer: "tracks", TS: mustTS()},
	}
	for i, ev := range evs {
		if err := ev.Validate(); err != nil {
			t.Fatalf("event %d: unexpected: %v", i, err)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	evs := []Event{
		{Version: 2, Op: OpUpdate, Layer: "stations", TS: mustTS()},
		{Version: 1, Op: "upsert", Layer: "stations", TS: mustTS()},
		{Version: 1, Op: OpUpdate, Layer: " ", TS: mustTS()},
		{Version: 1, Op: OpUpdate, Layer: "stations"},
		{Version: 1, Op: OpUpdate, Layer: "stations", TS: mustTS(), BBox: &BBox{X1: 11, Y1: 55, X2: 11, Y2: 56}},
		{Version: 1, Op: OpUpdate, Layer: "stations", TS: mustTS(), BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:3857"}},
		{Version: 1, Op: OpUpdate, Layer: "stations", TS: mustTS(), Geometry: json.RawMessage(`{"type":"Blob"}`)},
	}
	for i, ev := range evs {
		if err := ev.Validate(); err == nil {
			t.Fatalf("event %d: expected error", i)
		}
	}
}

func TestEvent_BoundAndFeature(t *testing.T) {
	ev := Event{Layer: "stations", FeatureID: "42",
		Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[77,28],[78,29]]}`)}
	b, ok := ev.Bound()
	if !ok || b.Min[0] != 77 || b.Max[1] != 29 {
		t.Fatalf("bound=%v ok=%v", b, ok)
	}
	if ev.DedupeKey() != "stations/42" {
		t.Fatalf("key=%q", ev.DedupeKey())
	}
	if _, ok := (Event{Layer: "tracks"}).Bound(); ok {
		t.Fatalf("layer-wide event has a bound")
	}
	if (Event{Layer: "tracks"}).DedupeKey() != "tracks" {
		t.Fatalf("layer-wide key")
	}
}
