package spatialquery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(discard(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

const twoStations = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[77.2,28.6]},"properties":{"id":1,"code":"NDLS"}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[72.8,19.0]},"properties":{"id":2,"code":"CSTM"}}]}`

func TestQuery_SendsBBoxZoomAndFilters(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, twoStations)
	})

	b := model.BBox{West: 68, South: 6, East: 97, North: 37}
	z := 7
	fc, err := c.Query(context.Background(), Request{
		Endpoint: "stations",
		BBox:     &b,
		Zoom:     &z,
		Filters:  map[string]string{"division": "DLI", "code": ""},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d want 2", len(fc.Features))
	}
	if gotPath != "/api/stations" {
		t.Fatalf("path=%q", gotPath)
	}
	for _, want := range []string{"bbox=68.000000%2C6.000000%2C97.000000%2C37.000000", "z=7", "division=DLI"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
	if strings.Contains(gotQuery, "code=") {
		t.Fatalf("blank filter should be omitted: %q", gotQuery)
	}
}

func TestQuery_BadRequestIsInputError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid bbox, use minX,minY,maxX,maxY (EPSG:4326)"}`)
	})

	_, err := c.Query(context.Background(), Request{Endpoint: "tracks"})
	if !errors.Is(err, model.ErrInput) {
		t.Fatalf("err=%v want ErrInput", err)
	}
	if !strings.Contains(err.Error(), "invalid bbox") {
		t.Fatalf("backend message lost: %v", err)
	}
}

func TestQuery_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	})
	_, err := c.Query(context.Background(), Request{Endpoint: "tracks"})
	if !errors.Is(err, model.ErrTransientFetch) {
		t.Fatalf("err=%v want ErrTransientFetch", err)
	}
}

func TestQuery_NotFoundIsTransientForLayers(t *testing.T) {
	c := newTestClient(t, http.NotFound)
	_, err := c.Query(context.Background(), Request{Endpoint: "tracks"})
	if !errors.Is(err, model.ErrTransientFetch) || errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err=%v want transient only", err)
	}
}

func TestQuery_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(discard(), nil, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Query(context.Background(), Request{Endpoint: "tracks"}); !errors.Is(err, model.ErrTransientFetch) {
		t.Fatalf("err=%v want ErrTransientFetch", err)
	}
}

func TestQuery_InvalidBBoxNeverLeaves(t *testing.T) {
	called := false
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) { called = true })
	b := model.BBox{West: 10, South: 0, East: 5, North: 1}
	if _, err := c.Query(context.Background(), Request{Endpoint: "tracks", BBox: &b}); !errors.Is(err, model.ErrInput) {
		t.Fatalf("err=%v want ErrInput", err)
	}
	if called {
		t.Fatalf("invalid bbox reached the backend")
	}
}

func TestQuery_EnvelopeAndAttributes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"geojson":{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"attributes":{"id":9}}}`)
	})
	fc, err := c.Query(context.Background(), Request{Endpoint: "km_posts"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties["id"] != float64(9) {
		t.Fatalf("unexpected decode: %+v", fc.Features)
	}
}

func TestQuery_LimitCapsFeatures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, twoStations)
	})
	fc, err := c.Query(context.Background(), Request{Endpoint: "stations", Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features=%d want 1", len(fc.Features))
	}
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(discard(), nil, "localhost:3000"); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
