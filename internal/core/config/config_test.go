package config

import (
	"testing"
	"time"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "BACKEND_URL", "INITIAL_VIEW", "HIGHLIGHT_DWELL", "KAFKA_BROKERS", "REDIS_ADDR", "LOG_SAMPLE_N"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Addr != ":8090" || c.HighlightDwell != 2*time.Second || c.PointZoomFloor != 16 || c.FitPadding != 0.2 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.InitialView != DefaultInitialView {
		t.Fatalf("initial view=%v", c.InitialView)
	}
	if c.RedisAddr != "" {
		t.Fatalf("redis tier should be off by default")
	}
	if c.LogSampleN != 0 {
		t.Fatalf("log sampling should be off by default, got %d", c.LogSampleN)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://api.local:3000/")
	t.Setenv("INITIAL_VIEW", "72,18,74,20")
	t.Setenv("KAFKA_BROKERS", " a:9092 ,, b:9092 ")
	t.Setenv("INVALIDATION_ENABLED", "yes")
	t.Setenv("HIGHLIGHT_DWELL", "500ms")
	t.Setenv("LOG_SAMPLE_N", "10")

	c := FromEnv()
	if c.BackendURL != "http://api.local:3000" {
		t.Fatalf("backend url=%q", c.BackendURL)
	}
	if c.InitialView != (model.BBox{West: 72, South: 18, East: 74, North: 20}) {
		t.Fatalf("initial view=%v", c.InitialView)
	}
	if len(c.Invalidation.Brokers) != 2 || c.Invalidation.Brokers[1] != "b:9092" || !c.Invalidation.Enabled {
		t.Fatalf("invalidation=%+v", c.Invalidation)
	}
	if c.HighlightDwell != 500*time.Millisecond {
		t.Fatalf("dwell=%v", c.HighlightDwell)
	}
	if c.LogSampleN != 10 {
		t.Fatalf("log sample=%d", c.LogSampleN)
	}
}

func TestFromEnv_BadInitialViewFallsBack(t *testing.T) {
	t.Setenv("INITIAL_VIEW", "1,2,3")
	if c := FromEnv(); c.InitialView != DefaultInitialView {
		t.Fatalf("want default view, got %v", c.InitialView)
	}
}

func TestValidate_RejectsBadZoom(t *testing.T) {
	t.Setenv("INITIAL_ZOOM", "40")
	if err := FromEnv().Validate(); err == nil {
		t.Fatalf("expected error for zoom 40")
	}
}
