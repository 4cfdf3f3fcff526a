package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	LogSampleN        int // keep 1 in N log events, 0 keeps all
	BackendURL        string
	BackendTimeout    time.Duration
	RedisAddr         string
	CacheOpTimeout    time.Duration
	ResponseCacheSize int
	ResponseCacheTTL  time.Duration
	HighlightDwell    time.Duration
	PointZoomFloor    int
	FitPadding        float64
	InitialView       model.BBox
	InitialZoom       int
	LayerCatalog      string
	Division          string
	StationCode       string
	MetricsEnabled    bool
	Invalidation      InvalidationCfg
}

// DefaultInitialView frames the Indian subcontinent.
var DefaultInitialView = model.BBox{West: 68, South: 6, East: 98, North: 37}

func FromEnv() Config {
	view := DefaultInitialView
	if raw := getenv("INITIAL_VIEW", ""); raw != "" {
		if b, err := model.ParseBBox(raw); err == nil {
			view = b
		}
	}

	return Config{
		Addr:              getenv("ADDR", ":8090"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
		LogSampleN:        getint("LOG_SAMPLE_N", 0),
		BackendURL:        strings.TrimRight(getenv("BACKEND_URL", "http://localhost:3000"), "/"),
		BackendTimeout:    getduration("BACKEND_TIMEOUT", 15*time.Second),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		CacheOpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		ResponseCacheSize: getint("RESPONSE_CACHE_SIZE", 256),
		ResponseCacheTTL:  getduration("RESPONSE_CACHE_TTL", 30*time.Second),
		HighlightDwell:    getduration("HIGHLIGHT_DWELL", 2*time.Second),
		PointZoomFloor:    getint("POINT_ZOOM_FLOOR", 16),
		FitPadding:        getfloat("FIT_PADDING", 0.2),
		InitialView:       view,
		InitialZoom:       getint("INITIAL_ZOOM", 5),
		LayerCatalog:      getenv("LAYER_CATALOG", ""),
		Division:          getenv("DIVISION", ""),
		StationCode:       getenv("STATION_CODE", ""),
		MetricsEnabled:    getbool("METRICS_ENABLED", true),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "layer-changes"),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getenv("KAFKA_GROUP_ID", "layersync-viewer"),
		},
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.InitialZoom < 0 || c.InitialZoom > model.MaxZoom {
		return fmt.Errorf("INITIAL_ZOOM %d outside [0,%d]", c.InitialZoom, model.MaxZoom)
	}
	if c.FitPadding < 0 {
		return fmt.Errorf("FIT_PADDING must be >= 0")
	}
	if c.ResponseCacheSize < 0 {
		return fmt.Errorf("RESPONSE_CACHE_SIZE must be >= 0")
	}
	if c.Invalidation.Enabled && (len(c.Invalidation.Brokers) == 0 || c.Invalidation.Topic == "") {
		return fmt.Errorf("invalidation enabled but KAFKA_BROKERS/KAFKA_TOPIC unset")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// split "a:9092, b:9092" into trimmed non-empty parts
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
