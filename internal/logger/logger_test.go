package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return m
}

func TestSlogBridge_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "viewer"}, &buf)
	log := NewSlog(&zl)

	ctx := WithFetchKey(WithLayer(context.Background(), "stations"), "stations:bbox=1")
	log.WarnContext(ctx, "fetch failed", "err", errors.New("boom"), "n", 3)

	m := decodeLine(t, &buf)
	if m["layer"] != "stations" || m["fetch_key"] != "stations:bbox=1" {
		t.Fatalf("context fields missing: %v", m)
	}
	if m["component"] != "viewer" || m["level"] != "warn" || m["msg"] != "fetch failed" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["err"] != "boom" {
		t.Fatalf("err=%v want boom", m["err"])
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)

	log.Debug("dropped")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	log.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("error record missing: %q", buf.String())
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	id, _ := ctx.Value(ctxReqIDKey).(string)
	if len(id) != 36 {
		t.Fatalf("want uuid, got %q", id)
	}
	if got := WithLayer(ctx, ""); got != ctx {
		t.Fatalf("empty layer should not wrap context")
	}
}
