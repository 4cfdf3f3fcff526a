package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	eventBuffer   = 32
	eventKeepOpen = 25 * time.Second
)

// tableEvents streams attribute table changes as server-sent events until the
// client goes away.
func (h *handlers) tableEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	changes, stop := h.api.WatchTable(eventBuffer)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(r.Context(), "event stream unsupported", "err", err)
		return
	}

	tick := time.NewTicker(eventKeepOpen)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			b, err := json.Marshal(c)
			if err != nil {
				h.logger.ErrorContext(r.Context(), "encode table change", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Kind, b); err != nil {
				return
			}
		case <-tick.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
