// Package attrsync keeps the attribute table in step with the map layers and
// relays zoom-to-feature requests from the table back to the viewport.
package attrsync

import (
	"log/slog"
	"maps"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/pubsub"
)

// ZoomToFeature asks the viewport to bring a feature into view.
type ZoomToFeature struct {
	Layer   string
	Feature *geojson.Feature
}

// Panel is the attribute table's own visibility state.
type Panel struct {
	Open   bool   `json:"open"`
	Active string `json:"active"`
}

// Change kinds.
const (
	ChangeDataset = "dataset"
	ChangePanel   = "panel"
)

// Change tells table watchers what moved. Dataset changes carry the layer key
// and row count; the rows themselves are read with Dataset.
type Change struct {
	Kind  string `json:"kind"`
	Layer string `json:"layer,omitempty"`
	Rows  int    `json:"rows"`
	Panel *Panel `json:"panel,omitempty"`
}

// Hub owns the dataset map. Other components only read it.
type Hub struct {
	logger   *slog.Logger
	tabs     []string
	datasets map[string]Dataset
	panel    Panel

	changes   *pubsub.Topic[Change]
	zoomTopic *pubsub.Topic[ZoomToFeature]
}

// New seeds an empty dataset for each tab. The first tab starts active.
func New(logger *slog.Logger, tabs ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:    logger,
		tabs:      tabs,
		datasets:  make(map[string]Dataset, len(tabs)),
		changes:   pubsub.NewTopic[Change](),
		zoomTopic: pubsub.NewTopic[ZoomToFeature](),
	}
	for _, t := range tabs {
		h.datasets[t] = BuildDataset(nil)
	}
	if len(tabs) > 0 {
		h.panel.Active = tabs[0]
	}
	return h
}

func (h *Hub) Tabs() []string { return append([]string(nil), h.tabs...) }

// PushFeatureCollection replaces the dataset for layerKey wholesale.
func (h *Hub) PushFeatureCollection(layerKey string, fc *geojson.FeatureCollection) {
	var feats []*geojson.Feature
	if fc != nil {
		feats = fc.Features
	}
	h.replace(layerKey, BuildDataset(feats))
}

func (h *Hub) replace(layerKey string, ds Dataset) {
	next := maps.Clone(h.datasets)
	next[layerKey] = ds
	h.datasets = next
	h.logger.Debug("dataset replaced", "layer", layerKey, "rows", ds.Count, "columns", len(ds.Columns))
	h.changes.Publish(Change{Kind: ChangeDataset, Layer: layerKey, Rows: ds.Count})
}

func (h *Hub) Dataset(layerKey string) (Dataset, bool) {
	ds, ok := h.datasets[layerKey]
	return ds, ok
}

// Datasets returns the current dataset map. It is replaced, never mutated, so
// holding it is safe.
func (h *Hub) Datasets() map[string]Dataset { return h.datasets }

// ZoomToRow resolves the row against the stored dataset and publishes a
// zoom request. Rows from a dataset that has since been replaced with fewer
// features resolve to nothing and publish nothing.
func (h *Hub) ZoomToRow(layerKey string, row Row) bool {
	idx, ok := RowID(row)
	if !ok {
		return false
	}
	return h.ZoomToRowID(layerKey, idx)
}

func (h *Hub) ZoomToRowID(layerKey string, idx int) bool {
	ds, ok := h.datasets[layerKey]
	if !ok || idx < 0 || idx >= len(ds.Features) {
		h.logger.Debug("zoom to row ignored", "layer", layerKey, "rowid", idx)
		return false
	}
	observability.IncZoomTo(layerKey)
	h.zoomTopic.Publish(ZoomToFeature{Layer: layerKey, Feature: ds.Features[idx]})
	return true
}

func (h *Hub) Panel() Panel { return h.panel }

func (h *Hub) SetActive(layerKey string) { h.setPanel(Panel{Open: h.panel.Open, Active: layerKey}) }
func (h *Hub) Toggle()                   { h.setPanel(Panel{Open: !h.panel.Open, Active: h.panel.Active}) }
func (h *Hub) Show()                     { h.setPanel(Panel{Open: true, Active: h.panel.Active}) }
func (h *Hub) Hide()                     { h.setPanel(Panel{Open: false, Active: h.panel.Active}) }

func (h *Hub) setPanel(p Panel) {
	h.panel = p
	h.changes.Publish(Change{Kind: ChangePanel, Layer: p.Active, Panel: &p})
}

// Watch streams dataset and panel changes to a buffered channel. It may be
// read from any goroutine; a watcher that falls behind misses changes. stop
// closes the channel.
func (h *Hub) Watch(buf int) (changes <-chan Change, stop func()) {
	ch := h.changes.Chan(buf)
	return ch, func() { h.changes.Unsubscribe(ch) }
}

func (h *Hub) SubscribeZoom(fn func(ZoomToFeature)) (cancel func()) {
	return h.zoomTopic.Subscribe(fn)
}
