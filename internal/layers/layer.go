// Package layers implements the spatial layer state machine and the registry
// that orchestrates layers against a map surface.
package layers

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/mapview"
	"github.com/mohammed-shakir/layersync/internal/render"
)

// Surface is the part of the map a layer draws on. *mapview.Map satisfies it.
type Surface interface {
	Viewport() model.Viewport
	Ready() bool
	WhenReady(fn func())
	On(fn func(model.Viewport)) mapview.Subscription
	Off(id mapview.Subscription) bool
	AddArtifact(a *render.Artifact)
	RemoveArtifact(a *render.Artifact)
	HasArtifact(a *render.Artifact) bool
	FitBounds(b orb.Bound, pad float64) error
}

// Sink receives every fetched collection, rendered or not. *attrsync.Hub
// satisfies it.
type Sink interface {
	PushFeatureCollection(key string, fc *geojson.FeatureCollection)
}

// Selector receives clicks on interactive layers. It decides itself whether
// the click selects anything.
type Selector interface {
	Select(layerID string, f *geojson.Feature) bool
}

// RenderState is derived from visibility and the current zoom.
type RenderState int

const (
	Off RenderState = iota
	FetchedHiddenByZoom
	Rendering
)

func (s RenderState) String() string {
	switch s {
	case FetchedHiddenByZoom:
		return "hidden_by_zoom"
	case Rendering:
		return "rendering"
	default:
		return "off"
	}
}

func (s RenderState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Legend struct {
	Shape render.ShapeKind `json:"shape"`
	Color string           `json:"color"`
	Label string           `json:"label"`
}

type Descriptor struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	MinRenderZoom int    `json:"minRenderZoom"`
	Legend        Legend `json:"legend"`
	Visible       bool   `json:"visible"`
	TableKey      string `json:"tableKey,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// Layer is one independently toggleable feature category.
type Layer interface {
	Descriptor() Descriptor
	// Attach subscribes to viewport changes and reconciles. Attaching an
	// attached layer does nothing new. Invisible layers are not attached.
	Attach(s Surface) error
	// Detach undoes Attach and removes the artifact. Safe when detached.
	Detach(s Surface) error
	// Reconcile brings the layer in line with s's current viewport.
	Reconcile(s Surface) error
	// Surface is the surface the layer is attached to, or nil.
	Surface() Surface
	SetVisible(v bool)
	State() RenderState
	// Invalidate makes the next reconcile fetch again, bypassing caches.
	Invalidate()
	// Status is a snapshot for diagnostics.
	Status() Status
}

type Status struct {
	Descriptor
	State      RenderState `json:"state"`
	IssuedKey  string      `json:"issuedKey,omitempty"`
	AppliedKey string      `json:"appliedKey,omitempty"`
	Features   int         `json:"features"`
	Drawn      int         `json:"drawn"`
	Attached   bool        `json:"attached"`
	Inflight   bool        `json:"inflight"`
	LastError  string      `json:"lastError,omitempty"`
}

// PopupField is one "Label: value" line of a popup.
type PopupField struct {
	Label string `yaml:"label"`
	Key   string `yaml:"key"`
}

// Popup renders a feature's popup text: a title line then one line per field.
type Popup struct {
	Title      string       `yaml:"title"`
	TitleField string       `yaml:"titleField"`
	Fields     []PopupField `yaml:"fields"`
}

func (p Popup) Render(f *geojson.Feature) string {
	if p.Title == "" && p.TitleField == "" && len(p.Fields) == 0 {
		return ""
	}
	var b strings.Builder
	title := p.Title
	if v, ok := propString(f, p.TitleField); ok {
		title = v
	}
	b.WriteString(title)
	for _, fl := range p.Fields {
		v, ok := propString(f, fl.Key)
		if !ok {
			v = "-"
		}
		fmt.Fprintf(&b, "\n%s: %s", fl.Label, v)
	}
	return b.String()
}

func propString(f *geojson.Feature, key string) (string, bool) {
	if f == nil || key == "" || f.Properties == nil {
		return "", false
	}
	v, ok := f.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	s := fmt.Sprint(v)
	return s, s != ""
}
