// Package invalidation turns backend feature-change events into forced layer
// refreshes on the viewer.
package invalidation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event announces a change to one feature, or to a region of a layer.
type Event struct {
	Version   int             `json:"version"`
	Op        string          `json:"op"`
	Layer     string          `json:"layer"`
	TS        time.Time       `json:"ts"`
	FeatureID any             `json:"feature_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("%w: version must be 1", model.ErrInput)
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: op must be insert|update|delete", model.ErrInput)
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("%w: layer is required", model.ErrInput)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("%w: ts is required", model.ErrInput)
	}
	if e.BBox != nil && len(e.Geometry) > 0 {
		return fmt.Errorf("%w: at most one of bbox or geometry", model.ErrInput)
	}
	if e.BBox != nil {
		if e.BBox.SRID != "" && e.BBox.SRID != "EPSG:4326" {
			return fmt.Errorf("%w: bbox.srid must be EPSG:4326", model.ErrInput)
		}
		return e.BBox.model().Validate()
	}
	if len(e.Geometry) > 0 {
		g, err := geojson.UnmarshalGeometry(e.Geometry)
		if err != nil {
			return fmt.Errorf("%w: geometry: %v", model.ErrInput, err)
		}
		if g.Geometry() == nil {
			return fmt.Errorf("%w: geometry is empty", model.ErrInput)
		}
	}
	return nil
}

func (b BBox) model() model.BBox {
	return model.BBox{West: b.X1, South: b.Y1, East: b.X2, North: b.Y2}
}

// Bound is the changed region. ok is false for a layer-wide change.
func (e Event) Bound() (orb.Bound, bool) {
	switch {
	case e.BBox != nil:
		return e.BBox.model().Bound(), true
	case len(e.Geometry) > 0:
		g, err := geojson.UnmarshalGeometry(e.Geometry)
		if err != nil || g.Geometry() == nil {
			return orb.Bound{}, false
		}
		return g.Geometry().Bound(), true
	default:
		return orb.Bound{}, false
	}
}

// Feature returns the changed feature's id, if the event names one.
func (e Event) Feature() (string, bool) {
	switch v := e.FeatureID.(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// DedupeKey identifies the thing an event is about: the feature when named,
// else the layer.
func (e Event) DedupeKey() string {
	if id, ok := e.Feature(); ok {
		return e.Layer + "/" + id
	}
	return e.Layer
}
