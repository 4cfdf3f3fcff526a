// Package render holds the on-screen representation a layer owns on the map.
package render

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"
)

type ShapeKind int

const (
	Point ShapeKind = iota
	Line
	Polygon
)

func (k ShapeKind) String() string {
	switch k {
	case Line:
		return "line"
	case Polygon:
		return "polygon"
	default:
		return "point"
	}
}

func ParseShapeKind(s string) (ShapeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point":
		return Point, nil
	case "line":
		return Line, nil
	case "polygon":
		return Polygon, nil
	default:
		return Point, fmt.Errorf("unknown shape kind %q (want point|line|polygon)", s)
	}
}

func (k ShapeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ShapeKind) UnmarshalText(b []byte) error {
	v, err := ParseShapeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Style struct {
	Color       string  `json:"color"`
	FillColor   string  `json:"fillColor,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
}

// Shape is one drawn feature.
type Shape struct {
	Kind    ShapeKind
	Style   Style
	Popup   string
	Feature *geojson.Feature
}

// Artifact is the set of shapes one layer has drawn. Only the owning layer
// mutates it.
type Artifact struct {
	id       string
	shapes   []Shape
	interact func(*geojson.Feature)
}

func NewArtifact(id string, interact func(*geojson.Feature)) *Artifact {
	return &Artifact{id: id, interact: interact}
}

func (a *Artifact) ID() string { return a.id }

func (a *Artifact) Len() int { return len(a.shapes) }

func (a *Artifact) Shapes() []Shape {
	out := make([]Shape, len(a.shapes))
	copy(out, a.shapes)
	return out
}

func (a *Artifact) Clear() { a.shapes = nil }

// Draw replaces everything drawn so far.
func (a *Artifact) Draw(shapes []Shape) {
	a.shapes = append(a.shapes[:0:0], shapes...)
}

// Click forwards an interaction on the i-th shape to the owner. It reports
// whether a shape existed at i and the artifact is interactive.
func (a *Artifact) Click(i int) bool {
	if a.interact == nil || i < 0 || i >= len(a.shapes) {
		return false
	}
	a.interact(a.shapes[i].Feature)
	return true
}
