package layers

import (
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/render"
)

// PointLayer draws features as circle markers.
type PointLayer struct{ *base }

// LineLayer draws features as stroked paths.
type LineLayer struct{ *base }

// PolygonLayer draws features as filled areas.
type PolygonLayer struct{ *base }

var (
	_ Layer = (*PointLayer)(nil)
	_ Layer = (*LineLayer)(nil)
	_ Layer = (*PolygonLayer)(nil)
)

func NewPoint(spec Spec, deps Deps) *PointLayer {
	l := &PointLayer{}
	l.base = newBase(spec, deps, l)
	return l
}

func NewLine(spec Spec, deps Deps) *LineLayer {
	l := &LineLayer{}
	l.base = newBase(spec, deps, l)
	return l
}

func NewPolygon(spec Spec, deps Deps) *PolygonLayer {
	l := &PolygonLayer{}
	l.base = newBase(spec, deps, l)
	return l
}

func (l *PointLayer) paint(*geojson.Feature) render.Shape {
	st := l.spec.Style
	if st.Radius == 0 {
		st.Radius = 5
	}
	if st.FillColor == "" {
		st.FillColor = l.spec.Color
	}
	if st.Color == "" {
		st.Color = "#ffffff"
	}
	return render.Shape{Kind: render.Point, Style: st}
}

func (l *LineLayer) paint(*geojson.Feature) render.Shape {
	st := l.spec.Style
	if st.Color == "" {
		st.Color = l.spec.Color
	}
	if st.Weight == 0 {
		st.Weight = 2
	}
	return render.Shape{Kind: render.Line, Style: st}
}

func (l *PolygonLayer) paint(*geojson.Feature) render.Shape {
	st := l.spec.Style
	if st.Color == "" {
		st.Color = l.spec.Color
	}
	if st.FillColor == "" {
		st.FillColor = st.Color
	}
	return render.Shape{Kind: render.Polygon, Style: st}
}

// New builds the variant matching spec.Shape.
func New(spec Spec, deps Deps) (Layer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Shape {
	case render.Point:
		return NewPoint(spec, deps), nil
	case render.Line:
		return NewLine(spec, deps), nil
	default:
		return NewPolygon(spec, deps), nil
	}
}
