package mapview

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/render"
)

const highlightID = "__highlight"

// FocusFeature consumes a zoom-to-feature request: fit the view to the feature,
// or centre on it when it has no area, then flash a highlight for the dwell time.
func (m *Map) FocusFeature(f *geojson.Feature) bool {
	if f == nil || f.Geometry == nil {
		m.logger.Debug("zoom to feature skipped: no geometry")
		return false
	}

	b := f.Geometry.Bound()
	if empty(b) {
		m.logger.Debug("zoom to feature skipped: empty geometry")
		return false
	}
	var err error
	if degenerate(b) {
		z := max(m.vp.Zoom, m.cfg.PointZoomFloor)
		err = m.SetView(b.Center(), z)
	} else {
		err = m.FitBounds(b, m.cfg.Padding)
	}
	if err != nil {
		m.logger.Error("zoom to feature failed", "err", err)
		return false
	}

	m.flash(f)
	return true
}

// Highlight is the transient overlay, if one is shown.
func (m *Map) Highlight() *render.Artifact {
	if m.highlight != nil && m.HasArtifact(m.highlight) {
		return m.highlight
	}
	return nil
}

func (m *Map) flash(f *geojson.Feature) {
	if m.highlightTimer != nil {
		m.highlightTimer.Stop()
		m.highlightTimer = nil
	}
	if m.highlight != nil {
		m.RemoveArtifact(m.highlight)
	}

	hl := render.NewArtifact(highlightID, nil)
	hl.Draw([]render.Shape{{
		Kind:    kindOf(f.Geometry),
		Style:   render.Style{Weight: 4, Radius: 8},
		Feature: f,
	}})
	m.highlight = hl
	m.AddArtifact(hl)

	m.highlightTimer = m.sched.AfterFunc(m.cfg.HighlightDwell, func() {
		m.RemoveArtifact(hl)
		if m.highlight == hl {
			m.highlight = nil
			m.highlightTimer = nil
		}
	})
}

// empty is orb's bound of a geometry without coordinates, where Min > Max.
func empty(b orb.Bound) bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1]
}

func degenerate(b orb.Bound) bool {
	return b.Max[0] == b.Min[0] && b.Max[1] == b.Min[1]
}

func kindOf(g orb.Geometry) render.ShapeKind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return render.Point
	case orb.LineString, orb.MultiLineString:
		return render.Line
	default:
		return render.Polygon
	}
}
