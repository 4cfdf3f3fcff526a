package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

type wireFeature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Properties map[string]any  `json:"properties"`
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry"`
}

type wirePayload struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
	GeoJSON  json.RawMessage   `json:"geojson"`
	Extent   string            `json:"extent"`
}

// ExtentMember is the foreign member carrying a PostGIS extent of the
// collection, e.g. "BOX(68.1 6.7,97.4 35.5)".
const ExtentMember = "extent"

// DecodeFeatures accepts a FeatureCollection, a single Feature or a {"geojson": ...}
// envelope and returns a FeatureCollection whose features all carry a non-nil
// property map. "attributes" is used when "properties" is absent.
func DecodeFeatures(raw []byte) (*geojson.FeatureCollection, error) {
	raw = bytes.TrimSpace(raw)
	fc := geojson.NewFeatureCollection()
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fc, nil
	}

	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Type == "" && len(p.GeoJSON) > 0 {
		inner, err := DecodeFeatures(p.GeoJSON)
		if err != nil {
			return nil, err
		}
		setExtent(inner, p.Extent)
		return inner, nil
	}
	setExtent(fc, p.Extent)

	switch p.Type {
	case "Feature":
		f, err := decodeFeature(raw)
		if err != nil {
			return nil, err
		}
		fc.Append(f)
	case "FeatureCollection", "":
		for i, fr := range p.Features {
			f, err := decodeFeature(fr)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			fc.Append(f)
		}
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", p.Type)
	}
	return fc, nil
}

func setExtent(fc *geojson.FeatureCollection, extent string) {
	if extent == "" {
		return
	}
	if fc.ExtraMembers == nil {
		fc.ExtraMembers = geojson.Properties{}
	}
	fc.ExtraMembers[ExtentMember] = extent
}

// Extent returns the collection's extent member, if any.
func Extent(fc *geojson.FeatureCollection) (BBox, bool) {
	if fc == nil {
		return BBox{}, false
	}
	s, _ := fc.ExtraMembers[ExtentMember].(string)
	return ParseBoxExtent(s)
}

// ParseBoxExtent parses "BOX(minx miny,maxx maxy)".
func ParseBoxExtent(s string) (BBox, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || !strings.EqualFold(s[:4], "BOX(") || !strings.HasSuffix(s, ")") {
		return BBox{}, false
	}
	lo, hi, ok := strings.Cut(s[4:len(s)-1], ",")
	if !ok {
		return BBox{}, false
	}
	fields := append(strings.Fields(lo), strings.Fields(hi)...)
	if len(fields) != 4 {
		return BBox{}, false
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return BBox{}, false
		}
		v[i] = n
	}
	b := BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if b.Validate() != nil {
		return BBox{}, false
	}
	return b, true
}

func decodeFeature(raw []byte) (*geojson.Feature, error) {
	var w wireFeature
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode feature: %w", err)
	}
	f := geojson.NewFeature(nil)
	f.ID = w.ID
	f.Properties = coalesceProps(w.Properties, w.Attributes)

	g := bytes.TrimSpace(w.Geometry)
	if len(g) > 0 && !bytes.Equal(g, []byte("null")) {
		geom, err := geojson.UnmarshalGeometry(g)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		f.Geometry = geom.Geometry()
	}
	return f, nil
}

func coalesceProps(primary, alt map[string]any) geojson.Properties {
	switch {
	case primary != nil:
		return geojson.Properties(primary)
	case alt != nil:
		return geojson.Properties(alt)
	default:
		return geojson.Properties{}
	}
}

// Normalize returns a shallow copy of f whose property map is never nil.
func Normalize(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	cp := *f
	if cp.Properties == nil {
		cp.Properties = geojson.Properties{}
	}
	return &cp
}

// Identity resolves the feature id: the Feature "id" member first, then the
// "id" property.
func Identity(f *geojson.Feature) (string, bool) {
	if f == nil {
		return "", false
	}
	if s, ok := idString(f.ID); ok {
		return s, true
	}
	if f.Properties != nil {
		if s, ok := idString(f.Properties["id"]); ok {
			return s, true
		}
	}
	return "", false
}

func idString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), t.String() != ""
	default:
		s := fmt.Sprint(t)
		return s, s != ""
	}
}
