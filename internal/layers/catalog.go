package layers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/layersync/internal/fetchgate"
	"github.com/mohammed-shakir/layersync/internal/render"
	"github.com/mohammed-shakir/layersync/internal/spatialquery"
)

// Spec configures one layer.
type Spec struct {
	ID            string
	Title         string
	Endpoint      string
	Shape         render.ShapeKind
	Keying        fetchgate.Keying
	MinRenderZoom int
	// ZoomFloor is the lowest zoom sent upstream for zoom-keyed layers.
	ZoomFloor   int
	Visible     *bool
	Interactive bool
	Filters     []string
	Limit       int
	TableKey    string
	FitToExtent bool
	Color       string
	Label       string
	Style       render.Style
	Popup       Popup
}

func (s Spec) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return errors.New("layer id is required")
	case strings.TrimSpace(s.Endpoint) == "":
		return fmt.Errorf("layer %q: endpoint is required", s.ID)
	case s.MinRenderZoom < 0:
		return fmt.Errorf("layer %q: minRenderZoom must be >= 0", s.ID)
	case s.ZoomFloor < 0:
		return fmt.Errorf("layer %q: zoomFloor must be >= 0", s.ID)
	}
	return nil
}

func (s Spec) keying() fetchgate.Keying { return s.Keying }

func (s Spec) visibleByDefault() bool { return s.Visible == nil || *s.Visible }

func (s Spec) tableKey() string {
	if s.TableKey != "" {
		return s.TableKey
	}
	return s.ID
}

func (s Spec) limit() int {
	if s.Limit > 0 {
		return s.Limit
	}
	if s.Shape == render.Polygon {
		return spatialquery.PolygonLimit
	}
	return spatialquery.DenseLimit
}

func (s Spec) legend() Legend {
	label := s.Label
	if label == "" {
		label = s.Title
	}
	return Legend{Shape: s.Shape, Color: s.Color, Label: label}
}

// DefaultCatalog is the built-in railway asset catalog in draw order.
func DefaultCatalog() []Spec {
	division := []string{FilterDivision}
	return []Spec{
		{
			ID: "india_boundary", Title: "India Boundary", Endpoint: "india_boundary",
			Shape: render.Polygon, Keying: fetchgate.ByBoundsAndZoom,
			Color: "#374151", Label: "India Boundary",
			Style: render.Style{Color: "#374151", Weight: 1.5, FillOpacity: 0},
		},
		{
			ID: "division_buffer", Title: "Division Buffer", Endpoint: "division_buffer",
			Shape: render.Polygon, Keying: fetchgate.ByZoom, Filters: division,
			FitToExtent: true, Color: "black", Label: "Division Buffer",
			Style: render.Style{Color: "black", Weight: 2, FillColor: "#93c5fd", FillOpacity: 0.1},
		},
		{
			ID: "stations", Title: "Stations", Endpoint: "stations",
			Shape: render.Point, Keying: fetchgate.ByBounds,
			Filters: []string{FilterCode, FilterDivision}, Interactive: true,
			TableKey: "Station", Color: "#d32f2f", Label: "Railway Station",
			Style: render.Style{Radius: 5, FillColor: "#d32f2f", Color: "#ffffff", Weight: 1, FillOpacity: 0.9},
			Popup: Popup{Title: "Station", TitleField: "sttnname", Fields: []PopupField{{Label: "Code", Key: "sttncode"}}},
		},
		{
			ID: "land_offset", Title: "Land Offset", Endpoint: "land_offset",
			Shape: render.Line, Keying: fetchgate.ByBounds, MinRenderZoom: 11, Filters: division,
			TableKey: "Land Offset", Color: "#000000", Label: "Land Offset",
			Style: render.Style{Color: "#000000", Weight: 2},
		},
		{
			ID: "landboundary", Title: "Land Boundary", Endpoint: "land_boundary",
			Shape: render.Line, Keying: fetchgate.ByBounds, MinRenderZoom: 10, Filters: division,
			TableKey: "Land Boundary", Color: "orange", Label: "Land Boundary",
			Style: render.Style{Color: "orange", Weight: 3},
		},
		{
			ID: "landplan_ontrack", Title: "Landplan Ontrack", Endpoint: "land_plan_on_track",
			Shape: render.Polygon, Keying: fetchgate.ByBoundsAndZoom, MinRenderZoom: 10, ZoomFloor: 10,
			Filters: division, TableKey: "Land Plan Ontrack", Color: "#FFA500", Label: "Landplan Ontrack",
			Style: render.Style{Color: "#FFA500", Weight: 3, FillColor: "#FFA500", FillOpacity: 0.15},
		},
		{
			ID: "tracks", Title: "Railway Tracks", Endpoint: "tracks",
			Shape: render.Line, Keying: fetchgate.ByBounds, Filters: division,
			TableKey: "Railway Track", Color: "#1e40af", Label: "Railway Track",
			Style: render.Style{Color: "#1e40af", Weight: 2},
		},
		{
			ID: "km_posts", Title: "KM Posts", Endpoint: "km_posts",
			Shape: render.Point, Keying: fetchgate.ByBounds, MinRenderZoom: 10, Filters: division,
			TableKey: "Km Post", Color: "#2563eb", Label: "KM Post",
			Style: render.Style{Radius: 6, FillColor: "#2563eb", Color: "#ffffff", Weight: 1, FillOpacity: 0.95},
			Popup: Popup{Title: "KM Post", Fields: []PopupField{
				{Label: "KM", Key: "kmpostno"}, {Label: "Line", Key: "line"}, {Label: "Railway", Key: "railway"},
			}},
		},
	}
}

// TableKeys lists the attribute table tabs of a catalog, skipping layers
// without their own table key.
func TableKeys(specs []Spec) []string {
	var out []string
	for _, s := range specs {
		if s.TableKey != "" {
			out = append(out, s.TableKey)
		}
	}
	return out
}

type fileSpec struct {
	ID            string     `yaml:"id"`
	Title         *string    `yaml:"title"`
	Endpoint      *string    `yaml:"endpoint"`
	Shape         *string    `yaml:"shape"`
	Keying        *string    `yaml:"keying"`
	MinRenderZoom *int       `yaml:"minRenderZoom"`
	ZoomFloor     *int       `yaml:"zoomFloor"`
	Visible       *bool      `yaml:"visible"`
	Interactive   *bool      `yaml:"interactive"`
	Filters       []string   `yaml:"filters"`
	Limit         *int       `yaml:"limit"`
	TableKey      *string    `yaml:"tableKey"`
	FitToExtent   *bool      `yaml:"fitToExtent"`
	Color         *string    `yaml:"color"`
	Label         *string    `yaml:"label"`
	Style         *fileStyle `yaml:"style"`
	Popup         *Popup     `yaml:"popup"`
}

type fileStyle struct {
	Color       string  `yaml:"color"`
	FillColor   string  `yaml:"fillColor"`
	Weight      float64 `yaml:"weight"`
	Radius      float64 `yaml:"radius"`
	FillOpacity float64 `yaml:"fillOpacity"`
}

type catalogFile struct {
	Layers []fileSpec `yaml:"layers"`
}

// LoadCatalog reads a YAML override file and merges it onto base. Entries
// with a known id override only the fields they set; new ids are appended.
func LoadCatalog(path string, base []Spec) ([]Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layer catalog: %w", err)
	}
	return ParseCatalog(raw, base)
}

func ParseCatalog(raw []byte, base []Spec) ([]Spec, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse layer catalog: %w", err)
	}
	out := append([]Spec(nil), base...)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}
	for _, fs := range cf.Layers {
		id := strings.TrimSpace(fs.ID)
		if id == "" {
			return nil, errors.New("layer catalog: entry without id")
		}
		var s Spec
		i, known := index[id]
		if known {
			s = out[i]
		} else {
			s = Spec{ID: id, Shape: render.Point, Keying: fetchgate.ByBounds}
		}
		if err := fs.apply(&s); err != nil {
			return nil, fmt.Errorf("layer catalog %q: %w", id, err)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if known {
			out[i] = s
		} else {
			index[id] = len(out)
			out = append(out, s)
		}
	}
	return out, nil
}

func (fs fileSpec) apply(s *Spec) error {
	if fs.Shape != nil {
		k, err := render.ParseShapeKind(*fs.Shape)
		if err != nil {
			return err
		}
		s.Shape = k
	}
	if fs.Keying != nil {
		k, err := fetchgate.ParseKeying(*fs.Keying)
		if err != nil {
			return err
		}
		s.Keying = k
	}
	setIf(&s.Title, fs.Title)
	setIf(&s.Endpoint, fs.Endpoint)
	setIf(&s.MinRenderZoom, fs.MinRenderZoom)
	setIf(&s.ZoomFloor, fs.ZoomFloor)
	setIf(&s.Interactive, fs.Interactive)
	setIf(&s.Limit, fs.Limit)
	setIf(&s.TableKey, fs.TableKey)
	setIf(&s.FitToExtent, fs.FitToExtent)
	setIf(&s.Color, fs.Color)
	setIf(&s.Label, fs.Label)
	if fs.Visible != nil {
		v := *fs.Visible
		s.Visible = &v
	}
	if fs.Filters != nil {
		s.Filters = fs.Filters
	}
	if fs.Style != nil {
		s.Style = render.Style(*fs.Style)
	}
	if fs.Popup != nil {
		s.Popup = *fs.Popup
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Build constructs one layer per spec.
func Build(specs []Spec, deps Deps) ([]Layer, error) {
	out := make([]Layer, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate layer id %q", s.ID)
		}
		seen[s.ID] = true
		l, err := New(s, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
