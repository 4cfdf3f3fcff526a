// Package fetchgate derives fetch keys from viewport and filter state and
// suppresses requests whose key matches the last one issued for a layer.
package fetchgate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

// Keying selects which viewport parameters a layer's query depends on.
type Keying int

const (
	ByBounds Keying = iota
	ByZoom
	ByBoundsAndZoom
)

func (k Keying) String() string {
	switch k {
	case ByZoom:
		return "zoom"
	case ByBoundsAndZoom:
		return "bounds+zoom"
	default:
		return "bounds"
	}
}

func ParseKeying(s string) (Keying, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bounds", "bbox":
		return ByBounds, nil
	case "zoom", "z":
		return ByZoom, nil
	case "bounds+zoom", "bbox+zoom", "both":
		return ByBoundsAndZoom, nil
	default:
		return ByBounds, fmt.Errorf("unknown keying %q (want bounds|zoom|bounds+zoom)", s)
	}
}

// Params is every input that shapes one layer query.
type Params struct {
	Layer   string
	BBox    *model.BBox
	Zoom    *int
	Filters map[string]string
}

// QueryZoom clamps the zoom sent upstream to at least floor.
func QueryZoom(zoom, floor int) int {
	return max(zoom, floor)
}

// ParamsFor builds query params for a viewport. zoomFloor buckets every zoom
// below it onto the floor so a zoom-keyed layer does not refetch while zoomed out.
func (k Keying) ParamsFor(layer string, vp model.Viewport, zoomFloor int, filters map[string]string) Params {
	p := Params{Layer: layer, Filters: filters}
	if k == ByBounds || k == ByBoundsAndZoom {
		b := vp.Bounds
		p.BBox = &b
	}
	if k == ByZoom || k == ByBoundsAndZoom {
		z := QueryZoom(vp.Zoom, zoomFloor)
		p.Zoom = &z
	}
	return p
}

// Key is deterministic in every parameter that affects the query result.
func Key(p Params) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(p.Layer))

	var scope strings.Builder
	if p.BBox != nil {
		scope.WriteString("bbox=")
		scope.WriteString(p.BBox.String())
	}
	if p.Zoom != nil {
		if scope.Len() > 0 {
			scope.WriteByte(':')
		}
		scope.WriteString("z=")
		scope.WriteString(strconv.Itoa(*p.Zoom))
	}

	filterText := NormalizeFilters(p.Filters)
	filterSafe := sanitizeForKey(filterText)

	const maxFilterTextLen = 160
	if len(filterSafe) > maxFilterTextLen {
		filterSafe = filterSafe[:maxFilterTextLen]
	}

	sum := xxhash.Sum64String(filterText)

	return fmt.Sprintf("%s:%s:filters=%s:f=%016x", layerNorm, scope.String(), filterSafe, sum)
}

// NormalizeFilters renders filters as sorted name=value pairs. Blank values are
// dropped since the backend treats them as absent.
func NormalizeFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	names := make([]string, 0, len(filters))
	for k, v := range filters {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, strings.TrimSpace(k)+"="+collapseASCIIWhitespace(filters[k]))
	}
	return strings.Join(parts, "&")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == '&':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
