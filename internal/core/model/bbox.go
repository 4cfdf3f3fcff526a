// Package model defines core domain types shared across the viewer.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BBox is a geographic bounding box in EPSG:4326 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// String representation matching the backend bbox parameter (minX,minY,maxX,maxY)
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.West, b.South, b.East, b.North)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

func (b BBox) Center() orb.Point {
	return orb.Point{(b.West + b.East) / 2, (b.South + b.North) / 2}
}

func (b BBox) Width() float64  { return b.East - b.West }
func (b BBox) Height() float64 { return b.North - b.South }

// Contains reports whether the bound lies entirely inside the box.
func (b BBox) Contains(o orb.Bound) bool {
	return o.Min[0] >= b.West && o.Max[0] <= b.East &&
		o.Min[1] >= b.South && o.Max[1] <= b.North
}

func (b BBox) Intersects(o orb.Bound) bool {
	return !(o.Max[0] < b.West || o.Min[0] > b.East ||
		o.Max[1] < b.South || o.Min[1] > b.North)
}

func BBoxFromBound(o orb.Bound) BBox {
	return BBox{West: o.Min[0], South: o.Min[1], East: o.Max[0], North: o.Max[1]}
}

func (b BBox) Validate() error {
	if !(b.West >= -180 && b.West <= 180 && b.East >= -180 && b.East <= 180) {
		return fmt.Errorf("%w: longitude must be in [-180,180]", ErrInput)
	}
	if !(b.South >= -90 && b.South <= 90 && b.North >= -90 && b.North <= 90) {
		return fmt.Errorf("%w: latitude must be in [-90,90]", ErrInput)
	}
	if b.East <= b.West || b.North <= b.South {
		return fmt.Errorf("%w: coordinates must satisfy maxX>minX and maxY>minY", ErrInput)
	}
	return nil
}

// ParseBBox parses "minX,minY,maxX,maxY".
func ParseBBox(raw string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: %v", ErrInput,
			errors.New("invalid bbox, use minX,minY,maxX,maxY (EPSG:4326)"))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: bbox value %d: %v", ErrInput, i, err)
		}
		v[i] = f
	}
	b := BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}
