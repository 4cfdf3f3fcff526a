package model

import "fmt"

const MaxZoom = 22

// Viewport is the visible map region. Layers treat it as read-only.
type Viewport struct {
	Bounds BBox `json:"bounds"`
	Zoom   int  `json:"zoom"`
}

func (v Viewport) Validate() error {
	if v.Zoom < 0 || v.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0,%d]", ErrInput, v.Zoom, MaxZoom)
	}
	return v.Bounds.Validate()
}

func (v Viewport) String() string {
	return fmt.Sprintf("%s@z%d", v.Bounds, v.Zoom)
}
