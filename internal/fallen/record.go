// Package fallen keeps the accumulated ("fallen") snow: one height map per tracked
// surface (the desktop bottom and the top edge of every eligible window), the
// operations that grow, erode, settle and plow it, and the raster images drawn from it.
package fallen

import (
	"image"
	"image/color"
)

// WindowID identifies the surface a record belongs to.
type WindowID uint32

// DesktopID is the sentinel id of the desktop (bottom of the screen) record.
const DesktopID WindowID = 0

// WindowInfo is one window as reported by the geometry provider.
type WindowInfo struct {
	ID        WindowID
	X, Y      int // top-left corner in screen coordinates
	W, H      int
	Workspace int
	Sticky    bool
	Hidden    bool
}

// SameGeometry reports whether two readings of a window occupy the same rectangle.
func (w WindowInfo) SameGeometry(o WindowInfo) bool {
	return w.X == o.X && w.Y == o.Y && w.W == o.W && w.H == o.H
}

// Record is the height map of one surface. Column i sits at screen x = X+i; snow in
// that column occupies the pixels [Y-Height[i], Y).
//
// Height, Ceiling and target are guarded by the store's base lock. visible and pending
// are guarded by the swap lock, except that the rendering goroutine owns pending
// between swaps.
type Record struct {
	ID   WindowID
	X, Y int // left edge, baseline
	W, H int // strip width (column count) and maximum depth

	Height  []int
	Ceiling []int

	// target is the generated ceiling; Ceiling settles toward it one pixel per
	// DecayTowardCeiling call and never drops below Height.
	target []int

	Info   WindowInfo
	Active bool // participates in accumulation and drawing
	Color  color.RGBA

	PrevDraw image.Rectangle // last drawn bounds, guarded by the swap lock
	Frame    uint64          // bumped whenever the visible image changes, guarded by the swap lock

	visible, pending *image.RGBA
	fresh            bool // pending holds a frame newer than visible

	scratch []int
}

// Desktop reports whether this is the bottom-of-screen record.
func (r *Record) Desktop() bool {
	return r.ID == DesktopID
}

// Bounds is the screen rectangle covered by the record's image.
func (r *Record) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y-r.H, r.X+r.W, r.Y)
}

// Column maps a screen x to a column index; ok is false outside the strip.
func (r *Record) Column(x float64) (int, bool) {
	i := int(x) - r.X
	if x < float64(r.X) || i >= r.W {
		return 0, false
	}
	return i, true
}

// SurfaceY is the screen y of the snow surface in column i.
func (r *Record) SurfaceY(i int) int {
	return r.Y - r.Height[i]
}

// Full reports whether every column in [start, start+width) is at its ceiling.
func (r *Record) Full(start, width int) bool {
	lo, hi := r.span(start, width)
	for i := lo; i < hi; i++ {
		if r.Height[i] < r.Ceiling[i] {
			return false
		}
	}
	return true
}

// Total is the accumulated snow in pixels.
func (r *Record) Total() int {
	n := 0
	for _, h := range r.Height {
		n += h
	}
	return n
}

// MaxHeight is the tallest column in [start, start+width).
func (r *Record) MaxHeight(start, width int) int {
	lo, hi := r.span(start, width)
	m := 0
	for i := lo; i < hi; i++ {
		if r.Height[i] > m {
			m = r.Height[i]
		}
	}
	return m
}

func (r *Record) span(start, width int) (int, int) {
	lo := start
	if lo < 0 {
		lo = 0
	}
	hi := start + width
	if hi > r.W {
		hi = r.W
	}
	return lo, hi
}
