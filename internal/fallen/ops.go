package fallen

import (
	"math"

	"plasmasnow/internal/mathutil"
)

// A column this far below its neighbours' mean jumps half the gap instead of growing
// by the smoothed amount, so pits between bumps fill in.
const catchUpGap = 4

// Deposit grows the columns [start, start+width) where a falling item landed. Each
// column moves to a weighted average of itself and its neighbours, at least one
// pixel above its old height, and never above its ceiling. Columns outside the strip
// are ignored.
func (r *Record) Deposit(start, width int) {
	lo, hi := r.span(start, width)
	if lo >= hi {
		return
	}

	// Neighbourhood snapshot so the update reads the old profile only.
	nlo, nhi := lo-1, hi+1
	if nlo < 0 {
		nlo = 0
	}
	if nhi > r.W {
		nhi = r.W
	}
	old := append(r.scratch[:0], r.Height[nlo:nhi]...)
	r.scratch = old
	at := func(i int) int {
		return old[mathutil.Clamp(i, nlo, nhi-1)-nlo]
	}

	for i := lo; i < hi; i++ {
		a, left, right := at(i), at(i-1), at(i+1)
		var next int
		if mean := (left + right) / 2; mean-a > catchUpGap {
			next = a + (mean-a)/2
		} else {
			next = (left + 2*a + right + 2) / 4
			if next <= a {
				next = a + 1
			}
		}
		if c := r.Ceiling[i]; next > c {
			next = c
		}
		if next < 0 {
			next = 0
		}
		r.Height[i] = next
	}
}

// BlowOffSink receives the snow the wind lifts off a record.
type BlowOffSink interface {
	// BlowOff is called once per eroded column with the surface position of the
	// lifted snow; wraps reports whether the resulting items wrap at screen edges.
	BlowOff(x, y float64, wraps bool)
}

// ApplyWindErosion samples every stride-th column from a random offset; a sampled
// column taller than threshold loses one pixel with probability one half, and the
// lifted snow is handed to sink. It returns the number of eroded columns. Heights
// never increase.
func (r *Record) ApplyWindErosion(rng *mathutil.Rand, stride, threshold int, sink BlowOffSink) int {
	if stride < 1 {
		stride = 1
	}
	n := 0
	for i := rng.Intn(stride); i < r.W; i += stride {
		if r.Height[i] <= threshold || rng.Float64() <= 0.5 {
			continue
		}
		if sink != nil {
			sink.BlowOff(float64(r.X+i), float64(r.SurfaceY(i)), r.Desktop())
		}
		r.Height[i]--
		n++
	}
	return n
}

// DecayTowardCeiling settles the record one step toward its generated ceiling:
// columns above it shrink by one pixel and the effective ceiling follows them down.
// It returns the number of columns lowered.
func (r *Record) DecayTowardCeiling() int {
	n := 0
	for i, t := range r.target {
		if r.Height[i] > t {
			r.Height[i]--
			n++
		}
		c := t
		if r.Height[i] > c {
			c = r.Height[i]
		}
		r.Ceiling[i] = c
	}
	return n
}

// Sled is the plow footprint in screen coordinates.
type Sled struct {
	X, Y, W, H  float64
	FacingRight bool
}

// plowLead is how far ahead of the sled, as a fraction of its width, snow is cleared.
const plowLead = 0.25

// Plow clears the columns under the sled, plus a lead in its direction of travel,
// when the sled reaches down into the snow surface. It reports whether anything was
// cleared.
func (r *Record) Plow(s Sled) bool {
	x0, x1 := s.X, s.X+s.W
	if s.FacingRight {
		x1 += s.W * plowLead
	} else {
		x0 -= s.W * plowLead
	}
	i0 := int(math.Floor(x0)) - r.X
	i1 := int(math.Ceil(x1)) - r.X
	lo, hi := r.span(i0, i1-i0)
	if lo >= hi {
		return false
	}
	top := r.Y - r.MaxHeight(lo, hi-lo)
	if s.Y+s.H < float64(top) || s.Y > float64(r.Y) {
		return false
	}
	cleared := false
	for i := lo; i < hi; i++ {
		if r.Height[i] > 0 {
			r.Height[i] = 0
			cleared = true
		}
	}
	return cleared
}

// Release empties the record, emitting one loose item position per few pixels of
// snow so the caller can drop it back into the storm.
func (r *Record) Release(emit func(x, y float64)) int {
	const perItem, stride = 6, 3
	n := 0
	for i, h := range r.Height {
		if h == 0 {
			continue
		}
		if i%stride != 0 {
			r.Height[i] = 0
			continue
		}
		for k := 0; k*perItem < h; k++ {
			emit(float64(r.X+i), float64(r.Y-k*perItem))
			n++
		}
		r.Height[i] = 0
	}
	return n
}
