package fallen

import (
	"gonum.org/v1/gonum/interp"

	"plasmasnow/internal/mathutil"
)

const (
	ceilingKnots = 6
	minCeiling   = 2
)

// GenerateCeiling draws a smooth random maximum-depth profile for a strip of w
// columns and depth h. Window profiles taper to the floor at both ends so snow does
// not overhang the frame; the desktop profile is pinned to full depth at the screen
// edges. Every value lies in [min(2, h), h].
func GenerateCeiling(rng *mathutil.Rand, w, h int, desktop bool) []int {
	out := make([]int, w)
	floor := minCeiling
	if h < floor {
		floor = h
	}

	fallback := func() []int {
		v := h
		if !desktop {
			v = mathutil.Clamp(h/2, floor, h)
		}
		for i := range out {
			out[i] = v
		}
		return out
	}
	if w < ceilingKnots {
		return fallback()
	}

	xs := make([]float64, ceilingKnots)
	ys := make([]float64, ceilingKnots)
	span := float64(w - 1)
	for k := range xs {
		xs[k] = span * float64(k) / float64(ceilingKnots-1)
		ys[k] = rng.RangeF(0, float64(h))
	}
	if desktop {
		ys[0], ys[ceilingKnots-1] = float64(h), float64(h)
	} else {
		ys[0], ys[ceilingKnots-1] = 0, 0
	}

	var nc interp.NaturalCubic
	if err := nc.Fit(xs, ys); err != nil {
		return fallback()
	}
	for i := range out {
		out[i] = mathutil.Clamp(int(nc.Predict(float64(i))+0.5), floor, h)
	}
	return out
}
