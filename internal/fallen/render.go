package fallen

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/interp"
)

// BucketWidth is the number of columns averaged into one spline knot.
const BucketWidth = 10

// outlineTint is blended into the snow colour for the thin line along the surface.
var outlineTint = colorful.Color{R: 0.85, G: 0.92, B: 1}

// Renderer turns a height map into an image. A Renderer is used by one goroutine.
type Renderer struct {
	xs, ys  []float64
	profile []float64
	spline  interp.FritschButland
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Profile returns the smoothed surface height for every column. Heights are averaged
// over buckets of BucketWidth columns and fitted with a monotone cubic, which does
// not overshoot between knots. Window profiles are pinned to zero at both ends; the
// desktop profile runs flat into the screen edges. With fewer than three knots, or
// when the fit fails, the profile is flat zero.
func (rd *Renderer) Profile(heights []int, desktop bool) []float64 {
	w := len(heights)
	if cap(rd.profile) < w {
		rd.profile = make([]float64, w)
	}
	out := rd.profile[:w]
	for i := range out {
		out[i] = 0
	}

	nb := (w + BucketWidth - 1) / BucketWidth
	if nb < 3 {
		return out
	}
	rd.xs = rd.xs[:0]
	rd.ys = rd.ys[:0]
	for b := 0; b < nb; b++ {
		lo := b * BucketWidth
		hi := lo + BucketWidth
		if hi > w {
			hi = w
		}
		sum := 0
		for _, h := range heights[lo:hi] {
			sum += h
		}
		rd.xs = append(rd.xs, float64(lo)+float64(hi-lo-1)/2)
		rd.ys = append(rd.ys, float64(sum)/float64(hi-lo))
	}
	rd.xs[0], rd.xs[nb-1] = 0, float64(w-1)
	if desktop {
		rd.ys[0], rd.ys[nb-1] = rd.ys[1], rd.ys[nb-2]
	} else {
		rd.ys[0], rd.ys[nb-1] = 0, 0
	}

	if err := rd.spline.Fit(rd.xs, rd.ys); err != nil {
		return out
	}
	for i := range out {
		if v := rd.spline.Predict(float64(i)); v > 0 {
			out[i] = v
		}
	}
	return out
}

// Render clears dst and paints the snow body for heights in c, with a lighter line
// along the surface. dst's bottom row is the baseline.
func (rd *Renderer) Render(dst *image.RGBA, c color.RGBA, heights []int, desktop bool) {
	dc := gg.NewContextForRGBA(dst)
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	p := rd.Profile(heights, desktop)
	base := float64(dst.Bounds().Dy())
	outline := outlineColor(c)

	// One closed polygon per run of visible columns.
	start := -1
	for i := 0; i <= len(p); i++ {
		on := i < len(p) && p[i] >= 0.5
		switch {
		case on && start < 0:
			start = i
		case !on && start >= 0:
			rd.polygon(dc, p, start, i, base, c, outline)
			start = -1
		}
	}
}

func (rd *Renderer) polygon(dc *gg.Context, p []float64, a, b int, base float64, fill, line color.Color) {
	dc.MoveTo(float64(a), base)
	for j := a; j < b; j++ {
		dc.LineTo(float64(j)+0.5, base-p[j])
	}
	dc.LineTo(float64(b), base)
	dc.ClosePath()
	dc.SetColor(fill)
	dc.Fill()

	dc.MoveTo(float64(a)+0.5, base-p[a])
	for j := a + 1; j < b; j++ {
		dc.LineTo(float64(j)+0.5, base-p[j])
	}
	dc.SetColor(line)
	dc.SetLineWidth(1)
	dc.Stroke()
}

func outlineColor(c color.RGBA) color.Color {
	base, ok := colorful.MakeColor(c)
	if !ok {
		return c
	}
	return base.BlendLab(outlineTint, 0.5).Clamped()
}
