package storm

import (
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"plasmasnow/internal/mathutil"
)

// Flake sizes in px.
const (
	minFlakeSize = 3
	maxFlakeSize = 10
)

type Shape struct {
	Img  *image.RGBA
	Size int
}

// ShapeTable holds the rasterized flake shapes. It is read-only after construction
// and safe for concurrent readers.
type ShapeTable struct {
	shapes []Shape
}

// NewShapeTable draws n flakes tinted around base.
func NewShapeTable(n int, base colorful.Color, seed uint64) *ShapeTable {
	if n < 1 {
		n = 1
	}
	rng := mathutil.NewRand(seed)
	t := &ShapeTable{shapes: make([]Shape, 0, n)}
	for i := 0; i < n; i++ {
		size := rng.Range(minFlakeSize, maxFlakeSize)
		t.shapes = append(t.shapes, Shape{Img: drawFlake(rng, size, base), Size: size})
	}
	return t
}

func drawFlake(rng *mathutil.Rand, size int, base colorful.Color) *image.RGBA {
	dc := gg.NewContext(size, size)
	cool := colorful.Hcl(rng.RangeF(190, 240), 0.2, 0.95)
	dc.SetColor(base.BlendLab(cool, rng.RangeF(0, 0.3)).Clamped())

	c := float64(size) / 2
	if size <= 4 {
		dc.DrawCircle(c, c, c*0.8)
		dc.Fill()
		return dc.Image().(*image.RGBA)
	}

	// Six arms with a pair of short branches each.
	rot := rng.RangeF(0, math.Pi/3)
	arm := c * 0.95
	dc.SetLineWidth(1)
	for a := 0; a < 6; a++ {
		ang := rot + float64(a)*math.Pi/3
		ex, ey := c+math.Cos(ang)*arm, c+math.Sin(ang)*arm
		dc.MoveTo(c, c)
		dc.LineTo(ex, ey)
		if size >= 7 {
			bx, by := c+math.Cos(ang)*arm*0.55, c+math.Sin(ang)*arm*0.55
			for _, off := range []float64{-0.6, 0.6} {
				dc.MoveTo(bx, by)
				dc.LineTo(bx+math.Cos(ang+off)*arm*0.35, by+math.Sin(ang+off)*arm*0.35)
			}
		}
	}
	dc.Stroke()
	dc.DrawCircle(c, c, 1)
	dc.Fill()
	return dc.Image().(*image.RGBA)
}

func (t *ShapeTable) Len() int { return len(t.shapes) }

func (t *ShapeTable) At(i int) Shape { return t.shapes[i] }

// MaxSize is the edge of the largest shape.
func (t *ShapeTable) MaxSize() int {
	m := 0
	for _, s := range t.shapes {
		if s.Size > m {
			m = s.Size
		}
	}
	return m
}
