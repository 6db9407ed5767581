package overlay

import (
	"image"
	"image/draw"

	"github.com/fogleman/gg"

	"plasmasnow/internal/storm"
)

// flakeFloats is the per-sprite stride: x, y, size, cell, alpha, rotation.
const flakeFloats = 6

// maxFlakeRender bounds the sprite VBO.
const maxFlakeRender = 16384

// Atlas packs every flake shape into one row of equal square cells, each shape
// centred in its cell.
type Atlas struct {
	Img   *image.RGBA
	Cell  int
	Cells int
	sizes []int
}

func NewAtlas(t *storm.ShapeTable) *Atlas {
	cell := t.MaxSize()
	a := &Atlas{
		Img:   image.NewRGBA(image.Rect(0, 0, cell*t.Len(), cell)),
		Cell:  cell,
		Cells: t.Len(),
		sizes: make([]int, t.Len()),
	}
	for i := 0; i < t.Len(); i++ {
		sh := t.At(i)
		off := (cell - sh.Size) / 2
		dst := image.Rect(i*cell+off, off, i*cell+off+sh.Size, off+sh.Size)
		draw.Draw(a.Img, dst, sh.Img, image.Point{}, draw.Src)
		a.sizes[i] = sh.Size
	}
	return a
}

// AppendFlakes appends one sprite per live item. Items past maxFlakeRender are
// dropped.
func (a *Atlas) AppendFlakes(buf []float32, e *storm.Engine) []float32 {
	e.Each(func(it *storm.Item) {
		if len(buf)/flakeFloats >= maxFlakeRender || it.Alpha <= 0 {
			return
		}
		size := float64(a.Cell)
		if s := a.sizes[it.Shape]; s > 0 {
			size *= it.Size / float64(s)
		}
		buf = append(buf,
			float32(it.X), float32(it.Y),
			float32(size), float32(it.Shape),
			float32(it.Alpha), float32(it.Rot))
	})
	return buf
}

// SledImage draws the sled facing right, w x h px.
func SledImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dc := gg.NewContextForRGBA(img)
	fw, fh := float64(w), float64(h)

	// Runners.
	dc.SetRGB(0.35, 0.22, 0.1)
	dc.SetLineWidth(2)
	dc.MoveTo(fw*0.05, fh-2)
	dc.LineTo(fw*0.85, fh-2)
	dc.QuadraticTo(fw*0.98, fh-2, fw*0.95, fh*0.6)
	dc.Stroke()
	dc.DrawLine(fw*0.25, fh-2, fw*0.25, fh*0.6)
	dc.DrawLine(fw*0.65, fh-2, fw*0.65, fh*0.6)
	dc.Stroke()

	// Body.
	dc.SetRGB(0.75, 0.08, 0.08)
	dc.DrawRoundedRectangle(fw*0.1, fh*0.2, fw*0.7, fh*0.45, 3)
	dc.Fill()

	// Sack.
	dc.SetRGB(0.45, 0.3, 0.15)
	dc.DrawCircle(fw*0.25, fh*0.2, fh*0.18)
	dc.Fill()
	return img
}
