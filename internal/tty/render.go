package tty

import (
	"image"
	"math"

	"github.com/gdamore/tcell/v2"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/sim"
	"plasmasnow/internal/storm"
)

// Glyphs.
const (
	glyphFull   = '█'
	glyphUpper  = '▀'
	glyphLower  = '▄'
	glyphLedge  = '▔'
	glyphFlake  = '*'
	glyphSmall  = '·'
	glyphFading = '.'
)

var (
	styleSnow  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleLedge = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleSled  = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
)

type cell struct{ x, y int }

// Renderer draws one simulation onto a tcell screen. Double-buffered settings
// repaint the whole screen each frame; otherwise only the cells written last frame
// are blanked, and removed snow is erased through the store's eraser.
type Renderer struct {
	screen tcell.Screen
	prov   *Provider

	recs  []*fallen.Record
	dirty []cell // cells of moving things drawn last frame
	snow  tcell.Style
}

func NewRenderer(screen tcell.Screen, prov *Provider, st *fallen.Store) *Renderer {
	r := &Renderer{screen: screen, prov: prov, snow: styleSnow}
	st.SetEraser(r.erase)
	return r
}

// SetSnowColor tints fallen snow and flakes.
func (r *Renderer) SetSnowColor(c tcell.Color) {
	r.snow = tcell.StyleDefault.Foreground(c)
}

// erase blanks every cell overlapping the pixel rectangle b. It runs under the
// store's swap lock.
func (r *Renderer) erase(b image.Rectangle) {
	x0, y0 := b.Min.X/CellW, b.Min.Y/CellH
	x1, y1 := (b.Max.X+CellW-1)/CellW, (b.Max.Y+CellH-1)/CellH
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r.screen.SetContent(x, y, ' ', nil, tcell.StyleDefault)
		}
	}
}

// Frame draws one frame and shows it. Called from the main loop goroutine.
func (r *Renderer) Frame(c *sim.Context) {
	if c.Store.DoubleBuffered() {
		r.screen.Clear()
	} else {
		for _, p := range r.dirty {
			r.screen.SetContent(p.x, p.y, ' ', nil, tcell.StyleDefault)
		}
	}
	r.dirty = r.dirty[:0]

	c.Store.SoftLock()
	r.recs = c.Store.Snapshot(r.recs[:0])
	c.Store.Unlock()
	c.Store.Draw(r.recs, r.drawSurface)

	for _, l := range r.prov.Ledges() {
		if !l.Visible {
			continue
		}
		for x := l.Col; x < l.Col+l.Width; x++ {
			r.screen.SetContent(x, l.Row, glyphLedge, nil, styleLedge)
		}
	}

	r.drawFlakes(c.Engine)
	if c.Cfg.Get().Santa {
		r.drawSled(c.Santa.Footprint())
	}
	r.screen.Show()
}

// drawSurface turns a record image into half-block glyphs. Each cell is split into
// an upper and a lower half; a half is snow when at least half of its pixels in
// the sampled column are.
func (r *Renderer) drawSurface(_ *fallen.Record, img *image.RGBA, b image.Rectangle) {
	cols, rows := r.screen.Size()
	x0, x1 := b.Min.X/CellW, (b.Max.X+CellW-1)/CellW
	y0, y1 := b.Min.Y/CellH, (b.Max.Y+CellH-1)/CellH
	for cy := max(y0, 0); cy < min(y1, rows); cy++ {
		for cx := max(x0, 0); cx < min(x1, cols); cx++ {
			px := cx*CellW + CellW/2 - b.Min.X
			top := covered(img, px, cy*CellH-b.Min.Y, CellH/2)
			bottom := covered(img, px, cy*CellH+CellH/2-b.Min.Y, CellH/2)
			var g rune
			switch {
			case top && bottom:
				g = glyphFull
			case top:
				g = glyphUpper
			case bottom:
				g = glyphLower
			default:
				g = ' '
			}
			r.screen.SetContent(cx, cy, g, nil, r.snow)
		}
	}
}

// covered reports whether at least half of the n pixels below (x, y) are opaque.
// Pixels outside img count as empty.
func covered(img *image.RGBA, x, y, n int) bool {
	if x < 0 || x >= img.Rect.Dx() {
		return false
	}
	hit := 0
	for i := 0; i < n; i++ {
		yy := y + i
		if yy < 0 || yy >= img.Rect.Dy() {
			continue
		}
		if img.Pix[yy*img.Stride+x*4+3] > 0 {
			hit++
		}
	}
	return hit*2 >= n
}

func (r *Renderer) drawFlakes(e *storm.Engine) {
	cols, rows := r.screen.Size()
	e.Each(func(it *storm.Item) {
		if it.X < 0 || it.Y < 0 {
			return
		}
		cx, cy := int(it.X)/CellW, int(it.Y)/CellH
		if cx >= cols || cy >= rows {
			return
		}
		g := glyphFlake
		switch {
		case it.Alpha < 0.5:
			g = glyphFading
		case it.Size < 5:
			g = glyphSmall
		}
		r.screen.SetContent(cx, cy, g, nil, r.snow)
		r.dirty = append(r.dirty, cell{cx, cy})
	})
}

func (r *Renderer) drawSled(s fallen.Sled) {
	body := []rune(">==o")
	if !s.FacingRight {
		body = []rune("o==<")
	}
	cols, rows := r.screen.Size()
	cy := int(s.Y+s.H/2) / CellH
	if s.Y < 0 || cy >= rows {
		return
	}
	cx := int(math.Floor(s.X / CellW))
	for i, ch := range body {
		x := cx + i
		if x < 0 || x >= cols {
			continue
		}
		r.screen.SetContent(x, cy, ch, nil, styleSled)
		r.dirty = append(r.dirty, cell{x, cy})
	}
}
