// Package overlay draws the storm, the fallen snow and the sled into a transparent
// always-on-top OpenGL window.
package overlay

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/sim"
	"plasmasnow/internal/storm"
)

// glOffset converts a byte offset to unsafe.Pointer for OpenGL VBO offset params.
func glOffset(n int) unsafe.Pointer { return unsafe.Pointer(uintptr(n)) }

// surface is the GL texture mirroring one record's visible image.
type surface struct {
	tex   uint32
	w, h  int
	frame uint64
	seen  bool
}

type Renderer struct {
	// Surface program: fallen snow and the sled.
	surfProg uint32
	quadVAO  uint32
	quadVBO  uint32

	uOrigin     int32
	uSize       int32
	uResolution int32
	uFlip       int32
	uTex        int32

	// Flake program.
	flakeProg uint32
	flakeVAO  uint32
	flakeVBO  uint32

	flUResolution int32
	flUAtlas      int32
	flUCells      int32

	atlas    *Atlas
	atlasTex uint32
	sledTex  uint32
	sledW    int
	sledH    int

	surfaces map[fallen.WindowID]*surface
	recs     []*fallen.Record
	flakeBuf []float32
	winW     int
	winH     int
}

// NewRenderer builds the programs and uploads the flake atlas. A GL context must
// be current.
func NewRenderer(shapes *storm.ShapeTable) (*Renderer, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("gl init: %w", err)
	}
	surfProg, err := linkProgram(surfaceVertSrc, surfaceFragSrc)
	if err != nil {
		return nil, fmt.Errorf("surface program: %w", err)
	}
	flakeProg, err := linkProgram(flakeVertSrc, flakeFragSrc)
	if err != nil {
		gl.DeleteProgram(surfProg)
		return nil, fmt.Errorf("flake program: %w", err)
	}

	r := &Renderer{
		surfProg:  surfProg,
		flakeProg: flakeProg,
		atlas:     NewAtlas(shapes),
		surfaces:  make(map[fallen.WindowID]*surface),
	}

	// Quad VAO/VBO: a unit quad (6 vertices, 2 triangles).
	gl.GenVertexArrays(1, &r.quadVAO)
	gl.GenBuffers(1, &r.quadVBO)
	gl.BindVertexArray(r.quadVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.quadVBO)
	quadVerts := [12]float32{
		0, 0, 1, 0, 1, 1,
		0, 0, 1, 1, 0, 1,
	}
	gl.BufferData(gl.ARRAY_BUFFER, len(quadVerts)*4, gl.Ptr(&quadVerts[0]), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, glOffset(0))

	gl.UseProgram(surfProg)
	r.uOrigin = gl.GetUniformLocation(surfProg, gl.Str("uOrigin\x00"))
	r.uSize = gl.GetUniformLocation(surfProg, gl.Str("uSize\x00"))
	r.uResolution = gl.GetUniformLocation(surfProg, gl.Str("uResolution\x00"))
	r.uFlip = gl.GetUniformLocation(surfProg, gl.Str("uFlip\x00"))
	r.uTex = gl.GetUniformLocation(surfProg, gl.Str("uTex\x00"))
	gl.Uniform1i(r.uTex, 0)

	// Flake VAO/VBO: streaming buffer for point sprites.
	gl.GenVertexArrays(1, &r.flakeVAO)
	gl.GenBuffers(1, &r.flakeVBO)
	gl.BindVertexArray(r.flakeVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.flakeVBO)
	stride := int32(flakeFloats * 4)
	gl.BufferData(gl.ARRAY_BUFFER, maxFlakeRender*int(stride), nil, gl.STREAM_DRAW)
	// aPos (vec2)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, stride, glOffset(0))
	// aSize, aCell, aAlpha, aRotation (float each)
	for i := 1; i <= 4; i++ {
		gl.EnableVertexAttribArray(uint32(i))
		gl.VertexAttribPointer(uint32(i), 1, gl.FLOAT, false, stride, glOffset((i+1)*4))
	}

	gl.UseProgram(flakeProg)
	r.flUResolution = gl.GetUniformLocation(flakeProg, gl.Str("uResolution\x00"))
	r.flUAtlas = gl.GetUniformLocation(flakeProg, gl.Str("uAtlas\x00"))
	r.flUCells = gl.GetUniformLocation(flakeProg, gl.Str("uCells\x00"))
	gl.Uniform1i(r.flUAtlas, 0)
	gl.Uniform1f(r.flUCells, float32(r.atlas.Cells))

	r.atlasTex = newTexture(r.atlas.Img)
	sled := SledImage(sim.SledW, sim.SledH)
	r.sledTex = newTexture(sled)
	r.sledW, r.sledH = sled.Rect.Dx(), sled.Rect.Dy()

	gl.BindVertexArray(0)
	gl.Enable(gl.PROGRAM_POINT_SIZE)
	gl.ClearColor(0, 0, 0, 0)
	return r, nil
}

func newTexture(img *image.RGBA) uint32 {
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	uploadTexture(img, true)
	return tex
}

// uploadTexture copies img into the bound texture; alloc reallocates storage.
func uploadTexture(img *image.RGBA, alloc bool) {
	w, h := int32(img.Rect.Dx()), int32(img.Rect.Dy())
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(img.Stride/4))
	if alloc {
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, w, h, 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, w, h, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	}
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
}

func (r *Renderer) Destroy() {
	for _, s := range r.surfaces {
		gl.DeleteTextures(1, &s.tex)
	}
	for _, id := range []uint32{r.atlasTex, r.sledTex} {
		if id != 0 {
			gl.DeleteTextures(1, &id)
		}
	}
	for _, id := range []uint32{r.quadVBO, r.flakeVBO} {
		if id != 0 {
			gl.DeleteBuffers(1, &id)
		}
	}
	for _, id := range []uint32{r.quadVAO, r.flakeVAO} {
		if id != 0 {
			gl.DeleteVertexArrays(1, &id)
		}
	}
	for _, id := range []uint32{r.surfProg, r.flakeProg} {
		if id != 0 {
			gl.DeleteProgram(id)
		}
	}
}

// Frame draws one complete overlay frame: fallen snow, then the storm, then the
// sled. winW/winH are in screen px, fbW/fbH in framebuffer px. Called from the
// main loop goroutine.
func (r *Renderer) Frame(c *sim.Context, winW, winH, fbW, fbH int) {
	r.winW, r.winH = winW, winH
	gl.Viewport(0, 0, int32(fbW), int32(fbH))
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	gl.ActiveTexture(gl.TEXTURE0)

	r.drawFallen(c.Store)
	r.drawFlakes(c.Engine)
	if c.Cfg.Get().Santa {
		sl := c.Santa.Footprint()
		r.drawQuad(r.sledTex, float32(sl.X), float32(sl.Y), float32(r.sledW), float32(r.sledH), !sl.FacingRight)
	}

	gl.Disable(gl.BLEND)
}

func (r *Renderer) drawFallen(st *fallen.Store) {
	st.SoftLock()
	r.recs = st.Snapshot(r.recs[:0])
	st.Unlock()

	for _, s := range r.surfaces {
		s.seen = false
	}
	st.Draw(r.recs, func(rec *fallen.Record, img *image.RGBA, b image.Rectangle) {
		s := r.surfaces[rec.ID]
		if s == nil {
			s = &surface{}
			gl.GenTextures(1, &s.tex)
			gl.BindTexture(gl.TEXTURE_2D, s.tex)
			gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
			gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
			gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
			gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
			r.surfaces[rec.ID] = s
		}
		s.seen = true
		gl.BindTexture(gl.TEXTURE_2D, s.tex)
		w, h := img.Rect.Dx(), img.Rect.Dy()
		switch {
		case w != s.w || h != s.h:
			uploadTexture(img, true)
			s.w, s.h, s.frame = w, h, rec.Frame
		case rec.Frame != s.frame:
			uploadTexture(img, false)
			s.frame = rec.Frame
		}
		r.drawQuad(s.tex, float32(b.Min.X), float32(b.Min.Y), float32(b.Dx()), float32(b.Dy()), false)
	})

	// Textures of removed or inactive records.
	for id, s := range r.surfaces {
		if !s.seen {
			gl.DeleteTextures(1, &s.tex)
			delete(r.surfaces, id)
		}
	}
}

func (r *Renderer) drawQuad(tex uint32, x, y, w, h float32, flip bool) {
	gl.UseProgram(r.surfProg)
	gl.BindVertexArray(r.quadVAO)
	gl.Uniform2f(r.uResolution, float32(r.winW), float32(r.winH))
	gl.Uniform2f(r.uOrigin, x, y)
	gl.Uniform2f(r.uSize, w, h)
	if flip {
		gl.Uniform1f(r.uFlip, 1)
	} else {
		gl.Uniform1f(r.uFlip, 0)
	}
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
}

func (r *Renderer) drawFlakes(e *storm.Engine) {
	r.flakeBuf = r.atlas.AppendFlakes(r.flakeBuf[:0], e)
	count := len(r.flakeBuf) / flakeFloats
	if count == 0 {
		return
	}
	gl.UseProgram(r.flakeProg)
	gl.BindVertexArray(r.flakeVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.flakeVBO)
	gl.Uniform2f(r.flUResolution, float32(r.winW), float32(r.winH))
	gl.BindTexture(gl.TEXTURE_2D, r.atlasTex)
	gl.BufferData(gl.ARRAY_BUFFER, len(r.flakeBuf)*4, gl.Ptr(r.flakeBuf), gl.STREAM_DRAW)
	gl.DrawArrays(gl.POINTS, 0, int32(count))
}
