package fallen

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"plasmasnow/internal/log"
	"plasmasnow/internal/mathutil"
)

// MinWidth is the narrowest strip worth tracking.
const MinWidth = 30

// maxSurfacePixels bounds a single record image (16384 x 4096).
const maxSurfacePixels = 1 << 26

// Soft lock retry policy.
const (
	softLockTries = 8
	softLockPause = 50 * time.Microsecond
)

var (
	ErrDuplicate = errors.New("fallen: record already exists")
	ErrTooNarrow = errors.New("fallen: strip too narrow")
)

// EraseFunc clears a previously drawn screen area. Only used when drawing is
// single-buffered.
type EraseFunc func(image.Rectangle)

// Store is the collection of records. Every method that reads or writes heights or
// the record list expects the caller to hold the base lock (Lock or SoftLock); the
// image methods take the swap lock themselves.
type Store struct {
	mu      sync.Mutex // base lock
	records []*Record
	index   map[WindowID]int
	rng     *mathutil.Rand
	color   color.RGBA

	swapMu   sync.Mutex
	erase    EraseFunc
	buffered atomic.Bool

	softMisses atomic.Uint64
}

func NewStore(seed uint64) *Store {
	s := &Store{
		index: make(map[WindowID]int),
		rng:   mathutil.NewRand(seed),
		color: color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
	s.buffered.Store(true)
	return s
}

// Lock takes the base lock, blocking. Used by the background settle pass.
func (s *Store) Lock() { s.mu.Lock() }

func (s *Store) Unlock() { s.mu.Unlock() }

// SoftLock takes the base lock from a latency sensitive loop: a few non-blocking
// attempts, then a blocking wait.
func (s *Store) SoftLock() {
	for i := 0; i < softLockTries; i++ {
		if s.mu.TryLock() {
			return
		}
		if i&1 == 0 {
			runtime.Gosched()
		} else {
			time.Sleep(softLockPause)
		}
	}
	s.softMisses.Add(1)
	s.mu.Lock()
}

// SoftMisses counts SoftLock calls that fell back to blocking.
func (s *Store) SoftMisses() uint64 { return s.softMisses.Load() }

// SetEraser installs the erase callback used on removal in single-buffered mode.
func (s *Store) SetEraser(fn EraseFunc) {
	s.swapMu.Lock()
	s.erase = fn
	s.swapMu.Unlock()
}

// SetDoubleBuffered selects between rendering into a pending image and swapping, or
// rendering in place.
func (s *Store) SetDoubleBuffered(on bool) { s.buffered.Store(on) }

func (s *Store) DoubleBuffered() bool { return s.buffered.Load() }

// SetColor sets the fill colour for records created from now on. Caller holds the
// base lock.
func (s *Store) SetColor(c color.RGBA) {
	s.color = c
	for _, r := range s.records {
		r.Color = c
	}
}

// Create adds a record for a surface of w columns whose snow sits on baseline y and
// may grow to depth h.
func (s *Store) Create(info WindowInfo, x, y, w, h int) (*Record, error) {
	if _, ok := s.index[info.ID]; ok {
		return nil, fmt.Errorf("%w: %#x", ErrDuplicate, info.ID)
	}
	if w < MinWidth {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooNarrow, w, MinWidth)
	}
	if h < 1 {
		h = 1
	}
	if w*h > maxSurfacePixels {
		log.Fatalf("fallen: cannot allocate %dx%d surface for window %#x", w, h, info.ID)
	}

	r := &Record{
		ID:      info.ID,
		X:       x,
		Y:       y,
		W:       w,
		H:       h,
		Height:  make([]int, w),
		Ceiling: GenerateCeiling(s.rng, w, h, info.ID == DesktopID),
		Info:    info,
		Active:  true,
		Color:   s.color,
		visible: image.NewRGBA(image.Rect(0, 0, w, h)),
		pending: image.NewRGBA(image.Rect(0, 0, w, h)),
		scratch: make([]int, 0, w+2),
	}
	r.target = append([]int(nil), r.Ceiling...)

	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)
	log.Debugw("fallen: record created", "id", r.ID, "x", x, "y", y, "w", w, "h", h)
	return r, nil
}

// Remove drops the record for id. Removing an unknown id is a no-op.
func (s *Store) Remove(id WindowID) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	r := s.records[i]
	last := len(s.records) - 1
	s.records[i] = s.records[last]
	s.index[s.records[i].ID] = i
	s.records[last] = nil
	s.records = s.records[:last]
	delete(s.index, id)

	if !s.DoubleBuffered() {
		s.swapMu.Lock()
		if s.erase != nil && !r.PrevDraw.Empty() {
			s.erase(r.PrevDraw)
		}
		s.swapMu.Unlock()
	}
	log.Debugw("fallen: record removed", "id", id)
}

// Resize replaces the record for info.ID with one of the new geometry. Snow in the
// overlapping columns is kept, cut to the new depth h; where it still exceeds the
// freshly generated ceiling, DecayTowardCeiling settles it away one pixel per pass.
func (s *Store) Resize(info WindowInfo, x, y, w, h int) (*Record, error) {
	old := s.Find(info.ID)
	if old == nil {
		return s.Create(info, x, y, w, h)
	}
	s.Remove(info.ID)
	r, err := s.Create(info, x, y, w, h)
	if err != nil {
		return nil, err
	}
	r.Active = old.Active
	n := copy(r.Height, old.Height)
	for i := 0; i < n; i++ {
		r.Height[i] = min(r.Height[i], h)
		if r.Height[i] > r.Ceiling[i] {
			r.Ceiling[i] = r.Height[i]
		}
	}
	return r, nil
}

// Find returns the record for id, or nil.
func (s *Store) Find(id WindowID) *Record {
	if i, ok := s.index[id]; ok {
		return s.records[i]
	}
	return nil
}

// Records is the live record list; do not retain it past Unlock.
func (s *Store) Records() []*Record { return s.records }

func (s *Store) Len() int { return len(s.records) }

// Snapshot copies the record list so it can be walked without the base lock.
func (s *Store) Snapshot(dst []*Record) []*Record {
	return append(dst[:0], s.records...)
}

// ResetAll discards every record and recreates the desktop record for a screen of
// screenW x screenH with the given depth. Window records reappear on the next sync.
func (s *Store) ResetAll(screenW, screenH, depth int, desktopActive bool) error {
	for len(s.records) > 0 {
		s.Remove(s.records[len(s.records)-1].ID)
	}
	info := WindowInfo{ID: DesktopID, W: screenW, H: screenH, Sticky: true}
	r, err := s.Create(info, 0, screenH, screenW, depth)
	if err != nil {
		return fmt.Errorf("reset desktop record: %w", err)
	}
	r.Active = desktopActive
	return nil
}

// RenderTo rasterizes heights and c (copies taken under the base lock) into the
// record's image. Double-buffered, it draws into the pending image without any
// lock; otherwise it draws into the visible image under the swap lock.
func (s *Store) RenderTo(rd *Renderer, r *Record, heights []int, c color.RGBA) {
	if s.DoubleBuffered() {
		rd.Render(r.pending, c, heights, r.Desktop())
		r.fresh = true
		return
	}
	s.swapMu.Lock()
	rd.Render(r.visible, c, heights, r.Desktop())
	r.Frame++
	s.swapMu.Unlock()
}

// SwapAll publishes every freshly rendered pending image.
func (s *Store) SwapAll(recs []*Record) int {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	n := 0
	for _, r := range recs {
		if !r.fresh {
			continue
		}
		r.visible, r.pending = r.pending, r.visible
		r.fresh = false
		r.Frame++
		n++
	}
	return n
}

// DrawFunc receives a record's visible image and its screen bounds.
type DrawFunc func(r *Record, img *image.RGBA, bounds image.Rectangle)

// Draw hands each active record's visible image to fn while holding the swap lock,
// so fn never observes a half rendered frame. In single-buffered mode the eraser
// clears what a record left behind when it turned inactive or moved.
func (s *Store) Draw(recs []*Record, fn DrawFunc) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	erase := s.erase
	if s.DoubleBuffered() {
		erase = nil
	}
	// Erase everything stale before drawing so no record loses cells to another's eraser.
	for _, r := range recs {
		var b image.Rectangle
		if r.Active {
			b = r.Bounds()
		}
		if erase != nil && !r.PrevDraw.Empty() && r.PrevDraw != b {
			erase(r.PrevDraw)
		}
		r.PrevDraw = b
	}
	for _, r := range recs {
		if r.Active {
			fn(r, r.visible, r.PrevDraw)
		}
	}
}
