package fallen

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

func newWindow(t *testing.T, s *Store, id WindowID, w, h int) *Record {
	t.Helper()
	r, err := s.Create(WindowInfo{ID: id, X: 100, Y: 200, W: w, H: 300}, 100, 200, w, h)
	if err != nil {
		t.Fatalf("Create(%d): %v", id, err)
	}
	return r
}

func TestCreateRejectsDuplicateAndNarrow(t *testing.T) {
	s := NewStore(1)
	s.Lock()
	defer s.Unlock()

	newWindow(t, s, 7, 200, 20)
	if _, err := s.Create(WindowInfo{ID: 7}, 0, 0, 200, 20); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate create: err = %v", err)
	}
	if _, err := s.Create(WindowInfo{ID: 8}, 0, 0, MinWidth-1, 20); !errors.Is(err, ErrTooNarrow) {
		t.Fatalf("narrow create: err = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestCreateInvariants(t *testing.T) {
	s := NewStore(2)
	s.Lock()
	defer s.Unlock()

	r := newWindow(t, s, 3, 640, 30)
	if len(r.Height) != r.W || len(r.Ceiling) != r.W {
		t.Fatalf("arrays sized %d/%d, want %d", len(r.Height), len(r.Ceiling), r.W)
	}
	for i := range r.Height {
		if r.Height[i] != 0 {
			t.Fatalf("column %d starts at %d", i, r.Height[i])
		}
		if r.Ceiling[i] < minCeiling || r.Ceiling[i] > r.H {
			t.Fatalf("ceiling[%d] = %d out of [%d, %d]", i, r.Ceiling[i], minCeiling, r.H)
		}
	}
	if b := r.Bounds(); b != image.Rect(100, 170, 740, 200) {
		t.Fatalf("Bounds = %v", b)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := NewStore(3)
	s.Lock()
	defer s.Unlock()

	for id := WindowID(1); id <= 4; id++ {
		newWindow(t, s, id, 100, 10)
	}
	s.Remove(2)
	s.Remove(2)
	s.Remove(99)
	if s.Len() != 3 || s.Find(2) != nil {
		t.Fatalf("after removal: len %d, find(2) %v", s.Len(), s.Find(2))
	}
	for _, id := range []WindowID{1, 3, 4} {
		if r := s.Find(id); r == nil || r.ID != id {
			t.Fatalf("Find(%d) = %v", id, r)
		}
	}
}

func TestRemoveErasesWhenSingleBuffered(t *testing.T) {
	s := NewStore(4)
	var erased []image.Rectangle
	s.SetEraser(func(r image.Rectangle) { erased = append(erased, r) })
	s.SetDoubleBuffered(false)

	s.Lock()
	r := newWindow(t, s, 5, 120, 10)
	recs := s.Snapshot(nil)
	s.Unlock()

	s.Draw(recs, func(*Record, *image.RGBA, image.Rectangle) {})

	s.Lock()
	s.Remove(5)
	s.Unlock()
	if len(erased) != 1 || erased[0] != r.Bounds() {
		t.Fatalf("erased %v, want [%v]", erased, r.Bounds())
	}
}

func TestDrawErasesInactiveAndMovedRecords(t *testing.T) {
	s := NewStore(4)
	var erased []image.Rectangle
	s.SetEraser(func(r image.Rectangle) { erased = append(erased, r) })
	s.SetDoubleBuffered(false)

	s.Lock()
	r := newWindow(t, s, 5, 120, 10)
	recs := s.Snapshot(nil)
	s.Unlock()
	drawn := 0
	draw := func(*Record, *image.RGBA, image.Rectangle) { drawn++ }

	s.Draw(recs, draw)
	first := r.Bounds()
	r.Active = false
	s.Draw(recs, draw)
	s.Draw(recs, draw)
	if drawn != 1 {
		t.Fatalf("inactive record drawn: %d draws", drawn)
	}
	if len(erased) != 1 || erased[0] != first {
		t.Fatalf("erased %v, want [%v] once", erased, first)
	}

	erased = nil
	r.Active = true
	s.Draw(recs, draw)
	r.X += 40
	s.Draw(recs, draw)
	if len(erased) != 1 || erased[0] != first {
		t.Fatalf("after move erased %v, want [%v]", erased, first)
	}
	if r.PrevDraw != r.Bounds() {
		t.Errorf("PrevDraw = %v, want %v", r.PrevDraw, r.Bounds())
	}
}

func TestResetAll(t *testing.T) {
	s := NewStore(5)
	s.Lock()
	defer s.Unlock()

	newWindow(t, s, 9, 300, 10)
	if err := s.ResetAll(1920, 1080, 50, true); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want only the desktop", s.Len())
	}
	d := s.Find(DesktopID)
	if d == nil || !d.Desktop() || d.W != 1920 || d.Y != 1080 || d.H != 50 {
		t.Fatalf("desktop record = %+v", d)
	}
	// Desktop profiles are pinned to full depth at the screen edges.
	if d.Ceiling[0] != 50 || d.Ceiling[d.W-1] != 50 {
		t.Errorf("desktop ceiling ends = %d, %d", d.Ceiling[0], d.Ceiling[d.W-1])
	}
}

func TestResizeKeepsSnowAndSettles(t *testing.T) {
	s := NewStore(6)
	s.Lock()
	defer s.Unlock()

	r := newWindow(t, s, 11, 200, 40)
	for i := range r.Height {
		r.Height[i] = r.Ceiling[i]
	}
	r2, err := s.Resize(r.Info, 100, 200, 150, 40)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if s.Find(11) != r2 || s.Len() != 1 {
		t.Fatal("Resize did not replace the record")
	}
	for i := range r2.Height {
		if r2.Height[i] != r.Height[i] {
			t.Fatalf("column %d lost snow: %d -> %d", i, r.Height[i], r2.Height[i])
		}
	}
	for pass := 0; pass < 50; pass++ {
		r2.DecayTowardCeiling()
		for i := range r2.Height {
			if r2.Height[i] > r2.Ceiling[i] {
				t.Fatalf("pass %d column %d: height %d above ceiling %d", pass, i, r2.Height[i], r2.Ceiling[i])
			}
		}
	}
}

func TestResizeShallowerCutsToDepth(t *testing.T) {
	s := NewStore(6)
	s.Lock()
	defer s.Unlock()

	r := newWindow(t, s, 11, 200, 40)
	for i := range r.Height {
		r.Height[i] = r.Ceiling[i]
	}
	r2, err := s.Resize(r.Info, 100, 200, 150, 4)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	for i := range r2.Height {
		if r2.Height[i] > 4 || r2.Ceiling[i] > 4 {
			t.Fatalf("column %d: height %d ceiling %d, want both within depth 4", i, r2.Height[i], r2.Ceiling[i])
		}
		if r2.Height[i] > r2.Ceiling[i] {
			t.Fatalf("column %d: height %d above ceiling %d", i, r2.Height[i], r2.Ceiling[i])
		}
		if r.Height[i] >= 4 && r2.Height[i] != 4 {
			t.Fatalf("column %d: deep snow cut to %d, want 4", i, r2.Height[i])
		}
	}
}

func TestSwapPublishesCompleteFrames(t *testing.T) {
	s := NewStore(7)
	rd := NewRenderer()

	s.Lock()
	r := newWindow(t, s, 12, 200, 20)
	for i := range r.Height {
		r.Height[i] = 10
	}
	heights := append([]int(nil), r.Height...)
	recs := s.Snapshot(nil)
	s.Unlock()

	s.RenderTo(rd, r, heights, r.Color)
	var before int
	s.Draw(recs, func(_ *Record, img *image.RGBA, _ image.Rectangle) { before = opaque(img) })
	if before != 0 {
		t.Fatalf("pending frame visible before swap: %d opaque pixels", before)
	}
	if n := s.SwapAll(recs); n != 1 {
		t.Fatalf("SwapAll swapped %d, want 1", n)
	}
	var after int
	s.Draw(recs, func(_ *Record, img *image.RGBA, _ image.Rectangle) { after = opaque(img) })
	if after == 0 {
		t.Fatal("swapped frame is empty")
	}
	if n := s.SwapAll(recs); n != 0 {
		t.Fatalf("second SwapAll swapped %d stale frames", n)
	}
}

func TestSoftLockFallsBackToBlocking(t *testing.T) {
	s := NewStore(8)
	s.Lock()
	done := make(chan struct{})
	go func() {
		s.SoftLock()
		s.Unlock()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	s.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SoftLock never acquired the lock")
	}
	if s.SoftMisses() == 0 {
		t.Error("expected a blocking fallback to be counted")
	}
}

func TestConcurrentSettleAndDeposit(t *testing.T) {
	s := NewStore(9)
	rd := NewRenderer()
	s.Lock()
	if err := s.ResetAll(800, 600, 40, true); err != nil {
		t.Fatal(err)
	}
	s.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var recs []*Record
		var heights [][]int
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.Lock()
			recs = s.Snapshot(recs)
			heights = heights[:0]
			for _, r := range recs {
				r.DecayTowardCeiling()
				heights = append(heights, append([]int(nil), r.Height...))
			}
			s.Unlock()
			for i, r := range recs {
				s.RenderTo(rd, r, heights[i], r.Color)
			}
			s.SwapAll(recs)
		}
	}()

	for i := 0; i < 2000; i++ {
		s.SoftLock()
		d := s.Find(DesktopID)
		d.Deposit(i%d.W, 3)
		for c := range d.Height {
			if d.Height[c] < 0 || d.Height[c] > d.Ceiling[c] {
				s.Unlock()
				close(stop)
				wg.Wait()
				t.Fatalf("column %d out of range: %d (ceiling %d)", c, d.Height[c], d.Ceiling[c])
			}
		}
		s.Unlock()
	}
	close(stop)
	wg.Wait()
}

func opaque(img *image.RGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			n++
		}
	}
	return n
}
