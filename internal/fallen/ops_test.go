package fallen

import (
	"testing"

	"plasmasnow/internal/mathutil"
)

type countingSink struct {
	calls int
	wraps bool
}

func (c *countingSink) BlowOff(x, y float64, wraps bool) {
	c.calls++
	c.wraps = wraps
}

func flatRecord(w, h, ceiling int) *Record {
	r := &Record{ID: 42, X: 0, Y: 500, W: w, H: h,
		Height:  make([]int, w),
		Ceiling: make([]int, w),
		target:  make([]int, w),
	}
	for i := range r.Ceiling {
		r.Ceiling[i] = ceiling
		r.target[i] = ceiling
	}
	return r
}

func TestDepositTouchesOnlyItsRange(t *testing.T) {
	r := flatRecord(200, 40, 40)
	r.Deposit(90, 20)
	for i, h := range r.Height {
		in := i >= 90 && i < 110
		if in && h <= 0 {
			t.Errorf("column %d inside the deposit stayed at %d", i, h)
		}
		if !in && h != 0 {
			t.Errorf("column %d outside the deposit grew to %d", i, h)
		}
	}
}

func TestDepositGrowsAndRespectsCeiling(t *testing.T) {
	r := flatRecord(100, 10, 6)
	for n := 0; n < 100; n++ {
		before := append([]int(nil), r.Height...)
		r.Deposit(40, 5)
		for i := 40; i < 45; i++ {
			if r.Height[i] < before[i] {
				t.Fatalf("deposit %d lowered column %d: %d -> %d", n, i, before[i], r.Height[i])
			}
			if before[i] < r.Ceiling[i] && r.Height[i] == before[i] {
				t.Fatalf("deposit %d did not grow column %d below its ceiling", n, i)
			}
			if r.Height[i] > r.Ceiling[i] {
				t.Fatalf("column %d = %d above ceiling %d", i, r.Height[i], r.Ceiling[i])
			}
		}
	}
	if !r.Full(40, 5) {
		t.Fatal("range should be full after repeated deposits")
	}
}

func TestDepositClipsAtEdges(t *testing.T) {
	r := flatRecord(50, 10, 10)
	r.Deposit(-3, 5)
	r.Deposit(48, 10)
	r.Deposit(60, 4)
	if r.Height[0] == 0 || r.Height[1] == 0 || r.Height[49] == 0 {
		t.Fatalf("edge columns not grown: %v", r.Height)
	}
	if r.Height[2] != 0 || r.Height[47] != 0 {
		t.Fatalf("columns beyond the clipped ranges grew: %v", r.Height)
	}
}

func TestDepositCatchesUpInPits(t *testing.T) {
	r := flatRecord(30, 40, 40)
	r.Height[9], r.Height[11] = 20, 20
	r.Deposit(10, 1)
	if r.Height[10] != 10 {
		t.Fatalf("pit column = %d, want half the gap (10)", r.Height[10])
	}
}

func TestErosionNeverIncreases(t *testing.T) {
	rng := mathutil.NewRand(77)
	r := flatRecord(400, 30, 30)
	for i := range r.Height {
		r.Height[i] = rng.Intn(31)
	}
	sink := &countingSink{}
	for pass := 0; pass < 20; pass++ {
		before := append([]int(nil), r.Height...)
		n := r.ApplyWindErosion(rng, 4, 5, sink)
		lost := 0
		for i := range r.Height {
			d := before[i] - r.Height[i]
			if d < 0 || d > 1 {
				t.Fatalf("pass %d column %d changed by %d", pass, i, -d)
			}
			if d == 1 && before[i] <= 5 {
				t.Fatalf("column %d eroded at height %d, threshold 5", i, before[i])
			}
			lost += d
		}
		if lost != n {
			t.Fatalf("pass %d: reported %d eroded, counted %d", pass, n, lost)
		}
	}
	if sink.calls == 0 {
		t.Fatal("no snow was blown off")
	}
	if sink.wraps {
		t.Error("window blow-off must not wrap")
	}
}

func TestDesktopBlowOffWraps(t *testing.T) {
	r := flatRecord(100, 30, 30)
	r.ID = DesktopID
	for i := range r.Height {
		r.Height[i] = 20
	}
	sink := &countingSink{}
	r.ApplyWindErosion(mathutil.NewRand(1), 1, 0, sink)
	if sink.calls == 0 || !sink.wraps {
		t.Fatalf("desktop blow-off: calls %d wraps %v", sink.calls, sink.wraps)
	}
}

func TestDecayTowardCeiling(t *testing.T) {
	r := flatRecord(10, 20, 5)
	r.Height[3] = 8
	r.Ceiling[3] = 8
	r.Height[4] = 2
	for want := 7; want >= 5; want-- {
		r.DecayTowardCeiling()
		if r.Height[3] != want || r.Ceiling[3] != want {
			t.Fatalf("column 3 = %d/%d, want %d", r.Height[3], r.Ceiling[3], want)
		}
	}
	if n := r.DecayTowardCeiling(); n != 0 {
		t.Fatalf("settled record still decaying %d columns", n)
	}
	if r.Height[4] != 2 {
		t.Errorf("column below the ceiling changed: %d", r.Height[4])
	}
}

func TestPlow(t *testing.T) {
	r := flatRecord(300, 30, 30)
	for i := range r.Height {
		r.Height[i] = 10
	}
	// Sled flying high above the snow.
	if r.Plow(Sled{X: 100, Y: 300, W: 40, H: 20, FacingRight: true}) {
		t.Fatal("sled above the surface plowed")
	}
	// Sled skimming the surface (Y=500 baseline, surface at 490).
	if !r.Plow(Sled{X: 100, Y: 475, W: 40, H: 20, FacingRight: true}) {
		t.Fatal("sled on the surface did not plow")
	}
	for i := 100; i < 150; i++ {
		if r.Height[i] != 0 {
			t.Fatalf("column %d not cleared: %d", i, r.Height[i])
		}
	}
	if r.Height[99] != 10 || r.Height[151] != 10 {
		t.Fatalf("plow spilled outside footprint: %d %d", r.Height[99], r.Height[151])
	}
}

func TestRelease(t *testing.T) {
	r := flatRecord(60, 30, 30)
	for i := range r.Height {
		r.Height[i] = 12
	}
	var n int
	got := r.Release(func(x, y float64) {
		if x < 0 || x >= 60 || y > 500 || y < 470 {
			t.Fatalf("released item at (%v, %v) outside the strip", x, y)
		}
		n++
	})
	if got != n || n == 0 {
		t.Fatalf("Release reported %d, emitted %d", got, n)
	}
	if r.Total() != 0 {
		t.Fatalf("snow left after release: %d", r.Total())
	}
}

func TestGenerateCeiling(t *testing.T) {
	rng := mathutil.NewRand(5)
	for _, tc := range []struct {
		w, h    int
		desktop bool
	}{
		{640, 30, false},
		{1920, 50, true},
		{MinWidth, 2, false},
		{4, 10, false},
	} {
		c := GenerateCeiling(rng, tc.w, tc.h, tc.desktop)
		if len(c) != tc.w {
			t.Fatalf("%+v: len %d", tc, len(c))
		}
		for i, v := range c {
			if v < 1 || v > tc.h {
				t.Fatalf("%+v: ceiling[%d] = %d", tc, i, v)
			}
		}
	}
}
