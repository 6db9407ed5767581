package sim

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"plasmasnow/internal/config"
	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
	"plasmasnow/internal/storm"
)

type fakeProvider struct {
	mu   sync.Mutex
	w, h int
	ws   int
	wins []fallen.WindowInfo
	err  error
}

func (f *fakeProvider) Windows() ([]fallen.WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]fallen.WindowInfo(nil), f.wins...), nil
}

func (f *fakeProvider) Desktop() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.h, nil
}

func (f *fakeProvider) CurrentWorkspace() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ws, nil
}

func (f *fakeProvider) set(wins ...fallen.WindowInfo) {
	f.mu.Lock()
	f.wins = wins
	f.mu.Unlock()
}

func newContext(t *testing.T, mutate func(*config.Settings)) (*Context, *fakeProvider) {
	t.Helper()
	s := config.Default()
	s.SnowRate = 0
	if mutate != nil {
		mutate(s)
	}
	p := &fakeProvider{w: 1280, h: 800}
	c, err := New(config.NewHolder(s), p, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, p
}

func win(id fallen.WindowID, x, y, w int) fallen.WindowInfo {
	return fallen.WindowInfo{ID: id, X: x, Y: y, W: w, H: 300}
}

func TestDriverJitter(t *testing.T) {
	d := NewDriver(1)
	start := time.Unix(1000, 0)
	var ticks int
	d.Add("t", func() time.Duration { return 100 * time.Millisecond }, func(float64) bool {
		ticks++
		return true
	}, start)

	now := start
	for i := 0; i < 200; i++ {
		next := d.Step(now)
		gap := next.Sub(now)
		if i > 0 && (gap < 95*time.Millisecond || gap > 105*time.Millisecond) {
			t.Fatalf("step %d: next run in %s, want 100ms ±5%%", i, gap)
		}
		now = next
	}
	if ticks < 198 {
		t.Fatalf("ticks = %d", ticks)
	}
}

func TestDriverRejectsLongGap(t *testing.T) {
	d := NewDriver(2)
	start := time.Unix(1000, 0)
	var dts []float64
	task := d.Add("t", func() time.Duration { return 10 * time.Millisecond }, func(dt float64) bool {
		dts = append(dts, dt)
		return true
	}, start)

	d.Step(start.Add(20 * time.Millisecond))
	d.Step(start.Add(time.Hour))
	d.Step(start.Add(time.Hour + 20*time.Millisecond))
	if len(dts) != 3 || task.skipped != 1 {
		t.Fatalf("dts %v, skipped %d", dts, task.skipped)
	}
	for i, want := range []float64{0.02, 0, 0.02} {
		if d := dts[i] - want; d < -0.001 || d > 0.001 {
			t.Errorf("dts[%d] = %v, want %v", i, dts[i], want)
		}
	}
}

func TestDriverDropsFinishedTasks(t *testing.T) {
	d := NewDriver(3)
	start := time.Unix(1000, 0)
	n := 0
	d.Add("once", func() time.Duration { return time.Millisecond }, func(float64) bool {
		n++
		return false
	}, start)
	d.Step(start.Add(time.Second))
	if d.Step(start.Add(2*time.Second)); n != 1 || d.Len() != 0 {
		t.Fatalf("ran %d times, %d tasks left", n, d.Len())
	}
}

func TestSyncWindows(t *testing.T) {
	c, _ := newContext(t, nil)
	c.Exclude(99)

	res := c.SyncWindows([]fallen.WindowInfo{
		win(1, 10, 100, 400),
		win(2, 500, 200, 10), // too narrow
		{ID: 3, X: 0, Y: 300, W: 300, Hidden: true},
		{ID: 4, X: 0, Y: 400, W: 300, Workspace: 2},
		{ID: 5, X: 0, Y: 500, W: 300, Workspace: 2, Sticky: true},
		win(99, 0, 0, 1280),
		win(6, 0, -40, 500), // top edge off screen
	}, 0)
	if res.Created != 2 {
		t.Fatalf("created %d, want 2 (%+v)", res.Created, res)
	}

	c.Store.Lock()
	for _, id := range []fallen.WindowID{2, 3, 4, 6, 99} {
		if c.Store.Find(id) != nil {
			t.Errorf("window %d should not be tracked", id)
		}
	}
	if r := c.Store.Find(1); r == nil || !r.Active || r.Y != 100 || r.W != 400 {
		t.Errorf("window 1 record = %+v", r)
	}
	if c.Store.Find(5) == nil {
		t.Error("sticky window on another workspace should be tracked")
	}
	c.Store.Unlock()

	// Switch to workspace 2: window 4 appears, window 1 goes quiet but keeps its record.
	c.SyncWindows([]fallen.WindowInfo{
		win(1, 10, 100, 400),
		{ID: 4, X: 0, Y: 400, W: 300, Workspace: 2},
	}, 2)
	c.Store.Lock()
	if r := c.Store.Find(1); r == nil || r.Active {
		t.Errorf("window 1 on a hidden workspace: %+v", r)
	}
	if r := c.Store.Find(4); r == nil || !r.Active {
		t.Errorf("window 4 should be active on its workspace")
	}
	if c.Store.Find(5) != nil {
		t.Error("closed window 5 kept its record")
	}
	if c.Store.Find(fallen.DesktopID) == nil {
		t.Error("desktop record lost")
	}
	c.Store.Unlock()
}

func TestSyncMoveReleasesSnow(t *testing.T) {
	c, _ := newContext(t, nil)
	c.SyncWindows([]fallen.WindowInfo{win(1, 10, 100, 400)}, 0)

	c.Store.Lock()
	r := c.Store.Find(1)
	for i := 0; i < 50; i++ {
		r.Deposit(100, 60)
	}
	if r.Total() == 0 {
		t.Fatal("no snow deposited")
	}
	c.Store.Unlock()

	res := c.SyncWindows([]fallen.WindowInfo{win(1, 60, 150, 400)}, 0)
	if res.Moved != 1 || res.Released == 0 {
		t.Fatalf("move result %+v", res)
	}
	if c.Engine.Live() != res.Released {
		t.Fatalf("engine has %d items, released %d", c.Engine.Live(), res.Released)
	}
	c.Store.Lock()
	defer c.Store.Unlock()
	r = c.Store.Find(1)
	if r.Total() != 0 || r.X != 60 || r.Y != 150 {
		t.Fatalf("moved record: total %d at (%d, %d)", r.Total(), r.X, r.Y)
	}
}

func TestSyncMoveCarriesSnow(t *testing.T) {
	c, _ := newContext(t, func(s *config.Settings) { s.DropSnowOnMove = false })
	c.SyncWindows([]fallen.WindowInfo{win(1, 10, 100, 400)}, 0)
	c.Store.Lock()
	c.Store.Find(1).Deposit(100, 60)
	before := c.Store.Find(1).Total()
	c.Store.Unlock()

	c.SyncWindows([]fallen.WindowInfo{win(1, 30, 120, 400)}, 0)
	c.SyncWindows([]fallen.WindowInfo{win(1, 30, 120, 350)}, 0)
	c.Store.Lock()
	defer c.Store.Unlock()
	r := c.Store.Find(1)
	if r.W != 350 || r.Total() != before {
		t.Fatalf("carried record: width %d, total %d, want %d", r.W, r.Total(), before)
	}
	if c.Engine.Live() != 0 {
		t.Fatal("snow released although DropSnowOnMove is off")
	}
}

func TestReloadResetsOnDepthChange(t *testing.T) {
	c, _ := newContext(t, nil)
	c.SyncWindows([]fallen.WindowInfo{win(1, 10, 100, 400)}, 0)

	next := c.Cfg.Get().Clone()
	next.SnowRate = 3
	c.Reload(next)
	c.Store.Lock()
	if c.Store.Find(1) == nil {
		t.Fatal("rate change should not reset records")
	}
	c.Store.Unlock()

	next = next.Clone()
	next.MaxDesktopSnowDepth = 80
	c.Reload(next)
	c.Store.Lock()
	defer c.Store.Unlock()
	if c.Store.Len() != 1 || c.Store.Find(fallen.DesktopID).H != 80 {
		t.Fatalf("depth change should leave only a new desktop record, len %d", c.Store.Len())
	}
}

func TestWorkerPass(t *testing.T) {
	c, _ := newContext(t, nil)
	c.Store.Lock()
	d := c.Store.Find(fallen.DesktopID)
	for i := range d.Height {
		d.Height[i] = d.Ceiling[i]
	}
	recs := c.Store.Snapshot(nil)
	c.Store.Unlock()

	c.Worker.Pass()
	if c.Worker.Passes() != 1 {
		t.Fatalf("passes = %d", c.Worker.Passes())
	}
	painted := false
	c.Store.Draw(recs, func(_ *fallen.Record, img *image.RGBA, _ image.Rectangle) {
		for i := 3; i < len(img.Pix); i += 4 {
			if img.Pix[i] != 0 {
				painted = true
				return
			}
		}
	})
	if !painted {
		t.Fatal("worker pass did not publish a frame")
	}
}

func TestWorkerStops(t *testing.T) {
	c, _ := newContext(t, func(s *config.Settings) { s.CeilingInterval = time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Worker.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve after cancel = %v", err)
	}

	c.Shutdown()
	c.tickStorm(0)
	if err := c.Worker.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Serve after shutdown = %v", err)
	}
}

func TestShutdownFadesBeforeUnscheduling(t *testing.T) {
	c, _ := newContext(t, func(s *config.Settings) { s.SnowRate = 5 })
	d := NewDriver(4)
	now := time.Unix(1000, 0)
	c.Schedule(d, now)
	step := 50 * time.Millisecond
	for range 100 {
		now = now.Add(step)
		d.Step(now)
	}
	if c.Engine.Live() == 0 {
		t.Fatal("no snow before shutdown")
	}

	c.Shutdown()
	if !c.Engine.Stalled() {
		t.Error("shutdown should stall the storm")
	}
	if c.Stopped() {
		t.Fatal("stopped before the storm faded")
	}
	now = now.Add(step)
	d.Step(now)
	if c.Stopped() || c.Engine.Live() == 0 {
		t.Fatalf("after one step: stopped=%v live=%d, want the storm still fading", c.Stopped(), c.Engine.Live())
	}
	fading := 0
	c.Engine.Each(func(it *storm.Item) {
		if it.Fluffing {
			fading++
		}
	})
	if fading != c.Engine.Live() {
		t.Errorf("%d of %d items fading", fading, c.Engine.Live())
	}

	for i := 0; i < 20 && !c.Stopped(); i++ {
		now = now.Add(step)
		d.Step(now)
	}
	if !c.Stopped() {
		t.Fatal("drained storm did not mark the simulation stopped")
	}
	if c.Engine.Live() != 0 {
		t.Errorf("%d items left after the fade", c.Engine.Live())
	}
	d.Step(now.Add(10 * time.Second))
	if d.Len() != 0 {
		t.Fatalf("%d tasks still scheduled after shutdown", d.Len())
	}
}

func TestShutdownDrainIsBounded(t *testing.T) {
	c, _ := newContext(t, nil)
	c.Engine.SpawnAt(10, 10, false)
	c.Shutdown()
	if c.tickStorm(0) != true {
		t.Fatal("storm unscheduled while an item is still live")
	}
	// A rejected tick leaves the item alone but still counts toward the timeout.
	if c.tickStorm(drainTimeout + 1) {
		t.Fatal("storm kept running past the drain timeout")
	}
	if !c.Stopped() || c.Engine.Live() != 1 {
		t.Errorf("stopped=%v live=%d, want stopped with the item abandoned", c.Stopped(), c.Engine.Live())
	}
}

func TestGeometryPollerKeepsLastReading(t *testing.T) {
	p := &fakeProvider{w: 800, h: 600}
	p.set(win(1, 0, 100, 300))
	g := NewGeometryPoller(p, func() time.Duration { return time.Millisecond })
	if err := g.Poll(); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	p.err = errors.New("window vanished mid-query")
	p.mu.Unlock()
	if err := g.Poll(); err == nil {
		t.Fatal("expected poll error")
	}
	l := g.Latest()
	if l == nil || l.Seq != 1 || len(l.Windows) != 1 {
		t.Fatalf("latest = %+v", l)
	}
}

func TestSantaAlternates(t *testing.T) {
	s := NewSanta(1, 800, 600)
	if !s.FacingRight {
		t.Fatal("first pass should head right")
	}
	for i := 0; i < 1000 && s.FacingRight; i++ {
		s.Step(0.1, 120, 800, 600)
	}
	if s.FacingRight {
		t.Fatal("sled never turned around")
	}
	if s.X < 700 {
		t.Fatalf("return pass should start at the right edge, x = %v", s.X)
	}
	if fp := s.Footprint(); fp.FacingRight || fp.W != SledW {
		t.Fatalf("footprint %+v", fp)
	}
}

func TestSupervisedRun(t *testing.T) {
	c, p := newContext(t, func(s *config.Settings) {
		s.SnowRate = 5
		s.GeometryInterval = 5 * time.Millisecond
		s.CeilingInterval = 5 * time.Millisecond
	})
	p.set(win(1, 100, 200, 500), win(2, 700, 300, 400))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sup := suture.New("test", suture.Spec{})
	c.Services(sup)
	errs := sup.ServeBackground(ctx)

	d := NewDriver(5)
	c.Schedule(d, time.Now())
	var waits atomic.Int64
	c.Run(ctx, d, func(dl time.Duration) {
		waits.Add(1)
		time.Sleep(dl)
	})
	c.Shutdown()
	cancel()
	<-errs

	c.Store.Lock()
	defer c.Store.Unlock()
	if c.Store.Find(1) == nil || c.Store.Find(2) == nil {
		t.Fatal("polled windows never reached the store")
	}
	if c.Worker.Passes() == 0 {
		t.Fatal("worker never ran")
	}
	if c.Engine.Stats().Created == 0 {
		t.Fatal("storm never spawned")
	}
}

func TestStatsReportsFallenSnowAndPollFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log.Use(zap.New(core))
	t.Cleanup(func() { log.Use(nil) })

	c, p := newContext(t, nil)
	p.mu.Lock()
	p.err = errors.New("display gone")
	p.mu.Unlock()
	if err := c.Poller.Poll(); err == nil {
		t.Fatal("expected poll error")
	}

	want := 0
	c.Store.Lock()
	for _, r := range c.Store.Records() {
		for i := range r.Height {
			r.Height[i] = 1
		}
		want += r.W
	}
	c.Store.Unlock()

	c.tickStats(0)
	entries := logs.FilterMessage("sim: stats").All()
	if len(entries) != 1 {
		t.Fatalf("got %d stats entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["fallen_px"] != int64(want) {
		t.Errorf("fallen_px = %v, want %d", fields["fallen_px"], want)
	}
	if fields["geometry_failures"] != uint64(1) {
		t.Errorf("geometry_failures = %v, want 1", fields["geometry_failures"])
	}
}
