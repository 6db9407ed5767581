// Package sim wires the fallen snow, the storm and the wind into one simulation
// driven from the main loop, with a background settle worker and a geometry poller.
package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"plasmasnow/internal/config"
	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
	"plasmasnow/internal/mathutil"
	"plasmasnow/internal/storm"
	"plasmasnow/internal/wind"
)

// Erosion sampling: every erosionStride-th column (half that in a strong gust),
// only above erosionThreshold px.
const (
	erosionStride    = 8
	erosionThreshold = 4
	statsInterval    = 5 * time.Second

	// drainTimeout bounds the shutdown fade in simulated seconds.
	drainTimeout = 0.5
)

// Context owns one running simulation. Every method except Shutdown, Draining, Stopped and
// the supervised services must be called from the main loop goroutine.
type Context struct {
	Cfg    *config.Holder
	Store  *fallen.Store
	Engine *storm.Engine
	Wind   *wind.Model
	Santa  *Santa

	Poller *GeometryPoller
	Worker *CeilingWorker

	rng     *mathutil.Rand
	screenW int
	screenH int
	exclude map[fallen.WindowID]bool
	lastSeq uint64
	drained float64

	draining atomic.Bool
	stopped  atomic.Bool
}

// New builds a simulation for the provider's current screen.
func New(cfg *config.Holder, p Provider, seed uint64) (*Context, error) {
	s := cfg.Get()
	w, h, err := p.Desktop()
	if err != nil {
		return nil, fmt.Errorf("query desktop: %w", err)
	}

	c := &Context{
		Cfg:     cfg,
		Store:   fallen.NewStore(mathutil.Mix(seed, 1)),
		Wind:    wind.New(mathutil.Mix(seed, 2)),
		Santa:   NewSanta(mathutil.Mix(seed, 3), w, h),
		rng:     mathutil.NewRand(mathutil.Mix(seed, 4)),
		exclude: make(map[fallen.WindowID]bool),
	}
	shapes := storm.NewShapeTable(s.FlakeShapes, s.SnowColorful(), mathutil.Mix(seed, 5))
	c.Engine = storm.NewEngine(c.Store, shapes, cfg, c.Wind, mathutil.Mix(seed, 6))
	c.Poller = NewGeometryPoller(p, func() time.Duration { return c.Cfg.Get().GeometryInterval })
	c.Worker = NewCeilingWorker(c.Store, func() time.Duration { return c.Cfg.Get().CeilingInterval }, &c.stopped)

	c.Store.SetDoubleBuffered(s.DoubleBuffer)
	c.Store.Lock()
	c.Store.SetColor(s.SnowRGBA())
	c.Store.Unlock()
	if err := c.resize(w, h); err != nil {
		return nil, err
	}
	return c, nil
}

// Exclude keeps a window (the overlay itself) out of tracking.
func (c *Context) Exclude(id fallen.WindowID) { c.exclude[id] = true }

func (c *Context) Screen() (w, h int) { return c.screenW, c.screenH }

// Shutdown stalls the storm. The storm and render tasks keep running while the
// remaining items fade out; Stopped turns true once they are gone or drainTimeout
// has passed, and every task and the worker then wind down.
func (c *Context) Shutdown() {
	if c.draining.Swap(true) {
		return
	}
	c.Engine.Stall(true)
	log.Infow("sim: shutting down", "live", c.Engine.Live())
}

func (c *Context) Draining() bool { return c.draining.Load() }

func (c *Context) Stopped() bool { return c.stopped.Load() }

func (c *Context) resize(w, h int) error {
	s := c.Cfg.Get()
	c.screenW, c.screenH = w, h
	c.Engine.SetScreen(w, h)
	c.Store.SoftLock()
	defer c.Store.Unlock()
	if err := c.Store.ResetAll(w, h, s.MaxDesktopSnowDepth, s.KeepSnowOnDesktop); err != nil {
		return err
	}
	log.Infow("sim: screen", "w", w, "h", h)
	return nil
}

// Reload publishes new settings and rebuilds the fallen snow when the depth or
// accumulation switches changed.
func (c *Context) Reload(next *config.Settings) {
	prev := c.Cfg.Store(next)
	c.Store.SetDoubleBuffered(next.DoubleBuffer)
	c.Store.SoftLock()
	c.Store.SetColor(next.SnowRGBA())
	c.Store.Unlock()
	if prev.DepthChanged(next) {
		if err := c.resize(c.screenW, c.screenH); err != nil {
			log.Errorw("sim: reset after reload", "err", err)
		}
		c.lastSeq = 0
	}
	log.Infow("sim: settings reloaded")
}

// Services adds the background goroutines to sup.
func (c *Context) Services(sup *suture.Supervisor) {
	sup.Add(c.Worker)
	sup.Add(c.Poller)
}

// Schedule registers the simulation tasks on d.
func (c *Context) Schedule(d *Driver, now time.Time) {
	cfg := c.Cfg
	d.Add("storm", func() time.Duration { return cfg.Get().StormInterval }, c.tickStorm, now)
	d.Add("wind", func() time.Duration { return cfg.Get().WindInterval }, c.guard(c.tickWind), now)
	d.Add("geometry", func() time.Duration { return cfg.Get().GeometryInterval }, c.guard(c.tickGeometry), now)
	d.Add("erosion", func() time.Duration { return cfg.Get().ErosionInterval }, c.guard(c.tickErosion), now)
	d.Add("santa", func() time.Duration { return cfg.Get().StormInterval }, c.guard(c.tickSanta), now)
	d.Add("stats", func() time.Duration { return statsInterval }, c.guard(c.tickStats), now)
}

// guard unschedules a task as soon as shutdown begins.
func (c *Context) guard(fn func(dt float64)) TickFunc {
	return func(dt float64) bool {
		if c.Draining() {
			return false
		}
		fn(dt)
		return true
	}
}

// tickStorm keeps ticking through the shutdown fade and marks the simulation
// stopped once it is over.
func (c *Context) tickStorm(dt float64) bool {
	if c.Stopped() {
		return false
	}
	c.Engine.Tick(dt)
	if !c.Draining() {
		return true
	}
	c.drained += dt
	if c.Engine.Live() > 0 && c.drained < drainTimeout {
		return true
	}
	c.stopped.Store(true)
	log.Debugw("sim: storm drained", "left", c.Engine.Live(), "after", c.drained)
	return false
}

func (c *Context) tickWind(dt float64) {
	s := c.Cfg.Get()
	c.Wind.Step(dt, wind.Params{Enabled: s.Wind, Step: s.WhirlFactor, Timer: s.WindTimer})
}

func (c *Context) tickGeometry(float64) {
	g := c.Poller.Latest()
	if g == nil || g.Seq == c.lastSeq {
		return
	}
	c.lastSeq = g.Seq
	if g.ScreenW != c.screenW || g.ScreenH != c.screenH {
		if err := c.resize(g.ScreenW, g.ScreenH); err != nil {
			log.Debugw("sim: screen resize skipped", "err", err)
			return
		}
	}
	c.SyncWindows(g.Windows, g.Workspace)
}

func (c *Context) tickErosion(float64) {
	s := c.Cfg.Get()
	if !s.BlowOff || !s.Wind {
		return
	}
	ws := c.Wind.Snapshot()
	stride := erosionStride
	switch ws.Mode {
	case wind.Calm:
		return
	case wind.StrongGust:
		stride /= 2
	}
	c.Store.SoftLock()
	defer c.Store.Unlock()
	for _, r := range c.Store.Records() {
		if r.Active {
			r.ApplyWindErosion(c.rng, stride, erosionThreshold, c.Engine)
		}
	}
}

func (c *Context) tickSanta(dt float64) {
	s := c.Cfg.Get()
	if !s.Santa {
		return
	}
	c.Santa.Step(dt, s.SantaSpeed, c.screenW, c.screenH)
	if !s.Plow {
		return
	}
	fp := c.Santa.Footprint()
	c.Store.SoftLock()
	defer c.Store.Unlock()
	for _, r := range c.Store.Records() {
		if r.Active {
			r.Plow(fp)
		}
	}
}

func (c *Context) tickStats(float64) {
	st := c.Engine.Stats()
	c.Store.SoftLock()
	n := c.Store.Len()
	var fallenPx int
	for _, r := range c.Store.Records() {
		fallenPx += r.Total()
	}
	c.Store.Unlock()
	log.Debugw("sim: stats",
		"live", st.Live, "falling", st.Falling, "fluffing", st.Fluffing,
		"created", st.Created, "landed", st.Landed, "blown_off", st.BlownOff,
		"records", n, "fallen_px", fallenPx, "passes", c.Worker.Passes(), "soft_lock_waits", c.Store.SoftMisses(),
		"geometry_failures", c.Poller.Failures(),
		"wind", c.Wind.Speed())
}

// Run drives the simulation from the calling goroutine until ctx is done or the
// shutdown fade is over, sleeping with wait between steps. Front-ends without an
// event loop use it directly.
func (c *Context) Run(ctx context.Context, d *Driver, wait func(time.Duration)) {
	for ctx.Err() == nil && !c.Stopped() {
		next := d.Step(time.Now())
		if next.IsZero() {
			return
		}
		if dl := time.Until(next); dl > 0 {
			wait(dl)
		}
	}
}
