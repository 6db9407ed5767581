package storm

import (
	"math"
	"sync/atomic"

	"plasmasnow/internal/config"
	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
	"plasmasnow/internal/mathutil"
	"plasmasnow/internal/wind"
)

// Kinematics.
const (
	baseFallSpeed = 45.0 // px/s for a unit mass flake
	vyRelax       = 2.0
	vyJitter      = 0.1
	vyCap         = 1.5
	maxTick       = 1.0 // seconds; longer gaps are treated as a suspend
)

// Fade durations, seconds.
const (
	landFluffMin = 0.8
	landFluffMax = 1.6
	capFluff     = 0.5
	stallFade    = 0.3
)

// Population control gives up on the biased coin after this many passes and
// converts the remainder in order.
const maxConvertPasses = 8

type Stats struct {
	Live     int
	Falling  int
	Fluffing int
	Created  uint64
	Landed   uint64
	BlownOff uint64
	Skipped  uint64 // rejected ticks
}

// Engine advances every storm item. Tick, SpawnAt and BlowOff must be called from
// one goroutine; Stall may be called from any.
type Engine struct {
	store  *fallen.Store
	shapes *ShapeTable
	cfg    *config.Holder
	wind   *wind.Model
	rng    *mathutil.Rand

	arena
	screenW, screenH float64
	spawnAcc         float64

	stalled atomic.Bool
	stats   Stats
}

func NewEngine(store *fallen.Store, shapes *ShapeTable, cfg *config.Holder, w *wind.Model, seed uint64) *Engine {
	return &Engine{
		store:  store,
		shapes: shapes,
		cfg:    cfg,
		wind:   w,
		rng:    mathutil.NewRand(seed),
	}
}

// SetScreen sets the area items live in.
func (e *Engine) SetScreen(w, h int) {
	e.screenW, e.screenH = float64(w), float64(h)
}

// Stall stops spawning and fades every item out quickly; Stall(false) resumes.
func (e *Engine) Stall(on bool) {
	if e.stalled.Swap(on) != on {
		log.Debugw("storm: stall", "on", on)
	}
}

func (e *Engine) Stalled() bool { return e.stalled.Load() }

// Shapes is the flake table items index into.
func (e *Engine) Shapes() *ShapeTable { return e.shapes }

// Stats returns counters as of the last tick.
func (e *Engine) Stats() Stats { return e.stats }

// Live is the number of items in the arena.
func (e *Engine) Live() int { return e.live }

// Each calls fn for every live item.
func (e *Engine) Each(fn func(it *Item)) {
	for i := range e.items {
		if e.items[i].live {
			fn(&e.items[i])
		}
	}
}

// Clear drops every item.
func (e *Engine) Clear() {
	e.arena.reset()
	e.spawnAcc = 0
}

// Tick advances the storm by dt seconds. A negative or implausibly long dt is
// rejected and resets the spawn carry, so a resume from suspend does not burst.
func (e *Engine) Tick(dt float64) {
	if dt < 0 || dt > maxTick || math.IsNaN(dt) {
		e.spawnAcc = 0
		e.stats.Skipped++
		return
	}
	s := e.cfg.Get()
	ws := e.wind.Snapshot()
	stalled := e.Stalled()

	if !stalled {
		e.spawn(dt, s, ws)
	}
	e.controlPopulation(s)

	e.store.SoftLock()
	recs := e.store.Records()
	for i := range e.items {
		it := &e.items[i]
		if !it.live {
			continue
		}
		if stalled {
			e.fadeFast(it)
		}
		if !e.update(it, dt, s, ws, recs) {
			e.release(i)
		}
	}
	e.store.Unlock()

	e.count()
}

func (e *Engine) count() {
	e.stats.Live = e.live
	e.stats.Falling, e.stats.Fluffing = 0, 0
	for i := range e.items {
		switch e.items[i].State() {
		case Falling:
			e.stats.Falling++
		case Fluffing:
			e.stats.Fluffing++
		}
	}
}

// update moves one item and resolves its collisions; false removes it.
func (e *Engine) update(it *Item, dt float64, s *config.Settings, ws wind.State, recs []*fallen.Record) bool {
	if it.Fluffing {
		it.FluffElapsed += dt
		if it.FluffElapsed > it.FluffDuration {
			return false
		}
		it.Alpha = 1 - it.FluffElapsed/it.FluffDuration
	}
	if it.Frozen {
		return true
	}

	// Lateral drift relaxes toward the wind, bounded per mode.
	k := mathutil.ClampF(dt*it.WindSens/it.Mass, 0, 1)
	bound := wind.MaxDrift(ws.Mode)
	it.VX = mathutil.ClampF(it.VX+k*(ws.Speed-it.VX), -bound, bound)

	// Vertical speed wanders around the terminal value.
	it.VY += dt*vyRelax*(it.IVY-it.VY) + it.IVY*(e.rng.Float64()-0.5)*vyJitter
	it.VY = mathutil.ClampF(it.VY, -vyCap*it.IVY, vyCap*it.IVY)

	prevY := it.Y
	it.X += it.VX * dt * s.SpeedFactor
	it.Y += it.VY * dt * s.SpeedFactor

	if it.Wraps {
		if it.X < 0 {
			it.X += e.screenW
		} else if it.X >= e.screenW {
			it.X -= e.screenW
		}
	} else if it.X < -it.Size || it.X > e.screenW+it.Size {
		return false
	}

	if !it.Fluffing {
		if landed, keep := e.collide(it, prevY, s, recs); landed {
			return keep
		}
	}
	return it.Y-it.Size <= e.screenH
}

// collide lands a falling item on the first active record whose surface it crossed.
func (e *Engine) collide(it *Item, prevY float64, s *config.Settings, recs []*fallen.Record) (landed, keep bool) {
	for _, r := range recs {
		if !r.Active {
			continue
		}
		col, ok := r.Column(it.X)
		if !ok {
			continue
		}
		surf := float64(r.SurfaceY(col))
		if it.Y < surf || prevY > float64(r.Y) {
			continue
		}

		w := int(it.Size)
		if w < 1 {
			w = 1
		}
		start := col - w/2
		if !r.Full(start, w) {
			r.Deposit(start, w)
			e.stats.Landed++
		}
		if !s.Fluffy {
			return true, false
		}
		it.Y = surf
		it.Frozen = true
		e.fluff(it, e.rng.RangeF(landFluffMin, landFluffMax))
		return true, true
	}
	return false, false
}

func (e *Engine) fluff(it *Item, d float64) {
	if it.Fluffing {
		return
	}
	it.Fluffing = true
	it.FluffElapsed = 0
	it.FluffDuration = d
}

func (e *Engine) fadeFast(it *Item) {
	if !it.Fluffing {
		e.fluff(it, stallFade)
		return
	}
	if left := it.FluffDuration - it.FluffElapsed; left > stallFade {
		it.FluffDuration = it.FluffElapsed + stallFade
	}
}

// controlPopulation converts falling items to fluff until at most FlakeCountMax
// remain falling. Non-wrapping items (blow-off, released snow) go first.
func (e *Engine) controlPopulation(s *config.Settings) {
	excess := -s.FlakeCountMax
	for i := range e.items {
		if e.items[i].State() == Falling {
			excess++
		}
	}
	if excess <= 0 {
		return
	}

	for pass := 0; pass < maxConvertPasses && excess > 0; pass++ {
		for i := range e.items {
			it := &e.items[i]
			if it.State() != Falling {
				continue
			}
			threshold := s.FluffNonWrapping
			if it.Wraps {
				threshold = s.FluffWrapping
			}
			if e.rng.Float64() > threshold {
				e.fluff(it, capFluff)
				if excess--; excess == 0 {
					return
				}
			}
		}
	}

	for _, wraps := range []bool{false, true} {
		for i := range e.items {
			it := &e.items[i]
			if it.State() != Falling || it.Wraps != wraps {
				continue
			}
			e.fluff(it, capFluff)
			if excess--; excess == 0 {
				return
			}
		}
	}
}
