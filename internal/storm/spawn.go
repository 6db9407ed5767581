package storm

import (
	"math"

	"plasmasnow/internal/config"
	"plasmasnow/internal/wind"
)

// spawnPerPixel is the flake rate per px of screen width at SnowRate 1.
const spawnPerPixel = 0.04

// ItemsPerSecond is the target spawn rate for the current screen and settings.
func (e *Engine) ItemsPerSecond(s *config.Settings) float64 {
	return e.screenW * s.SnowRate * s.SpeedFactor * spawnPerPixel
}

// spawn creates this tick's share of flakes, carrying the fraction over so low
// rates keep the right long-run average.
func (e *Engine) spawn(dt float64, s *config.Settings, ws wind.State) {
	e.spawnAcc += dt * e.ItemsPerSecond(s)
	n := int(e.spawnAcc)
	e.spawnAcc -= float64(n)
	for range n {
		e.SpawnFlake(ws)
	}
}

// SpawnFlake adds one flake just above the top of the screen.
func (e *Engine) SpawnFlake(ws wind.State) *Item {
	it := e.newItem(e.rng.RangeF(0, e.screenW), 0, true)
	it.Y = -it.Size
	it.VX = ws.Speed * it.WindSens
	return it
}

// SpawnAt adds a loose item at (x, y), e.g. snow released from a window that moved.
func (e *Engine) SpawnAt(x, y float64, wraps bool) *Item {
	if e.Stalled() {
		return nil
	}
	it := e.newItem(x, y, wraps)
	it.VY = it.IVY * e.rng.RangeF(0, 0.5)
	return it
}

// BlowOff implements fallen.BlowOffSink: the wind lifts a few items off the surface
// at (x, y), more with a higher BlowOffFactor.
func (e *Engine) BlowOff(x, y float64, wraps bool) {
	if e.Stalled() {
		return
	}
	s := e.cfg.Get()
	ws := e.wind.Snapshot()
	n := int(s.BlowOffFactor*2 + e.rng.Float64())
	for range n {
		it := e.newItem(x+e.rng.RangeF(-2, 2), y-e.rng.RangeF(1, 4), wraps)
		it.VX = ws.Speed * e.rng.RangeF(0.5, 1)
		it.VY = -it.IVY * e.rng.RangeF(0.2, 0.8)
		e.stats.BlownOff++
	}
}

func (e *Engine) newItem(x, y float64, wraps bool) *Item {
	it := e.alloc()
	it.Shape = e.rng.Intn(e.shapes.Len())
	it.Size = float64(e.shapes.At(it.Shape).Size)
	it.Mass = e.rng.RangeF(0.5, 1.5)
	it.WindSens = e.rng.RangeF(0.4, 1.0)
	it.IVY = baseFallSpeed * math.Sqrt(it.Mass)
	it.VY = it.IVY
	it.Rot = e.rng.RangeF(0, 2*math.Pi)
	it.X, it.Y = x, y
	it.Wraps = wraps
	e.stats.Created++
	return it
}
