package sim

import (
	"math"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/mathutil"
)

// Sled dimensions and motion, px and seconds.
const (
	SledW       = 64
	SledH       = 20
	sledBob     = 6
	sledBobRate = 1.7
)

// Santa flies a sled across the screen, alternating direction on every pass and
// picking a new altitude each time.
type Santa struct {
	X, Y        float64
	FacingRight bool

	baseY float64
	phase float64
	rng   *mathutil.Rand
}

func NewSanta(seed uint64, screenW, screenH int) *Santa {
	s := &Santa{rng: mathutil.NewRand(seed), FacingRight: true}
	s.restart(screenW, screenH)
	return s
}

func (s *Santa) restart(screenW, screenH int) {
	if s.FacingRight {
		s.X = -SledW
	} else {
		s.X = float64(screenW)
	}
	s.baseY = s.rng.RangeF(0.1, 0.9) * float64(screenH)
	s.phase = s.rng.RangeF(0, 2*math.Pi)
	s.Y = s.baseY
}

// Step moves the sled by dt seconds at speed px/s.
func (s *Santa) Step(dt, speed float64, screenW, screenH int) {
	dx := speed * dt
	if !s.FacingRight {
		dx = -dx
	}
	s.X += dx
	s.phase += sledBobRate * dt
	s.Y = s.baseY + sledBob*math.Sin(s.phase)

	if (s.FacingRight && s.X > float64(screenW)) || (!s.FacingRight && s.X < -SledW) {
		s.FacingRight = !s.FacingRight
		s.restart(screenW, screenH)
	}
}

// Footprint is the sled rectangle used for plowing.
func (s *Santa) Footprint() fallen.Sled {
	return fallen.Sled{X: s.X, Y: s.Y, W: SledW, H: SledH, FacingRight: s.FacingRight}
}
