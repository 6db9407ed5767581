// Package wind produces the scalar wind speed that drifts falling snow and blows
// accumulated snow off its surfaces.
package wind

import (
	"fmt"
	"strings"
	"sync/atomic"

	"plasmasnow/internal/mathutil"
)

type Mode uint8

const (
	Calm Mode = iota
	SteadyGust
	StrongGust
)

func (m Mode) String() string {
	switch m {
	case SteadyGust:
		return "steady"
	case StrongGust:
		return "strong"
	default:
		return "calm"
	}
}

// Mode change odds and dwell times (seconds).
const (
	strongGustChance  = 0.35
	rightwardChance   = 0.6
	strongGustDwell   = 5.0
	steadyAfterStrong = 3.0
	steadyFactor      = 0.6
	strongFactor      = 1.2
)

// MaxCalm bounds the calm random walk.
const MaxCalm = 100.0

var maxDrift = [...]float64{Calm: 100, SteadyGust: 300, StrongGust: 600}

// MaxDrift returns the lateral speed bound for items while the wind is in mode m.
func MaxDrift(m Mode) float64 {
	if int(m) < len(maxDrift) {
		return maxDrift[m]
	}
	return maxDrift[Calm]
}

// State is one published reading of the wind.
type State struct {
	Speed     float64 // signed, px/s
	Target    float64
	Mode      Mode
	Direction float64 // +1 blows right, -1 blows left
}

// Params are the knobs read on every tick.
type Params struct {
	Enabled bool
	Step    float64 // whirl factor: random walk step and gust magnitude
	Timer   float64 // mean calm dwell, seconds
}

// Model is written by a single ticking goroutine; any goroutine may call Snapshot.
type Model struct {
	rng      *mathutil.Rand
	state    State
	modeLeft float64
	pinned   bool

	snap atomic.Pointer[State]
}

func New(seed uint64) *Model {
	m := &Model{
		rng:   mathutil.NewRand(seed),
		state: State{Direction: 1},
	}
	m.publish()
	return m
}

// Snapshot returns the most recently published state without locking. A reader may
// observe the previous tick's value.
func (m *Model) Snapshot() State {
	return *m.snap.Load()
}

// Speed is Snapshot().Speed.
func (m *Model) Speed() float64 {
	return m.snap.Load().Speed
}

// Force pins a mode and direction for dwell seconds; dwell <= 0 pins it until Release.
func (m *Model) Force(mode Mode, dir float64, dwell float64, step float64) {
	m.state.Mode = mode
	m.state.Direction = sign(dir)
	m.modeLeft = dwell
	m.pinned = dwell <= 0
	m.updateSpeed(step)
	m.publish()
}

// Release lets the mode timer run again after Force.
func (m *Model) Release() {
	m.pinned = false
}

// Step advances the model by dt seconds.
func (m *Model) Step(dt float64, p Params) {
	if dt <= 0 {
		return
	}
	if !p.Enabled {
		if m.state.Speed != 0 || m.state.Mode != Calm {
			m.state = State{Direction: m.state.Direction}
			m.publish()
		}
		return
	}

	if !m.pinned {
		m.modeLeft -= dt
		if m.modeLeft <= 0 {
			m.nextMode(p.Timer)
		}
	}
	m.updateSpeed(p.Step)
	m.publish()
}

func (m *Model) nextMode(timer float64) {
	if timer <= 0 {
		timer = 1
	}
	switch {
	case m.rng.Float64() < strongGustChance:
		m.state.Mode = StrongGust
		m.state.Direction = m.rng.Sign(rightwardChance)
		m.modeLeft = strongGustDwell
	case m.state.Mode == StrongGust:
		// Ease off through a short steady phase so the gust does not linger.
		m.state.Mode = SteadyGust
		m.modeLeft = steadyAfterStrong
	default:
		m.state.Mode = Calm
		m.modeLeft = timer * m.rng.RangeF(0.5, 1.5)
	}
}

func (m *Model) updateSpeed(step float64) {
	switch m.state.Mode {
	case SteadyGust:
		m.state.Target = m.state.Direction * steadyFactor * step
		m.state.Speed = m.state.Target
	case StrongGust:
		m.state.Target = m.state.Direction * strongFactor * step
		m.state.Speed = m.state.Target
	default:
		s := m.state.Speed + m.rng.Float64()*step - step/2
		s = mathutil.ClampF(s, -MaxCalm, MaxCalm)
		m.state.Target = s
		m.state.Speed = s
	}
}

func (m *Model) publish() {
	s := m.state
	m.snap.Store(&s)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// ParseForce reads a pinned wind such as "calm", "steady-left" or "strong-right".
// The direction defaults to right.
func ParseForce(s string) (Mode, float64, error) {
	name, side, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "-")
	dir := 1.0
	switch side {
	case "", "right":
	case "left":
		dir = -1
	default:
		return Calm, 0, fmt.Errorf("wind: unknown direction %q", side)
	}
	for _, m := range []Mode{Calm, SteadyGust, StrongGust} {
		if m.String() == name {
			return m, dir, nil
		}
	}
	return Calm, 0, fmt.Errorf("wind: unknown mode %q", name)
}
