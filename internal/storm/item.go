// Package storm owns the falling snow: it spawns items at a steady rate, moves them
// with the wind, lands them on the fallen snow and fades them out.
package storm

type State uint8

const (
	Falling State = iota
	Fluffing
	Frozen
	Removed
)

func (s State) String() string {
	switch s {
	case Falling:
		return "falling"
	case Fluffing:
		return "fluffing"
	case Frozen:
		return "frozen"
	default:
		return "removed"
	}
}

type Item struct {
	X, Y   float64 // centre, screen px
	VX, VY float64
	IVY    float64 // terminal fall speed

	Mass     float64
	WindSens float64

	Shape int
	Size  float64
	Rot   float64

	Wraps bool // reappears at the opposite side instead of leaving the screen

	Fluffing      bool
	Frozen        bool
	FluffElapsed  float64
	FluffDuration float64
	Alpha         float64

	live bool
}

// State derives the item's place in the falling → fluffing/frozen → removed cycle.
func (it *Item) State() State {
	switch {
	case !it.live:
		return Removed
	case it.Fluffing:
		return Fluffing
	case it.Frozen:
		return Frozen
	default:
		return Falling
	}
}

// arena stores items densely; removed slots are recycled through the free list.
type arena struct {
	items []Item
	free  []int
	live  int
}

func (a *arena) alloc() *Item {
	var i int
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.items = append(a.items, Item{})
		i = len(a.items) - 1
	}
	a.items[i] = Item{live: true, Alpha: 1}
	a.live++
	return &a.items[i]
}

func (a *arena) release(i int) {
	if !a.items[i].live {
		return
	}
	a.items[i].live = false
	a.free = append(a.free, i)
	a.live--
}

func (a *arena) reset() {
	a.items = a.items[:0]
	a.free = a.free[:0]
	a.live = 0
}
