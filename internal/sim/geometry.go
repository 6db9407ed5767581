package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
)

// Provider reports the windows on screen. Implementations may block on I/O; the
// poller calls them off the main loop.
type Provider interface {
	Windows() ([]fallen.WindowInfo, error)
	Desktop() (w, h int, err error)
	CurrentWorkspace() (int, error)
}

// Geometry is one complete reading from a Provider.
type Geometry struct {
	Windows   []fallen.WindowInfo
	Workspace int
	ScreenW   int
	ScreenH   int
	Seq       uint64
}

// GeometryPoller reads the provider on its own goroutine and publishes the latest
// reading for the main loop.
type GeometryPoller struct {
	p        Provider
	interval func() time.Duration

	latest atomic.Pointer[Geometry]
	seq    uint64
	fails  atomic.Uint64
}

func NewGeometryPoller(p Provider, interval func() time.Duration) *GeometryPoller {
	return &GeometryPoller{p: p, interval: interval}
}

// Poll takes one reading. A failed reading leaves the previous one published.
func (g *GeometryPoller) Poll() error {
	if err := g.poll(); err != nil {
		g.fails.Add(1)
		return err
	}
	return nil
}

func (g *GeometryPoller) poll() error {
	w, h, err := g.p.Desktop()
	if err != nil {
		return fmt.Errorf("desktop size: %w", err)
	}
	ws, err := g.p.CurrentWorkspace()
	if err != nil {
		return fmt.Errorf("current workspace: %w", err)
	}
	wins, err := g.p.Windows()
	if err != nil {
		return fmt.Errorf("window list: %w", err)
	}
	g.seq++
	g.latest.Store(&Geometry{Windows: wins, Workspace: ws, ScreenW: w, ScreenH: h, Seq: g.seq})
	return nil
}

// Latest is the newest reading, or nil before the first success.
func (g *GeometryPoller) Latest() *Geometry { return g.latest.Load() }

// Failures counts failed polls.
func (g *GeometryPoller) Failures() uint64 { return g.fails.Load() }

// Serve polls until ctx is done.
func (g *GeometryPoller) Serve(ctx context.Context) error {
	for {
		if err := g.Poll(); err != nil {
			log.Debugw("sim: geometry poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.interval()):
		}
	}
}

func (g *GeometryPoller) String() string { return "geometry-poller" }
