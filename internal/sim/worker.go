package sim

import (
	"context"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
)

// CeilingWorker is the background settle pass: it lowers columns toward their
// ceilings and re-rasterizes every record, then publishes the new images.
type CeilingWorker struct {
	store    *fallen.Store
	rd       *fallen.Renderer
	interval func() time.Duration
	stop     *atomic.Bool

	recs    []*fallen.Record
	jobs    []renderJob
	passes  atomic.Uint64
	settled atomic.Uint64
}

type renderJob struct {
	rec     *fallen.Record
	heights []int
	color   color.RGBA
}

func NewCeilingWorker(store *fallen.Store, interval func() time.Duration, stop *atomic.Bool) *CeilingWorker {
	return &CeilingWorker{
		store:    store,
		rd:       fallen.NewRenderer(),
		interval: interval,
		stop:     stop,
	}
}

// Pass runs one settle and render cycle.
func (w *CeilingWorker) Pass() {
	w.store.Lock()
	w.recs = w.store.Snapshot(w.recs)
	if cap(w.jobs) < len(w.recs) {
		w.jobs = make([]renderJob, len(w.recs))
	}
	w.jobs = w.jobs[:len(w.recs)]
	for i, r := range w.recs {
		w.settled.Add(uint64(r.DecayTowardCeiling()))
		j := &w.jobs[i]
		j.rec = r
		j.heights = append(j.heights[:0], r.Height...)
		j.color = r.Color
	}
	w.store.Unlock()

	for i := range w.jobs {
		j := &w.jobs[i]
		w.store.RenderTo(w.rd, j.rec, j.heights, j.color)
	}
	w.store.SwapAll(w.recs)

	// Drop record references so removed records can be collected.
	for i := range w.jobs {
		w.jobs[i].rec = nil
	}
	w.passes.Add(1)
}

// Passes counts completed passes.
func (w *CeilingWorker) Passes() uint64 { return w.passes.Load() }

// Serve runs passes until ctx is done or the stop flag is set.
func (w *CeilingWorker) Serve(ctx context.Context) error {
	log.Infow("sim: ceiling worker started")
	defer log.Infow("sim: ceiling worker stopped", "passes", w.Passes())
	for {
		if w.stop.Load() {
			return suture.ErrDoNotRestart
		}
		w.Pass()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval()):
		}
	}
}

func (w *CeilingWorker) String() string { return "ceiling-worker" }
