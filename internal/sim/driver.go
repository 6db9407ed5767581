package sim

import (
	"time"

	"plasmasnow/internal/log"
	"plasmasnow/internal/mathutil"
)

// Jitter applied to every reschedule so tasks with equal intervals drift apart.
const jitter = 0.05

// maxGap is the longest tick gap passed to a task; anything longer (a suspend, a
// debugger stop) resets the task's baseline and ticks it with dt 0.
const maxGap = 2 * time.Second

// TickFunc advances a component by dt seconds. Returning false unschedules it.
type TickFunc func(dt float64) bool

type Task struct {
	Name     string
	Interval func() time.Duration
	Tick     TickFunc

	next, last time.Time
	skipped    uint64
}

// Driver runs tasks on their own cadences from a single goroutine.
type Driver struct {
	tasks []*Task
	rng   *mathutil.Rand
}

func NewDriver(seed uint64) *Driver {
	return &Driver{rng: mathutil.NewRand(seed)}
}

// Add schedules fn every interval(), first run one interval after now.
func (d *Driver) Add(name string, interval func() time.Duration, fn TickFunc, now time.Time) *Task {
	t := &Task{Name: name, Interval: interval, Tick: fn, last: now}
	t.next = now.Add(d.jittered(interval()))
	d.tasks = append(d.tasks, t)
	return t
}

func (d *Driver) Len() int { return len(d.tasks) }

func (d *Driver) jittered(iv time.Duration) time.Duration {
	f := 1 + d.rng.RangeF(-jitter, jitter)
	return time.Duration(float64(iv) * f)
}

// Step runs every task that is due at now and returns the earliest next deadline.
// With no tasks left it returns the zero time.
func (d *Driver) Step(now time.Time) time.Time {
	var next time.Time
	kept := d.tasks[:0]
	for _, t := range d.tasks {
		if !now.Before(t.next) {
			if !d.run(t, now) {
				log.Debugw("sim: task finished", "task", t.Name)
				continue
			}
		}
		if next.IsZero() || t.next.Before(next) {
			next = t.next
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(d.tasks); i++ {
		d.tasks[i] = nil
	}
	d.tasks = kept
	return next
}

func (d *Driver) run(t *Task, now time.Time) bool {
	gap := now.Sub(t.last)
	t.last = now
	t.next = now.Add(d.jittered(t.Interval()))
	if gap < 0 || gap > maxGap {
		t.skipped++
		log.Debugw("sim: tick gap rejected", "task", t.Name, "gap", gap)
		return t.Tick(0)
	}
	return t.Tick(gap.Seconds())
}
