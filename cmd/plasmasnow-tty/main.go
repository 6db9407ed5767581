// Command plasmasnow-tty runs the snow simulation in a terminal. Snow settles on
// the bottom line and on a couple of ledges; q or Esc quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/thejerf/suture/v4"

	"plasmasnow/internal/app"
	"plasmasnow/internal/audio"
	"plasmasnow/internal/config"
	"plasmasnow/internal/log"
	"plasmasnow/internal/sim"
	"plasmasnow/internal/tty"
)

func main() {
	os.Exit(run())
}

func run() int {
	var ledges bool
	opts, err := app.Parse("plasmasnow-tty", os.Args[1:], func(fs *flag.FlagSet) {
		fs.BoolVar(&ledges, "ledges", true, "add ledges for snow to settle on")
	})
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "plasmasnow-tty: %v\n", err)
		return 2
	}
	if opts.DumpConfig {
		if err := opts.Dump(); err != nil {
			fmt.Fprintf(os.Stderr, "plasmasnow-tty: %v\n", err)
			return 1
		}
		return 0
	}
	// The terminal belongs to the screen; logs only go out when -debug asks for them,
	// and then to stderr, which the user is expected to redirect.
	if opts.Settings.Debug {
		if err := log.Init(true); err != nil {
			fmt.Fprintf(os.Stderr, "plasmasnow-tty: %v\n", err)
			return 1
		}
		defer log.Sync()
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "plasmasnow-tty: %v\n", err)
		return 1
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "plasmasnow-tty: init screen: %v\n", err)
		return 1
	}
	defer screen.Fini()
	defer app.Recover(screen.Fini)
	screen.SetStyle(tcell.StyleDefault)
	screen.HideCursor()
	screen.Clear()

	prov := tty.NewProvider(screen)
	if ledges {
		prov.SetLedges(tty.DefaultLedges(screen.Size()))
	}

	c, err := sim.New(config.NewHolder(opts.Settings), prov, opts.Seed)
	if err != nil {
		screen.Fini()
		fmt.Fprintf(os.Stderr, "plasmasnow-tty: %v\n", err)
		return 1
	}
	opts.PinWind(c.Wind)
	rd := tty.NewRenderer(screen, prov, c.Store)
	rd.SetSnowColor(tcell.GetColor(opts.Settings.SnowColor))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := suture.NewSimple("plasmasnow-tty")
	c.Services(sup)
	var snd *audio.Wind
	if opts.Settings.Sound {
		if snd, err = audio.NewWind(opts.Seed); err != nil {
			log.Warnw("audio init failed, continuing without sound", "err", err)
			snd = nil
		} else {
			sup.Add(snd)
		}
	}
	supDone := sup.ServeBackground(ctx)

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()
	sigs, stopSignals := app.Signals()
	defer stopSignals()

	now := time.Now()
	d := sim.NewDriver(opts.Seed)
	c.Schedule(d, now)
	d.Add("render", func() time.Duration { return c.Cfg.Get().FrameInterval }, func(float64) bool {
		rd.Frame(c)
		if snd != nil {
			snd.SetLevel(audio.LevelFor(c.Wind.Speed()))
		}
		return !c.Stopped()
	}, now)

	timer := time.NewTimer(0)
	defer timer.Stop()
	// Quitting starts the shutdown; the loop runs on until the storm has faded.
	for !c.Stopped() {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					c.Shutdown()
				}
			case *tcell.EventResize:
				screen.Sync()
				if ledges {
					prov.SetLedges(tty.DefaultLedges(screen.Size()))
				}
			}
		case s := <-sigs:
			if s != syscall.SIGHUP {
				c.Shutdown()
				break
			}
			next, err := opts.Reload()
			if err != nil {
				log.Warnw("reload failed, keeping current settings", "err", err)
				continue
			}
			c.Reload(next)
			rd.SetSnowColor(tcell.GetColor(next.SnowColor))
		case <-timer.C:
		}

		next := d.Step(time.Now())
		if next.IsZero() {
			break
		}
		timer.Reset(max(time.Until(next), 0))
	}

	c.Shutdown()
	cancel()
	if err := <-supDone; err != nil && err != context.Canceled {
		log.Debugw("supervisor stopped", "err", err)
	}
	return 0
}
