// Command plasmasnow lets it snow on the X desktop: flakes drift in the wind and
// pile up on the bottom of the screen and on top of windows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/thejerf/suture/v4"

	"plasmasnow/internal/app"
	"plasmasnow/internal/audio"
	"plasmasnow/internal/config"
	"plasmasnow/internal/fallen"
	"plasmasnow/internal/log"
	"plasmasnow/internal/overlay"
	"plasmasnow/internal/sim"
	"plasmasnow/internal/x11"
)

func main() {
	// GLFW and GL calls must stay on the main thread.
	runtime.LockOSThread()
	os.Exit(run())
}

func run() int {
	var display string
	opts, err := app.Parse("plasmasnow", os.Args[1:], func(fs *flag.FlagSet) {
		fs.StringVar(&display, "display", "", "X display (default $DISPLAY)")
	})
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "plasmasnow: %v\n", err)
		return 2
	}
	if opts.DumpConfig {
		if err := opts.Dump(); err != nil {
			fmt.Fprintf(os.Stderr, "plasmasnow: %v\n", err)
			return 1
		}
		return 0
	}

	if err := log.Init(opts.Settings.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "plasmasnow: %v\n", err)
		return 1
	}
	defer log.Sync()

	xp, err := x11.Open(display)
	if err != nil {
		log.Errorf("plasmasnow: %v", err)
		return 1
	}
	defer xp.Close()
	if !xp.Compositing() {
		log.Warnw("no compositing manager running, the overlay will not be transparent")
	}

	c, err := sim.New(config.NewHolder(opts.Settings), xp, opts.Seed)
	if err != nil {
		log.Errorf("plasmasnow: %v", err)
		return 1
	}
	opts.PinWind(c.Wind)

	w, h := c.Screen()
	window, err := overlay.OpenWindow(w, h)
	if err != nil {
		log.Errorf("plasmasnow: %v", err)
		return 1
	}
	defer glfw.Terminate()
	defer window.Destroy()
	defer app.Recover(func() {
		window.Destroy()
		glfw.Terminate()
	})

	xid := uint32(window.GetX11Window())
	c.Exclude(fallen.WindowID(xid))
	if err := xp.ClickThrough(xid); err != nil {
		log.Warnw("overlay will catch pointer input", "err", err)
	}

	rend, err := overlay.NewRenderer(c.Engine.Shapes())
	if err != nil {
		log.Fatalf("renderer: %v", err)
	}
	defer rend.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := suture.NewSimple("plasmasnow")
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

	sigs, stopSignals := app.Signals()
	defer stopSignals()
	wake := make(chan os.Signal, 1)
	go func() {
		for s := range sigs {
			wake <- s
			glfw.PostEmptyEvent()
		}
	}()

	now := time.Now()
	d := sim.NewDriver(opts.Seed)
	c.Schedule(d, now)
	d.Add("render", func() time.Duration { return c.Cfg.Get().FrameInterval }, func(float64) bool {
		winW, winH := window.GetSize()
		fbW, fbH := window.GetFramebufferSize()
		if fbW > 0 && fbH > 0 {
			rend.Frame(c, winW, winH, fbW, fbH)
			window.SwapBuffers()
		}
		if snd != nil {
			snd.SetLevel(audio.LevelFor(c.Wind.Speed()))
		}
		return !c.Stopped()
	}, now)

	log.Infow("plasmasnow: running", "screen_w", w, "screen_h", h, "seed", opts.Seed)
	// Quitting only starts the shutdown; the loop keeps stepping while the storm
	// fades out and ends once the simulation reports it is stopped.
	for !c.Stopped() {
		select {
		case s := <-wake:
			if s == syscall.SIGHUP {
				next, err := opts.Reload()
				if err != nil {
					log.Warnw("reload failed, keeping current settings", "err", err)
					break
				}
				c.Reload(next)
				break
			}
			log.Infow("plasmasnow: signal", "signal", s.String())
			c.Shutdown()
		default:
		}
		if window.ShouldClose() {
			c.Shutdown()
		}

		next := d.Step(time.Now())
		if next.IsZero() {
			break
		}
		if dl := time.Until(next); dl > 0 {
			glfw.WaitEventsTimeout(dl.Seconds())
		} else {
			glfw.PollEvents()
		}
	}

	c.Shutdown()
	cancel()
	if err := <-supDone; err != nil && err != context.Canceled {
		log.Debugw("supervisor stopped", "err", err)
	}
	return 0
}
