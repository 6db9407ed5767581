// Package app holds the start-up plumbing shared by the front-ends: flags, seeding,
// signals and the crash handler.
package app

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"plasmasnow/internal/config"
	"plasmasnow/internal/wind"
)

// SeedEnv overrides the clock seed for reproducible runs.
const SeedEnv = "PLASMASNOW_SEED"

type Options struct {
	Settings   *config.Settings
	WindMode   string
	DumpConfig bool
	Seed       uint64

	flags *config.Flags
}

// Parse reads args into Options. extra registers front-end specific flags and may
// be nil.
func Parse(name string, args []string, extra func(*flag.FlagSet)) (*Options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	o := &Options{flags: config.BindFlags(fs)}
	fs.StringVar(&o.WindMode, "wind-mode", "", "pin the wind, e.g. calm, steady-left, strong-right (debugging)")
	fs.BoolVar(&o.DumpConfig, "dump-config", false, "print the effective settings as YAML and exit")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.WindMode != "" {
		if _, _, err := wind.ParseForce(o.WindMode); err != nil {
			return nil, fmt.Errorf("-wind-mode: %w", err)
		}
	}

	s, err := o.flags.Resolve()
	if err != nil {
		return nil, err
	}
	o.Settings = s
	o.Seed = seed()
	return o, nil
}

// Reload re-reads the config file and re-applies the command line.
func (o *Options) Reload() (*config.Settings, error) {
	return o.flags.Resolve()
}

// Dump writes the effective settings as YAML.
func (o *Options) Dump() error {
	out, err := o.Settings.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

// PinWind applies -wind-mode to m, if given.
func (o *Options) PinWind(m *wind.Model) {
	if o.WindMode == "" {
		return
	}
	mode, dir, err := wind.ParseForce(o.WindMode)
	if err != nil {
		return
	}
	m.Force(mode, dir, 0, o.Settings.WhirlFactor)
}

func seed() uint64 {
	if s := os.Getenv(SeedEnv); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v
		}
	}
	return uint64(time.Now().UnixNano())
}

// Signals delivers SIGINT, SIGTERM and SIGHUP.
func Signals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	return ch, func() { signal.Stop(ch) }
}

// Recover is deferred by main: on a panic it restores the display with restore,
// prints the stack and exits with status 2.
func Recover(restore func()) {
	r := recover()
	if r == nil {
		return
	}
	if restore != nil {
		restore()
	}
	fmt.Fprintf(os.Stderr, "plasmasnow: panic: %v\n%s", r, debug.Stack())
	os.Exit(2)
}
