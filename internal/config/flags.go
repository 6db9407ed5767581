package config

import "flag"

// Flags binds command line overrides for the settings. Only flags the user actually
// passed are applied, so a config file value is not clobbered by a flag default.
type Flags struct {
	fs   *flag.FlagSet
	vals Settings
	path string
}

// BindFlags registers the settings flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs, vals: *Default()}
	v := &f.vals

	fs.StringVar(&f.path, "config", "", "path to a YAML settings file")

	fs.StringVar(&v.SnowColor, "snow-color", v.SnowColor, "snow colour as #rrggbb")
	fs.Float64Var(&v.SnowRate, "snow-rate", v.SnowRate, "snow intensity multiplier")
	fs.Float64Var(&v.SpeedFactor, "speed", v.SpeedFactor, "snow speed multiplier")
	fs.IntVar(&v.FlakeCountMax, "flake-count-max", v.FlakeCountMax, "maximum number of falling flakes")
	fs.BoolVar(&v.Fluffy, "fluffy", v.Fluffy, "landed flakes fade out in place")
	fs.IntVar(&v.MaxDesktopSnowDepth, "desktop-depth", v.MaxDesktopSnowDepth, "maximum snow depth at the bottom of the screen, px")
	fs.IntVar(&v.MaxWindowSnowDepth, "window-depth", v.MaxWindowSnowDepth, "maximum snow depth on windows, px")
	fs.BoolVar(&v.KeepSnowOnDesktop, "keep-desktop", v.KeepSnowOnDesktop, "accumulate snow at the bottom of the screen")
	fs.BoolVar(&v.KeepSnowOnWindows, "keep-windows", v.KeepSnowOnWindows, "accumulate snow on windows")
	fs.BoolVar(&v.DropSnowOnMove, "drop-on-move", v.DropSnowOnMove, "release a window's snow when it moves")
	fs.BoolVar(&v.DoubleBuffer, "double-buffer", v.DoubleBuffer, "double-buffered drawing")
	fs.BoolVar(&v.Wind, "wind", v.Wind, "enable wind")
	fs.Float64Var(&v.WhirlFactor, "whirl", v.WhirlFactor, "wind step size")
	fs.Float64Var(&v.WindTimer, "wind-timer", v.WindTimer, "mean seconds between wind changes")
	fs.BoolVar(&v.BlowOff, "blow-off", v.BlowOff, "wind blows accumulated snow off")
	fs.Float64Var(&v.BlowOffFactor, "blow-off-factor", v.BlowOffFactor, "blow-off items per eroded pixel")
	fs.BoolVar(&v.Santa, "santa", v.Santa, "show the sled")
	fs.Float64Var(&v.SantaSpeed, "santa-speed", v.SantaSpeed, "sled speed, px/s")
	fs.BoolVar(&v.Plow, "plow", v.Plow, "sled plows fallen snow")
	fs.DurationVar(&v.CeilingInterval, "ceiling-interval", v.CeilingInterval, "background settle pass interval")
	fs.DurationVar(&v.FrameInterval, "frame-interval", v.FrameInterval, "redraw interval")
	fs.BoolVar(&v.Sound, "sound", v.Sound, "play wind sound")
	fs.BoolVar(&v.Debug, "debug", v.Debug, "debug logging")

	return f
}

// Path is the -config value.
func (f *Flags) Path() string { return f.path }

// Apply copies every flag the user set onto s.
func (f *Flags) Apply(s *Settings) {
	setters := map[string]func(){
		"snow-color":       func() { s.SnowColor = f.vals.SnowColor },
		"snow-rate":        func() { s.SnowRate = f.vals.SnowRate },
		"speed":            func() { s.SpeedFactor = f.vals.SpeedFactor },
		"flake-count-max":  func() { s.FlakeCountMax = f.vals.FlakeCountMax },
		"fluffy":           func() { s.Fluffy = f.vals.Fluffy },
		"desktop-depth":    func() { s.MaxDesktopSnowDepth = f.vals.MaxDesktopSnowDepth },
		"window-depth":     func() { s.MaxWindowSnowDepth = f.vals.MaxWindowSnowDepth },
		"keep-desktop":     func() { s.KeepSnowOnDesktop = f.vals.KeepSnowOnDesktop },
		"keep-windows":     func() { s.KeepSnowOnWindows = f.vals.KeepSnowOnWindows },
		"drop-on-move":     func() { s.DropSnowOnMove = f.vals.DropSnowOnMove },
		"double-buffer":    func() { s.DoubleBuffer = f.vals.DoubleBuffer },
		"wind":             func() { s.Wind = f.vals.Wind },
		"whirl":            func() { s.WhirlFactor = f.vals.WhirlFactor },
		"wind-timer":       func() { s.WindTimer = f.vals.WindTimer },
		"blow-off":         func() { s.BlowOff = f.vals.BlowOff },
		"blow-off-factor":  func() { s.BlowOffFactor = f.vals.BlowOffFactor },
		"santa":            func() { s.Santa = f.vals.Santa },
		"santa-speed":      func() { s.SantaSpeed = f.vals.SantaSpeed },
		"plow":             func() { s.Plow = f.vals.Plow },
		"ceiling-interval": func() { s.CeilingInterval = f.vals.CeilingInterval },
		"frame-interval":   func() { s.FrameInterval = f.vals.FrameInterval },
		"sound":            func() { s.Sound = f.vals.Sound },
		"debug":            func() { s.Debug = f.vals.Debug },
	}
	f.fs.Visit(func(fl *flag.Flag) {
		if set, ok := setters[fl.Name]; ok {
			set()
		}
	})
}

// Resolve loads the -config file (if any), applies flag overrides and validates.
func (f *Flags) Resolve() (*Settings, error) {
	s := Default()
	if f.path != "" {
		var err error
		if s, err = Load(f.path); err != nil {
			return nil, err
		}
	}
	f.Apply(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
