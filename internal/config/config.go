// Package config holds the user tunables read by the simulation on every tick.
// Values come from built-in defaults, an optional YAML file and command line flags,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sync/atomic"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v2"

	"plasmasnow/internal/mathutil"
)

// Settings is an immutable snapshot; replace it through a Holder, never mutate it in place
// after it has been published.
type Settings struct {
	// Snow
	SnowColor     string  `yaml:"snow_color"`
	SnowRate      float64 `yaml:"snow_rate"`       // intensity multiplier
	SpeedFactor   float64 `yaml:"speed_factor"`    // global kinematics multiplier
	FlakeCountMax int     `yaml:"flake_count_max"` // population cap (falling items)
	Fluffy        bool    `yaml:"fluffy"`          // landed flakes fade out in place
	FlakeShapes   int     `yaml:"flake_shapes"`

	// Population control conversion thresholds
	FluffNonWrapping float64 `yaml:"fluff_non_wrapping"`
	FluffWrapping    float64 `yaml:"fluff_wrapping"`

	// Fallen snow
	MaxDesktopSnowDepth int  `yaml:"max_desktop_snow_depth"`
	MaxWindowSnowDepth  int  `yaml:"max_window_snow_depth"`
	KeepSnowOnDesktop   bool `yaml:"keep_snow_on_desktop"`
	KeepSnowOnWindows   bool `yaml:"keep_snow_on_windows"`
	DropSnowOnMove      bool `yaml:"drop_snow_on_move"`
	DoubleBuffer        bool `yaml:"double_buffer"`

	// Wind
	Wind          bool    `yaml:"wind"`
	WhirlFactor   float64 `yaml:"whirl_factor"`
	WindTimer     float64 `yaml:"wind_timer"` // mean calm dwell, seconds
	BlowOff       bool    `yaml:"blow_off"`
	BlowOffFactor float64 `yaml:"blow_off_factor"`

	// Santa
	Santa      bool    `yaml:"santa"`
	SantaSpeed float64 `yaml:"santa_speed"`
	Plow       bool    `yaml:"plow"`

	// Cadences
	StormInterval    time.Duration `yaml:"storm_interval"`
	WindInterval     time.Duration `yaml:"wind_interval"`
	GeometryInterval time.Duration `yaml:"geometry_interval"`
	ErosionInterval  time.Duration `yaml:"erosion_interval"`
	CeilingInterval  time.Duration `yaml:"ceiling_interval"`
	FrameInterval    time.Duration `yaml:"frame_interval"`

	Sound bool `yaml:"sound"`
	Debug bool `yaml:"debug"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		SnowColor:     "#ffffff",
		SnowRate:      1.0,
		SpeedFactor:   1.0,
		FlakeCountMax: 1500,
		Fluffy:        true,
		FlakeShapes:   12,

		FluffNonWrapping: 0.3,
		FluffWrapping:    0.9,

		MaxDesktopSnowDepth: 50,
		MaxWindowSnowDepth:  30,
		KeepSnowOnDesktop:   true,
		KeepSnowOnWindows:   true,
		DropSnowOnMove:      true,
		DoubleBuffer:        true,

		Wind:          true,
		WhirlFactor:   150,
		WindTimer:     30,
		BlowOff:       true,
		BlowOffFactor: 1.0,

		Santa:      true,
		SantaSpeed: 120,
		Plow:       true,

		StormInterval:    20 * time.Millisecond,
		WindInterval:     100 * time.Millisecond,
		GeometryInterval: 250 * time.Millisecond,
		ErosionInterval:  500 * time.Millisecond,
		CeilingInterval:  200 * time.Millisecond,
		FrameInterval:    16 * time.Millisecond,

		Sound: false,
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return s, nil
}

// LoadOptional is Load, except a missing file yields the defaults.
func LoadOptional(path string) (*Settings, error) {
	if path == "" {
		return Default(), nil
	}
	s, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return s, err
}

// Marshal renders the settings as YAML (used by -dump-config).
func (s *Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Validate clamps numeric knobs into their supported ranges and reports values that
// cannot be repaired.
func (s *Settings) Validate() error {
	if _, err := colorful.Hex(s.SnowColor); err != nil {
		return fmt.Errorf("snow_color %q: %w", s.SnowColor, err)
	}

	s.SnowRate = mathutil.ClampF(s.SnowRate, 0, 20)
	s.SpeedFactor = mathutil.ClampF(s.SpeedFactor, 0.05, 10)
	s.FlakeCountMax = mathutil.Clamp(s.FlakeCountMax, 1, 50000)
	s.FlakeShapes = mathutil.Clamp(s.FlakeShapes, 1, 64)
	s.FluffNonWrapping = mathutil.ClampF(s.FluffNonWrapping, 0, 1)
	s.FluffWrapping = mathutil.ClampF(s.FluffWrapping, 0, 1)
	s.MaxDesktopSnowDepth = mathutil.Clamp(s.MaxDesktopSnowDepth, 2, 1000)
	s.MaxWindowSnowDepth = mathutil.Clamp(s.MaxWindowSnowDepth, 2, 1000)
	s.WhirlFactor = mathutil.ClampF(s.WhirlFactor, 0, 1000)
	s.WindTimer = mathutil.ClampF(s.WindTimer, 1, 600)
	s.BlowOffFactor = mathutil.ClampF(s.BlowOffFactor, 0, 10)
	s.SantaSpeed = mathutil.ClampF(s.SantaSpeed, 1, 2000)

	for _, d := range []struct {
		name string
		v    *time.Duration
	}{
		{"storm_interval", &s.StormInterval},
		{"wind_interval", &s.WindInterval},
		{"geometry_interval", &s.GeometryInterval},
		{"erosion_interval", &s.ErosionInterval},
		{"ceiling_interval", &s.CeilingInterval},
		{"frame_interval", &s.FrameInterval},
	} {
		if *d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
		if *d.v > time.Minute {
			*d.v = time.Minute
		}
	}
	return nil
}

// SnowRGBA returns the parsed snow colour, white when unparsable.
func (s *Settings) SnowRGBA() color.RGBA {
	c, err := colorful.Hex(s.SnowColor)
	if err != nil {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// SnowColorful returns the snow colour in go-colorful form for blending.
func (s *Settings) SnowColorful() colorful.Color {
	c, err := colorful.Hex(s.SnowColor)
	if err != nil {
		return colorful.Color{R: 1, G: 1, B: 1}
	}
	return c
}

// Clone returns a shallow copy, safe to modify before publishing.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// DepthChanged reports whether switching from s to next requires the fallen snow
// to be rebuilt.
func (s *Settings) DepthChanged(next *Settings) bool {
	return s.MaxDesktopSnowDepth != next.MaxDesktopSnowDepth ||
		s.MaxWindowSnowDepth != next.MaxWindowSnowDepth ||
		s.KeepSnowOnDesktop != next.KeepSnowOnDesktop ||
		s.KeepSnowOnWindows != next.KeepSnowOnWindows
}

// Holder publishes the current settings to concurrent readers.
type Holder struct {
	p atomic.Pointer[Settings]
}

func NewHolder(s *Settings) *Holder {
	h := &Holder{}
	h.Store(s)
	return h
}

func (h *Holder) Get() *Settings {
	return h.p.Load()
}

// Store publishes s and returns the previous snapshot.
func (h *Holder) Store(s *Settings) *Settings {
	if s == nil {
		s = Default()
	}
	return h.p.Swap(s)
}
