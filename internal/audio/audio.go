// Package audio plays a procedural wind noise whose loudness and brightness follow
// the wind speed.
package audio

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/hajimehoshi/oto/v2"

	"plasmasnow/internal/log"
	"plasmasnow/internal/wind"
)

const (
	SampleRate   = 44100
	ChannelCount = 2
	BitDepth     = 0 // 32-bit float (oto.FormatFloat32LE)
)

const (
	volume = 0.35
	// Per-sample smoothing of the level so volume steps do not click.
	levelGlide = 1.0 / (0.25 * SampleRate)
)

// Wind is a supervised service streaming wind noise until its context ends.
type Wind struct {
	ctx   *oto.Context
	ready chan struct{}
	src   *windReader
}

// NewWind opens the audio device. Callers treat an error as "run silent".
func NewWind(seed uint64) (*Wind, error) {
	ctx, ready, err := oto.NewContext(SampleRate, ChannelCount, BitDepth)
	if err != nil {
		return nil, err
	}
	return &Wind{ctx: ctx, ready: ready, src: newWindReader(seed)}, nil
}

// SetLevel sets the target loudness in [0, 1]. Safe from any goroutine.
func (w *Wind) SetLevel(level float64) { w.src.setLevel(level) }

// LevelFor maps a wind speed to a loudness; a full strong gust is 1.
func LevelFor(speed float64) float64 {
	return math.Min(1, math.Abs(speed)/wind.MaxDrift(wind.StrongGust))
}

// Serve implements suture.Service.
func (w *Wind) Serve(ctx context.Context) error {
	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	player := w.ctx.NewPlayer(w.src)
	player.SetVolume(volume)
	player.Play()
	log.Debugw("audio: wind playing")
	<-ctx.Done()
	if err := player.Close(); err != nil {
		log.Debugw("audio: close player", "err", err)
	}
	return ctx.Err()
}

func (w *Wind) String() string { return "audio/wind" }

// windReader is an endless stereo float32 stream of band-limited noise. Louder wind
// opens the low-pass filter as well as raising the gain.
type windReader struct {
	target atomic.Uint64 // float64 bits

	seed  uint64
	level float64
	lpL   float64
	lpR   float64
	lfo   float64
}

func newWindReader(seed uint64) *windReader {
	return &windReader{seed: seed | 1}
}

func (r *windReader) setLevel(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	r.target.Store(math.Float64bits(math.Max(0, math.Min(1, v))))
}

func (r *windReader) Read(p []byte) (int, error) {
	target := math.Float64frombits(r.target.Load())
	n := len(p) / 8
	for i := 0; i < n; i++ {
		r.level += (target - r.level) * levelGlide
		if math.Abs(target-r.level) < 1e-6 {
			r.level = target
		}

		// Slow gusting wobble, a few tenths of a hertz.
		r.lfo += 2 * math.Pi * 0.3 / SampleRate
		if r.lfo > 2*math.Pi {
			r.lfo -= 2 * math.Pi
		}
		wobble := 0.8 + 0.2*math.Sin(r.lfo)

		cutoff := 0.01 + 0.08*r.level*wobble
		r.lpL += (lcg(&r.seed) - r.lpL) * cutoff
		r.lpR += (lcg(&r.seed) - r.lpR) * cutoff

		g := r.level * wobble * 4
		putStereoF32LR(p, i, softSat(r.lpL*g), softSat(r.lpR*g))
	}
	return n * 8, nil
}

// putStereoF32LR writes independent left/right samples in [-1,1] at frame i.
func putStereoF32LR(buf []byte, i int, left, right float64) {
	lv := math.Float32bits(float32(left))
	rv := math.Float32bits(float32(right))
	buf[i*8] = byte(lv)
	buf[i*8+1] = byte(lv >> 8)
	buf[i*8+2] = byte(lv >> 16)
	buf[i*8+3] = byte(lv >> 24)
	buf[i*8+4] = byte(rv)
	buf[i*8+5] = byte(rv >> 8)
	buf[i*8+6] = byte(rv >> 16)
	buf[i*8+7] = byte(rv >> 24)
}

// softSat applies gentle tanh-like saturation, never exceeding ±1.
func softSat(x float64) float64 {
	if x > 1.0 {
		return 1.0 - 0.5/(x)
	}
	if x < -1.0 {
		return -1.0 + 0.5/(-x)
	}
	return x - x*x*x/3.0
}

// lcg advances an LCG seed and returns a noise sample in [-1,1].
func lcg(seed *uint64) float64 {
	*seed = *seed*6364136223846793005 + 1442695040888963407
	return float64(int64(*seed>>33)-int64(1<<30)) / float64(1<<30)
}
