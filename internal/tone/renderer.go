// internal/tone/renderer.go
package tone

import (
	"errors"
	"math"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("tone frequency must be positive and less than Nyquist frequency")
	// ErrInvalidVolume indicates volume must be between 0 and 1
	ErrInvalidVolume = errors.New("volume must be between 0.0 and 1.0")
	// ErrInvalidRamp indicates the envelope ramp must not be negative
	ErrInvalidRamp = errors.New("envelope ramp must not be negative")
	// ErrQueueRequired indicates a queue and epoch are required
	ErrQueueRequired = errors.New("renderer requires a queue and an epoch")
)

// DefaultRamp is the attack/release time of the tone envelope.
const DefaultRamp = 5 * time.Millisecond

// RendererConfig holds configuration for the renderer.
type RendererConfig struct {
	// SampleRate is the output sample rate in Hz (from config: sample_rate)
	SampleRate int
	// Frequency is the sidetone pitch in Hz (from config: tone_frequency)
	Frequency float64
	// Volume is the linear output gain 0-1 (from config: volume)
	Volume float64
	// Ramp is the raised-cosine attack and release time (from config: envelope_ms)
	Ramp time.Duration
	// Lookahead is the fixed latency between the pipeline clock and the
	// audio output (from config: lookahead_ms). Changes that reach the
	// renderer less than Lookahead after their instant still play on time.
	Lookahead time.Duration
}

// Stats are renderer counters, safe to read from any goroutine.
type Stats struct {
	Applied   uint64 // changes applied
	Discarded uint64 // cancelled changes dropped
	Underruns uint64 // changes that arrived after their instant was rendered
}

// Renderer is the audio-side consumer. Render is called from the audio
// callback; it does not lock, block or allocate.
type Renderer struct {
	queue *Queue
	epoch *atomic.Uint32

	sampleRate int64
	lookahead  time.Duration
	envelope   []float32 // raised-cosine ramp, len = ramp samples + 1

	origin time.Time
	pos    int64

	freqBits atomic.Uint64
	volBits  atomic.Uint64

	phase   float64
	on      bool
	onEpoch uint32
	level   int // index into envelope

	applied   atomic.Uint64
	discarded atomic.Uint64
	underruns atomic.Uint64
}

// NewRenderer creates a renderer consuming the scheduler's queue.
func NewRenderer(cfg RendererConfig, q *Queue, epoch *atomic.Uint32) (*Renderer, error) {
	if q == nil || epoch == nil {
		return nil, ErrQueueRequired
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.Frequency <= 0 || cfg.Frequency >= float64(cfg.SampleRate)/2 {
		return nil, ErrInvalidFrequency
	}
	if cfg.Volume < 0 || cfg.Volume > 1 {
		return nil, ErrInvalidVolume
	}
	if cfg.Ramp < 0 {
		return nil, ErrInvalidRamp
	}

	rampSamples := int(cfg.Ramp.Seconds() * float64(cfg.SampleRate))
	envelope := make([]float32, rampSamples+1)
	for i := range envelope {
		if rampSamples == 0 {
			envelope[i] = 1
			continue
		}
		envelope[i] = float32(0.5 - 0.5*math.Cos(math.Pi*float64(i)/float64(rampSamples)))
	}

	r := &Renderer{
		queue:      q,
		epoch:      epoch,
		sampleRate: int64(cfg.SampleRate),
		lookahead:  cfg.Lookahead,
		envelope:   envelope,
	}
	r.freqBits.Store(math.Float64bits(cfg.Frequency))
	r.volBits.Store(math.Float64bits(cfg.Volume))
	return r, nil
}

// Start anchors sample 0 to origin on the pipeline clock. Call before the
// first Render.
func (r *Renderer) Start(origin time.Time) {
	r.origin = origin
	r.pos = 0
}

// SetFrequency changes the pitch; it takes effect on the next sample.
func (r *Renderer) SetFrequency(hz float64) error {
	if hz <= 0 || hz >= float64(r.sampleRate)/2 {
		return ErrInvalidFrequency
	}
	r.freqBits.Store(math.Float64bits(hz))
	return nil
}

// SetVolume changes the output gain.
func (r *Renderer) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return ErrInvalidVolume
	}
	r.volBits.Store(math.Float64bits(v))
	return nil
}

// Stats returns the renderer counters.
func (r *Renderer) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Discarded: r.discarded.Load(),
		Underruns: r.underruns.Load(),
	}
}

// Sounding reports whether the envelope is above zero.
func (r *Renderer) Sounding() bool {
	return r.on || r.level > 0
}

// Render fills out with mono samples. When nothing is queued the output is
// silence; a late change is applied immediately and counted as an underrun.
func (r *Renderer) Render(out []float32) {
	bufferStart := r.pos
	step := 2 * math.Pi * math.Float64frombits(r.freqBits.Load()) / float64(r.sampleRate)
	volume := float32(math.Float64frombits(r.volBits.Load()))
	current := r.epoch.Load()
	rampLen := len(r.envelope) - 1

	for i := range out {
		r.drain(current, bufferStart)

		if r.on {
			if r.level < rampLen {
				r.level++
			}
		} else if r.level > 0 {
			r.level--
		}

		if r.level == 0 && !r.on {
			r.phase = 0
			out[i] = 0
		} else {
			out[i] = float32(math.Sin(r.phase)) * r.envelope[r.level] * volume
			r.phase += step
			if r.phase >= 2*math.Pi {
				r.phase -= 2 * math.Pi
			}
		}
		r.pos++
	}
}

// drain applies every change due at the current sample.
func (r *Renderer) drain(current uint32, bufferStart int64) {
	for {
		c, ok := r.queue.Peek()
		if !ok {
			return
		}
		if c.Epoch != current && !(r.on && !c.On && c.Epoch == r.onEpoch) {
			r.queue.Pop()
			r.discarded.Add(1)
			continue
		}
		target := r.sampleOf(c.At)
		if target > r.pos {
			return
		}
		if target < bufferStart {
			r.underruns.Add(1)
		}
		r.queue.Pop()
		r.on = c.On
		r.onEpoch = c.Epoch
		r.applied.Add(1)
	}
}

func (r *Renderer) sampleOf(at time.Time) int64 {
	d := at.Sub(r.origin) + r.lookahead
	return int64(d) * r.sampleRate / int64(time.Second)
}
