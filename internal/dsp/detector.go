// internal/dsp/detector.go
package dsp

import (
	"errors"
	"time"
)

var (
	// ErrInvalidThreshold indicates threshold must be between 0 and 1
	ErrInvalidThreshold = errors.New("threshold must be between 0.0 and 1.0")
	// ErrInvalidHysteresis indicates hysteresis must be non-negative
	ErrInvalidHysteresis = errors.New("hysteresis must be non-negative")
	// ErrInvalidHop indicates the hop must be between 0 and the block size
	ErrInvalidHop = errors.New("hop size must be between 0 and the block size")
	// ErrGoertzelRequired indicates Goertzel instance is required
	ErrGoertzelRequired = errors.New("goertzel instance is required")
)

// Transition is a confirmed tone on/off edge.
type Transition struct {
	// On is true when the tone starts
	On bool
	// At is the edge position on the sample clock
	At time.Time
	// Held is how long the previous state lasted (zero for the first edge)
	Held time.Duration
	// Magnitude is the block magnitude that confirmed the edge
	Magnitude float64
}

// TransitionCallback receives confirmed edges in order.
type TransitionCallback func(tr Transition)

// DetectorConfig holds configuration for the tone detector.
type DetectorConfig struct {
	// Threshold is the magnitude above which a block holds tone (0.0-1.0)
	Threshold float64
	// Hysteresis is how many consecutive blocks confirm a change
	Hysteresis int
	// Hop is the sample step between blocks; 0 means BlockSize (no overlap)
	Hop int
}

// Detector turns a sample stream into tone transitions. Time comes from
// the sample count, not the wall clock, so an offline buffer and a live
// stream give the same timestamps.
type Detector struct {
	config     DetectorConfig
	goertzel   *Goertzel
	blockSize  int
	hop        int
	sampleRate float64

	origin   time.Time
	consumed int64 // samples dropped from the front of buf so far
	buf      []float32

	tone        bool
	pending     bool
	pendingAt   time.Time
	pendingSeen int
	last        time.Time

	callback TransitionCallback
}

// NewDetector creates a detector using g for block measurements.
func NewDetector(cfg DetectorConfig, g *Goertzel) (*Detector, error) {
	if g == nil {
		return nil, ErrGoertzelRequired
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, ErrInvalidThreshold
	}
	if cfg.Hysteresis < 0 {
		return nil, ErrInvalidHysteresis
	}
	blockSize := g.BlockSize()
	if cfg.Hop < 0 || cfg.Hop > blockSize {
		return nil, ErrInvalidHop
	}
	hop := cfg.Hop
	if hop == 0 {
		hop = blockSize
	}
	return &Detector{
		config:     cfg,
		goertzel:   g,
		blockSize:  blockSize,
		hop:        hop,
		sampleRate: g.Config().SampleRate,
		buf:        make([]float32, 0, 2*blockSize),
	}, nil
}

// Start anchors sample 0 at origin.
func (d *Detector) Start(origin time.Time) {
	d.Reset()
	d.origin = origin
}

// SetCallback sets the transition callback.
func (d *Detector) SetCallback(cb TransitionCallback) {
	d.callback = cb
}

// Process consumes samples, which may arrive in any chunk size.
func (d *Detector) Process(samples []float32) {
	d.buf = append(d.buf, samples...)
	for len(d.buf) >= d.blockSize {
		d.block(d.buf[:d.blockSize])
		n := copy(d.buf, d.buf[d.hop:])
		d.buf = d.buf[:n]
		d.consumed += int64(d.hop)
	}
}

func (d *Detector) block(b []float32) {
	mag := d.goertzel.magnitude(b)
	present := mag > d.config.Threshold
	// the edge is placed mid-block, where a ramp crosses the threshold
	at := d.timeOf(d.consumed + int64(d.blockSize/2))

	if present == d.tone {
		d.pending = d.tone
		d.pendingSeen = 0
		return
	}
	if present != d.pending || d.pendingSeen == 0 {
		d.pending = present
		d.pendingAt = at
		d.pendingSeen = 0
	}
	d.pendingSeen++
	if d.pendingSeen < d.config.Hysteresis && d.config.Hysteresis > 0 {
		return
	}

	var held time.Duration
	if !d.last.IsZero() {
		held = d.pendingAt.Sub(d.last)
	}
	d.tone = present
	d.last = d.pendingAt
	d.pendingSeen = 0
	if d.callback != nil {
		d.callback(Transition{On: present, At: d.pendingAt, Held: held, Magnitude: mag})
	}
}

// Flush ends a tone still sounding when the stream stops.
func (d *Detector) Flush() {
	if !d.tone {
		return
	}
	at := d.timeOf(d.consumed + int64(len(d.buf)))
	d.tone = false
	held := at.Sub(d.last)
	d.last = at
	if d.callback != nil {
		d.callback(Transition{On: false, At: at, Held: held})
	}
}

func (d *Detector) timeOf(sample int64) time.Time {
	return d.origin.Add(time.Duration(float64(sample) / d.sampleRate * float64(time.Second)))
}

// ToneState returns the current confirmed tone state
func (d *Detector) ToneState() bool {
	return d.tone
}

// Reset clears all state except the origin.
func (d *Detector) Reset() {
	d.buf = d.buf[:0]
	d.consumed = 0
	d.tone = false
	d.pending = false
	d.pendingSeen = 0
	d.pendingAt = time.Time{}
	d.last = time.Time{}
}

// Config returns the current configuration
func (d *Detector) Config() DetectorConfig {
	return d.config
}
