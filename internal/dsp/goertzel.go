// internal/dsp/goertzel.go
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = errors.New("insufficient samples for block size")
)

// GoertzelConfig holds configuration for the single-bin filter.
type GoertzelConfig struct {
	// TargetFrequency is the sidetone pitch in Hz (from config: tone_frequency)
	TargetFrequency float64
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate float64
	// BlockSize is the number of samples per measurement
	BlockSize int
}

// Goertzel measures the energy of one frequency bin. For a single known
// pitch it is far cheaper than an FFT.
type Goertzel struct {
	config GoertzelConfig
	coeff  float64 // 2cos(ω)
	scale  float64 // 2/N, so a full-scale sine reads ~1.0
}

// NewGoertzel validates cfg and precomputes the filter coefficient.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= cfg.SampleRate/2 {
		return nil, ErrInvalidFrequency
	}

	omega := 2 * math.Pi * cfg.TargetFrequency / cfg.SampleRate
	return &Goertzel{
		config: cfg,
		coeff:  2 * math.Cos(omega),
		scale:  2 / float64(cfg.BlockSize),
	}, nil
}

// Magnitude returns the normalized amplitude of the target frequency in the
// first BlockSize samples.
func (g *Goertzel) Magnitude(samples []float32) (float64, error) {
	if len(samples) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}
	return g.magnitude(samples[:g.config.BlockSize]), nil
}

func (g *Goertzel) magnitude(block []float32) float64 {
	var s1, s2 float64
	for _, x := range block {
		s1, s2 = float64(x)+g.coeff*s1-s2, s1
	}
	power := s1*s1 + s2*s2 - g.coeff*s1*s2
	if power < 0 {
		// rounding on near-silent input
		power = 0
	}
	return math.Sqrt(power) * g.scale
}

// Config returns the filter configuration.
func (g *Goertzel) Config() GoertzelConfig { return g.config }

// BlockSize returns the configured block size.
func (g *Goertzel) BlockSize() int { return g.config.BlockSize }
