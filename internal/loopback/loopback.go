// internal/loopback/loopback.go
// Package loopback decodes Morse back out of audio. It closes the loop on
// the sidetone path: text rendered by the tone package should come back as
// the same text.
package loopback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
)

// Detector defaults. A 5 ms block at 48 kHz resolves a 60 WPM dot while
// keeping the bin narrow enough to reject neighbouring signals.
const (
	DefaultBlockDuration = 5 * time.Millisecond
	DefaultHopDuration   = time.Millisecond
	DefaultThreshold     = 0.4
	DefaultHysteresis    = 2
)

// Gap thresholds used on measured audio, in dit units. Detected gaps jitter
// around their nominal length, so they are split at the midpoints
// (2 between 1 and 3, 5 between 3 and 7) instead of at the nominal lengths.
const (
	MeasuredCharGap = 2.0
	MeasuredWordGap = 5.0
)

// resamplePad is silence appended before resampling so the filter tail of
// the last tone is not held back.
const resamplePad = 100 * time.Millisecond

var (
	// ErrEmptyBuffer indicates there was no audio to decode
	ErrEmptyBuffer = errors.New("audio buffer is empty")
	// ErrNoFormat indicates the buffer carries no sample rate
	ErrNoFormat = errors.New("audio buffer has no format")
)

// Config controls the detector stage.
type Config struct {
	// Params supplies the classification and gap thresholds
	Params cw.Params
	// Frequency is the tone pitch to listen for (from config: tone_frequency)
	Frequency float64
	// SampleRate is the rate the detector runs at; other rates are resampled
	// (from config: sample_rate)
	SampleRate int
	// BlockDuration is the Goertzel window
	BlockDuration time.Duration
	// HopDuration is the step between windows
	HopDuration time.Duration
	// Threshold is the magnitude, relative to the loudest sample, that
	// counts as tone
	Threshold float64
	// Hysteresis is the number of blocks that confirm an edge
	Hysteresis int
}

// DefaultConfig returns detector settings for p at the given pitch and rate.
// The gap thresholds of p are replaced by the measured-audio midpoints.
func DefaultConfig(p cw.Params, frequency float64, sampleRate int) Config {
	p.Tolerance.CharGap = MeasuredCharGap
	p.Tolerance.WordGap = MeasuredWordGap
	return Config{
		Params:        p,
		Frequency:     frequency,
		SampleRate:    sampleRate,
		BlockDuration: DefaultBlockDuration,
		HopDuration:   DefaultHopDuration,
		Threshold:     DefaultThreshold,
		Hysteresis:    DefaultHysteresis,
	}
}

// Result is the outcome of decoding one buffer.
type Result struct {
	// Text is the decoded text with surrounding spaces trimmed
	Text string
	// Elements are the classified tones in order
	Elements []cw.Element
	// Outputs are the raw decoder outputs, including word spaces
	Outputs []cw.DecodedOutput
	// EstimatedWPM is the sender speed estimate after the last element
	EstimatedWPM int
	// Rejected counts tones discarded as bounce
	Rejected int
}

// Decode runs buf through the detector and decoder. buf is modified in
// place: it is downmixed to mono and normalized. Time zero is the first
// sample.
func Decode(buf *audio.FloatBuffer, cfg Config) (Result, error) {
	if buf == nil || len(buf.Data) == 0 {
		return Result{}, ErrEmptyBuffer
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Result{}, ErrNoFormat
	}

	transforms.MonoDownmix(buf)
	if cfg.SampleRate > 0 && buf.Format.SampleRate != cfg.SampleRate {
		var err error
		if buf, err = Resample(buf, cfg.SampleRate); err != nil {
			return Result{}, err
		}
	}
	transforms.NormalizeMax(buf)
	rate := buf.Format.SampleRate

	g, err := dsp.NewGoertzel(dsp.GoertzelConfig{
		TargetFrequency: cfg.Frequency,
		SampleRate:      float64(rate),
		BlockSize:       samplesIn(cfg.BlockDuration, rate),
	})
	if err != nil {
		return Result{}, fmt.Errorf("goertzel: %w", err)
	}
	det, err := dsp.NewDetector(dsp.DetectorConfig{
		Threshold:  cfg.Threshold,
		Hysteresis: cfg.Hysteresis,
		Hop:        min(samplesIn(cfg.HopDuration, rate), g.BlockSize()),
	}, g)
	if err != nil {
		return Result{}, fmt.Errorf("detector: %w", err)
	}
	dec, err := cw.NewDecoder(cw.DecoderConfig{AdaptiveSmoothing: cw.DefaultAdaptiveSmoothing})
	if err != nil {
		return Result{}, err
	}

	var res Result
	dec.SetCallback(func(out cw.DecodedOutput) {
		res.Outputs = append(res.Outputs, out)
	})

	var origin time.Time
	var onAt time.Time
	det.Start(origin)
	det.SetCallback(func(tr dsp.Transition) {
		if tr.On {
			onAt = tr.At
			return
		}
		el, ok := cw.Classify(onAt, tr.At, cfg.Params)
		if !ok {
			res.Rejected++
			return
		}
		res.Elements = append(res.Elements, el)
		dec.Push(el, cfg.Params)
	})

	det.Process(buf.AsFloat32Buffer().Data)
	det.Flush()

	end := origin.Add(time.Duration(float64(len(buf.Data)) / float64(rate) * float64(time.Second)))
	dec.Idle(end, cfg.Params)
	dec.Close(end)

	var sb strings.Builder
	for _, out := range res.Outputs {
		sb.WriteString(out.Text)
	}
	res.Text = strings.TrimSpace(sb.String())
	res.EstimatedWPM = dec.EstimatedWPM()
	return res, nil
}

// Resample converts a mono buffer to rate.
func Resample(buf *audio.FloatBuffer, rate int) (*audio.FloatBuffer, error) {
	if buf.Format.SampleRate == rate {
		return buf, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(buf.Format.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	in := make([]float64, len(buf.Data)+samplesIn(resamplePad, buf.Format.SampleRate))
	copy(in, buf.Data)
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:   out,
	}, nil
}

func samplesIn(d time.Duration, rate int) int {
	n := int(d.Seconds() * float64(rate))
	if n < 1 {
		n = 1
	}
	return n
}
