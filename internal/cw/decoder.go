// internal/cw/decoder.go
package cw

import (
	"errors"
	"sync"
	"time"
)

// DefaultAdaptiveSmoothing is the weight given to each new element in the
// sender speed estimate (EMA). Configurable via DecoderConfig.
const DefaultAdaptiveSmoothing = 0.1

// ErrInvalidAdaptiveSmoothing indicates smoothing factor must be between 0 and 1
var ErrInvalidAdaptiveSmoothing = errors.New("adaptive smoothing must be between 0.0 and 1.0")

// DecoderConfig holds configuration for the decoder.
type DecoderConfig struct {
	// AdaptiveSmoothing is the EMA factor for the sender speed estimate.
	// Higher values follow speed changes faster. The estimate is reported
	// only; gap and element thresholds always come from Params.
	AdaptiveSmoothing float64
}

// DecodedCallback is called when a character or word boundary is decoded.
// Must be non-blocking and fast.
type DecodedCallback func(output DecodedOutput)

// DecodedOutput represents decoded CW output
type DecodedOutput struct {
	// Text is the decoded symbol (" " for a word space, UnknownSymbol when
	// the pattern matched nothing)
	Text string
	// Pattern is the dot/dash sequence that produced Text (empty for spaces)
	Pattern string
	// Alias is the prosign sent with the same pattern as Text, if any ("<AR>" for "+")
	Alias string
	// IsWordSpace is true if this represents a word boundary
	IsWordSpace bool
	// Unknown is true when Pattern is not in the code table
	Unknown bool
	// Timestamp is when the boundary was detected
	Timestamp time.Time
	// EstimatedWPM is the sender speed estimate at time of decode
	EstimatedWPM int
}

// Decoder accumulates elements into characters and words using gap timing.
// The symbol buffer is owned by the decoder and never shared.
type Decoder struct {
	config DecoderConfig

	mu sync.Mutex

	buffer   []ElementKind
	hasPrev  bool
	prev     Element
	recorded bool // prev already reported to the advisor
	wordDone bool // word space already emitted for the current silence

	ditEstimateMs float64

	callbackPtr *DecodedCallback
	advisor     *PatternAdvisor
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.AdaptiveSmoothing < 0 || cfg.AdaptiveSmoothing > 1 {
		return nil, ErrInvalidAdaptiveSmoothing
	}
	return &Decoder{
		config: cfg,
		buffer: make([]ElementKind, 0, MaxSymbolElements),
	}, nil
}

// SetCallback sets the callback for decoded output.
func (d *Decoder) SetCallback(cb DecodedCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb == nil {
		d.callbackPtr = nil
	} else {
		d.callbackPtr = &cb
	}
}

// SetAdvisor attaches a pattern advisor that observes element spacing.
func (d *Decoder) SetAdvisor(a *PatternAdvisor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advisor = a
}

// Push adds the next element. The silence since the previous element decides
// whether the pending character (and word) ends first.
func (d *Decoder) Push(el Element, p Params) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasPrev {
		gap := el.Start.Sub(d.prev.End())
		if gap < 0 {
			gap = 0
		}
		d.handleGap(gap, el.Start, p)
		d.record(gap, p)
	}

	if len(d.buffer) >= MaxSymbolElements {
		d.emitCharacter(el.Start)
	}

	d.adaptTiming(el, p)
	d.buffer = append(d.buffer, el.Kind)
	d.prev = el
	d.hasPrev = true
	d.recorded = false
	d.wordDone = false
}

// Idle applies the gap rules to silence that has lasted until now without a
// following element. Calling it repeatedly never repeats a boundary.
func (d *Decoder) Idle(now time.Time, p Params) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasPrev {
		return
	}
	gap := now.Sub(d.prev.End())
	if gap < p.CharBoundary() {
		return
	}
	d.handleGap(gap, now, p)
	if gap >= p.WordBoundary() {
		d.record(gap, p)
	}
}

// NextBoundary reports when Idle would next have work to do.
func (d *Decoder) NextBoundary(p Params) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case !d.hasPrev:
		return time.Time{}, false
	case len(d.buffer) > 0:
		return d.prev.End().Add(p.CharBoundary()), true
	case !d.wordDone:
		return d.prev.End().Add(p.WordBoundary()), true
	}
	return time.Time{}, false
}

// Flush forces the pending character out. A flush of an empty buffer emits
// nothing, so repeated flushes never duplicate a character.
func (d *Decoder) Flush(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flush(at)
}

// Close flushes the trailing character at the end of a session, even though
// its terminating gap never completed.
func (d *Decoder) Close(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flush(at)
	if d.hasPrev && !d.recorded && d.advisor != nil {
		d.advisor.RecordElement(ElementRecord{IsDah: d.prev.Kind == Dash, IsCharEnd: true, IsWordEnd: true})
		d.recorded = true
	}
}

// Pending returns the pattern of the character being built.
func (d *Decoder) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return PatternOf(d.buffer)
}

func (d *Decoder) handleGap(gap time.Duration, at time.Time, p Params) {
	switch {
	case gap >= p.WordBoundary():
		d.flush(at)
		if !d.wordDone {
			d.emitWordSpace(at)
			d.wordDone = true
		}
	case gap >= p.CharBoundary():
		d.flush(at)
	}
}

// record reports the previous element and the gap that followed it.
func (d *Decoder) record(gap time.Duration, p Params) {
	if d.advisor == nil || d.recorded {
		return
	}
	d.advisor.RecordElement(ElementRecord{
		IsDah:     d.prev.Kind == Dash,
		GapUnits:  float64(gap) / float64(p.Timing.Unit),
		IsCharEnd: gap >= p.CharBoundary(),
		IsWordEnd: gap >= p.WordBoundary(),
	})
	d.recorded = true
}

func (d *Decoder) flush(at time.Time) {
	if len(d.buffer) == 0 {
		return
	}
	d.emitCharacter(at)
}

// emitCharacter outputs the current character being built.
func (d *Decoder) emitCharacter(at time.Time) {
	pattern := PatternOf(d.buffer)
	out := DecodedOutput{
		Pattern:      pattern,
		Timestamp:    at,
		EstimatedWPM: d.estimatedWPM(),
	}
	if e, ok := Lookup(pattern); ok {
		out.Text = e.Symbol
		if a, ok := Alias(pattern); ok {
			out.Alias = a.Symbol
		}
	} else {
		out.Text = UnknownSymbol
		out.Unknown = true
	}
	d.buffer = d.buffer[:0]
	if d.callbackPtr != nil {
		(*d.callbackPtr)(out)
	}
}

// emitWordSpace outputs a word space marker.
func (d *Decoder) emitWordSpace(at time.Time) {
	if d.callbackPtr != nil {
		(*d.callbackPtr)(DecodedOutput{
			Text:         " ",
			IsWordSpace:  true,
			Timestamp:    at,
			EstimatedWPM: d.estimatedWPM(),
		})
	}
}

// adaptTiming updates the dit duration estimate using exponential moving average.
func (d *Decoder) adaptTiming(el Element, p Params) {
	if d.ditEstimateMs == 0 {
		d.ditEstimateMs = float64(p.Timing.Unit) / float64(time.Millisecond)
	}
	estimatedDit := float64(el.Duration) / float64(time.Millisecond)
	if el.Kind == Dash {
		estimatedDit /= DahDitRatio
	}
	smoothing := d.config.AdaptiveSmoothing
	d.ditEstimateMs = (1-smoothing)*d.ditEstimateMs + smoothing*estimatedDit
}

func (d *Decoder) estimatedWPM() int {
	if d.ditEstimateMs <= 0 {
		return 0
	}
	wpm := float64(UnitPerWPM/time.Millisecond) / d.ditEstimateMs
	return int(wpm + 0.5)
}

// EstimatedWPM returns the sender speed estimate (0 before any element).
func (d *Decoder) EstimatedWPM() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.estimatedWPM()
}

// Reset discards the pending character and all timing history.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer = d.buffer[:0]
	d.hasPrev = false
	d.prev = Element{}
	d.recorded = false
	d.wordDone = false
	d.ditEstimateMs = 0
}
