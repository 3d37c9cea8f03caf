// internal/session/pipeline.go
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/keyer"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

// PipelineConfig holds everything a pipeline needs up front.
type PipelineConfig struct {
	// Params are the initial timing, mode and tolerances
	Params cw.Params
	// Decoder configures the decoder speed estimate
	Decoder cw.DecoderConfig
	// Advisor enables spacing hints when non-nil
	Advisor *cw.AdvisorConfig
	// UnknownPolicy applies to Play (from config: unknown_policy)
	UnknownPolicy cw.UnknownPolicy
	// Tone receives sidetone and playback changes; nil runs silent
	Tone *tone.Scheduler
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Pipeline is the synchronous keying core. It is not safe for concurrent
// use; Session serialises every call onto one goroutine. Time only moves
// when the caller passes it in, which makes the whole pipeline
// deterministic under test.
type Pipeline struct {
	params cw.Params

	order    cw.EventOrder
	iambic   *keyer.Iambic
	straight keyer.Straight

	decoder    *cw.Decoder
	transcript *cw.Transcript
	encoder    *cw.Encoder
	tone       *tone.Scheduler

	logger   *slog.Logger
	diagnose func(Diagnostic)
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if _, err := cw.NewParams(cfg.Params.Timing.WPM, cfg.Params.Mode, cfg.Params.Tolerance); err != nil {
		return nil, err
	}
	dec, err := cw.NewDecoder(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		params:     cfg.Params,
		iambic:     keyer.NewIambic(),
		decoder:    dec,
		transcript: cw.NewTranscript(),
		encoder:    cw.NewEncoder(cfg.UnknownPolicy),
		tone:       cfg.Tone,
		logger:     logger,
		diagnose:   func(Diagnostic) {},
	}

	dec.SetCallback(p.onDecoded)
	if cfg.Advisor != nil {
		adv := cw.NewPatternAdvisor(*cfg.Advisor)
		adv.SetCallback(p.onHint)
		dec.SetAdvisor(adv)
	}
	return p, nil
}

// SetDiagnostics sets the sink for non-fatal events.
func (p *Pipeline) SetDiagnostics(fn func(Diagnostic)) {
	if fn == nil {
		fn = func(Diagnostic) {}
	}
	p.diagnose = fn
}

// Params returns the active parameters.
func (p *Pipeline) Params() cw.Params { return p.params }

// Transcript returns the decoded output so far.
func (p *Pipeline) Transcript() *cw.Transcript { return p.transcript }

// KeyerState returns the iambic keyer state and paddle contacts.
func (p *Pipeline) KeyerState() (keyer.State, keyer.PaddleState) {
	return p.iambic.State(), p.iambic.Paddles()
}

// HandleEvent applies one key event. Events not strictly newer than the
// previous one are dropped with cw.ErrOutOfOrderEvent.
func (p *Pipeline) HandleEvent(ev cw.KeyEvent) error {
	if err := p.order.Check(ev); err != nil {
		p.diagnose(Diagnostic{Kind: OutOfOrderEvent, At: ev.At, Err: err})
		p.logger.Warn("key event dropped", "edge", ev.Edge, "paddle", ev.Paddle, "at", ev.At, "error", err)
		return err
	}
	p.Advance(ev.At)

	if ev.Paddle != cw.PaddleStraight {
		// the iambic keyer tracks paddle contacts in every mode so a later
		// switch back finds them as they are; outside iambic mode it sends nothing
		if ev.Edge == cw.Press {
			p.emit(p.iambic.Press(ev.Paddle, ev.At, p.params))
		} else {
			p.emit(p.iambic.Release(ev.Paddle, ev.At, p.params))
		}
	}
	if p.params.Mode == cw.Straight || ev.Paddle == cw.PaddleStraight {
		p.straightEdge(ev)
	}
	return nil
}

func (p *Pipeline) straightEdge(ev cw.KeyEvent) {
	if ev.Edge == cw.Press {
		if p.straight.Press(ev.At) && p.tone != nil {
			p.tone.KeyDown(ev.At)
		}
		return
	}
	if !p.straight.Down() {
		return
	}
	if p.tone != nil {
		p.tone.KeyUp(ev.At)
	}
	el, ok := p.straight.Release(ev.At, p.params)
	if !ok {
		p.logger.Debug("key bounce ignored", "at", ev.At)
		return
	}
	p.logger.Debug("element", "kind", el.Kind, "start", el.Start, "duration", el.Duration)
	p.decoder.Push(el, p.params)
}

// Advance runs keyer transitions and decoder gap timeouts due by now.
// While the straight key is held the silence ended at the press.
func (p *Pipeline) Advance(now time.Time) {
	p.emit(p.iambic.Advance(now, p.params))
	if p.straight.Down() {
		now = p.straight.PressedAt()
	}
	p.decoder.Idle(now, p.params)
}

// Deadline reports the next instant Advance has work to do.
func (p *Pipeline) Deadline() (time.Time, bool) {
	k, kok := p.iambic.Deadline()
	d, dok := p.decoder.NextBoundary(p.params)
	if p.straight.Down() {
		dok = false
	}
	switch {
	case kok && dok:
		if d.Before(k) {
			return d, true
		}
		return k, true
	case kok:
		return k, true
	case dok:
		return d, true
	}
	return time.Time{}, false
}

func (p *Pipeline) emit(els []cw.Element) {
	for _, el := range els {
		p.logger.Debug("element", "kind", el.Kind, "start", el.Start, "duration", el.Duration)
		if p.tone != nil {
			p.tone.Schedule(el)
		}
		p.decoder.Push(el, p.params)
	}
}

// SetWPM changes speed for elements generated from now on.
func (p *Pipeline) SetWPM(wpm int, at time.Time) error {
	next, err := p.params.WithWPM(wpm)
	if err != nil {
		p.diagnose(Diagnostic{Kind: InvalidConfig, At: at, Err: err})
		return err
	}
	p.params = next
	p.logger.Info("speed changed", "wpm", wpm)
	return nil
}

// SetMode switches keyer mode. A running iambic sequence is interrupted:
// its gap wait ends now and the element already sounding completes. The
// new mode is latched when the next sequence starts, which for a paddle
// still held is as soon as the keyer is back in Idle.
func (p *Pipeline) SetMode(mode cw.KeyerMode, at time.Time) error {
	if _, err := cw.NewParams(p.params.Timing.WPM, mode, p.params.Tolerance); err != nil {
		p.diagnose(Diagnostic{Kind: InvalidConfig, At: at, Err: err})
		return err
	}
	if mode == p.params.Mode {
		return nil
	}
	p.Advance(at)
	p.iambic.Interrupt(at)
	if p.straight.Down() {
		if p.tone != nil {
			p.tone.KeyUp(at)
		}
		p.straight.Reset()
	}
	p.params.Mode = mode
	p.logger.Info("keyer mode changed", "mode", mode)
	return nil
}

// SetTolerance replaces the classification and gap thresholds.
func (p *Pipeline) SetTolerance(tol cw.Tolerance, at time.Time) error {
	if err := tol.Validate(); err != nil {
		p.diagnose(Diagnostic{Kind: InvalidConfig, At: at, Err: err})
		return err
	}
	p.params.Tolerance = tol
	return nil
}

// Play encodes text and schedules it for playback starting at start.
func (p *Pipeline) Play(text string, start time.Time) cw.Schedule {
	s := p.encoder.Encode(text, start, p.params.Timing)
	for _, w := range s.Warnings {
		p.diagnose(Diagnostic{Kind: EncoderWarning, At: start, Detail: w.String()})
		p.logger.Warn("encoder", "warning", w.String())
	}
	if p.tone != nil {
		p.tone.ScheduleAll(s.Elements)
	}
	p.logger.Debug("playback scheduled", "text", text, "elements", len(s.Elements), "end", s.End)
	return s
}

// CancelPlayback drops every tone not yet started.
func (p *Pipeline) CancelPlayback() {
	if p.tone != nil {
		p.tone.Cancel()
	}
}

// Reset ends the current input: the pending character is flushed, the
// keyer returns to Idle and queued tones are cancelled.
func (p *Pipeline) Reset(at time.Time) {
	p.decoder.Close(at)
	p.decoder.Reset()
	p.iambic.Reset()
	if p.straight.Down() && p.tone != nil {
		p.tone.KeyUp(at)
	}
	p.straight.Reset()
	p.order.Reset()
	p.CancelPlayback()
}

// Close finishes the session at the given instant, flushing the trailing
// character whose terminating gap never completed.
func (p *Pipeline) Close(at time.Time) {
	p.Advance(at)
	if p.straight.Down() {
		if p.tone != nil {
			p.tone.KeyUp(at)
		}
		p.straight.Reset()
	}
	p.decoder.Close(at)
}

func (p *Pipeline) onDecoded(out cw.DecodedOutput) {
	p.transcript.Append(out)
	if out.Unknown {
		p.diagnose(Diagnostic{Kind: UnknownSymbol, At: out.Timestamp, Detail: out.Pattern})
	}
	p.logger.Debug("decoded", "text", out.Text, "alias", out.Alias, "pattern", out.Pattern, "wpm", out.EstimatedWPM)
}

func (p *Pipeline) onHint(h cw.SpacingHint) {
	if !h.Misspaced() {
		return
	}
	detail := fmt.Sprintf("%q keyed as %q", h.Corrected, h.Original)
	if h.SuggestedCharGap > 0 {
		detail += fmt.Sprintf(", try char_gap %.1f", h.SuggestedCharGap)
	}
	p.diagnose(Diagnostic{Kind: SpacingHint, Detail: detail})
	p.logger.Info("spacing hint", "word", h.Corrected, "decoded", h.Original, "confidence", h.Confidence)
}
