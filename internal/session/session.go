// internal/session/session.go
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/ColonelBlimp/cwkeyer/internal/clock"
	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

// Session defaults
const (
	DefaultInputSize       = 64
	DefaultDiagnosticsSize = 32
	DefaultPumpInterval    = 5 * time.Millisecond
)

var (
	// ErrInputFull indicates the input channel is full and the event was dropped
	ErrInputFull = errors.New("session input full")
	// ErrClosed indicates the session is not running
	ErrClosed = errors.New("session closed")
	// ErrAlreadyRunning indicates Run was called twice
	ErrAlreadyRunning = errors.New("session already running")
	// ErrClockRequired indicates a clock is required
	ErrClockRequired = errors.New("session requires a clock")
)

// Config holds configuration for a session.
type Config struct {
	// Pipeline configures the keying core
	Pipeline PipelineConfig
	// Clock stamps events and drives timers; use clock.Real() outside tests
	Clock clock.Clock
	// InputSize bounds the key event channel
	InputSize int
	// DiagnosticsSize bounds the diagnostics channel
	DiagnosticsSize int
	// PumpInterval is how often queued tone changes are moved to the renderer
	PumpInterval time.Duration
}

// Session runs a Pipeline on its own goroutine. Key events and control
// calls are serialised onto that goroutine; one clock timer armed at the
// pipeline deadline moves time forward between events.
type Session struct {
	pipeline  *Pipeline
	clock     clock.Clock
	tone      *tone.Scheduler
	logger    *slog.Logger
	pumpEvery time.Duration

	input   chan cw.KeyEvent
	control chan func(*Pipeline)
	diag    chan Diagnostic

	dropped atomic.Uint64

	running  atomic.Bool
	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a session. Call Run to start it.
func New(cfg Config) (*Session, error) {
	if cfg.Clock == nil {
		return nil, ErrClockRequired
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.DiagnosticsSize <= 0 {
		cfg.DiagnosticsSize = DefaultDiagnosticsSize
	}
	if cfg.PumpInterval <= 0 {
		cfg.PumpInterval = DefaultPumpInterval
	}
	if cfg.Pipeline.Logger == nil {
		cfg.Pipeline.Logger = slog.Default()
	}

	p, err := NewPipeline(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	s := &Session{
		pipeline:  p,
		clock:     cfg.Clock,
		tone:      cfg.Pipeline.Tone,
		logger:    cfg.Pipeline.Logger,
		pumpEvery: cfg.PumpInterval,
		input:     make(chan cw.KeyEvent, cfg.InputSize),
		control:   make(chan func(*Pipeline)),
		diag:      make(chan Diagnostic, cfg.DiagnosticsSize),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.SetDiagnostics(s.Report)
	return s, nil
}

// Clock returns the session clock. Key event sources must stamp events
// with it.
func (s *Session) Clock() clock.Clock { return s.clock }

// Transcript returns the decoded output.
func (s *Session) Transcript() *cw.Transcript { return s.pipeline.Transcript() }

// Diagnostics returns the diagnostics channel. Diagnostics are dropped
// when nobody drains it.
func (s *Session) Diagnostics() <-chan Diagnostic { return s.diag }

// Ready is closed once Run has started accepting control calls.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Dropped returns how many diagnostics were dropped.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Report publishes a diagnostic without blocking.
func (s *Session) Report(d Diagnostic) {
	select {
	case s.diag <- d:
	default:
		s.dropped.Add(1)
	}
}

// Submit queues a key event without blocking.
func (s *Session) Submit(ev cw.KeyEvent) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.input <- ev:
		return nil
	default:
		s.Report(Diagnostic{Kind: InputDropped, At: ev.At, Err: ErrInputFull})
		return ErrInputFull
	}
}

// Run processes events until ctx is cancelled. On exit the trailing
// character is flushed into the transcript.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.doneOnce.Do(func() { close(s.done) })
	close(s.ready)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	if s.tone != nil {
		wg.Go(func() { s.pump(loopCtx) })
	}
	wg.Go(func() {
		defer cancel()
		s.loop(loopCtx)
	})

	if r := wg.WaitAndRecover(); r != nil {
		return r.AsError()
	}
	return nil
}

func (s *Session) loop(ctx context.Context) {
	s.logger.Info("session started", "wpm", s.pipeline.Params().Timing.WPM, "mode", s.pipeline.Params().Mode)

	timer := s.clock.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	for {
		if armed {
			timer.Stop()
			armed = false
		}
		if at, ok := s.pipeline.Deadline(); ok {
			timer.Reset(at.Sub(s.clock.Now()))
			armed = true
		}

		select {
		case <-ctx.Done():
			s.drainInput()
			s.pipeline.Close(s.clock.Now())
			s.logger.Info("session stopped", "decoded", s.pipeline.Transcript().String())
			return
		case ev := <-s.input:
			_ = s.pipeline.HandleEvent(ev)
		case fn := <-s.control:
			fn(s.pipeline)
		case <-timer.C():
			armed = false
			s.pipeline.Advance(s.clock.Now())
		}
	}
}

// drainInput applies events that were accepted before shutdown.
func (s *Session) drainInput() {
	for {
		select {
		case ev := <-s.input:
			_ = s.pipeline.HandleEvent(ev)
		default:
			return
		}
	}
}

func (s *Session) pump(ctx context.Context) {
	t := s.clock.NewTimer(s.pumpEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.tone.Pump()
			t.Reset(s.pumpEvery)
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func(*Pipeline)) error {
	if !s.running.Load() {
		return ErrClosed
	}
	finished := make(chan struct{})
	select {
	case s.control <- func(p *Pipeline) { fn(p); close(finished) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// SetWPM changes the speed. Invalid values are rejected before they reach
// the pipeline.
func (s *Session) SetWPM(wpm int) error {
	if _, err := cw.NewTiming(wpm); err != nil {
		s.Report(Diagnostic{Kind: InvalidConfig, At: s.clock.Now(), Err: err})
		return err
	}
	var err error
	if derr := s.do(func(p *Pipeline) { err = p.SetWPM(wpm, s.clock.Now()) }); derr != nil {
		return derr
	}
	return err
}

// SetMode changes the keyer mode.
func (s *Session) SetMode(mode cw.KeyerMode) error {
	var err error
	if derr := s.do(func(p *Pipeline) { err = p.SetMode(mode, s.clock.Now()) }); derr != nil {
		return derr
	}
	return err
}

// SetTolerance changes the classification thresholds.
func (s *Session) SetTolerance(tol cw.Tolerance) error {
	if err := tol.Validate(); err != nil {
		s.Report(Diagnostic{Kind: InvalidConfig, At: s.clock.Now(), Err: err})
		return err
	}
	var err error
	if derr := s.do(func(p *Pipeline) { err = p.SetTolerance(tol, s.clock.Now()) }); derr != nil {
		return derr
	}
	return err
}

// Params returns the active parameters.
func (s *Session) Params() (cw.Params, error) {
	var params cw.Params
	err := s.do(func(p *Pipeline) { params = p.Params() })
	return params, err
}

// Reset flushes pending input and returns the keyer to Idle.
func (s *Session) Reset() error {
	return s.do(func(p *Pipeline) { p.Reset(s.clock.Now()) })
}

// Playback is a handle on text being played.
type Playback struct {
	session  *Session
	schedule cw.Schedule
}

// Play encodes text at the current speed and starts it now.
func (s *Session) Play(text string) (*Playback, error) {
	pb := &Playback{session: s}
	err := s.do(func(p *Pipeline) { pb.schedule = p.Play(text, s.clock.Now()) })
	if err != nil {
		return nil, err
	}
	return pb, nil
}

// Schedule returns the timed elements being played.
func (pb *Playback) Schedule() cw.Schedule { return pb.schedule }

// End returns when the last element finishes.
func (pb *Playback) End() time.Time { return pb.schedule.End }

// Cancel stops the playback. A tone already sounding ends with its
// normal release; nothing later is heard.
func (pb *Playback) Cancel() error {
	return pb.session.do(func(p *Pipeline) { p.CancelPlayback() })
}

// Wait blocks until the playback has finished on the session clock.
func (pb *Playback) Wait(ctx context.Context) error {
	d := pb.schedule.End.Sub(pb.session.clock.Now())
	if d <= 0 {
		return nil
	}
	t := pb.session.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
