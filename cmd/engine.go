// cmd/engine.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/audio"
	"github.com/ColonelBlimp/cwkeyer/internal/clock"
	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/session"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

// underrunPoll is how often renderer counters are checked for new underruns.
const underrunPoll = 250 * time.Millisecond

// engine is a live session wired to the sound card.
type engine struct {
	session  *session.Session
	renderer *tone.Renderer
	output   *audio.Output
	logger   *slog.Logger
}

func audioConfig(s *config.Settings) audio.Config {
	return audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		Channels:    uint32(s.Channels),
		BufferSize:  uint32(s.BufferSize),
	}
}

func pipelineConfig(s *config.Settings, sched *tone.Scheduler, logger *slog.Logger) (session.PipelineConfig, error) {
	params, err := s.Params()
	if err != nil {
		return session.PipelineConfig{}, err
	}
	return session.PipelineConfig{
		Params:        params,
		Decoder:       s.Decoder(),
		Advisor:       s.Advisor(),
		UnknownPolicy: s.Policy(),
		Tone:          sched,
		Logger:        logger,
	}, nil
}

// newEngine builds the session, renderer and audio output. The device is
// not opened until start.
func newEngine(s *config.Settings, logger *slog.Logger) (*engine, error) {
	q, err := tone.NewQueue(s.QueueSize)
	if err != nil {
		return nil, err
	}
	sched := tone.NewScheduler(q)
	clk := clock.Real()

	rc := s.Renderer()
	out := audioConfig(s)
	// the device buffer is the minimum latency that avoids underruns
	if floor := time.Duration(out.BufferSize) * time.Second / time.Duration(out.SampleRate); rc.Lookahead < floor {
		logger.Warn("lookahead shorter than one audio buffer, raising it", "lookahead", rc.Lookahead, "buffer", floor)
		rc.Lookahead = floor
	}
	r, err := tone.NewRenderer(rc, q, sched.Epoch())
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}
	// one pump interval of slack so a change is queued before the renderer needs it
	sched.SetWindow(clk.Now, rc.Lookahead+session.DefaultPumpInterval)

	pc, err := pipelineConfig(s, sched, logger)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(session.Config{Pipeline: pc, Clock: clk})
	if err != nil {
		return nil, err
	}

	o, err := audio.New(out, r, logger)
	if err != nil {
		return nil, err
	}
	return &engine{session: sess, renderer: r, output: o, logger: logger}, nil
}

// start opens the audio device aligned to the session clock.
func (e *engine) start(ctx context.Context) error {
	if err := e.output.Init(); err != nil {
		return err
	}
	if err := e.output.Start(ctx, e.session.Clock().Now()); err != nil {
		_ = e.output.Close()
		return err
	}
	return nil
}

func (e *engine) close() {
	if err := e.output.Close(); err != nil {
		e.logger.Warn("audio close", "err", err)
	}
}

// apply pushes reloaded settings into the running engine. Each change is
// validated on its own, so one bad value does not block the others.
func (e *engine) apply(s *config.Settings) {
	if err := e.session.SetWPM(s.WPM); err != nil {
		e.logger.Warn("config reload", "wpm", s.WPM, "err", err)
	}
	if err := e.session.SetMode(s.Mode()); err != nil {
		e.logger.Warn("config reload", "keyer_mode", s.KeyerMode, "err", err)
	}
	if err := e.session.SetTolerance(s.Tolerance()); err != nil {
		e.logger.Warn("config reload", "tolerance", s.Tolerance(), "err", err)
	}
	if err := e.renderer.SetFrequency(s.ToneFrequency); err != nil {
		e.logger.Warn("config reload", "tone_frequency", s.ToneFrequency, "err", err)
	}
	if err := e.renderer.SetVolume(s.Volume); err != nil {
		e.logger.Warn("config reload", "volume", s.Volume, "err", err)
	}
	e.logger.Info("config reloaded", "wpm", s.WPM, "mode", s.KeyerMode, "frequency", s.ToneFrequency, "volume", s.Volume)
}

// reject reports a config edit that failed validation.
func (e *engine) reject(err error) {
	e.logger.Warn("config change rejected, keeping previous settings", "err", err)
	e.session.Report(session.Diagnostic{Kind: session.InvalidConfig, At: e.session.Clock().Now(), Err: err})
}

// logDiagnostics logs diagnostics until ctx ends.
func (e *engine) logDiagnostics(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-e.session.Diagnostics():
			e.logger.Warn("diagnostic", "kind", d.Kind, "at", d.At.Format(time.StampMilli), "detail", d.String())
		}
	}
}

// watchUnderruns turns renderer underrun counts into diagnostics.
func (e *engine) watchUnderruns(ctx context.Context) {
	t := time.NewTicker(underrunPoll)
	defer t.Stop()
	var seen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := e.renderer.Stats().Underruns
			if n > seen {
				e.session.Report(session.Diagnostic{
					Kind:   session.AudioUnderrun,
					At:     e.session.Clock().Now(),
					Detail: fmt.Sprintf("%d late tone changes, consider a larger lookahead_ms", n-seen),
				})
				seen = n
			}
		}
	}
}
