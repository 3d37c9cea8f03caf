// internal/session/session_test.go
package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/clock"
	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

func newTestSession(t *testing.T, mode cw.KeyerMode, inputSize int) (*Session, *clock.Fake) {
	t.Helper()
	params, err := cw.NewParams(20, mode, cw.DefaultTolerance())
	if err != nil {
		t.Fatal(err)
	}
	q, err := tone.NewQueue(64)
	if err != nil {
		t.Fatal(err)
	}
	fake := clock.NewFake(t0)
	s, err := New(Config{
		Pipeline: PipelineConfig{
			Params: params,
			Tone:   tone.NewScheduler(q),
			Logger: discardLogger(),
		},
		Clock:     fake,
		InputSize: inputSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, fake
}

// start runs the session and returns a stop function that waits for Run.
func start(t *testing.T, s *Session) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not start")
	}

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

func nextOutput(t *testing.T, tr *cw.Transcript, cursor int) cw.DecodedOutput {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := tr.Next(ctx, cursor)
	if err != nil {
		t.Fatalf("waiting for output %d: %v", cursor, err)
	}
	return out
}

func TestNew_RequiresClock(t *testing.T) {
	params, _ := cw.NewParams(20, cw.Straight, cw.DefaultTolerance())
	if _, err := New(Config{Pipeline: PipelineConfig{Params: params}}); !errors.Is(err, ErrClockRequired) {
		t.Errorf("error = %v, want %v", err, ErrClockRequired)
	}
}

func TestSession_TimerRevealsCharacter(t *testing.T) {
	s, fake := newTestSession(t, cw.Straight, 0)
	stop := start(t, s)

	for _, ev := range []cw.KeyEvent{
		{Edge: cw.Press, Paddle: cw.PaddleStraight, At: ms(0)},
		{Edge: cw.Release, Paddle: cw.PaddleStraight, At: ms(60)},
	} {
		if err := s.Submit(ev); err != nil {
			t.Fatal(err)
		}
	}
	fake.Set(ms(1000))

	if out := nextOutput(t, s.Transcript(), 0); out.Text != "E" {
		t.Errorf("first output = %q, want %q", out.Text, "E")
	}
	if out := nextOutput(t, s.Transcript(), 1); !out.IsWordSpace {
		t.Errorf("second output = %+v, want word space", out)
	}

	if err := stop(); err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestSession_StopFlushesTrailingCharacter(t *testing.T) {
	s, _ := newTestSession(t, cw.Straight, 0)
	stop := start(t, s)

	_ = s.Submit(cw.KeyEvent{Edge: cw.Press, Paddle: cw.PaddleStraight, At: ms(0)})
	_ = s.Submit(cw.KeyEvent{Edge: cw.Release, Paddle: cw.PaddleStraight, At: ms(180)})
	if err := stop(); err != nil {
		t.Fatal(err)
	}

	if got := s.Transcript().String(); got != "T" {
		t.Errorf("transcript = %q, want %q", got, "T")
	}
	if err := s.Submit(cw.KeyEvent{At: ms(500)}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after stop: error = %v, want %v", err, ErrClosed)
	}
}

func TestSession_SubmitFullInput(t *testing.T) {
	s, _ := newTestSession(t, cw.Straight, 1)

	if err := s.Submit(cw.KeyEvent{At: ms(0)}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := s.Submit(cw.KeyEvent{At: ms(1)}); !errors.Is(err, ErrInputFull) {
		t.Fatalf("second Submit: error = %v, want %v", err, ErrInputFull)
	}

	select {
	case d := <-s.Diagnostics():
		if d.Kind != InputDropped {
			t.Errorf("diagnostic kind = %v, want %v", d.Kind, InputDropped)
		}
	default:
		t.Error("no diagnostic for dropped input")
	}
}

func TestSession_ControlBeforeRun(t *testing.T) {
	s, _ := newTestSession(t, cw.Straight, 0)
	if err := s.SetMode(cw.IambicB); !errors.Is(err, ErrClosed) {
		t.Errorf("SetMode before Run: error = %v, want %v", err, ErrClosed)
	}
}

func TestSession_SetWPMValidatesFirst(t *testing.T) {
	s, _ := newTestSession(t, cw.Straight, 0)
	stop := start(t, s)
	defer func() { _ = stop() }()

	if err := s.SetWPM(-5); !errors.Is(err, cw.ErrInvalidWPM) {
		t.Fatalf("SetWPM(-5) error = %v, want %v", err, cw.ErrInvalidWPM)
	}
	if err := s.SetWPM(30); err != nil {
		t.Fatal(err)
	}
	p, err := s.Params()
	if err != nil {
		t.Fatal(err)
	}
	if p.Timing.WPM != 30 {
		t.Errorf("WPM = %d, want 30", p.Timing.WPM)
	}

	select {
	case d := <-s.Diagnostics():
		if d.Kind != InvalidConfig {
			t.Errorf("diagnostic kind = %v, want %v", d.Kind, InvalidConfig)
		}
	default:
		t.Error("no diagnostic for rejected WPM")
	}
}

func TestSession_PlayAndCancel(t *testing.T) {
	s, fake := newTestSession(t, cw.Straight, 0)
	stop := start(t, s)
	defer func() { _ = stop() }()

	pb, err := s.Play("PARIS")
	if err != nil {
		t.Fatal(err)
	}
	if pb.Schedule().Expected != "PARIS" {
		t.Errorf("Expected = %q, want %q", pb.Schedule().Expected, "PARIS")
	}
	// PARIS is 50 units less the trailing word gap: 43u at 60ms
	if got := pb.End().Sub(t0); got != 43*60*time.Millisecond {
		t.Errorf("playback length = %v, want %v", got, 43*60*time.Millisecond)
	}
	if err := pb.Cancel(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- pb.Wait(context.Background()) }()
	fake.Set(pb.End())
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the playback end")
	}
}

func TestSession_RunTwice(t *testing.T) {
	s, _ := newTestSession(t, cw.Straight, 0)
	stop := start(t, s)
	defer func() { _ = stop() }()

	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: error = %v, want %v", err, ErrAlreadyRunning)
	}
}
