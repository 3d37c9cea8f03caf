// cmd/replay.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/script"
	"github.com/ColonelBlimp/cwkeyer/internal/session"
)

// ErrReplayMismatch indicates a script decoded to something other than its expect text
var ErrReplayMismatch = errors.New("replay did not decode to the expected text")

// replayLead is the delay before the first scripted event in real time.
const replayLead = 200 * time.Millisecond

var replayCmd = &cobra.Command{
	Use:   "replay script.yaml",
	Short: "Replay a recorded key-event script through the keyer",
	Long: `Replay a recorded key-event script through the keyer and decoder and
print the decoded text. The script's wpm and mode override the config.
By default the replay runs instantly and silently; --realtime plays it
through the sound card at its recorded pace.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Bool("realtime", false, "replay at recorded speed with sidetone")
}

func runReplay(cmd *cobra.Command, args []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	sc, err := script.Load(fs, args[0])
	if err != nil {
		return err
	}
	if err := overrideFromScript(s, sc); err != nil {
		return err
	}
	assign, err := s.Paddles()
	if err != nil {
		return err
	}

	realtime, _ := cmd.Flags().GetBool("realtime")
	var text string
	if realtime {
		text, err = replayLive(cmd.Context(), s, sc, assign)
	} else {
		text, err = replayInstant(s, sc, assign)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text)
	if sc.Expect != "" && !strings.EqualFold(text, strings.TrimSpace(sc.Expect)) {
		return fmt.Errorf("%w: got %q, want %q", ErrReplayMismatch, text, sc.Expect)
	}
	return nil
}

func overrideFromScript(s *config.Settings, sc *script.Script) error {
	if sc.WPM != 0 {
		s.WPM = sc.WPM
	}
	if sc.Mode != "" {
		s.KeyerMode = sc.Mode
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("script %q: %w", sc.Name, err)
	}
	return nil
}

// replayInstant drives the pipeline directly, handing it each event's own
// timestamp.
func replayInstant(s *config.Settings, sc *script.Script, assign map[string]cw.Paddle) (string, error) {
	pc, err := pipelineConfig(s, nil, slog.Default())
	if err != nil {
		return "", err
	}
	p, err := session.NewPipeline(pc)
	if err != nil {
		return "", err
	}
	p.SetDiagnostics(func(d session.Diagnostic) {
		slog.Warn("diagnostic", "kind", d.Kind, "detail", d.String())
	})

	// the zero time means "no previous event" to the pipeline
	events, err := sc.Events(time.Unix(0, 0), assign)
	if err != nil {
		return "", err
	}
	for _, ev := range events {
		_ = p.HandleEvent(ev)
	}
	end := events[len(events)-1].At.Add(p.Params().WordBoundary())
	p.Close(end)
	return strings.TrimSpace(p.Transcript().String()), nil
}

// replayLive submits events to a running session at their scripted times.
func replayLive(ctx context.Context, s *config.Settings, sc *script.Script, assign map[string]cw.Paddle) (string, error) {
	logger := slog.Default()
	e, err := newEngine(s, logger)
	if err != nil {
		return "", err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := e.start(ctx); err != nil {
		return "", fmt.Errorf("audio: %w", err)
	}
	defer e.close()

	runCtx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := e.session.Run(runCtx); err != nil {
			logger.Error("session", "err", err)
		}
	})
	wg.Go(func() { e.logDiagnostics(runCtx) })
	wg.Go(func() { e.watchUnderruns(runCtx) })
	<-e.session.Ready()

	clk := e.session.Clock()
	events, err := sc.Events(clk.Now().Add(replayLead), assign)
	if err != nil {
		cancel()
		wg.Wait()
		return "", err
	}

	for _, ev := range events {
		if !sleepUntil(ctx, e, ev.At) {
			break
		}
		if err := e.session.Submit(ev); err != nil {
			logger.Warn("event dropped", "err", err)
		}
	}
	params, _ := s.Params()
	sleepUntil(ctx, e, events[len(events)-1].At.Add(params.WordBoundary()+s.Lookahead()))

	cancel()
	wg.Wait()
	return strings.TrimSpace(e.session.Transcript().String()), nil
}

func sleepUntil(ctx context.Context, e *engine, at time.Time) bool {
	clk := e.session.Clock()
	t := clk.NewTimer(at.Sub(clk.Now()))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}
