// cmd/play.go
package cmd

import (
	"bufio"
	"context"
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
)

var playCmd = &cobra.Command{
	Use:   "play [text...]",
	Short: "Send text as Morse through the sound card",
	Long: `Send text as Morse through the sound card. With no arguments each line
read from stdin is sent in turn. Editing the config file while playing
applies the new speed, mode, thresholds, pitch and volume.`,
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	logger := slog.Default()

	e, err := newEngine(s, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.start(ctx); err != nil {
		return fmt.Errorf("audio: %w", err)
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
	defer func() {
		cancel()
		wg.Wait()
	}()
	<-e.session.Ready()

	config.Watch(e.apply, e.reject)

	send := func(text string) error {
		pb, err := e.session.Play(text)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pb.Schedule().Expected)
		if err := pb.Wait(ctx); err != nil {
			// interrupted: stop scheduling but let the current element finish
			_ = pb.Cancel()
		}
		return nil
	}

	// the audio output trails the session clock by the lookahead
	defer func() {
		select {
		case <-ctx.Done():
		case <-time.After(s.Lookahead() + s.Envelope()):
		}
	}()

	if len(args) > 0 {
		return send(strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
