// cmd/render.go
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/loopback"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
	"github.com/ColonelBlimp/cwkeyer/internal/wavfile"
)

// ErrVerifyMismatch indicates the rendered audio did not decode to the input
var ErrVerifyMismatch = errors.New("rendered audio does not decode to the input text")

// renderLead is silence before the first element so players do not clip it.
const renderLead = 100 * time.Millisecond

var renderCmd = &cobra.Command{
	Use:   "render text...",
	Short: "Render text as Morse to a WAV file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringP("output", "o", "cw.wav", "output WAV file")
	renderCmd.Flags().Bool("verify", false, "decode the written file and check it matches the text")
}

func runRender(cmd *cobra.Command, args []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	params, err := s.Params()
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("output")
	verify, _ := cmd.Flags().GetBool("verify")

	text := strings.Join(args, " ")
	sched := cw.NewEncoder(s.Policy()).Encode(text, time.Time{}, params.Timing)
	for _, w := range sched.Warnings {
		slog.Warn("encoder", "warning", w.String())
	}
	if len(sched.Elements) == 0 {
		return fmt.Errorf("nothing to send in %q", text)
	}

	rc := s.Renderer()
	body, err := tone.RenderSchedule(sched, rc)
	if err != nil {
		return err
	}
	lead := int(renderLead.Seconds() * float64(rc.SampleRate))
	samples := make([]float32, lead+len(body))
	copy(samples[lead:], body)

	if err := wavfile.Write(fs, path, samples, rc.SampleRate); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %q, %d elements, %v at %d wpm\n",
		path, sched.Expected, len(sched.Elements), sched.End.Sub(sched.Start).Round(time.Millisecond), params.Timing.WPM)

	if !verify {
		return nil
	}
	buf, err := wavfile.Read(fs, path)
	if err != nil {
		return err
	}
	res, err := loopback.Decode(buf, loopback.DefaultConfig(params, rc.Frequency, rc.SampleRate))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "verify: %q\n", res.Text)
	if res.Text != sched.Expected {
		return fmt.Errorf("%w: got %q, want %q", ErrVerifyMismatch, res.Text, sched.Expected)
	}
	return nil
}
