// cmd/decode.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/loopback"
	"github.com/ColonelBlimp/cwkeyer/internal/wavfile"
)

var decodeCmd = &cobra.Command{
	Use:   "decode file.wav",
	Short: "Decode Morse from a WAV recording",
	Long: `Decode Morse from a WAV recording. The tone is detected at the
configured frequency; recordings at another sample rate are resampled
first. Speed thresholds come from --wpm.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().Float64("threshold", loopback.DefaultThreshold, "tone threshold relative to the loudest sample")
	decodeCmd.Flags().Bool("elements", false, "print each detected element")
}

func runDecode(cmd *cobra.Command, args []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	params, err := s.Params()
	if err != nil {
		return err
	}

	buf, err := wavfile.Read(fs, args[0])
	if err != nil {
		return err
	}

	cfg := loopback.DefaultConfig(params, s.ToneFrequency, s.SampleRate)
	cfg.Threshold, _ = cmd.Flags().GetFloat64("threshold")
	res, err := loopback.Decode(buf, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showElements, _ := cmd.Flags().GetBool("elements"); showElements {
		for _, el := range res.Elements {
			fmt.Fprintf(out, "%-4s %8v  %v\n", el.Kind, el.Start.Sub(res.Elements[0].Start), el.Duration)
		}
	}
	fmt.Fprintln(out, res.Text)
	if res.EstimatedWPM > 0 {
		fmt.Fprintf(out, "estimated speed: %d wpm\n", res.EstimatedWPM)
	}
	return nil
}
