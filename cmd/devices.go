// cmd/devices.go
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/audio"
	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio playback devices",
	Long:  "List audio playback devices. Pass the index to --device to select one.",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, _ []string) error {
	s, err := config.Get()
	if err != nil {
		return err
	}
	// the output needs a renderer even though nothing is played
	q, err := tone.NewQueue(s.QueueSize)
	if err != nil {
		return err
	}
	r, err := tone.NewRenderer(s.Renderer(), q, tone.NewScheduler(q).Epoch())
	if err != nil {
		return err
	}
	out, err := audio.New(audioConfig(s), r, slog.Default())
	if err != nil {
		return err
	}
	if err := out.Init(); err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	devices, err := out.ListDevices()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(w, "no playback devices found")
		return nil
	}
	for i, d := range devices {
		marker := " "
		if d.IsDefault != 0 {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %d: %s\n", marker, i, d.Name())
	}
	return nil
}
