// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
)

// fs is where scripts and WAV files are read and written.
var fs = afero.NewOsFs()

var rootCmd = &cobra.Command{
	Use:   "cwkeyer",
	Short: "CW (Morse code) keyer, sidetone and decoder",
	Long: `A real-time Morse keying engine. It turns straight key and iambic paddle
timing into elements and text, plays click-free sidetone, and sends text
as Morse through the sound card or to a WAV file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("frequency", "f", 600, "sidetone frequency in Hz")
	rootCmd.PersistentFlags().IntP("wpm", "w", 15, "speed in words per minute")
	rootCmd.PersistentFlags().StringP("mode", "m", "straight", "keyer mode: straight, iambic_a or iambic_b")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("tone_frequency", rootCmd.PersistentFlags().Lookup("frequency"))
	viper.BindPFlag("wpm", rootCmd.PersistentFlags().Lookup("wpm"))
	viper.BindPFlag("keyer_mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(playCmd, renderCmd, decodeCmd, replayCmd, tableCmd, devicesCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stderr, viper.GetBool("debug")))
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
