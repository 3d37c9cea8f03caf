// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

const (
	AppName       = "cwkeyer"
	ConfigType    = "yaml"
	DefaultConfig = `# CW Keyer Configuration

# Keying
wpm: 15                 # Sending speed in words per minute (PARIS)
keyer_mode: straight    # straight, iambic_a or iambic_b
paddle_assignment:      # Input key -> contact (dot, dash or straight)
  z: dot
  x: dash
  space: straight

# Sidetone
tone_frequency: 600     # Sidetone pitch in Hz
volume: 0.2             # Output gain (0.0-1.0)
envelope_ms: 5          # Attack/release ramp, removes key clicks
lookahead_ms: 60        # Latency between keying and sound, absorbs scheduling jitter

# Decoding thresholds, in dit units
noise_floor: 0.3        # Shorter key-downs are contact bounce
dit_dah_boundary: 2.0   # At or above is a dah
char_gap: 3.0           # Silence that ends a character
word_gap: 7.0           # Silence that ends a word
adaptive_smoothing: 0.1 # Weight of each element in the sender speed estimate
spacing_hints: true     # Report common words keyed with irregular spacing

# Text playback
unknown_policy: skip    # skip or error (send ........ for unknown characters)

# Audio device
device_index: -1        # -1 for default device
sample_rate: 48000      # Audio sample rate in Hz
channels: 1             # 1 = mono, 2 = same tone in both ears
buffer_size: 512        # Frames per audio callback
queue_size: 256         # Tone change queue capacity (power of 2)

# Output
debug: false            # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Keying
	WPM              int               `mapstructure:"wpm"`
	KeyerMode        string            `mapstructure:"keyer_mode"`
	PaddleAssignment map[string]string `mapstructure:"paddle_assignment"`

	// Sidetone
	ToneFrequency float64 `mapstructure:"tone_frequency"`
	Volume        float64 `mapstructure:"volume"`
	EnvelopeMs    int     `mapstructure:"envelope_ms"`
	LookaheadMs   int     `mapstructure:"lookahead_ms"`

	// Decoding thresholds
	NoiseFloor        float64 `mapstructure:"noise_floor"`
	DitDahBoundary    float64 `mapstructure:"dit_dah_boundary"`
	CharGap           float64 `mapstructure:"char_gap"`
	WordGap           float64 `mapstructure:"word_gap"`
	AdaptiveSmoothing float64 `mapstructure:"adaptive_smoothing"`
	SpacingHints      bool    `mapstructure:"spacing_hints"`

	// Text playback
	UnknownPolicy string `mapstructure:"unknown_policy"`

	// Audio device
	DeviceIndex int `mapstructure:"device_index"`
	SampleRate  int `mapstructure:"sample_rate"`
	Channels    int `mapstructure:"channels"`
	BufferSize  int `mapstructure:"buffer_size"`
	QueueSize   int `mapstructure:"queue_size"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/cwkeyer/
func Init() error {
	setDefaults()

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("wpm", 15)
	viper.SetDefault("keyer_mode", "straight")
	viper.SetDefault("tone_frequency", 600)
	viper.SetDefault("volume", 0.2)
	viper.SetDefault("envelope_ms", 5)
	viper.SetDefault("lookahead_ms", 60)
	viper.SetDefault("noise_floor", cw.DefaultNoiseFloor)
	viper.SetDefault("dit_dah_boundary", cw.DefaultDitDahBoundary)
	viper.SetDefault("char_gap", cw.DefaultCharGap)
	viper.SetDefault("word_gap", cw.DefaultWordGap)
	viper.SetDefault("adaptive_smoothing", cw.DefaultAdaptiveSmoothing)
	viper.SetDefault("spacing_hints", true)
	viper.SetDefault("unknown_policy", "skip")
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("queue_size", 256)
	viper.SetDefault("debug", false)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Watch calls apply with the new settings each time the config file is
// written. An edit that fails validation is passed to reject instead and
// the running settings stay as they were.
func Watch(apply func(*Settings), reject func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		handleChange(e, apply, reject)
	})
	viper.WatchConfig()
}

func handleChange(e fsnotify.Event, apply func(*Settings), reject func(error)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	s, err := Get()
	if err != nil {
		if reject != nil {
			reject(fmt.Errorf("reload %s: %w", e.Name, err))
		}
		return
	}
	if apply != nil {
		apply(s)
	}
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Keying
	if s.WPM < 1 || s.WPM > 60 {
		errs = append(errs, fmt.Errorf("wpm must be between 1 and 60, got %d", s.WPM))
	}
	if _, err := cw.ParseKeyerMode(s.KeyerMode); err != nil {
		errs = append(errs, fmt.Errorf("keyer_mode: %w", err))
	}
	if _, err := s.Paddles(); err != nil {
		errs = append(errs, fmt.Errorf("paddle_assignment: %w", err))
	}

	// Sidetone
	if s.ToneFrequency < 300 || s.ToneFrequency > 1200 {
		errs = append(errs, fmt.Errorf("tone_frequency must be between 300 and 1200 Hz, got %v", s.ToneFrequency))
	}
	if s.Volume < 0.0 || s.Volume > 1.0 {
		errs = append(errs, fmt.Errorf("volume must be between 0.0 and 1.0, got %v", s.Volume))
	}
	if s.EnvelopeMs < 0 || s.EnvelopeMs > 50 {
		errs = append(errs, fmt.Errorf("envelope_ms must be between 0 and 50, got %d", s.EnvelopeMs))
	}
	if s.LookaheadMs < 0 || s.LookaheadMs > 500 {
		errs = append(errs, fmt.Errorf("lookahead_ms must be between 0 and 500, got %d", s.LookaheadMs))
	}

	// Decoding thresholds
	if s.NoiseFloor < 0 || s.NoiseFloor > 1 {
		errs = append(errs, fmt.Errorf("noise_floor must be between 0.0 and 1.0, got %v", s.NoiseFloor))
	}
	if s.DitDahBoundary <= s.NoiseFloor || s.DitDahBoundary < 1 || s.DitDahBoundary > 3 {
		errs = append(errs, fmt.Errorf("dit_dah_boundary must be between 1.0 and 3.0 and above noise_floor, got %v", s.DitDahBoundary))
	}
	if s.CharGap <= cw.IntraCharSpaceRatio || s.CharGap > 5 {
		errs = append(errs, fmt.Errorf("char_gap must be above 1.0 and at most 5.0, got %v", s.CharGap))
	}
	if s.WordGap <= s.CharGap || s.WordGap > 14 {
		errs = append(errs, fmt.Errorf("word_gap must be above char_gap and at most 14.0, got %v", s.WordGap))
	}
	if s.AdaptiveSmoothing < 0.0 || s.AdaptiveSmoothing > 1.0 {
		errs = append(errs, fmt.Errorf("adaptive_smoothing must be between 0.0 and 1.0, got %v", s.AdaptiveSmoothing))
	}

	// Text playback
	if _, err := cw.ParseUnknownPolicy(s.UnknownPolicy); err != nil {
		errs = append(errs, err)
	}

	// Audio device
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}
	if s.QueueSize < 16 || s.QueueSize > 4096 || s.QueueSize&(s.QueueSize-1) != 0 {
		errs = append(errs, fmt.Errorf("queue_size must be a power of 2 between 16 and 4096, got %d", s.QueueSize))
	}

	// Nyquist check: tone frequency must be less than half the sample rate
	if s.ToneFrequency >= float64(s.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("tone_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.ToneFrequency, s.SampleRate/2))
	}

	// The release ramp must fit inside the shortest gap (one unit)
	if s.WPM > 0 {
		unit := cw.UnitPerWPM / time.Duration(s.WPM)
		if s.Envelope() >= unit {
			errs = append(errs, fmt.Errorf("envelope_ms (%d) must be shorter than one dit at %d wpm (%v)", s.EnvelopeMs, s.WPM, unit))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Mode returns the parsed keyer mode.
func (s *Settings) Mode() cw.KeyerMode {
	m, _ := cw.ParseKeyerMode(s.KeyerMode)
	return m
}

// Policy returns the parsed unknown-character policy.
func (s *Settings) Policy() cw.UnknownPolicy {
	p, _ := cw.ParseUnknownPolicy(s.UnknownPolicy)
	return p
}

// Tolerance returns the decision thresholds.
func (s *Settings) Tolerance() cw.Tolerance {
	return cw.Tolerance{
		NoiseFloor: s.NoiseFloor,
		DitDah:     s.DitDahBoundary,
		CharGap:    s.CharGap,
		WordGap:    s.WordGap,
	}
}

// Params returns the keying parameters.
func (s *Settings) Params() (cw.Params, error) {
	return cw.NewParams(s.WPM, s.Mode(), s.Tolerance())
}

// DefaultPaddles is used when no paddle_assignment is configured.
var DefaultPaddles = map[string]string{"z": "dot", "x": "dash", "space": "straight"}

// Paddles parses the paddle assignment. Key names are lower-cased.
func (s *Settings) Paddles() (map[string]cw.Paddle, error) {
	assign := s.PaddleAssignment
	if len(assign) == 0 {
		assign = DefaultPaddles
	}
	out := make(map[string]cw.Paddle, len(assign))
	keys := make([]string, 0, len(assign))
	for k := range assign {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		p, err := cw.ParsePaddle(assign[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", k, err))
			continue
		}
		out[strings.ToLower(k)] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Envelope returns the tone ramp time.
func (s *Settings) Envelope() time.Duration {
	return time.Duration(s.EnvelopeMs) * time.Millisecond
}

// Lookahead returns the output latency.
func (s *Settings) Lookahead() time.Duration {
	return time.Duration(s.LookaheadMs) * time.Millisecond
}

// Renderer returns the tone renderer configuration.
func (s *Settings) Renderer() tone.RendererConfig {
	return tone.RendererConfig{
		SampleRate: s.SampleRate,
		Frequency:  s.ToneFrequency,
		Volume:     s.Volume,
		Ramp:       s.Envelope(),
		Lookahead:  s.Lookahead(),
	}
}

// Decoder returns the decoder configuration.
func (s *Settings) Decoder() cw.DecoderConfig {
	return cw.DecoderConfig{AdaptiveSmoothing: s.AdaptiveSmoothing}
}

// Advisor returns the spacing hint configuration, or nil when disabled.
func (s *Settings) Advisor() *cw.AdvisorConfig {
	if !s.SpacingHints {
		return nil
	}
	return &cw.AdvisorConfig{}
}
