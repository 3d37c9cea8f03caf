package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

func resetViper() {
	viper.Reset()
}

// writeXDGConfig points HOME at a temp dir and writes content as the XDG config.
func writeXDGConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))

	configDir := filepath.Join(tmpDir, ".config", AppName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// chdir switches to dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(origDir); err != nil {
			t.Logf("failed to restore dir: %v", err)
		}
	})
}

func TestInit_WithDefaults(t *testing.T) {
	resetViper()
	writeXDGConfig(t, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"wpm", 15},
		{"keyer_mode", "straight"},
		{"tone_frequency", 600},
		{"volume", 0.2},
		{"envelope_ms", 5},
		{"lookahead_ms", 60},
		{"noise_floor", 0.3},
		{"dit_dah_boundary", 2.0},
		{"char_gap", 3.0},
		{"word_gap", 7.0},
		{"adaptive_smoothing", 0.1},
		{"spacing_hints", true},
		{"unknown_policy", "skip"},
		{"device_index", -1},
		{"sample_rate", 48000},
		{"channels", 1},
		{"buffer_size", 512},
		{"queue_size", 256},
		{"debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			if got != tt.expected {
				t.Errorf("viper.Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestInit_CreatesConfigIfMissing(t *testing.T) {
	resetViper()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	chdir(t, tmpDir)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, ".config", AppName, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Init() did not create config file at %s", configPath)
	}
}

func TestInit_ReadsLocalConfigFirst(t *testing.T) {
	resetViper()
	writeXDGConfig(t, "wpm: 20")

	localDir := t.TempDir()
	chdir(t, localDir)
	if err := os.WriteFile(filepath.Join(localDir, "config.yaml"), []byte("wpm: 25"), 0644); err != nil {
		t.Fatalf("failed to write local config: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("wpm"); got != 25 {
		t.Errorf("viper.GetInt(wpm) = %d, want 25 (local config)", got)
	}
}

func TestInit_DotConfigTakesPrecedence(t *testing.T) {
	resetViper()
	writeXDGConfig(t, DefaultConfig)

	localDir := t.TempDir()
	chdir(t, localDir)
	if err := os.WriteFile(filepath.Join(localDir, ".config.yaml"), []byte("wpm: 30"), 0644); err != nil {
		t.Fatalf("failed to write .config.yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(localDir, "config.yaml"), []byte("wpm: 20"), 0644); err != nil {
		t.Fatalf("failed to write config.yaml: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("wpm"); got != 30 {
		t.Errorf("viper.GetInt(wpm) = %d, want 30 (.config.yaml should take precedence)", got)
	}
}

func TestInit_InvalidConfigFile(t *testing.T) {
	resetViper()
	writeXDGConfig(t, "invalid: yaml: content: [[[")
	chdir(t, t.TempDir())

	if err := Init(); err == nil {
		t.Error("Init() should return error for invalid YAML")
	}
}

func TestGet_ReturnsSettings(t *testing.T) {
	resetViper()
	writeXDGConfig(t, DefaultConfig)
	chdir(t, t.TempDir())

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.WPM != 15 {
		t.Errorf("Settings.WPM = %d, want 15", settings.WPM)
	}
	if settings.Mode() != cw.Straight {
		t.Errorf("Settings.Mode() = %v, want straight", settings.Mode())
	}
	if settings.ToneFrequency != 600 {
		t.Errorf("Settings.ToneFrequency = %f, want 600", settings.ToneFrequency)
	}
	if settings.DeviceIndex != -1 {
		t.Errorf("Settings.DeviceIndex = %d, want -1", settings.DeviceIndex)
	}
	if settings.Policy() != cw.SkipUnknown {
		t.Errorf("Settings.Policy() = %v, want skip", settings.Policy())
	}

	paddles, err := settings.Paddles()
	if err != nil {
		t.Fatalf("Paddles() error = %v", err)
	}
	want := map[string]cw.Paddle{"z": cw.PaddleDot, "x": cw.PaddleDash, "space": cw.PaddleStraight}
	for k, p := range want {
		if paddles[k] != p {
			t.Errorf("Paddles()[%q] = %v, want %v", k, paddles[k], p)
		}
	}
}

func TestGet_AllFields(t *testing.T) {
	resetViper()
	writeXDGConfig(t, `wpm: 25
keyer_mode: iambic_b
paddle_assignment:
  J: dot
  k: dash
tone_frequency: 700
volume: 0.5
envelope_ms: 4
lookahead_ms: 80
noise_floor: 0.2
dit_dah_boundary: 1.8
char_gap: 2.5
word_gap: 6
unknown_policy: error
device_index: 2
sample_rate: 44100
channels: 2
buffer_size: 256
queue_size: 512
debug: true
`)
	chdir(t, t.TempDir())

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	p, err := settings.Params()
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	if p.Timing.WPM != 25 || p.Mode != cw.IambicB {
		t.Errorf("Params() = %+v", p)
	}
	if p.Tolerance != (cw.Tolerance{NoiseFloor: 0.2, DitDah: 1.8, CharGap: 2.5, WordGap: 6}) {
		t.Errorf("Tolerance = %+v", p.Tolerance)
	}
	if settings.Policy() != cw.SendError {
		t.Errorf("Policy() = %v, want error", settings.Policy())
	}

	rc := settings.Renderer()
	if rc.SampleRate != 44100 || rc.Frequency != 700 || rc.Volume != 0.5 {
		t.Errorf("Renderer() = %+v", rc)
	}
	if rc.Ramp != 4*time.Millisecond || rc.Lookahead != 80*time.Millisecond {
		t.Errorf("Renderer() ramp/lookahead = %v/%v", rc.Ramp, rc.Lookahead)
	}

	paddles, err := settings.Paddles()
	if err != nil {
		t.Fatalf("Paddles() error = %v", err)
	}
	if len(paddles) != 2 || paddles["j"] != cw.PaddleDot || paddles["k"] != cw.PaddleDash {
		t.Errorf("Paddles() = %v", paddles)
	}

	if settings.DeviceIndex != 2 || settings.Channels != 2 || settings.BufferSize != 256 || settings.QueueSize != 512 {
		t.Errorf("audio settings = %+v", settings)
	}
	if !settings.Debug {
		t.Errorf("Settings.Debug = %v, want true", settings.Debug)
	}
}

func TestEnsureConfigExists_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config")

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != DefaultConfig {
		t.Errorf("config content does not match DefaultConfig")
	}
}

func TestEnsureConfigExists_DoesNotOverwrite(t *testing.T) {
	tmpDir := t.TempDir()

	configFile := filepath.Join(tmpDir, "config.yaml")
	existingContent := "existing: true"
	if err := os.WriteFile(configFile, []byte(existingContent), 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	if err := ensureConfigExists(tmpDir); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != existingContent {
		t.Errorf("ensureConfigExists() overwrote existing config")
	}
}

func TestEnsureConfigExists_WriteError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping test when running as root")
	}

	configPath := filepath.Join(t.TempDir(), "readonly")
	if err := os.MkdirAll(configPath, 0555); err != nil {
		t.Fatalf("failed to create readonly dir: %v", err)
	}
	defer func() {
		if err := os.Chmod(configPath, 0755); err != nil {
			t.Logf("failed to restore permissions: %v", err)
		}
	}()

	if err := ensureConfigExists(filepath.Join(configPath, "subdir")); err == nil {
		t.Error("ensureConfigExists() should return error for read-only directory")
	}
}

func TestConstants(t *testing.T) {
	if AppName != "cwkeyer" {
		t.Errorf("AppName = %q, want %q", AppName, "cwkeyer")
	}
	if ConfigType != "yaml" {
		t.Errorf("ConfigType = %q, want %q", ConfigType, "yaml")
	}
}

func TestDefaultConfig_ContainsExpectedKeys(t *testing.T) {
	expectedKeys := []string{
		"wpm", "keyer_mode", "paddle_assignment",
		"tone_frequency", "volume", "envelope_ms", "lookahead_ms",
		"noise_floor", "dit_dah_boundary", "char_gap", "word_gap",
		"adaptive_smoothing", "spacing_hints", "unknown_policy",
		"device_index", "sample_rate", "channels", "buffer_size", "queue_size",
		"debug",
	}

	for _, key := range expectedKeys {
		if !strings.Contains(DefaultConfig, key+":") {
			t.Errorf("DefaultConfig missing key: %s", key)
		}
	}
}

func TestHandleChange(t *testing.T) {
	resetViper()
	path := writeXDGConfig(t, DefaultConfig)
	chdir(t, t.TempDir())
	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var applied *Settings
	var rejected error
	apply := func(s *Settings) { applied = s }
	reject := func(err error) { rejected = err }

	t.Run("valid edit applies", func(t *testing.T) {
		applied, rejected = nil, nil
		viper.Set("wpm", 22)
		handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write}, apply, reject)
		if rejected != nil {
			t.Fatalf("rejected: %v", rejected)
		}
		if applied == nil || applied.WPM != 22 {
			t.Errorf("applied = %+v, want wpm 22", applied)
		}
	})

	t.Run("invalid edit rejected", func(t *testing.T) {
		applied, rejected = nil, nil
		viper.Set("wpm", 0)
		handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write}, apply, reject)
		if applied != nil {
			t.Errorf("applied = %+v, want nil", applied)
		}
		if rejected == nil || !strings.Contains(rejected.Error(), "wpm") {
			t.Errorf("rejected = %v, want wpm error", rejected)
		}
	})

	t.Run("chmod ignored", func(t *testing.T) {
		applied, rejected = nil, nil
		viper.Set("wpm", 18)
		handleChange(fsnotify.Event{Name: path, Op: fsnotify.Chmod}, apply, reject)
		if applied != nil || rejected != nil {
			t.Errorf("chmod event should be ignored")
		}
	})
}

// Validation tests

func TestSettings_Validate_ValidSettings(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for valid settings", err)
	}
}

func TestSettings_Validate_WPM(t *testing.T) {
	tests := []struct {
		name    string
		wpm     int
		wantErr bool
	}{
		{"zero", 0, true},
		{"minimum", 1, false},
		{"typical", 20, false},
		{"maximum", 60, false},
		{"too high", 61, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.WPM = tt.wpm
			s.EnvelopeMs = 1
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_KeyerMode(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr bool
	}{
		{"straight", false},
		{"iambic_a", false},
		{"Iambic-B", false},
		{"bug", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			s := validSettings()
			s.KeyerMode = tt.mode
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_PaddleAssignment(t *testing.T) {
	s := validSettings()
	s.PaddleAssignment = map[string]string{"z": "dot", "q": "bug"}
	err := s.Validate()
	if err == nil || !strings.Contains(err.Error(), `"q"`) {
		t.Errorf("Validate() error = %v, want error naming key q", err)
	}

	s.PaddleAssignment = nil
	p, err := s.Paddles()
	if err != nil || len(p) != len(DefaultPaddles) {
		t.Errorf("empty assignment should fall back to defaults, got %v, %v", p, err)
	}
}

func TestSettings_Validate_ToneFrequency(t *testing.T) {
	tests := []struct {
		name    string
		freq    float64
		wantErr bool
	}{
		{"too low", 299, true},
		{"minimum", 300, false},
		{"typical", 600, false},
		{"maximum", 1200, false},
		{"too high", 1201, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.ToneFrequency = tt.freq
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Volume(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		wantErr bool
	}{
		{"negative", -0.1, true},
		{"mute", 0, false},
		{"full", 1, false},
		{"over", 1.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.Volume = tt.volume
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Thresholds(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr string
	}{
		{"negative noise floor", func(s *Settings) { s.NoiseFloor = -0.1 }, "noise_floor"},
		{"boundary below noise", func(s *Settings) { s.NoiseFloor = 0.9; s.DitDahBoundary = 0.8 }, "dit_dah_boundary"},
		{"boundary too high", func(s *Settings) { s.DitDahBoundary = 3.5 }, "dit_dah_boundary"},
		{"char gap one unit", func(s *Settings) { s.CharGap = 1 }, "char_gap"},
		{"word gap under char", func(s *Settings) { s.WordGap = 2.5 }, "word_gap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(s)
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Envelope(t *testing.T) {
	tests := []struct {
		name    string
		ms      int
		wpm     int
		wantErr bool
	}{
		{"none", 0, 20, false},
		{"typical", 5, 20, false},
		{"negative", -1, 20, true},
		{"longer than a dit", 25, 60, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.EnvelopeMs = tt.ms
			s.WPM = tt.wpm
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_QueueSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"too small", 8, true},
		{"minimum", 16, false},
		{"not power of 2", 300, true},
		{"maximum", 4096, false},
		{"too large", 8192, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.QueueSize = tt.size
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_BufferSize(t *testing.T) {
	tests := []struct {
		name       string
		bufferSize int
		wantErr    bool
	}{
		{"too small", 32, true},
		{"minimum", 64, false},
		{"not power of 2", 1000, true},
		{"typical", 512, false},
		{"maximum", 8192, false},
		{"too large", 16384, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.BufferSize = tt.bufferSize
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_NyquistFrequency(t *testing.T) {
	s := validSettings()
	s.SampleRate = 8000
	s.ToneFrequency = 1200
	if err := s.Validate(); err != nil {
		t.Errorf("1200 Hz at 8 kHz should be valid: %v", err)
	}
}

func TestSettings_Validate_MultipleErrors(t *testing.T) {
	s := &Settings{
		WPM:               0,      // invalid
		KeyerMode:         "bug",  // invalid
		ToneFrequency:     0,      // invalid
		Volume:            2,      // invalid
		EnvelopeMs:        -1,     // invalid
		LookaheadMs:       1000,   // invalid
		NoiseFloor:        -1,     // invalid
		DitDahBoundary:    0,      // invalid
		CharGap:           0,      // invalid
		WordGap:           0,      // invalid
		AdaptiveSmoothing: 2,      // invalid
		UnknownPolicy:     "drop", // invalid
		SampleRate:        0,      // invalid
		Channels:          0,      // invalid
		BufferSize:        10,     // invalid
		QueueSize:         10,     // invalid
	}

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for multiple invalid fields")
	}

	errStr := err.Error()
	expectedSubstrings := []string{
		"wpm", "keyer_mode", "tone_frequency", "volume", "envelope_ms",
		"lookahead_ms", "noise_floor", "dit_dah_boundary", "char_gap",
		"word_gap", "adaptive_smoothing", "unknown_policy", "sample_rate",
		"channels", "buffer_size", "queue_size",
	}

	for _, substr := range expectedSubstrings {
		if !strings.Contains(errStr, substr) {
			t.Errorf("Validate() error should mention %q, got: %v", substr, errStr)
		}
	}

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) < len(expectedSubstrings) {
		t.Errorf("Validate() should join one error per field")
	}
}

func TestSettings_Advisor(t *testing.T) {
	s := validSettings()
	if s.Advisor() == nil {
		t.Error("Advisor() = nil with spacing_hints on")
	}
	s.SpacingHints = false
	if s.Advisor() != nil {
		t.Error("Advisor() != nil with spacing_hints off")
	}
}

// validSettings returns a Settings struct with all valid values
func validSettings() *Settings {
	return &Settings{
		WPM:               20,
		KeyerMode:         "straight",
		PaddleAssignment:  map[string]string{"z": "dot", "x": "dash", "space": "straight"},
		ToneFrequency:     600,
		Volume:            0.2,
		EnvelopeMs:        5,
		LookaheadMs:       60,
		NoiseFloor:        0.3,
		DitDahBoundary:    2.0,
		CharGap:           3.0,
		WordGap:           7.0,
		AdaptiveSmoothing: 0.1,
		SpacingHints:      true,
		UnknownPolicy:     "skip",
		DeviceIndex:       -1,
		SampleRate:        48000,
		Channels:          1,
		BufferSize:        512,
		QueueSize:         256,
		Debug:             false,
	}
}
