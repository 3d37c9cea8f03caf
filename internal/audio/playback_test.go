// internal/audio/playback_test.go
package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
	"unsafe"

	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

var origin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestOutput(t *testing.T, cfg Config) (*Output, *tone.Scheduler) {
	t.Helper()
	q, err := tone.NewQueue(16)
	if err != nil {
		t.Fatal(err)
	}
	s := tone.NewScheduler(q)
	r, err := tone.NewRenderer(tone.RendererConfig{
		SampleRate: int(cfg.SampleRate),
		Frequency:  600,
		Volume:     1,
		Ramp:       tone.DefaultRamp,
	}, q, s.Epoch())
	if err != nil {
		t.Fatal(err)
	}
	r.Start(origin)
	out, err := New(cfg, r, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return out, s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DeviceIndex != -1 {
		t.Errorf("DefaultConfig().DeviceIndex = %d, want -1", cfg.DeviceIndex)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("DefaultConfig().SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.Channels != 1 {
		t.Errorf("DefaultConfig().Channels = %d, want 1", cfg.Channels)
	}
	if cfg.BufferSize != 512 {
		t.Errorf("DefaultConfig().BufferSize = %d, want 512", cfg.BufferSize)
	}
}

func TestNew_RequiresRenderer(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); !errors.Is(err, ErrRendererMissing) {
		t.Errorf("New(nil renderer) error = %v, want %v", err, ErrRendererMissing)
	}
}

func TestOutput_InitialState(t *testing.T) {
	out, _ := newTestOutput(t, DefaultConfig())

	if out.IsRunning() {
		t.Error("IsRunning() = true for new output, want false")
	}
	if err := out.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want %v", err, ErrNotRunning)
	}
	if _, err := out.ListDevices(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListDevices() error = %v, want %v", err, ErrNotInitialized)
	}
	if err := out.Start(context.Background(), origin); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start() error = %v, want %v", err, ErrNotInitialized)
	}
}

func TestOutput_Latency(t *testing.T) {
	out, _ := newTestOutput(t, DefaultConfig())
	want := 512 * time.Second / 48000
	if got := out.Latency(); got != want {
		t.Errorf("Latency() = %v, want %v", got, want)
	}
}

func TestFloat32View(t *testing.T) {
	want := []float32{0, 1, -1, 0.5}
	buf := make([]byte, len(want)*4)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&want[0])), len(buf)))

	got := float32View(buf)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if float32View(nil) != nil {
		t.Error("float32View(nil) should be nil")
	}
}

func TestOutput_CallbackRendersInPlace(t *testing.T) {
	tests := []struct {
		name     string
		channels uint32
	}{
		{"mono", 1},
		{"stereo", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Channels = tt.channels
			out, s := newTestOutput(t, cfg)
			s.KeyDown(origin)

			const frames = 512
			buf := make([]byte, frames*int(tt.channels)*4)
			// first period ramps up, second is at full level
			out.onSendFrames(buf, nil, frames)
			out.onSendFrames(buf, nil, frames)

			samples := float32View(buf)
			var peak float64
			for i := 0; i < frames; i++ {
				first := samples[i*int(tt.channels)]
				for c := 1; c < int(tt.channels); c++ {
					if samples[i*int(tt.channels)+c] != first {
						t.Fatalf("frame %d: channel %d differs", i, c)
					}
				}
				peak = math.Max(peak, math.Abs(float64(first)))
			}
			if peak < 0.9 {
				t.Errorf("peak = %v, want full-level sidetone", peak)
			}
		})
	}
}
