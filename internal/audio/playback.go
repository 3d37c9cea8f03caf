// internal/audio/playback.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/ColonelBlimp/cwkeyer/internal/recovery"
	"github.com/ColonelBlimp/cwkeyer/internal/tone"
)

var (
	ErrNotInitialized  = errors.New("audio output not initialized")
	ErrAlreadyRunning  = errors.New("audio output already running")
	ErrNotRunning      = errors.New("audio output not running")
	ErrRendererMissing = errors.New("audio output requires a renderer")
)

// Config holds audio output configuration
type Config struct {
	DeviceIndex int    // -1 for default device (from config: device_index)
	SampleRate  uint32 // e.g., 48000 (from config: sample_rate)
	Channels    uint32 // 1 for mono, 2 duplicates the sidetone to both ears
	BufferSize  uint32 // frames per callback (from config: buffer_size)
}

// DefaultConfig returns low-latency sidetone defaults
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		Channels:    1,
		BufferSize:  512,
	}
}

// Output plays the sidetone rendered by a tone.Renderer on a sound card.
type Output struct {
	config   Config
	renderer *tone.Renderer
	logger   *slog.Logger

	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
	mu      sync.RWMutex

	// mono scratch for multi-channel devices, owned by the audio thread
	mono []float32
}

// New creates an output that pulls samples from r.
func New(cfg Config, r *tone.Renderer, logger *slog.Logger) (*Output, error) {
	if r == nil {
		return nil, ErrRendererMissing
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		config:   cfg,
		renderer: r,
		logger:   logger,
		mono:     make([]float32, cfg.BufferSize),
	}, nil
}

// Init initializes the audio backend
func (o *Output) Init() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		o.logger.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	o.ctx = ctx
	return nil
}

// ListDevices returns available playback devices
func (o *Output) ListDevices() ([]malgo.DeviceInfo, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := o.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start opens the device and begins rendering. origin is the instant on
// the session clock that the first rendered sample corresponds to. The
// device stops when ctx is cancelled.
func (o *Output) Start(ctx context.Context, origin time.Time) error {
	o.mu.RLock()
	running, initialized := o.running, o.ctx != nil
	o.mu.RUnlock()
	if running {
		return ErrAlreadyRunning
	}
	if !initialized {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = o.config.SampleRate
	deviceConfig.PeriodSizeInFrames = o.config.BufferSize
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = o.config.Channels

	if o.config.DeviceIndex >= 0 {
		devices, err := o.ListDevices()
		if err != nil {
			return err
		}
		if o.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				o.config.DeviceIndex, len(devices))
		}
		deviceConfig.Playback.DeviceID = devices[o.config.DeviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: o.onSendFrames,
	}

	o.renderer.Start(origin)
	device, err := malgo.InitDevice(o.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	o.mu.Lock()
	o.device = device
	o.running = true
	o.mu.Unlock()

	o.logger.Info("audio output started",
		"sample_rate", o.config.SampleRate,
		"channels", o.config.Channels,
		"buffer", o.config.BufferSize)

	go func() {
		<-ctx.Done()
		_ = o.Stop()
	}()
	return nil
}

// onSendFrames runs on the device thread. It must not block.
func (o *Output) onSendFrames(output, _ []byte, frameCount uint32) {
	defer recovery.Log(o.logger, "audio output callback")

	samples := float32View(output)
	channels := int(o.config.Channels)
	if channels == 1 {
		o.renderer.Render(samples)
		return
	}

	frames := int(frameCount)
	if frames > cap(o.mono) {
		o.mono = make([]float32, frames)
	}
	mono := o.mono[:frames]
	o.renderer.Render(mono)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = s
		}
	}
}

// Stop stops audio output
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return ErrNotRunning
	}
	if o.device != nil {
		_ = o.device.Stop()
		o.device.Uninit()
		o.device = nil
	}
	o.running = false

	st := o.renderer.Stats()
	o.logger.Info("audio output stopped", "applied", st.Applied, "discarded", st.Discarded, "underruns", st.Underruns)
	return nil
}

// Close releases all audio resources
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && o.device != nil {
		_ = o.device.Stop()
		o.device.Uninit()
		o.device = nil
		o.running = false
	}

	if o.ctx != nil {
		if err := o.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		o.ctx.Free()
		o.ctx = nil
	}
	return nil
}

// IsRunning returns true if the device is playing
func (o *Output) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Latency returns the buffer length in time, the minimum lookahead that
// avoids underruns.
func (o *Output) Latency() time.Duration {
	if o.config.SampleRate == 0 {
		return 0
	}
	return time.Duration(o.config.BufferSize) * time.Second / time.Duration(o.config.SampleRate)
}

// float32View reinterprets a little-endian F32 device buffer in place.
func float32View(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
}
