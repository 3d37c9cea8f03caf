// internal/wavfile/wavfile.go
// Package wavfile stores rendered sidetone as 16-bit PCM WAV and reads
// recordings back for loopback decoding.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// BitDepth is the sample size used for exported files.
const BitDepth = 16

// pcmFormat is the WAV format tag for integer PCM.
const pcmFormat = 1

// readChunk is the number of samples pulled from the decoder per call.
const readChunk = 4096

var (
	// ErrInvalidFile indicates the file is not a readable WAV
	ErrInvalidFile = errors.New("invalid WAV file")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// Write encodes mono samples in [-1, 1] to path as 16-bit PCM. Samples
// outside the range are clipped.
func Write(fs afero.Fs, path string, samples []float32, sampleRate int) (err error) {
	if sampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	enc := wav.NewEncoder(f, sampleRate, BitDepth, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           toPCM(samples),
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

func toPCM(samples []float32) []int {
	const full = 1<<(BitDepth-1) - 1
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * full)
		switch {
		case v > full:
			v = full
		case v < -full-1:
			v = -full - 1
		}
		data[i] = int(v)
	}
	return data
}

// Read decodes path into a mono float buffer scaled to [-1, 1]. Multi-channel
// files are downmixed.
func Read(fs afero.Fs, path string) (*audio.FloatBuffer, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	format := dec.Format()
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = BitDepth
	}

	chunk := &audio.IntBuffer{Format: format, Data: make([]int, readChunk)}
	var all []int
	for {
		chunk.Data = chunk.Data[:readChunk]
		n, err := dec.PCMBuffer(chunk)
		all = append(all, chunk.Data[:n]...)
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	pcm := &audio.IntBuffer{Format: format, Data: all, SourceBitDepth: depth}
	fb := pcm.AsFloatBuffer()
	scale := 1 / float64(int(1)<<(depth-1))
	for i := range fb.Data {
		fb.Data[i] *= scale
	}
	if format.NumChannels > 1 {
		transforms.MonoDownmix(fb)
	}
	return fb, nil
}

// Float32 returns the samples of a mono buffer as float32.
func Float32(fb *audio.FloatBuffer) []float32 {
	return fb.AsFloat32Buffer().Data
}
