package audio

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

// WaveRecorder writes captured 16-bit mono audio to a WAV file. It is safe
// for use by the capture goroutine while another goroutine closes it.
type WaveRecorder struct {
	mu     sync.Mutex
	w      *wave.Writer
	closed bool
}

// NewWaveRecorder creates path on fs and prepares it for 16-bit mono samples.
func NewWaveRecorder(fs afero.Fs, path string, sampleRate int) (*WaveRecorder, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create recording %s: %w", path, err)
	}
	w, err := wave.NewWriter(wave.WriterParam{
		Out:           f,
		Channel:       1,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: start recording %s: %w", path, err)
	}
	return &WaveRecorder{w: w}, nil
}

// Write appends samples. Writes after Close are dropped.
func (r *WaveRecorder) Write(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if _, err := r.w.WriteSample16(samples); err != nil {
		return fmt.Errorf("audio: write recording: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file. Safe to call multiple
// times.
func (r *WaveRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}
