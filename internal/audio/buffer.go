package audio

import (
	"fmt"
	"sync"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/ring"
)

// SampleBuffer keeps the most recent capacity samples of a stream and serves
// them by timestamp. Writers and readers may run on different goroutines.
//
// On overrun the oldest samples are overwritten; a later Read of that span
// fails with ErrInsufficientAudio.
type SampleBuffer struct {
	mu         sync.Mutex
	samples    *ring.Ring[int16]
	sampleRate int
}

// NewSampleBuffer returns a buffer holding capacityMs of audio at sampleRate.
func NewSampleBuffer(sampleRate int, capacityMs int64) *SampleBuffer {
	return &SampleBuffer{
		samples:    ring.New[int16](SamplesIn(capacityMs, sampleRate)),
		sampleRate: sampleRate,
	}
}

// Write appends captured samples.
func (b *SampleBuffer) Write(samples []int16) {
	b.mu.Lock()
	b.samples.Add(samples...)
	b.mu.Unlock()
}

// SampleRate implements Source.
func (b *SampleBuffer) SampleRate() int { return b.sampleRate }

// LatestTimestamp implements Source.
func (b *SampleBuffer) LatestTimestamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.samples.Written()) * 1000 / int64(b.sampleRate)
}

// Read implements Source.
func (b *SampleBuffer) Read(startMs, endMs int64, dst []int16) (int, error) {
	if endMs < startMs {
		return 0, fmt.Errorf("audio: invalid span [%d, %d)", startMs, endMs)
	}
	first := sampleIndex(startMs, b.sampleRate)
	last := sampleIndex(endMs, b.sampleRate)
	n := int(last - first)
	if len(dst) < n {
		return 0, fmt.Errorf("audio: destination holds %d samples, span needs %d", len(dst), n)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := int64(b.samples.Written())
	oldest := total - int64(b.samples.Len())
	if last > total {
		return 0, fmt.Errorf("%w: span ends at sample %d, captured %d", ErrInsufficientAudio, last, total)
	}
	if last > 0 && max(first, 0) < oldest {
		return 0, fmt.Errorf("%w: span starts at sample %d, oldest buffered is %d", ErrInsufficientAudio, first, oldest)
	}
	for i := 0; i < n; i++ {
		idx := first + int64(i)
		if idx < 0 {
			dst[i] = 0
			continue
		}
		dst[i] = *b.samples.At(int(idx - oldest))
	}
	return n, nil
}
