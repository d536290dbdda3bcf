// Package audio supplies the capture side of the keyword spotter: a clock
// measured in milliseconds of captured audio and random access to the
// samples behind it.
package audio

import "errors"

// DefaultSampleRate is the capture rate the feature front end expects.
const DefaultSampleRate = 16000

// ErrInsufficientAudio is returned by Read when part of the requested span is
// not buffered, either because it has not been captured yet or because it was
// overwritten after an overrun.
var ErrInsufficientAudio = errors.New("audio: requested span is not buffered")

// Source is a monotonically advancing audio stream.
type Source interface {
	// LatestTimestamp returns the amount of audio captured so far in
	// milliseconds. It never decreases.
	LatestTimestamp() int64
	// Read writes the mono samples covering [startMs, endMs) into dst and
	// returns how many were written. Samples before time zero read as
	// silence. dst must hold at least SamplesIn(endMs-startMs, SampleRate()).
	Read(startMs, endMs int64, dst []int16) (int, error)
	// SampleRate returns the sample rate in Hz.
	SampleRate() int
}

// Finite is implemented by sources that eventually run out of audio, such as
// file replay.
type Finite interface {
	Exhausted() bool
}

// CaptureSource is a live source holding device resources.
type CaptureSource interface {
	Source
	Close() error
}

// SamplesIn converts a duration in milliseconds to a sample count.
func SamplesIn(ms int64, sampleRate int) int {
	return int(ms * int64(sampleRate) / 1000)
}

// sampleIndex maps a timestamp to the absolute index of the first sample at
// or after it. Negative timestamps map to negative indices.
func sampleIndex(ms int64, sampleRate int) int64 {
	return ms * int64(sampleRate) / 1000
}
