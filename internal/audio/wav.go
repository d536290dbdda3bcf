package audio

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// DefaultReplayStepMs is how far the replay clock moves per poll.
const DefaultReplayStepMs = 10

// ErrInvalidWAV is returned when a file is not a decodable PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid WAV file")

// WAVSource replays decoded audio on a simulated clock. Every call to
// LatestTimestamp advances the clock by a fixed step until the end of the
// recording is reached, so a replay runs as fast as the pipeline can poll
// while still presenting audio in capture order.
type WAVSource struct {
	samples    []int16
	sampleRate int
	stepMs     int64
	clockMs    int64
	durationMs int64
}

// OpenWAV decodes the WAV file at path into memory. Multi-channel audio is
// downmixed to mono by averaging.
func OpenWAV(fs afero.Fs, path string, stepMs int64) (*WAVSource, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	samples, err := monoInt16(buf, int(dec.BitDepth))
	if err != nil {
		return nil, fmt.Errorf("audio: %s: %w", path, err)
	}
	return NewWAVSource(samples, int(dec.SampleRate), stepMs), nil
}

// NewWAVSource replays samples captured at sampleRate.
func NewWAVSource(samples []int16, sampleRate int, stepMs int64) *WAVSource {
	if stepMs <= 0 {
		stepMs = DefaultReplayStepMs
	}
	return &WAVSource{
		samples:    samples,
		sampleRate: sampleRate,
		stepMs:     stepMs,
		durationMs: int64(len(samples)) * 1000 / int64(sampleRate),
	}
}

// SampleRate implements Source.
func (s *WAVSource) SampleRate() int { return s.sampleRate }

// DurationMs returns the length of the recording.
func (s *WAVSource) DurationMs() int64 { return s.durationMs }

// LatestTimestamp implements Source. Each call advances the replay clock.
func (s *WAVSource) LatestTimestamp() int64 {
	s.clockMs = min(s.clockMs+s.stepMs, s.durationMs)
	return s.clockMs
}

// Exhausted implements Finite.
func (s *WAVSource) Exhausted() bool {
	return s.clockMs >= s.durationMs
}

// Rewind restarts the replay from time zero.
func (s *WAVSource) Rewind() { s.clockMs = 0 }

// Read implements Source. Audio beyond the replay clock has not been
// "captured" yet and is reported as insufficient.
func (s *WAVSource) Read(startMs, endMs int64, dst []int16) (int, error) {
	if endMs < startMs {
		return 0, fmt.Errorf("audio: invalid span [%d, %d)", startMs, endMs)
	}
	if endMs > s.clockMs {
		return 0, fmt.Errorf("%w: span ends at %d ms, replay clock is %d ms", ErrInsufficientAudio, endMs, s.clockMs)
	}
	first := sampleIndex(startMs, s.sampleRate)
	last := sampleIndex(endMs, s.sampleRate)
	n := int(last - first)
	if len(dst) < n {
		return 0, fmt.Errorf("audio: destination holds %d samples, span needs %d", len(dst), n)
	}
	for i := 0; i < n; i++ {
		idx := first + int64(i)
		if idx < 0 || idx >= int64(len(s.samples)) {
			dst[i] = 0
			continue
		}
		dst[i] = s.samples[idx]
	}
	return n, nil
}

// monoInt16 converts a decoded PCM buffer to 16-bit mono.
func monoInt16(buf *audio.IntBuffer, bitDepth int) ([]int16, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: missing format", ErrInvalidWAV)
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidWAV, channels)
	}
	var shift func(int) int
	switch bitDepth {
	case 8:
		shift = func(v int) int { return (v - 128) << 8 }
	case 16:
		shift = func(v int) int { return v }
	case 24:
		shift = func(v int) int { return v >> 8 }
	case 32:
		shift = func(v int) int { return v >> 16 }
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bitDepth)
	}

	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += shift(buf.Data[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out, nil
}
