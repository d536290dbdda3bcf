package features

import (
	"errors"
	"math"
	"testing"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/audio"
)

func toneBuffer(hz float64, ms int64) *audio.SampleBuffer {
	buf := audio.NewSampleBuffer(16000, 1000)
	n := audio.SamplesIn(ms, 16000)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*hz*float64(i)/16000))
	}
	buf.Write(samples)
	return buf
}

func argmax(v []uint8) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func newTestSpectrum(t *testing.T, src audio.Source) *SpectrumExtractor {
	t.Helper()
	ext, err := NewSpectrumExtractor(src, SpectrumConfig{SpanMs: 30, Width: 40})
	if err != nil {
		t.Fatal(err)
	}
	return ext
}

func TestSpectrumExtractorSilenceIsZero(t *testing.T) {
	buf := audio.NewSampleBuffer(16000, 1000)
	buf.Write(make([]int16, 16000/10))
	ext := newTestSpectrum(t, buf)

	dst := make([]uint8, 40)
	if err := ext.Extract(0, 30, dst); err != nil {
		t.Fatal(err)
	}
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %d for silence, want 0", i, v)
		}
	}
}

func TestSpectrumExtractorTonePeaks(t *testing.T) {
	low := make([]uint8, 40)
	if err := newTestSpectrum(t, toneBuffer(500, 100)).Extract(30, 60, low); err != nil {
		t.Fatal(err)
	}
	high := make([]uint8, 40)
	if err := newTestSpectrum(t, toneBuffer(4000, 100)).Extract(30, 60, high); err != nil {
		t.Fatal(err)
	}

	lowPeak, highPeak := argmax(low), argmax(high)
	if lowPeak >= highPeak {
		t.Fatalf("500 Hz peaks at channel %d, 4000 Hz at %d; want lower channel for lower tone", lowPeak, highPeak)
	}
	if low[lowPeak] == 0 || high[highPeak] == 0 {
		t.Fatal("tone produced no energy")
	}
	if low[lowPeak] <= high[lowPeak] {
		t.Fatalf("channel %d: 500 Hz = %d, 4000 Hz = %d", lowPeak, low[lowPeak], high[lowPeak])
	}
}

func TestSpectrumExtractorPropagatesReadError(t *testing.T) {
	ext := newTestSpectrum(t, toneBuffer(500, 20))
	err := ext.Extract(0, 30, make([]uint8, 40))
	if !errors.Is(err, audio.ErrInsufficientAudio) {
		t.Fatalf("err = %v, want ErrInsufficientAudio", err)
	}
}

func TestSpectrumExtractorRejectsBadArguments(t *testing.T) {
	ext := newTestSpectrum(t, toneBuffer(500, 100))
	if err := ext.Extract(0, 30, make([]uint8, 10)); err == nil {
		t.Fatal("expected error for wrong slice width")
	}
	if err := ext.Extract(0, 60, make([]uint8, 40)); err == nil {
		t.Fatal("expected error for span longer than configured")
	}

	if _, err := NewSpectrumExtractor(nil, SpectrumConfig{SpanMs: 30, Width: 40}); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewSpectrumExtractor(toneBuffer(500, 10), SpectrumConfig{SampleRate: 8000, SpanMs: 30, Width: 40}); err == nil {
		t.Fatal("expected error for sample rate mismatch")
	}
	if _, err := NewSpectrumExtractor(toneBuffer(500, 10), SpectrumConfig{SpanMs: 30, Width: 0}); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestWindowWithSpectrumExtractor(t *testing.T) {
	buf := toneBuffer(1000, 200)
	ext := newTestSpectrum(t, buf)
	w, err := NewWindow(Config{SliceDurationMs: 20, SliceSpanMs: 30, Slices: 4, SliceWidth: 40}, ext)
	if err != nil {
		t.Fatal(err)
	}
	added, err := w.Advance(0, buf.LatestTimestamp())
	if err != nil {
		t.Fatal(err)
	}
	if added != 4 {
		t.Fatalf("added = %d, want 4", added)
	}
	if argmax(w.Slot(3)) != argmax(w.Slot(2)) {
		t.Fatal("steady tone should peak in the same channel across slices")
	}
}

func TestQuantizeClamps(t *testing.T) {
	if quantize(0) != 0 {
		t.Fatalf("quantize(0) = %d", quantize(0))
	}
	if quantize(1e12) != 255 {
		t.Fatalf("quantize(1e12) = %d", quantize(1e12))
	}
	if a, b := quantize(1), quantize(100); a >= b {
		t.Fatalf("quantize not monotonic: %d >= %d", a, b)
	}
}
