package features

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/audio"
)

const (
	// DefaultLowHz and DefaultHighHz bound the filterbank, matching the
	// micro frontend the reference models were trained with.
	DefaultLowHz  = 125.0
	DefaultHighHz = 7500.0

	// Log energies between floorDB and floorDB+rangeDB map onto 0..255.
	floorDB = -40.0
	rangeDB = 100.0
)

// SpectrumConfig configures the filterbank front end.
type SpectrumConfig struct {
	SampleRate int
	// SpanMs is the audio span per slice.
	SpanMs int64
	// Width is the number of filterbank channels (the slice width).
	Width  int
	LowHz  float64
	HighHz float64
}

// SpectrumExtractor turns a span of audio into log filterbank energies
// quantized to uint8: Hann window, real FFT, power spectrum, triangular
// mel-spaced filters, log compression.
type SpectrumExtractor struct {
	src     audio.Source
	cfg     SpectrumConfig
	samples []int16
	frame   []float64
	hann    []float64
	bank    []filter
}

type filter struct {
	first   int // first FFT bin
	weights []float64
}

// NewSpectrumExtractor builds the filterbank for src.
func NewSpectrumExtractor(src audio.Source, cfg SpectrumConfig) (*SpectrumExtractor, error) {
	if src == nil {
		return nil, errors.New("features: audio source is nil")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = src.SampleRate()
	}
	if cfg.SampleRate != src.SampleRate() {
		return nil, fmt.Errorf("features: extractor expects %d Hz, source delivers %d Hz", cfg.SampleRate, src.SampleRate())
	}
	if cfg.LowHz <= 0 {
		cfg.LowHz = DefaultLowHz
	}
	if cfg.HighHz <= 0 {
		cfg.HighHz = DefaultHighHz
	}
	cfg.HighHz = min(cfg.HighHz, float64(cfg.SampleRate)/2)
	if cfg.LowHz >= cfg.HighHz {
		return nil, fmt.Errorf("features: filterbank range [%.0f, %.0f] Hz is empty", cfg.LowHz, cfg.HighHz)
	}
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("features: slice width must be positive, got %d", cfg.Width)
	}
	n := audio.SamplesIn(cfg.SpanMs, cfg.SampleRate)
	if n < 2 {
		return nil, fmt.Errorf("features: span of %d ms holds too few samples", cfg.SpanMs)
	}

	size := nextPow2(n)
	return &SpectrumExtractor{
		src:     src,
		cfg:     cfg,
		samples: make([]int16, n),
		frame:   make([]float64, size),
		hann:    window.Hann(n),
		bank:    melFilterbank(cfg.Width, size, cfg.SampleRate, cfg.LowHz, cfg.HighHz),
	}, nil
}

// Extract implements Extractor.
func (e *SpectrumExtractor) Extract(startMs, endMs int64, dst []uint8) error {
	if len(dst) != e.cfg.Width {
		return fmt.Errorf("features: destination holds %d values, slice width is %d", len(dst), e.cfg.Width)
	}
	want := audio.SamplesIn(endMs-startMs, e.cfg.SampleRate)
	if want > len(e.samples) {
		return fmt.Errorf("features: span [%d, %d) ms exceeds configured %d ms", startMs, endMs, e.cfg.SpanMs)
	}
	n, err := e.src.Read(startMs, endMs, e.samples)
	if err != nil {
		return err
	}

	clear(e.frame)
	for i := 0; i < min(n, len(e.hann)); i++ {
		e.frame[i] = float64(e.samples[i]) / 32768.0 * e.hann[i]
	}
	spectrum := fft.FFTReal(e.frame)

	for j, f := range e.bank {
		var energy float64
		for i, w := range f.weights {
			m := cmplx.Abs(spectrum[f.first+i])
			energy += w * m * m
		}
		dst[j] = quantize(energy)
	}
	return nil
}

func quantize(energy float64) uint8 {
	db := 10 * math.Log10(energy+1e-12)
	v := (db - floorDB) / rangeDB * 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}

func hzToMel(hz float64) float64 { return 1127 * math.Log1p(hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Exp(mel/1127) - 1) }

// melFilterbank returns channels triangular filters over the power spectrum
// of an fftSize-point transform.
func melFilterbank(channels, fftSize, sampleRate int, lowHz, highHz float64) []filter {
	bins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	lowMel, highMel := hzToMel(lowHz), hzToMel(highHz)
	edges := make([]float64, channels+2)
	for i := range edges {
		mel := lowMel + (highMel-lowMel)*float64(i)/float64(channels+1)
		edges[i] = melToHz(mel) / binHz
	}

	bank := make([]filter, channels)
	for c := range bank {
		left, center, right := edges[c], edges[c+1], edges[c+2]
		first := max(int(math.Ceil(left)), 0)
		last := min(int(math.Floor(right)), bins-1)
		var weights []float64
		for b := first; b <= last; b++ {
			x := float64(b)
			var w float64
			if x <= center {
				w = (x - left) / (center - left)
			} else {
				w = (right - x) / (right - center)
			}
			weights = append(weights, max(w, 0))
		}
		if len(weights) == 0 {
			// Narrow low-frequency channels can fall between bins.
			nearest := min(max(int(math.Round(center)), 0), bins-1)
			first, weights = nearest, []float64{1}
		}
		bank[c] = filter{first: first, weights: weights}
	}
	return bank
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
