// Package features maintains the sliding window of feature slices that feeds
// the classifier.
//
// Time is cut into intervals of SliceDuration milliseconds; interval k covers
// [k*D, (k+1)*D) and becomes available once the audio clock reaches (k+1)*D.
// The window holds the W most recent intervals in a flat arena where
// interval k lives in slot k mod W, so an advance only touches the slots whose
// intervals are new.
package features

import (
	"errors"
	"fmt"
)

var (
	// ErrFeatureGeneration reports that a slice could not be computed, usually
	// because the audio it covers is not buffered.
	ErrFeatureGeneration = errors.New("features: feature generation failed")
	// ErrTimeReversed reports an advance whose current time precedes its
	// previous time.
	ErrTimeReversed = errors.New("features: time moved backwards")
)

// Extractor computes one feature slice from the audio span [startMs, endMs).
// It must write exactly len(dst) values.
type Extractor interface {
	Extract(startMs, endMs int64, dst []uint8) error
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(startMs, endMs int64, dst []uint8) error

// Extract implements Extractor.
func (f ExtractorFunc) Extract(startMs, endMs int64, dst []uint8) error {
	return f(startMs, endMs, dst)
}

// Config describes the window geometry.
type Config struct {
	// SliceDurationMs is the interval length, the stride between slices.
	SliceDurationMs int64
	// SliceSpanMs is the length of audio each slice is computed from. The
	// span ends where its interval ends. Zero means SliceDurationMs.
	SliceSpanMs int64
	// Slices is the number of slices in the window (W).
	Slices int
	// SliceWidth is the number of feature values per slice.
	SliceWidth int
}

// Validate checks the geometry.
func (c Config) Validate() error {
	if c.SliceDurationMs <= 0 {
		return fmt.Errorf("features: slice duration must be positive, got %d", c.SliceDurationMs)
	}
	if c.SliceSpanMs != 0 && c.SliceSpanMs < c.SliceDurationMs {
		return fmt.Errorf("features: slice span %d ms shorter than slice duration %d ms", c.SliceSpanMs, c.SliceDurationMs)
	}
	if c.Slices <= 0 {
		return fmt.Errorf("features: slice count must be positive, got %d", c.Slices)
	}
	if c.SliceWidth <= 0 {
		return fmt.Errorf("features: slice width must be positive, got %d", c.SliceWidth)
	}
	return nil
}

func (c Config) span() int64 {
	if c.SliceSpanMs == 0 {
		return c.SliceDurationMs
	}
	return c.SliceSpanMs
}

// Stats counts window activity.
type Stats struct {
	// Slices is the number of slices written.
	Slices uint64
	// Skipped is the number of elapsed intervals never materialized because
	// an advance spanned more than a full window.
	Skipped uint64
}

// Window is the sliding feature window. It is not safe for concurrent use.
type Window struct {
	cfg     Config
	extract Extractor
	arena   []uint8
	scratch []uint8
	newest  int64 // newest written interval, -1 before the first write
	stats   Stats
}

// NewWindow allocates the window arena. Unwritten slots read as zero.
func NewWindow(cfg Config, extractor Extractor) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, errors.New("features: extractor is nil")
	}
	return &Window{
		cfg:     cfg,
		extract: extractor,
		arena:   make([]uint8, cfg.Slices*cfg.SliceWidth),
		scratch: make([]uint8, cfg.SliceWidth),
		newest:  -1,
	}, nil
}

// Config returns the window geometry.
func (w *Window) Config() Config { return w.cfg }

// Advance materializes every interval that elapsed between previousMs and
// currentMs and returns how many slices were written. When more than a full
// window elapsed only the newest W intervals are computed.
//
// If the extractor fails, the slices written before the failure remain, the
// failing and later intervals are left untouched, and the error wraps
// ErrFeatureGeneration.
func (w *Window) Advance(previousMs, currentMs int64) (int, error) {
	if previousMs < 0 || currentMs < previousMs {
		return 0, fmt.Errorf("%w: previous %d ms, current %d ms", ErrTimeReversed, previousMs, currentMs)
	}
	d := w.cfg.SliceDurationMs
	first, last := previousMs/d, currentMs/d
	// Intervals already in the window are never recomputed.
	first = max(first, w.newest+1)
	if last <= first {
		return 0, nil
	}

	slices := int64(w.cfg.Slices)
	if last-first > slices {
		w.stats.Skipped += uint64(last - first - slices)
		first = last - slices
	}
	// A gap since the newest slice leaves stale slots behind; blank them.
	for k := max(w.newest+1, last-slices); k < first; k++ {
		clear(w.slot(k))
	}

	added := 0
	span := w.cfg.span()
	for k := first; k < last; k++ {
		end := (k + 1) * d
		start := end - span
		if err := w.extract.Extract(start, end, w.scratch); err != nil {
			return added, fmt.Errorf("%w: interval %d [%d, %d) ms: %w", ErrFeatureGeneration, k, start, end, err)
		}
		copy(w.slot(k), w.scratch)
		w.newest = k
		w.stats.Slices++
		added++
	}
	return added, nil
}

// Warm reports whether the window has been filled at least once.
func (w *Window) Warm() bool {
	return w.stats.Slices >= uint64(w.cfg.Slices)
}

// Slot returns the i-th slice in time order, 0 being the oldest. The
// returned slice aliases the arena and must not be modified.
func (w *Window) Slot(i int) []uint8 {
	if i < 0 || i >= w.cfg.Slices {
		panic(fmt.Sprintf("features: slot %d out of range [0, %d)", i, w.cfg.Slices))
	}
	return w.slot(w.newest - int64(w.cfg.Slices) + 1 + int64(i))
}

// CopyTo writes the window oldest slice first into dst, laid out as a
// [1, W, SliceWidth] row-major tensor. It returns the number of bytes
// written.
func (w *Window) CopyTo(dst []uint8) (int, error) {
	if len(dst) < len(w.arena) {
		return 0, fmt.Errorf("features: destination holds %d values, window has %d", len(dst), len(w.arena))
	}
	width := w.cfg.SliceWidth
	for i := 0; i < w.cfg.Slices; i++ {
		copy(dst[i*width:(i+1)*width], w.Slot(i))
	}
	return len(w.arena), nil
}

// Stats returns activity counters.
func (w *Window) Stats() Stats { return w.stats }

// Reset zeroes the arena and forgets all intervals.
func (w *Window) Reset() {
	clear(w.arena)
	w.newest = -1
	w.stats = Stats{}
}

func (w *Window) slot(k int64) []uint8 {
	n := int64(w.cfg.Slices)
	idx := ((k % n) + n) % n
	width := w.cfg.SliceWidth
	return w.arena[int(idx)*width : int(idx+1)*width]
}
