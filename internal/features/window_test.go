package features

import (
	"bytes"
	"errors"
	"testing"
)

// recordingExtractor fills each slice with a value derived from the interval
// end so tests can tell which interval occupies a slot.
type recordingExtractor struct {
	calls  [][2]int64
	failAt int64 // interval end that fails, 0 disables
}

func (r *recordingExtractor) Extract(startMs, endMs int64, dst []uint8) error {
	r.calls = append(r.calls, [2]int64{startMs, endMs})
	if r.failAt != 0 && endMs == r.failAt {
		return errors.New("not enough audio")
	}
	for i := range dst {
		dst[i] = uint8(endMs/10) + uint8(i)
	}
	return nil
}

func newTestWindow(t *testing.T, ext Extractor) *Window {
	t.Helper()
	w, err := NewWindow(Config{SliceDurationMs: 30, Slices: 3, SliceWidth: 4}, ext)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func snapshot(w *Window) []uint8 {
	return append([]uint8(nil), w.arena...)
}

func TestWindowAdvanceBelowOneSlice(t *testing.T) {
	ext := &recordingExtractor{}
	w := newTestWindow(t, ext)
	if _, err := w.Advance(0, 90); err != nil {
		t.Fatal(err)
	}
	before := snapshot(w)
	calls := len(ext.calls)

	for _, current := range []int64{90, 95, 100, 119} {
		added, err := w.Advance(90, current)
		if err != nil {
			t.Fatal(err)
		}
		if added != 0 {
			t.Fatalf("Advance(90, %d) added %d slices, want 0", current, added)
		}
		if !bytes.Equal(before, w.arena) {
			t.Fatalf("Advance(90, %d) modified the window", current)
		}
	}
	if len(ext.calls) != calls {
		t.Fatalf("extractor called %d times for sub-slice advances", len(ext.calls)-calls)
	}
}

func TestWindowAdvanceUnalignedStartUsesIntervalGrid(t *testing.T) {
	ext := &recordingExtractor{}
	w := newTestWindow(t, ext)
	if _, err := w.Advance(0, 90); err != nil {
		t.Fatal(err)
	}
	calls := len(ext.calls)

	// 28 ms elapse but no boundary is crossed.
	added, err := w.Advance(91, 119)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || len(ext.calls) != calls {
		t.Fatalf("Advance(91, 119) added %d, extractor calls %d", added, len(ext.calls)-calls)
	}

	// Only 20 ms elapse but the boundary at 120 is crossed.
	added, err = w.Advance(100, 120)
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Fatalf("Advance(100, 120) added %d, want 1", added)
	}
	if got, want := ext.calls[len(ext.calls)-1], [2]int64{90, 120}; got != want {
		t.Fatalf("extracted span %v, want %v", got, want)
	}
	if got := w.Slot(2); got[0] != uint8(120/10) {
		t.Fatalf("newest slot = %v, want the interval ending at 120", got)
	}
}

func TestWindowAdvanceExactSlices(t *testing.T) {
	for k := 1; k <= 3; k++ {
		ext := &recordingExtractor{}
		w := newTestWindow(t, ext)
		if _, err := w.Advance(0, 90); err != nil {
			t.Fatal(err)
		}
		before := snapshot(w)

		added, err := w.Advance(90, 90+int64(k)*30)
		if err != nil {
			t.Fatal(err)
		}
		if added != k {
			t.Fatalf("k=%d: added = %d", k, added)
		}

		// Intervals 3..3+k-1 land in slots (3+i) mod 3; other slots keep
		// their bytes.
		touched := map[int]bool{}
		for i := 0; i < k; i++ {
			touched[(3+i)%3] = true
		}
		for slot := 0; slot < 3; slot++ {
			got := w.arena[slot*4 : (slot+1)*4]
			old := before[slot*4 : (slot+1)*4]
			if touched[slot] == bytes.Equal(got, old) {
				t.Fatalf("k=%d slot %d: touched=%v but changed=%v", k, slot, touched[slot], !bytes.Equal(got, old))
			}
		}
	}
}

func TestWindowAdvanceBeyondCapacityMatchesFullWindow(t *testing.T) {
	long := &recordingExtractor{}
	a := newTestWindow(t, long)
	added, err := a.Advance(0, 300)
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Fatalf("added = %d, want 3", added)
	}
	if a.Stats().Skipped != 7 {
		t.Fatalf("Skipped = %d, want 7", a.Stats().Skipped)
	}

	exact := &recordingExtractor{}
	b := newTestWindow(t, exact)
	if _, err := b.Advance(210, 300); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.arena, b.arena) {
		t.Fatalf("window after long advance %v differs from exact advance %v", a.arena, b.arena)
	}
	want := [][2]int64{{210, 240}, {240, 270}, {270, 300}}
	if len(long.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", long.calls, want)
	}
	for i := range want {
		if long.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", long.calls, want)
		}
	}
}

func TestWindowWarmUpReadsSilence(t *testing.T) {
	w := newTestWindow(t, &recordingExtractor{})
	if w.Warm() {
		t.Fatal("fresh window reports warm")
	}
	if _, err := w.Advance(0, 30); err != nil {
		t.Fatal(err)
	}

	out := make([]uint8, 12)
	if _, err := w.CopyTo(out); err != nil {
		t.Fatal(err)
	}
	want := []uint8{0, 0, 0, 0, 0, 0, 0, 0, 3, 4, 5, 6}
	if !bytes.Equal(out, want) {
		t.Fatalf("CopyTo = %v, want %v", out, want)
	}

	if _, err := w.Advance(30, 90); err != nil {
		t.Fatal(err)
	}
	if !w.Warm() {
		t.Fatal("window not warm after W slices")
	}
}

func TestWindowCopyToTimeOrder(t *testing.T) {
	w := newTestWindow(t, &recordingExtractor{})
	if _, err := w.Advance(0, 150); err != nil { // intervals 2, 3, 4 retained
		t.Fatal(err)
	}
	out := make([]uint8, 12)
	if _, err := w.CopyTo(out); err != nil {
		t.Fatal(err)
	}
	want := []uint8{9, 10, 11, 12, 12, 13, 14, 15, 15, 16, 17, 18}
	if !bytes.Equal(out, want) {
		t.Fatalf("CopyTo = %v, want %v", out, want)
	}
	if got := w.Slot(2); !bytes.Equal(got, []uint8{15, 16, 17, 18}) {
		t.Fatalf("Slot(2) = %v", got)
	}
	if w.newest != 4 {
		t.Fatalf("newest interval = %d, want 4 (ending at 150)", w.newest)
	}

	if _, err := w.CopyTo(make([]uint8, 5)); err == nil {
		t.Fatal("expected error for short destination")
	}
}

func TestWindowExtractorFailureStopsAdvance(t *testing.T) {
	ext := &recordingExtractor{}
	w := newTestWindow(t, ext)
	if _, err := w.Advance(0, 90); err != nil {
		t.Fatal(err)
	}
	before := snapshot(w)

	ext.failAt = 150
	added, err := w.Advance(90, 180)
	if !errors.Is(err, ErrFeatureGeneration) {
		t.Fatalf("err = %v, want ErrFeatureGeneration", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1 (interval ending at 120)", added)
	}
	// Interval 3 (slot 0) was written; slots 1 and 2 are untouched.
	if bytes.Equal(w.arena[0:4], before[0:4]) {
		t.Fatal("slot 0 should hold the interval written before the failure")
	}
	if !bytes.Equal(w.arena[4:], before[4:]) {
		t.Fatal("slots after the failing interval were modified")
	}
	if w.newest != 3 {
		t.Fatalf("newest interval = %d, want 3 (ending at 120)", w.newest)
	}

	// A retry resumes from the failed interval.
	ext.failAt = 0
	added, err = w.Advance(90, 180)
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Fatalf("retry added = %d, want 2", added)
	}
}

func TestWindowRejectsTimeReversal(t *testing.T) {
	w := newTestWindow(t, &recordingExtractor{})
	if _, err := w.Advance(60, 30); !errors.Is(err, ErrTimeReversed) {
		t.Fatalf("err = %v, want ErrTimeReversed", err)
	}
	if _, err := w.Advance(-1, 30); !errors.Is(err, ErrTimeReversed) {
		t.Fatalf("err = %v, want ErrTimeReversed", err)
	}
}

func TestWindowSpanEndsAtIntervalEnd(t *testing.T) {
	ext := &recordingExtractor{}
	w, err := NewWindow(Config{SliceDurationMs: 20, SliceSpanMs: 30, Slices: 4, SliceWidth: 2}, ext)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Advance(0, 40); err != nil {
		t.Fatal(err)
	}
	want := [][2]int64{{-10, 20}, {10, 40}}
	for i := range want {
		if ext.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", ext.calls, want)
		}
	}
}

func TestWindowGapBlanksStaleSlots(t *testing.T) {
	w := newTestWindow(t, &recordingExtractor{})
	if _, err := w.Advance(0, 90); err != nil {
		t.Fatal(err)
	}
	// The caller skipped [90, 120); interval 3 is blanked rather than left
	// holding interval 0.
	if _, err := w.Advance(120, 180); err != nil {
		t.Fatal(err)
	}
	if got := w.Slot(0); !bytes.Equal(got, []uint8{0, 0, 0, 0}) {
		t.Fatalf("Slot(0) = %v, want zeros", got)
	}
}

func TestWindowReset(t *testing.T) {
	w := newTestWindow(t, &recordingExtractor{})
	if _, err := w.Advance(0, 90); err != nil {
		t.Fatal(err)
	}
	w.Reset()
	if w.Warm() || w.newest != -1 {
		t.Fatal("Reset did not forget intervals")
	}
	for _, v := range w.arena {
		if v != 0 {
			t.Fatal("Reset did not zero the arena")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero duration", Config{SliceDurationMs: 0, Slices: 1, SliceWidth: 1}},
		{"span shorter than duration", Config{SliceDurationMs: 30, SliceSpanMs: 20, Slices: 1, SliceWidth: 1}},
		{"zero slices", Config{SliceDurationMs: 30, Slices: 0, SliceWidth: 1}},
		{"zero width", Config{SliceDurationMs: 30, Slices: 1, SliceWidth: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if _, err := NewWindow(Config{SliceDurationMs: 30, Slices: 1, SliceWidth: 1}, nil); err == nil {
		t.Fatal("expected error for nil extractor")
	}
}
