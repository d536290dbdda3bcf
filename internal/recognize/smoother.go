// Package recognize turns the classifier's per-invocation scores into
// command events.
//
// Scores are averaged over a sliding time horizon so a single confident
// frame cannot trigger a command; only sustained confidence that clears an
// absolute threshold and a margin over every rival does. Once a command
// fires, all further events are suppressed for a fixed interval.
package recognize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/ring"
)

var (
	// ErrInvalidScoreVector reports a score vector whose length does not
	// match the category count.
	ErrInvalidScoreVector = errors.New("recognize: invalid score vector")
	// ErrTimestampOrder reports scores older than the newest retained entry.
	ErrTimestampOrder = errors.New("recognize: scores must arrive in time order")
)

// Aggregation selects how retained scores are combined per category.
type Aggregation string

const (
	AggregateAverage Aggregation = "average"
	AggregateSum     Aggregation = "sum"
)

// ParseAggregation accepts "average" (or "mean") and "sum".
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "average", "mean", "":
		return AggregateAverage, nil
	case "sum":
		return AggregateSum, nil
	default:
		return "", fmt.Errorf("recognize: unknown aggregation %q", s)
	}
}

// Config holds the smoothing policy.
type Config struct {
	// Labels names every category; its length is the category count.
	Labels []string
	// Reserved lists categories that never become commands (silence,
	// unknown).
	Reserved []int
	// HorizonMs is how far back scores are retained.
	HorizonMs int64
	// Threshold is the minimum aggregate score for a command.
	Threshold float64
	// Margin is the minimum lead of the candidate over the best rival.
	Margin float64
	// SuppressionMs is the minimum time between two events.
	SuppressionMs int64
	// MinimumCount is the number of retained results required before any
	// decision is made.
	MinimumCount int
	Aggregation  Aggregation
	// HistoryCapacity bounds the number of retained results. When full the
	// oldest result is overwritten even if still inside the horizon.
	HistoryCapacity int
}

// Validate checks the policy.
func (c Config) Validate() error {
	if len(c.Labels) == 0 {
		return errors.New("recognize: no category labels")
	}
	for _, r := range c.Reserved {
		if r < 0 || r >= len(c.Labels) {
			return fmt.Errorf("recognize: reserved category %d out of range [0, %d)", r, len(c.Labels))
		}
	}
	if c.HorizonMs <= 0 {
		return fmt.Errorf("recognize: horizon must be positive, got %d", c.HorizonMs)
	}
	if c.Margin < 0 {
		return fmt.Errorf("recognize: margin must not be negative, got %v", c.Margin)
	}
	if c.SuppressionMs < 0 {
		return fmt.Errorf("recognize: suppression must not be negative, got %d", c.SuppressionMs)
	}
	if c.MinimumCount < 0 {
		return fmt.Errorf("recognize: minimum count must not be negative, got %d", c.MinimumCount)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("recognize: history capacity must be positive, got %d", c.HistoryCapacity)
	}
	if _, err := ParseAggregation(string(c.Aggregation)); err != nil {
		return err
	}
	return nil
}

// Event is a recognized command.
type Event struct {
	Category    int
	Label       string
	Confidence  float64
	TimestampMs int64
}

// Result is the outcome of one Process call. Category is -1 when no
// candidate could be chosen.
type Result struct {
	Category int
	Label    string
	Score    float64
	IsNew    bool
}

// Event returns the result as an event stamped with timestampMs.
func (r Result) Event(timestampMs int64) Event {
	return Event{
		Category:    r.Category,
		Label:       r.Label,
		Confidence:  r.Score,
		TimestampMs: timestampMs,
	}
}

type entry struct {
	scores []float32
	timeMs int64
}

// Smoother holds the score history and the suppression state. It is not safe
// for concurrent use.
type Smoother struct {
	cfg      Config
	agg      Aggregation
	reserved []bool
	history  *ring.Ring[entry]
	totals   []float64

	lastEventMs int64
	hasEvent    bool
}

// NewSmoother allocates the history arena.
func NewSmoother(cfg Config) (*Smoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agg, _ := ParseAggregation(string(cfg.Aggregation))
	reserved := make([]bool, len(cfg.Labels))
	for _, r := range cfg.Reserved {
		reserved[r] = true
	}
	history := ring.New[entry](cfg.HistoryCapacity)
	for i := 0; i < history.Cap(); i++ {
		*history.Next() = entry{scores: make([]float32, len(cfg.Labels))}
	}
	history.Reset()
	return &Smoother{
		cfg:      cfg,
		agg:      agg,
		reserved: reserved,
		history:  history,
		totals:   make([]float64, len(cfg.Labels)),
	}, nil
}

// Categories returns the category count.
func (s *Smoother) Categories() int { return len(s.cfg.Labels) }

// Len returns the number of retained results.
func (s *Smoother) Len() int { return s.history.Len() }

// Process records scores observed at timestampMs and decides whether they
// complete a new command. Invalid input leaves the history untouched.
func (s *Smoother) Process(scores []float32, timestampMs int64) (Result, error) {
	if len(scores) != len(s.cfg.Labels) {
		return Result{Category: -1}, fmt.Errorf("%w: got %d scores, want %d", ErrInvalidScoreVector, len(scores), len(s.cfg.Labels))
	}
	if newest, ok := s.history.Newest(); ok && timestampMs < newest.timeMs {
		return Result{Category: -1}, fmt.Errorf("%w: %d ms after %d ms", ErrTimestampOrder, timestampMs, newest.timeMs)
	}

	slot := s.history.Next()
	copy(slot.scores, scores)
	slot.timeMs = timestampMs

	limit := timestampMs - s.cfg.HorizonMs
	for {
		oldest, ok := s.history.Oldest()
		if !ok || oldest.timeMs >= limit {
			break
		}
		s.history.DropOldest()
	}

	count := s.history.Len()
	if count < s.cfg.MinimumCount {
		return Result{Category: -1}, nil
	}

	clear(s.totals)
	for i := 0; i < count; i++ {
		for c, v := range s.history.At(i).scores {
			s.totals[c] += float64(v)
		}
	}
	if s.agg == AggregateAverage {
		for c := range s.totals {
			s.totals[c] /= float64(count)
		}
	}

	top, runnerUp := -1, -1
	for c, v := range s.totals {
		if s.reserved[c] {
			continue
		}
		switch {
		case top < 0 || v > s.totals[top]:
			top, runnerUp = c, top
		case runnerUp < 0 || v > s.totals[runnerUp]:
			runnerUp = c
		}
	}
	if top < 0 {
		return Result{Category: -1}, nil
	}

	score := s.totals[top]
	res := Result{Category: top, Label: s.cfg.Labels[top], Score: score}

	if score <= s.cfg.Threshold {
		return res, nil
	}
	if runnerUp >= 0 {
		lead := score - s.totals[runnerUp]
		if lead <= 0 || lead < s.cfg.Margin {
			return res, nil
		}
	}
	if s.hasEvent && timestampMs-s.lastEventMs < s.cfg.SuppressionMs {
		return res, nil
	}

	s.lastEventMs = timestampMs
	s.hasEvent = true
	res.IsNew = true
	return res, nil
}

// Reset forgets the history and the suppression state.
func (s *Smoother) Reset() {
	s.history.Reset()
	s.hasEvent = false
	s.lastEventMs = 0
}
