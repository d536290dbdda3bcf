// Package pipeline drives audio through the feature window, the classifier
// and the smoother, and hands recognized commands to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/audio"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/engine"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/features"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

// Sink receives recognized commands. OnCommand must not block the loop.
type Sink interface {
	OnCommand(recognize.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(recognize.Event)

// OnCommand implements Sink.
func (f SinkFunc) OnCommand(ev recognize.Event) { f(ev) }

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

// OnCommand implements Sink.
func (m MultiSink) OnCommand(ev recognize.Event) {
	for _, s := range m {
		s.OnCommand(ev)
	}
}

// Outcome describes one Step.
type Outcome struct {
	// TimestampMs is the audio clock reading the step worked from.
	TimestampMs int64
	// Added is the number of slices the window gained.
	Added int
	// Invoked reports whether the classifier ran.
	Invoked bool
	// Warm reports whether the window held W real slices when the
	// classifier ran. Decisions made before that see zero-filled slots.
	Warm bool
	// Result is the smoother's decision; meaningful only when Invoked.
	Result recognize.Result
}

// Stats counts loop activity.
type Stats struct {
	Polls       uint64
	Slices      uint64
	Invocations uint64
	Events      uint64
	// Behind counts intervals skipped because the loop fell more than a
	// full window behind the audio clock.
	Behind uint64
}

// Options tune the loop.
type Options struct {
	// PollInterval is slept after a poll that produced no slices. Zero polls
	// continuously.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Pipeline owns the per-run state of the recognition loop. It is not safe for
// concurrent use.
type Pipeline struct {
	source   audio.Source
	window   *features.Window
	engine   engine.Engine
	smoother *recognize.Smoother
	sink     Sink

	input    []uint8
	scores   []float32
	previous int64
	stats    Stats

	pollInterval time.Duration
	log          *slog.Logger
}

// New wires the components. The engine's output must match the smoother's
// category count.
func New(src audio.Source, window *features.Window, eng engine.Engine, smoother *recognize.Smoother, sink Sink, opts Options) (*Pipeline, error) {
	if src == nil || window == nil || eng == nil || smoother == nil {
		return nil, errors.New("pipeline: source, window, engine and smoother are required")
	}
	if sink == nil {
		sink = MultiSink(nil)
	}
	if spec := eng.Spec(); spec.Categories != smoother.Categories() {
		return nil, fmt.Errorf("%w: engine scores %d categories, smoother expects %d", engine.ErrInvalidOutputShape, spec.Categories, smoother.Categories())
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("pipeline: poll interval must not be negative, got %s", opts.PollInterval)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wcfg := window.Config()
	return &Pipeline{
		source:       src,
		window:       window,
		engine:       eng,
		smoother:     smoother,
		sink:         sink,
		input:        make([]uint8, wcfg.Slices*wcfg.SliceWidth),
		scores:       make([]float32, smoother.Categories()),
		pollInterval: opts.PollInterval,
		log:          logger.With("component", "pipeline"),
	}, nil
}

// Step performs one poll of the audio clock. The classifier and smoother run
// exactly once when at least one slice arrived and not at all otherwise.
func (p *Pipeline) Step(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	p.stats.Polls++

	current := p.source.LatestTimestamp()
	added, err := p.window.Advance(p.previous, current)
	p.stats.Slices += uint64(added)
	p.stats.Behind = p.window.Stats().Skipped
	out := Outcome{TimestampMs: current, Added: added}
	if err != nil {
		return out, err
	}
	p.previous = current
	if added == 0 {
		return out, nil
	}

	if _, err := p.window.CopyTo(p.input); err != nil {
		return out, err
	}
	if err := p.engine.Classify(p.input, p.scores); err != nil {
		return out, fmt.Errorf("%w: %w", engine.ErrInference, err)
	}
	p.stats.Invocations++
	out.Invoked = true
	out.Warm = p.window.Warm()

	res, err := p.smoother.Process(p.scores, current)
	if err != nil {
		return out, err
	}
	out.Result = res

	if res.Category >= 0 {
		p.log.Debug("top category", "label", res.Label, "score", res.Score, "timestamp_ms", current, "new", res.IsNew, "warm", out.Warm)
	}
	if res.IsNew {
		p.stats.Events++
		p.sink.OnCommand(res.Event(current))
	}
	return out, nil
}

// Run polls until ctx is cancelled, a finite source is exhausted or a step
// fails. Cancellation and exhaustion return nil; step errors are returned
// as is.
func (p *Pipeline) Run(ctx context.Context) error {
	finite, _ := p.source.(audio.Finite)

	var timer *time.Timer
	if p.pollInterval > 0 {
		timer = time.NewTimer(p.pollInterval)
		defer timer.Stop()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := p.Step(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if finite != nil && finite.Exhausted() {
			p.log.Debug("source exhausted", "timestamp_ms", out.TimestampMs)
			return nil
		}
		if out.Added > 0 || timer == nil {
			continue
		}
		timer.Reset(p.pollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Reset rewinds the loop to time zero: the window, the smoother and, when
// it supports it, the engine lose all state. Used between replayed files.
func (p *Pipeline) Reset() {
	p.window.Reset()
	p.smoother.Reset()
	if r, ok := p.engine.(interface{ Reset() }); ok {
		r.Reset()
	}
	p.previous = 0
}

// Stats returns activity counters.
func (p *Pipeline) Stats() Stats { return p.stats }
