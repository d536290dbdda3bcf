package engine

import "fmt"

// StubToggleInterval is the number of invocations after which the stub engine
// toggles between silence and a command. At one invocation per 20 ms slice,
// 50 invocations = 1 second.
const StubToggleInterval = 50

// StubConfidence is the score the stub engine gives its current category.
const StubConfidence float32 = 0.9

// stubBackground is the score of every other category.
const stubBackground float32 = 0.02

// StubEngine returns deterministic scores by alternating between silence
// (category 0) and a command every StubToggleInterval invocations. Commands
// rotate through categories 2 and up; category 1 (unknown) is never chosen.
// It does not look at the input.
type StubEngine struct {
	spec     ModelSpec
	counter  int
	speaking bool
	command  int
}

// NewStubEngine creates a StubEngine whose spec satisfies req.
func NewStubEngine(req Requirements) *StubEngine {
	return &StubEngine{
		spec: ModelSpec{
			Version:    req.Version,
			InputShape: []int64{1, int64(req.Slices), int64(req.SliceWidth)},
			InputType:  DataTypeUint8,
			Categories: req.Categories,
		},
		command: 1,
	}
}

// Spec implements Engine.
func (e *StubEngine) Spec() ModelSpec { return e.spec }

// Classify ignores the input and scores the current category.
func (e *StubEngine) Classify(_ []uint8, scores []float32) error {
	if len(scores) != e.spec.Categories {
		return fmt.Errorf("stub: score buffer holds %d values, want %d", len(scores), e.spec.Categories)
	}
	e.counter++
	if e.counter >= StubToggleInterval {
		e.counter = 0
		e.speaking = !e.speaking
		if e.speaking {
			e.command = e.nextCommand()
		}
	}

	active := 0
	if e.speaking {
		active = e.command
	}
	for i := range scores {
		scores[i] = stubBackground
	}
	if active < len(scores) {
		scores[active] = StubConfidence
	}
	return nil
}

func (e *StubEngine) nextCommand() int {
	if e.spec.Categories <= 2 {
		return 0
	}
	next := e.command + 1
	if next >= e.spec.Categories {
		next = 2
	}
	return next
}

// Reset returns the engine to its initial state (silence, counter zero).
func (e *StubEngine) Reset() {
	e.counter = 0
	e.speaking = false
	e.command = 1
}

// Close is a no-op for the stub engine.
func (e *StubEngine) Close() error {
	return nil
}
