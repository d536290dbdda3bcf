package config

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/engine"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/features"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

const (
	DefaultListenAddr      = "localhost:0"
	DefaultEngine          = "auto"
	DefaultSampleRate      = 16000
	DefaultSliceDurationMs = 20
	DefaultSliceSpanMs     = 30
	DefaultWindowSlices    = 49
	DefaultSliceWidth      = 40
	DefaultHorizonMs       = 1000
	DefaultThreshold       = 200.0 / 255
	DefaultMargin          = 0
	DefaultSuppressionMs   = 1500
	DefaultMinimumCount    = 3
	DefaultAggregation     = string(recognize.AggregateAverage)
	DefaultCaptureBufferMs = 2000
	DefaultReplayStepMs    = 10
)

// DefaultLabels are the categories of the stock speech-commands model.
var DefaultLabels = []string{"silence", "unknown", "yes", "no"}

// DefaultReserved marks silence and unknown as non-commands.
var DefaultReserved = []int{0, 1}

// Config holds the recognizer configuration.
type Config struct {
	LogLevel   string `json:"log_level" yaml:"log_level"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// Engine is "auto", "onnx" or "stub".
	Engine       string `json:"engine" yaml:"engine"`
	ModelPath    string `json:"model_path" yaml:"model_path"`
	ModelVersion int64  `json:"model_version" yaml:"model_version"`

	SampleRate      int `json:"sample_rate" yaml:"sample_rate"`
	CaptureBufferMs int `json:"capture_buffer_ms" yaml:"capture_buffer_ms"`
	ReplayStepMs    int `json:"replay_step_ms" yaml:"replay_step_ms"`

	SliceDurationMs int64 `json:"slice_duration_ms" yaml:"slice_duration_ms"`
	SliceSpanMs     int64 `json:"slice_span_ms" yaml:"slice_span_ms"`
	WindowSlices    int   `json:"window_slices" yaml:"window_slices"`
	SliceWidth      int   `json:"slice_width" yaml:"slice_width"`

	Labels        []string `json:"labels" yaml:"labels"`
	Reserved      []int    `json:"reserved" yaml:"reserved"`
	HorizonMs     int64    `json:"horizon_ms" yaml:"horizon_ms"`
	Threshold     float64  `json:"threshold" yaml:"threshold"`
	Margin        float64  `json:"margin" yaml:"margin"`
	SuppressionMs int64    `json:"suppression_ms" yaml:"suppression_ms"`
	MinimumCount  int      `json:"minimum_count" yaml:"minimum_count"`
	Aggregation   string   `json:"aggregation" yaml:"aggregation"`

	// PollIntervalMs is the pause between polls that produced no slices.
	// Zero polls continuously.
	PollIntervalMs int `json:"poll_interval_ms" yaml:"poll_interval_ms"`

	EventLogPath string `json:"event_log" yaml:"event_log"`
	RecordPath   string `json:"record_path" yaml:"record_path"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		Engine:          DefaultEngine,
		SampleRate:      DefaultSampleRate,
		CaptureBufferMs: DefaultCaptureBufferMs,
		ReplayStepMs:    DefaultReplayStepMs,
		SliceDurationMs: DefaultSliceDurationMs,
		SliceSpanMs:     DefaultSliceSpanMs,
		WindowSlices:    DefaultWindowSlices,
		SliceWidth:      DefaultSliceWidth,
		Labels:          append([]string(nil), DefaultLabels...),
		Reserved:        append([]int(nil), DefaultReserved...),
		HorizonMs:       DefaultHorizonMs,
		Threshold:       DefaultThreshold,
		Margin:          DefaultMargin,
		SuppressionMs:   DefaultSuppressionMs,
		MinimumCount:    DefaultMinimumCount,
		Aggregation:     DefaultAggregation,
	}
}

// Validate checks every tunable.
func (c Config) Validate() error {
	switch c.Engine {
	case "auto", "onnx", "stub":
	default:
		return fmt.Errorf("config: unknown engine %q (want auto, onnx or stub)", c.Engine)
	}
	if c.Engine == "onnx" && strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("config: engine onnx requires model_path")
	}
	if c.ModelVersion < 0 {
		return fmt.Errorf("config: model_version must not be negative, got %d", c.ModelVersion)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.CaptureBufferMs <= 0 {
		return fmt.Errorf("config: capture_buffer_ms must be positive, got %d", c.CaptureBufferMs)
	}
	if c.ReplayStepMs <= 0 {
		return fmt.Errorf("config: replay_step_ms must be positive, got %d", c.ReplayStepMs)
	}
	if c.PollIntervalMs < 0 {
		return fmt.Errorf("config: poll_interval_ms must not be negative, got %d", c.PollIntervalMs)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("config: threshold must not be negative, got %v", c.Threshold)
	}
	if err := c.Window().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if int64(c.CaptureBufferMs) < c.SliceSpanMs {
		return fmt.Errorf("config: capture_buffer_ms %d is shorter than slice_span_ms %d", c.CaptureBufferMs, c.SliceSpanMs)
	}
	if err := c.Smoother().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Window returns the feature window configuration.
func (c Config) Window() features.Config {
	return features.Config{
		SliceDurationMs: c.SliceDurationMs,
		SliceSpanMs:     c.SliceSpanMs,
		Slices:          c.WindowSlices,
		SliceWidth:      c.SliceWidth,
	}
}

// Smoother returns the smoothing policy. The history holds every result
// that fits in the horizon plus headroom for jitter.
func (c Config) Smoother() recognize.Config {
	capacity := 2
	if c.SliceDurationMs > 0 {
		capacity += int(c.HorizonMs / c.SliceDurationMs)
	}
	return recognize.Config{
		Labels:          c.Labels,
		Reserved:        c.Reserved,
		HorizonMs:       c.HorizonMs,
		Threshold:       c.Threshold,
		Margin:          c.Margin,
		SuppressionMs:   c.SuppressionMs,
		MinimumCount:    c.MinimumCount,
		Aggregation:     recognize.Aggregation(strings.ToLower(strings.TrimSpace(c.Aggregation))),
		HistoryCapacity: capacity,
	}
}

// Requirements returns what a model must accept and produce.
func (c Config) Requirements() engine.Requirements {
	return engine.Requirements{
		Version:    c.ModelVersion,
		Slices:     c.WindowSlices,
		SliceWidth: c.SliceWidth,
		Categories: len(c.Labels),
	}
}
