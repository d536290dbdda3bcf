package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// LoadResult is a validated configuration plus non-fatal findings the
// caller should log.
type LoadResult struct {
	Config   Config
	Warnings []string
}

// Loader loads configuration from an optional YAML file, a JSON blob and
// individual environment variables, in increasing precedence. Tests can
// override Lookup and Fs to inject deterministic sources.
type Loader struct {
	Lookup func(string) (string, bool)
	Fs     afero.Fs
}

// overlay mirrors Config with optional fields so a source only replaces
// what it sets.
type overlay struct {
	LogLevel        *string  `json:"log_level" yaml:"log_level"`
	ListenAddr      *string  `json:"listen_addr" yaml:"listen_addr"`
	Engine          *string  `json:"engine" yaml:"engine"`
	ModelPath       *string  `json:"model_path" yaml:"model_path"`
	ModelVersion    *int64   `json:"model_version" yaml:"model_version"`
	SampleRate      *int     `json:"sample_rate" yaml:"sample_rate"`
	CaptureBufferMs *int     `json:"capture_buffer_ms" yaml:"capture_buffer_ms"`
	ReplayStepMs    *int     `json:"replay_step_ms" yaml:"replay_step_ms"`
	SliceDurationMs *int64   `json:"slice_duration_ms" yaml:"slice_duration_ms"`
	SliceSpanMs     *int64   `json:"slice_span_ms" yaml:"slice_span_ms"`
	WindowSlices    *int     `json:"window_slices" yaml:"window_slices"`
	SliceWidth      *int     `json:"slice_width" yaml:"slice_width"`
	Labels          []string `json:"labels" yaml:"labels"`
	Reserved        []int    `json:"reserved" yaml:"reserved"`
	HorizonMs       *int64   `json:"horizon_ms" yaml:"horizon_ms"`
	Threshold       *float64 `json:"threshold" yaml:"threshold"`
	Margin          *float64 `json:"margin" yaml:"margin"`
	SuppressionMs   *int64   `json:"suppression_ms" yaml:"suppression_ms"`
	MinimumCount    *int     `json:"minimum_count" yaml:"minimum_count"`
	Aggregation     *string  `json:"aggregation" yaml:"aggregation"`
	PollIntervalMs  *int     `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	EventLogPath    *string  `json:"event_log" yaml:"event_log"`
	RecordPath      *string  `json:"record_path" yaml:"record_path"`
}

// Load retrieves the configuration.
func (l Loader) Load() (LoadResult, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.Fs == nil {
		l.Fs = afero.NewOsFs()
	}

	cfg := Defaults()

	if path, ok := l.Lookup("NUPI_KWS_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := l.applyFile(strings.TrimSpace(path), &cfg); err != nil {
			return LoadResult{}, err
		}
	}

	if raw, ok := l.Lookup("NUPI_KWS_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		var payload overlay
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return LoadResult{}, fmt.Errorf("config: decode NUPI_KWS_CONFIG: %w", err)
		}
		payload.apply(&cfg)
	}

	if err := l.applyEnv(&cfg); err != nil {
		return LoadResult{}, err
	}

	if err := cfg.Validate(); err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Config: cfg, Warnings: warnings(cfg)}, nil
}

func (l Loader) applyFile(path string, cfg *Config) error {
	data, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var payload overlay
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	payload.apply(cfg)
	return nil
}

func (l Loader) applyEnv(cfg *Config) error {
	overrideString(l.Lookup, "NUPI_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "NUPI_KWS_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "NUPI_KWS_ENGINE", &cfg.Engine)
	overrideString(l.Lookup, "NUPI_KWS_MODEL_PATH", &cfg.ModelPath)
	overrideString(l.Lookup, "NUPI_KWS_AGGREGATION", &cfg.Aggregation)
	overrideString(l.Lookup, "NUPI_KWS_EVENT_LOG", &cfg.EventLogPath)
	overrideString(l.Lookup, "NUPI_KWS_RECORD_PATH", &cfg.RecordPath)
	overrideList(l.Lookup, "NUPI_KWS_LABELS", &cfg.Labels)

	ints := []struct {
		key    string
		target *int
	}{
		{"NUPI_KWS_SAMPLE_RATE", &cfg.SampleRate},
		{"NUPI_KWS_CAPTURE_BUFFER_MS", &cfg.CaptureBufferMs},
		{"NUPI_KWS_REPLAY_STEP_MS", &cfg.ReplayStepMs},
		{"NUPI_KWS_WINDOW_SLICES", &cfg.WindowSlices},
		{"NUPI_KWS_SLICE_WIDTH", &cfg.SliceWidth},
		{"NUPI_KWS_MINIMUM_COUNT", &cfg.MinimumCount},
		{"NUPI_KWS_POLL_INTERVAL_MS", &cfg.PollIntervalMs},
	}
	for _, o := range ints {
		if err := overrideInt(l.Lookup, o.key, o.target); err != nil {
			return err
		}
	}

	int64s := []struct {
		key    string
		target *int64
	}{
		{"NUPI_KWS_MODEL_VERSION", &cfg.ModelVersion},
		{"NUPI_KWS_SLICE_DURATION_MS", &cfg.SliceDurationMs},
		{"NUPI_KWS_SLICE_SPAN_MS", &cfg.SliceSpanMs},
		{"NUPI_KWS_HORIZON_MS", &cfg.HorizonMs},
		{"NUPI_KWS_SUPPRESSION_MS", &cfg.SuppressionMs},
	}
	for _, o := range int64s {
		if err := overrideInt64(l.Lookup, o.key, o.target); err != nil {
			return err
		}
	}

	if err := overrideFloat(l.Lookup, "NUPI_KWS_THRESHOLD", &cfg.Threshold); err != nil {
		return err
	}
	if err := overrideFloat(l.Lookup, "NUPI_KWS_MARGIN", &cfg.Margin); err != nil {
		return err
	}
	return overrideIntList(l.Lookup, "NUPI_KWS_RESERVED", &cfg.Reserved)
}

func (o overlay) apply(cfg *Config) {
	setIf(o.LogLevel, &cfg.LogLevel)
	setIf(o.ListenAddr, &cfg.ListenAddr)
	setIf(o.Engine, &cfg.Engine)
	setIf(o.ModelPath, &cfg.ModelPath)
	setIf(o.ModelVersion, &cfg.ModelVersion)
	setIf(o.SampleRate, &cfg.SampleRate)
	setIf(o.CaptureBufferMs, &cfg.CaptureBufferMs)
	setIf(o.ReplayStepMs, &cfg.ReplayStepMs)
	setIf(o.SliceDurationMs, &cfg.SliceDurationMs)
	setIf(o.SliceSpanMs, &cfg.SliceSpanMs)
	setIf(o.WindowSlices, &cfg.WindowSlices)
	setIf(o.SliceWidth, &cfg.SliceWidth)
	setIf(o.HorizonMs, &cfg.HorizonMs)
	setIf(o.Threshold, &cfg.Threshold)
	setIf(o.Margin, &cfg.Margin)
	setIf(o.SuppressionMs, &cfg.SuppressionMs)
	setIf(o.MinimumCount, &cfg.MinimumCount)
	setIf(o.Aggregation, &cfg.Aggregation)
	setIf(o.PollIntervalMs, &cfg.PollIntervalMs)
	setIf(o.EventLogPath, &cfg.EventLogPath)
	setIf(o.RecordPath, &cfg.RecordPath)
	if o.Labels != nil {
		cfg.Labels = o.Labels
	}
	if o.Reserved != nil {
		cfg.Reserved = o.Reserved
	}
}

func setIf[T any](value *T, target *T) {
	if value != nil {
		*target = *value
	}
}

// warnings reports settings that are valid but probably not intended.
func warnings(cfg Config) []string {
	var out []string
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		out = append(out, fmt.Sprintf("unknown log_level %q, using info", cfg.LogLevel))
	}
	if cfg.SliceDurationMs > 0 && int64(cfg.MinimumCount) > cfg.HorizonMs/cfg.SliceDurationMs+1 {
		out = append(out, fmt.Sprintf("minimum_count %d exceeds the results a %d ms horizon can hold; no command will ever be recognized", cfg.MinimumCount, cfg.HorizonMs))
	}
	if int64(cfg.PollIntervalMs) > cfg.SliceDurationMs {
		out = append(out, fmt.Sprintf("poll_interval_ms %d is longer than slice_duration_ms %d; several slices will arrive per invocation", cfg.PollIntervalMs, cfg.SliceDurationMs))
	}
	if cfg.Engine != "onnx" && cfg.ModelPath == "" && cfg.ModelVersion != 0 {
		out = append(out, "model_version is set but no model_path is configured")
	}
	return out
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideList(lookup func(string) (string, bool), key string, target *[]string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*target = items
	}
}

func overrideIntList(lookup func(string) (string, bool), key string, target *[]int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		var items []int
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			parsed, err := strconv.Atoi(item)
			if err != nil {
				return fmt.Errorf("config: invalid value for %s: %w", key, err)
			}
			items = append(items, parsed)
		}
		*target = items
	}
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt64(lookup func(string) (string, bool), key string, target *int64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
