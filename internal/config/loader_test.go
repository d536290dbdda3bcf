package config

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func envLoader(env map[string]string) Loader {
	return Loader{
		Lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		Fs: afero.NewMemMapFs(),
	}
}

func TestLoaderDefaults(t *testing.T) {
	res, err := envLoader(nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Engine != DefaultEngine {
		t.Errorf("Engine = %q, want %q", cfg.Engine, DefaultEngine)
	}
	if cfg.SliceDurationMs != 20 || cfg.SliceSpanMs != 30 || cfg.WindowSlices != 49 || cfg.SliceWidth != 40 {
		t.Errorf("window geometry = %d/%d/%d/%d", cfg.SliceDurationMs, cfg.SliceSpanMs, cfg.WindowSlices, cfg.SliceWidth)
	}
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", cfg.Threshold, DefaultThreshold)
	}
	if cfg.SuppressionMs != DefaultSuppressionMs {
		t.Errorf("SuppressionMs = %d, want %d", cfg.SuppressionMs, DefaultSuppressionMs)
	}
	if cfg.MinimumCount != DefaultMinimumCount {
		t.Errorf("MinimumCount = %d, want %d", cfg.MinimumCount, DefaultMinimumCount)
	}
	if strings.Join(cfg.Labels, ",") != "silence,unknown,yes,no" {
		t.Errorf("Labels = %v", cfg.Labels)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestDefaultsAreNotShared(t *testing.T) {
	a := Defaults()
	a.Labels[0] = "changed"
	if Defaults().Labels[0] != "silence" {
		t.Fatal("Defaults() returned a shared label slice")
	}
}

func TestLoaderYAMLFile(t *testing.T) {
	loader := envLoader(map[string]string{"NUPI_KWS_CONFIG_FILE": "/etc/kws.yaml"})
	file := `
engine: stub
labels: [silence, unknown, "on", "off", stop]
threshold: 0.6
suppression_ms: 1000
aggregation: sum
`
	if err := afero.WriteFile(loader.Fs, "/etc/kws.yaml", []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Engine != "stub" {
		t.Errorf("Engine = %q", cfg.Engine)
	}
	if len(cfg.Labels) != 5 || cfg.Labels[4] != "stop" {
		t.Errorf("Labels = %v", cfg.Labels)
	}
	if cfg.Threshold != 0.6 || cfg.SuppressionMs != 1000 || cfg.Aggregation != "sum" {
		t.Errorf("cfg = %+v", cfg)
	}
	// Unset fields keep defaults.
	if cfg.HorizonMs != DefaultHorizonMs {
		t.Errorf("HorizonMs = %d, want default %d", cfg.HorizonMs, DefaultHorizonMs)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := envLoader(map[string]string{"NUPI_KWS_CONFIG_FILE": "/missing.yaml"}).Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoaderJSON(t *testing.T) {
	loader := envLoader(map[string]string{
		"NUPI_KWS_CONFIG": `{"threshold":0.7,"minimum_count":5,"listen_addr":"localhost:9999"}`,
	})
	res, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Threshold)
	}
	if cfg.MinimumCount != 5 {
		t.Errorf("MinimumCount = %d, want 5", cfg.MinimumCount)
	}
	if cfg.ListenAddr != "localhost:9999" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "localhost:9999")
	}
}

func TestLoaderPrecedence(t *testing.T) {
	loader := envLoader(map[string]string{
		"NUPI_KWS_CONFIG_FILE":   "/kws.yaml",
		"NUPI_KWS_CONFIG":        `{"threshold":0.3,"margin":0.1}`,
		"NUPI_KWS_THRESHOLD":     "0.8",
		"NUPI_KWS_LISTEN_ADDR":   "127.0.0.1:5555",
		"NUPI_KWS_HORIZON_MS":    "800",
		"NUPI_KWS_LABELS":        "silence, unknown, go , stop",
		"NUPI_KWS_RESERVED":      "0,1",
		"NUPI_KWS_MODEL_VERSION": "3",
	})
	if err := afero.WriteFile(loader.Fs, "/kws.yaml", []byte("threshold: 0.1\nmargin: 0.05\nsuppression_ms: 900\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8 (env override)", cfg.Threshold)
	}
	if cfg.Margin != 0.1 {
		t.Errorf("Margin = %v, want 0.1 (JSON over file)", cfg.Margin)
	}
	if cfg.SuppressionMs != 900 {
		t.Errorf("SuppressionMs = %d, want 900 (file)", cfg.SuppressionMs)
	}
	if cfg.ListenAddr != "127.0.0.1:5555" || cfg.HorizonMs != 800 || cfg.ModelVersion != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Labels, "|") != "silence|unknown|go|stop" {
		t.Errorf("Labels = %q", cfg.Labels)
	}
}

func TestLoaderInvalidInput(t *testing.T) {
	cases := map[string]map[string]string{
		"bad json":           {"NUPI_KWS_CONFIG": `{bad json}`},
		"bad int":            {"NUPI_KWS_WINDOW_SLICES": "many"},
		"bad float":          {"NUPI_KWS_THRESHOLD": "high"},
		"bad reserved":       {"NUPI_KWS_RESERVED": "0,x"},
		"unknown engine":     {"NUPI_KWS_ENGINE": "tflite"},
		"onnx without model": {"NUPI_KWS_ENGINE": "onnx"},
		"span below stride":  {"NUPI_KWS_SLICE_SPAN_MS": "10"},
		"reserved range":     {"NUPI_KWS_RESERVED": "7"},
		"aggregation":        {"NUPI_KWS_AGGREGATION": "median"},
		"zero horizon":       {"NUPI_KWS_HORIZON_MS": "0"},
		"negative threshold": {"NUPI_KWS_THRESHOLD": "-0.1"},
		"tiny buffer":        {"NUPI_KWS_CAPTURE_BUFFER_MS": "10"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := envLoader(env).Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoaderWarnings(t *testing.T) {
	res, err := envLoader(map[string]string{
		"NUPI_LOG_LEVEL":            "chatty",
		"NUPI_KWS_MINIMUM_COUNT":    "80",
		"NUPI_KWS_POLL_INTERVAL_MS": "50",
	}).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 3 {
		t.Fatalf("Warnings = %q, want 3", res.Warnings)
	}
}

func TestConfigDerived(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Smoother().HistoryCapacity; got != 52 {
		t.Errorf("HistoryCapacity = %d, want 52", got)
	}
	if got := cfg.Window(); got.Slices != 49 || got.SliceSpanMs != 30 {
		t.Errorf("Window() = %+v", got)
	}
	req := cfg.Requirements()
	if req.Categories != 4 || req.Slices != 49 || req.SliceWidth != 40 {
		t.Errorf("Requirements() = %+v", req)
	}
}
