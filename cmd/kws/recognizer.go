package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/audio"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/config"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/engine"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/features"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/pipeline"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

// openEngine resolves "auto" to what is compiled in and working, probes the
// model and checks it against the configured window and labels.
func openEngine(cfg config.Config, logger *slog.Logger) (engine.Engine, string, error) {
	req := cfg.Requirements()
	resolved := cfg.Engine
	isAutoMode := resolved == "auto"

	if isAutoMode {
		switch {
		case !engine.NativeAvailable():
			resolved = "stub"
			logger.Warn("auto-detected engine: stub (native onnx not compiled in, build with -tags onnx for production)")
		case cfg.ModelPath == "":
			resolved = "stub"
			logger.Warn("auto-detected engine: stub (no model_path configured)")
		default:
			resolved = "onnx"
		}
	}

	if resolved == "onnx" {
		if !engine.NativeAvailable() {
			return nil, "", fmt.Errorf("engine %q requested but native backend not compiled in (build with -tags onnx): %w", resolved, engine.ErrNativeUnavailable)
		}
		eng, err := engine.NewNativeEngine(cfg.ModelPath)
		if err == nil {
			if err = engine.CheckModel(eng.Spec(), req); err != nil {
				eng.Close()
			}
		}
		if err == nil {
			spec := eng.Spec()
			logger.Info("engine ready", "type", "onnx", "model", cfg.ModelPath, "model_version", spec.Version, "input_shape", spec.InputShape)
			return eng, "onnx", nil
		}
		if !isAutoMode || os.Getenv("NUPI_DEV_MODE") != "1" {
			if isAutoMode {
				logger.Error("hint: set NUPI_DEV_MODE=1 to allow fallback to stub engine")
			}
			return nil, "", fmt.Errorf("native engine probe failed: %w", err)
		}
		logger.Warn("native engine probe failed, falling back to stub engine (NUPI_DEV_MODE=1)",
			"error", err,
			"hint", "unset NUPI_DEV_MODE for production behavior")
	}

	logger.Warn("using stub engine, scores are deterministic and NOT based on audio content")
	return engine.NewStubEngine(req), "stub", nil
}

// newPipeline builds the window, the smoother and the loop around src.
func newPipeline(cfg config.Config, logger *slog.Logger, src audio.Source, eng engine.Engine, sink pipeline.Sink) (*pipeline.Pipeline, error) {
	extractor, err := features.NewSpectrumExtractor(src, features.SpectrumConfig{
		SampleRate: cfg.SampleRate,
		SpanMs:     cfg.SliceSpanMs,
		Width:      cfg.SliceWidth,
	})
	if err != nil {
		return nil, err
	}
	window, err := features.NewWindow(cfg.Window(), extractor)
	if err != nil {
		return nil, err
	}
	smoother, err := recognize.NewSmoother(cfg.Smoother())
	if err != nil {
		return nil, err
	}
	return pipeline.New(src, window, eng, smoother, sink, pipeline.Options{
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		Logger:       logger,
	})
}

func logStats(logger *slog.Logger, msg string, stats pipeline.Stats, attrs ...any) {
	logger.Info(msg, append(attrs,
		"polls", stats.Polls,
		"slices", stats.Slices,
		"invocations", stats.Invocations,
		"events", stats.Events,
		"behind", stats.Behind,
	)...)
}
