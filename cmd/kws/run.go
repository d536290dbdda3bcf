package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/audio"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/config"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/display"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/eventlog"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/pipeline"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/server"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen to the default microphone and report commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLive(ctx)
		},
	}
}

func runLive(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting recognizer",
		"version", version,
		"engine_config", cfg.Engine,
		"listen_addr", cfg.ListenAddr,
		"labels", cfg.Labels,
		"threshold", cfg.Threshold,
		"suppression_ms", cfg.SuppressionMs,
	)

	// Bind first so health checks see NOT_SERVING while the engine loads.
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	defer lis.Close()
	logger.Info("listener bound, port ready", "addr", lis.Addr().String())

	broadcaster := server.NewBroadcaster(logger, server.DefaultSubscriberBuffer)
	srv := server.New(broadcaster, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil {
			serverErr <- err
		}
	}()
	defer srv.Stop(server.DefaultStopTimeout)
	logger.Info("gRPC server started (NOT_SERVING while initializing)")

	eng, kind, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	sinks := pipeline.MultiSink{display.NewConsole(logger), broadcaster}
	if cfg.EventLogPath != "" {
		store, err := eventlog.Open(ctx, cfg.EventLogPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("persisting commands", "path", cfg.EventLogPath, "run_id", store.RunID())
		sinks = append(sinks, store)
	}

	var recorder *audio.WaveRecorder
	if cfg.RecordPath != "" {
		if recorder, err = audio.NewWaveRecorder(afero.NewOsFs(), cfg.RecordPath, cfg.SampleRate); err != nil {
			return err
		}
	}
	src, err := audio.NewCaptureSource(audio.CaptureConfig{
		SampleRate: cfg.SampleRate,
		BufferMs:   int64(cfg.CaptureBufferMs),
		Recorder:   recorder,
	}, logger)
	if err != nil {
		if recorder != nil {
			recorder.Close()
		}
		return err
	}
	defer src.Close()

	p, err := newPipeline(cfg, logger, src, eng, sinks)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(runCtx) }()

	srv.SetServing(true)
	logger.Info("recognizer ready", "engine", kind)

	select {
	case err = <-serverErr:
		cancel()
		<-runErr
		err = fmt.Errorf("gRPC server terminated: %w", err)
	case err = <-runErr:
	}
	srv.SetServing(false)

	logStats(logger, "recognizer stopped", p.Stats(), "dropped_deliveries", broadcaster.Dropped())
	return err
}

func newReplayCmd() *cobra.Command {
	var passes int
	cmd := &cobra.Command{
		Use:   "replay <file.wav>...",
		Short: "Run WAV recordings through the recognizer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return replay(ctx, cfg, logger.With("component", "replay"), afero.NewOsFs(), args, passes)
		},
	}
	cmd.Flags().IntVar(&passes, "passes", 1, "number of times each file is replayed")
	return cmd
}

// replay runs each file through a fresh recognizer, rewinding between passes.
func replay(ctx context.Context, cfg config.Config, logger *slog.Logger, fs afero.Fs, paths []string, passes int) error {
	if passes < 1 {
		return fmt.Errorf("passes must be at least 1, got %d", passes)
	}

	eng, _, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	sinks := pipeline.MultiSink{display.NewConsole(logger)}
	if cfg.EventLogPath != "" {
		store, err := eventlog.Open(ctx, cfg.EventLogPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	for _, path := range paths {
		src, err := audio.OpenWAV(fs, path, int64(cfg.ReplayStepMs))
		if err != nil {
			return err
		}
		if src.SampleRate() != cfg.SampleRate {
			return fmt.Errorf("%s: sample rate %d Hz, recognizer expects %d Hz", path, src.SampleRate(), cfg.SampleRate)
		}

		var heard []string
		fileSinks := append(pipeline.MultiSink{pipeline.SinkFunc(func(ev recognize.Event) {
			heard = append(heard, ev.Label)
		})}, sinks...)
		p, err := newPipeline(cfg, logger, src, eng, fileSinks)
		if err != nil {
			return err
		}

		for pass := 0; pass < passes; pass++ {
			if pass > 0 {
				src.Rewind()
			}
			// The engine is shared across files; each pass starts from its
			// initial state.
			p.Reset()
			if err := p.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		logStats(logger, "replayed", p.Stats(), "file", path, "duration_ms", src.DurationMs(), "heard", heard)
	}
	return nil
}
