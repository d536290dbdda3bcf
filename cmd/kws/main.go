package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/config"
)

// version is set at build time by GoReleaser via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		err := xerrors.New(err)
		slog.Error("kws failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kws",
		Short:         "Streaming keyword spotter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newReplayCmd(),
		newEventsCmd(),
		newListenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig loads the configuration, installs the logger as the slog
// default and logs loader warnings.
func loadConfig() (config.Config, *slog.Logger, error) {
	loadResult, err := config.Loader{}.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := loadResult.Config

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, warn := range loadResult.Warnings {
		logger.Warn(warn)
	}
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
