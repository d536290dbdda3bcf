// Package display reports recognized commands to the operator.
package display

import (
	"log/slog"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

// Console logs every recognized command at info level.
type Console struct {
	log *slog.Logger
}

// NewConsole returns a Console writing through logger.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{log: logger.With("component", "display")}
}

// OnCommand implements pipeline.Sink.
func (c *Console) OnCommand(ev recognize.Event) {
	c.log.Info("heard command",
		"label", ev.Label,
		"category", ev.Category,
		"confidence", ev.Confidence,
		"timestamp_ms", ev.TimestampMs,
	)
}
