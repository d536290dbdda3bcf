//go:build !portaudio

package audio

import (
	"errors"
	"log/slog"
)

// ErrCaptureUnavailable indicates live capture is not compiled in.
var ErrCaptureUnavailable = errors.New("audio: portaudio capture not available (build without -tags portaudio)")

// CaptureAvailable reports that no live capture backend is compiled in.
func CaptureAvailable() bool { return false }

// NewCaptureSource returns an error when built without the portaudio tag.
func NewCaptureSource(_ CaptureConfig, _ *slog.Logger) (CaptureSource, error) {
	return nil, ErrCaptureUnavailable
}
