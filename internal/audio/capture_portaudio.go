//go:build portaudio

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureAvailable reports that PortAudio capture is compiled in.
func CaptureAvailable() bool { return true }

// PortAudioSource captures the default input device into a SampleBuffer on
// a background goroutine.
type PortAudioSource struct {
	*SampleBuffer

	stream   *portaudio.Stream
	in       []int16
	recorder *WaveRecorder
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewCaptureSource opens the default input device and starts capturing.
func NewCaptureSource(cfg CaptureConfig, logger *slog.Logger) (CaptureSource, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: portaudio init: %w", err)
	}

	in := make([]int16, cfg.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(in), in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("audio: start input stream: %w", err)
	}

	s := &PortAudioSource{
		SampleBuffer: NewSampleBuffer(cfg.SampleRate, cfg.BufferMs),
		stream:       stream,
		in:           in,
		recorder:     cfg.Recorder,
		log:          logger.With("component", "capture"),
		done:         make(chan struct{}),
	}
	s.wg.Add(1)
	go s.captureLoop()
	return s, nil
}

func (s *PortAudioSource) captureLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.log.Warn("input overflowed, samples lost")
			} else {
				s.log.Error("capture read failed", "error", err)
				return
			}
		}
		s.Write(s.in)
		if s.recorder != nil {
			if err := s.recorder.Write(s.in); err != nil {
				s.log.Warn("recording write failed", "error", err)
			}
		}
	}
}

// Close stops capture and releases the device. Safe to call multiple times.
func (s *PortAudioSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
		if s.recorder != nil {
			err = errors.Join(err, s.recorder.Close())
		}
	})
	return err
}
