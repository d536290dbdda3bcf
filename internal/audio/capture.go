package audio

const (
	// DefaultFramesPerBuffer is the PortAudio read size, 32 ms at 16 kHz.
	DefaultFramesPerBuffer = 512
	// DefaultBufferMs is how much captured audio stays readable.
	DefaultBufferMs = 2000
)

// CaptureConfig configures live capture.
type CaptureConfig struct {
	SampleRate      int
	FramesPerBuffer int
	BufferMs        int64
	// Recorder, when set, receives a copy of every captured buffer and is
	// closed together with the source.
	Recorder *WaveRecorder
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if c.BufferMs <= 0 {
		c.BufferMs = DefaultBufferMs
	}
	return c
}
