package audio

import (
	"errors"
	"time"
)

const (
	SampleRate = 44100
	Channels   = 1
	BitDepth   = 16
	WindowSize = 4096 // samples per analysis window
)

// ErrCaptureUnavailable is returned when a capture source cannot be opened.
// It is not fatal: the caller may retry.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// SampleBuffer is one window of mono 16-bit PCM.
// Treat Samples as read-only once the buffer has been published.
type SampleBuffer struct {
	Samples    []int16
	SampleRate int
}

// Len returns the number of samples in the window.
func (b SampleBuffer) Len() int {
	return len(b.Samples)
}

// Duration returns the wall-clock length of the window.
func (b SampleBuffer) Duration() time.Duration {
	return WindowPeriod(len(b.Samples), b.SampleRate)
}

// WindowPeriod returns how long it takes to capture n samples at rate Hz.
func WindowPeriod(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// Source is a live mono PCM input.
type Source interface {
	// Open acquires the device. Failures should wrap ErrCaptureUnavailable.
	Open() error
	// Read fills buf with up to len(buf) samples. It blocks for at most one
	// buffer period and returns 0, nil when nothing arrived in time.
	Read(buf []int16) (int, error)
	// SampleRate is the capture rate in Hz.
	SampleRate() int
	// MinBufferSize is the smallest read size the device supports, or 0.
	MinBufferSize() int
	// Close releases the device. Safe to call more than once.
	Close() error
}
