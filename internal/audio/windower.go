package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"
)

// Status is the capture state reported by a Windower.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "idle"
	}
}

// maxReadErrors is how many consecutive failed reads end a capture session.
const maxReadErrors = 5

// Windower turns a Source into a stream of fixed-size SampleBuffers.
type Windower struct {
	source   Source
	size     int
	windowCh chan SampleBuffer

	status atomic.Int32
	active atomic.Bool
}

// NewWindower creates a windower producing windows of at least size samples.
// The effective size grows to the source's minimum buffer size if larger.
func NewWindower(source Source, size int) *Windower {
	if size <= 0 {
		size = WindowSize
	}
	return &Windower{
		source:   source,
		size:     size,
		windowCh: make(chan SampleBuffer, 1),
	}
}

// Windows returns the channel of captured windows. It holds at most one
// window; an unread window is replaced by the next one.
func (w *Windower) Windows() <-chan SampleBuffer {
	return w.windowCh
}

// Status reports whether capture is idle, running or unavailable.
func (w *Windower) Status() Status {
	return Status(w.status.Load())
}

// Run opens the source and publishes windows until ctx is cancelled, the
// source reaches EOF, or reads keep failing. The source is always closed
// before Run returns. An open failure returns an error wrapping
// ErrCaptureUnavailable; Run may be called again afterwards.
func (w *Windower) Run(ctx context.Context) error {
	if !w.active.CompareAndSwap(false, true) {
		return errors.New("windower already running")
	}
	defer w.active.Store(false)

	// A window left from the previous session is stale.
	select {
	case <-w.windowCh:
	default:
	}

	if err := w.source.Open(); err != nil {
		w.status.Store(int32(StatusUnavailable))
		if !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		return err
	}
	defer func() {
		if err := w.source.Close(); err != nil {
			slog.Warn("capture close failed", "err", err)
		}
		if w.Status() == StatusRunning {
			w.status.Store(int32(StatusIdle))
		}
	}()

	size := max(w.size, w.source.MinBufferSize())
	rate := w.source.SampleRate()
	buf := make([]int16, size)
	filled := 0
	failures := 0

	w.status.Store(int32(StatusRunning))
	slog.Info("capture started", "window", size, "rate", rate)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := w.source.Read(buf[filled:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			failures++
			slog.Warn("capture read failed", "err", err, "consecutive", failures)
			if failures >= maxReadErrors {
				return fmt.Errorf("capture read: %w", err)
			}
			continue
		}
		failures = 0

		filled += n
		if filled < size {
			continue
		}
		w.publish(SampleBuffer{Samples: slices.Clone(buf), SampleRate: rate})
		filled = 0
	}
}

// Supervise calls Run until ctx is cancelled, waiting retry between attempts
// whenever the source is unavailable or a session ends.
func (w *Windower) Supervise(ctx context.Context, retry time.Duration) {
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("capture stopped", "err", err, "retry_in", retry)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// publish hands b to the consumer, replacing any window it has not read yet.
func (w *Windower) publish(b SampleBuffer) {
	for {
		select {
		case w.windowCh <- b:
			return
		default:
		}
		select {
		case <-w.windowCh:
		default:
		}
	}
}
