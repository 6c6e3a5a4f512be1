package pitch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/tempotune/internal/audio"
)

// DefaultPollInterval paces readings while the tracker runs.
const DefaultPollInterval = 20 * time.Millisecond

// ReferenceFunc returns the current reference pitch. It is read once per window.
type ReferenceFunc func() int

// Tracker turns windows into smoothed readings.
type Tracker struct {
	detector  *Detector
	reference ReferenceFunc
	interval  time.Duration

	mu       sync.Mutex // guards smoother and detector
	smoother Smoother

	latest   atomic.Pointer[Reading]
	readings chan Reading
	running  atomic.Bool
}

// NewTracker creates a tracker. A nil reference func means 440 Hz.
func NewTracker(d *Detector, reference ReferenceFunc, interval time.Duration) *Tracker {
	if d == nil {
		d = NewDetector()
	}
	if reference == nil {
		reference = func() int { return DefaultReferenceHz }
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := &Tracker{
		detector:  d,
		reference: reference,
		interval:  interval,
		readings:  make(chan Reading, 1),
	}
	none := None()
	t.latest.Store(&none)
	return t
}

// Readings returns the latest-value channel of readings. A slow consumer
// sees only the newest reading.
func (t *Tracker) Readings() <-chan Reading {
	return t.readings
}

// Latest returns the last published reading.
func (t *Tracker) Latest() Reading {
	return *t.latest.Load()
}

// Running reports whether Run is active.
func (t *Tracker) Running() bool {
	return t.running.Load()
}

// Run polls windows every interval until ctx is cancelled. A new window is
// analysed and folded into the history. Every tick republishes the current
// reading so consumers see a steady stream. The history is cleared on exit.
func (t *Tracker) Run(ctx context.Context, windows <-chan audio.SampleBuffer) {
	if !t.running.CompareAndSwap(false, true) {
		slog.Warn("tuner already running")
		return
	}
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.reset()

	slog.Info("tuner started", "interval", t.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("tuner stopped")
			return
		case <-ticker.C:
		}

		select {
		case w, ok := <-windows:
			if !ok {
				slog.Info("tuner input closed")
				return
			}
			t.Process(w)
		default:
		}

		t.publish(t.Latest())
	}
}

// Process analyses one window and returns the resulting reading. A panic from
// a malformed window is logged and the previous reading kept.
func (t *Tracker) Process(w audio.SampleBuffer) (r Reading) {
	r = t.Latest()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("pitch detection failed", "panic", p, "samples", len(w.Samples))
		}
	}()

	r = Map(t.detect(w), t.reference())
	t.latest.Store(&r)
	return r
}

func (t *Tracker) detect(w audio.SampleBuffer) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.smoother.Update(t.detector.Detect(w))
}

func (t *Tracker) publish(r Reading) {
	select {
	case t.readings <- r:
		return
	default:
	}
	// Full: replace the stale reading.
	select {
	case <-t.readings:
	default:
	}
	select {
	case t.readings <- r:
	default:
	}
}

func (t *Tracker) reset() {
	t.mu.Lock()
	t.smoother.Reset()
	t.mu.Unlock()
	none := None()
	t.latest.Store(&none)
}
