package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/tempotune/internal/audio"
	"github.com/satindergrewal/tempotune/internal/pitch"
)

// tuner runs capture and pitch tracking on demand. The capture device is
// held only between Start and Stop.
type tuner struct {
	base     context.Context
	windower *audio.Windower
	tracker  *pitch.Tracker
	retry    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newTuner(base context.Context, w *audio.Windower, tr *pitch.Tracker, retry time.Duration) *tuner {
	return &tuner{base: base, windower: w, tracker: tr, retry: retry}
}

// Start begins listening. It reports false when the tuner was already running.
func (t *tuner) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(t.base)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	var g errgroup.Group
	g.Go(func() error {
		t.windower.Supervise(ctx, t.retry)
		return nil
	})
	g.Go(func() error {
		t.tracker.Run(ctx, t.windower.Windows())
		return nil
	})
	go func() {
		g.Wait()
		close(done)
	}()

	slog.Info("tuner listening")
	return true
}

// Stop cancels capture and tracking and waits until the device is released.
// It reports false when the tuner was not running.
func (t *tuner) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil

	slog.Info("tuner released capture")
	return true
}

// Running reports whether the tuner is listening.
func (t *tuner) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
