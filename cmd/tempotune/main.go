package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/tempotune/internal/audio"
	"github.com/satindergrewal/tempotune/internal/beat"
	"github.com/satindergrewal/tempotune/internal/config"
	"github.com/satindergrewal/tempotune/internal/midi"
	"github.com/satindergrewal/tempotune/internal/pitch"
	"github.com/satindergrewal/tempotune/internal/stream"
)

const captureRetry = 2 * time.Second

// initLogger installs a text slog handler on stderr as the default logger.
func initLogger(level slog.Level) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	slog.SetDefault(slog.New(h))
}

// newSource picks the capture source for the configured mode. The remote
// source is also returned when WebRTC capture is used.
func newSource(cfg config.Config) (audio.Source, *stream.RemoteSource) {
	switch cfg.Capture {
	case config.CapturePortAudio:
		return audio.NewPortAudioSource(cfg.SampleRate, audio.DefaultFramesPerBuffer), nil
	case config.CaptureFile:
		return audio.NewFileSource(cfg.CaptureFile, true, true), nil
	case config.CaptureWebRTC:
		mic := stream.NewRemoteSource(stream.OpusSampleRate)
		return mic, mic
	default:
		return nil, nil
	}
}

func main() {
	cfg := config.Load()
	initLogger(cfg.SlogLevel())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("tempotune starting up", "capture", cfg.Capture, "fft", cfg.UseFFT)

	live := config.NewLive(cfg.Settings())

	// Metronome
	sched := beat.NewScheduler()
	if err := sched.Reconfigure(cfg.Beat()); err != nil {
		slog.Error("invalid metronome config", "err", err)
		os.Exit(1)
	}
	go followSettings(ctx, live, sched)

	// Tuner
	tracker := pitch.NewTracker(pitch.NewDetector(cfg.DetectorOptions()...), live.ReferenceHz, cfg.PollInterval)
	source, mic := newSource(cfg)
	var tn *tuner
	if source != nil {
		tn = newTuner(ctx, audio.NewWindower(source, cfg.WindowSize), tracker, captureRetry)
		if cfg.TunerOnStart {
			tn.Start()
		}
	} else {
		slog.Info("capture disabled, tuner idle")
	}

	// Broadcaster: fan-out events to HTTP and WebRTC listeners
	events := stream.NewBroadcaster[stream.Event](stream.DefaultListenerBuffer)
	eventCh := make(chan stream.Event, 64)
	go events.Run(ctx, eventCh)

	// MIDI tick output (optional)
	var midiTicks chan beat.TickEvent
	if cfg.MIDIPort != "" {
		sink, err := midi.Open(cfg.MIDIPort)
		if err != nil {
			slog.Warn("midi output disabled", "err", err)
		} else {
			defer sink.Close()
			midiTicks = make(chan beat.TickEvent, 16)
			go sink.Run(ctx, midiTicks)
		}
	}

	go pumpEvents(ctx, sched, tracker, eventCh, midiTicks)

	webrtcHandler := stream.NewWebRTCHandler(events, mic)
	defer webrtcHandler.Close()

	a := &api{
		sched:   sched,
		live:    live,
		tracker: tracker,
		tuner:   tn,
		events:  events,
		webrtc:  webrtcHandler,
		now:     time.Now,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: a.routes()}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		sched.Stop()
		if tn != nil {
			tn.Stop()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("tempotune live", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("HTTP server error", "err", err)
		os.Exit(1)
	}
}
