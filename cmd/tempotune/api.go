package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/satindergrewal/tempotune/internal/beat"
	"github.com/satindergrewal/tempotune/internal/config"
	"github.com/satindergrewal/tempotune/internal/pitch"
	"github.com/satindergrewal/tempotune/internal/stream"
)

// api serves the control endpoints.
type api struct {
	sched   *beat.Scheduler
	live    *config.Live
	tracker *pitch.Tracker
	tuner   *tuner // nil when capture is disabled
	events  *stream.Broadcaster[stream.Event]
	webrtc  *stream.WebRTCHandler
	now     func() time.Time

	tapMu sync.Mutex
	tap   beat.TapTempo
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/start", a.handleStart)
	mux.HandleFunc("/api/stop", a.handleStop)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/tap", a.handleTap)
	mux.HandleFunc("/api/tuner/start", a.handleTunerStart)
	mux.HandleFunc("/api/tuner/stop", a.handleTunerStop)
	mux.Handle("/events", stream.NewHTTPHandler(a.events))
	if a.webrtc != nil {
		mux.Handle("/offer", a.webrtc)
	}
	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	capture := "none"
	listening := false
	if a.tuner != nil {
		capture = a.tuner.windower.Status().String()
		listening = a.tuner.Running()
	}
	peers, micPeer := 0, ""
	if a.webrtc != nil {
		peers = a.webrtc.PeerCount()
		micPeer = a.webrtc.MicPeer()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":          a.sched.State(),
		"config":         a.live.Snapshot(),
		"pitch":          a.tracker.Latest(),
		"capture":        capture,
		"tuner":          listening,
		"http_listeners": a.events.ListenerCount(),
		"webrtc_peers":   peers,
		"mic_peer":       micPeer,
	})
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := a.sched.Start(a.live.Snapshot().Beat); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": a.sched.State()})
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	a.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": a.sched.State()})
}

func (a *api) handleTunerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if a.tuner == nil {
		http.Error(w, "capture disabled", http.StatusConflict)
		return
	}
	a.tuner.Start()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tuner": a.tuner.Running()})
}

func (a *api) handleTunerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if a.tuner == nil {
		http.Error(w, "capture disabled", http.StatusConflict)
		return
	}
	a.tuner.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tuner": a.tuner.Running()})
}

func (a *api) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		BPM          *int `json:"bpm"`
		BeatsPerBar  *int `json:"beats_per_bar"`
		Subdivisions *int `json:"subdivisions"`
		ReferenceHz  *int `json:"reference_hz"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	err := a.live.Update(func(s *config.Settings) {
		if req.BPM != nil {
			s.Beat.BPM = *req.BPM
		}
		if req.BeatsPerBar != nil {
			s.Beat.BeatsPerBar = *req.BeatsPerBar
		}
		if req.Subdivisions != nil {
			s.Beat.Subdivisions = *req.Subdivisions
		}
		if req.ReferenceHz != nil {
			s.ReferenceHz = *req.ReferenceHz
		}
	})
	if errors.Is(err, beat.ErrInvalidConfig) || errors.Is(err, pitch.ErrInvalidReference) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": a.live.Snapshot()})
}

func (a *api) handleTap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	a.tapMu.Lock()
	bpm, ok := a.tap.Tap(a.now())
	a.tapMu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bpm": nil})
		return
	}
	bpm = config.ClampBPM(bpm)
	if err := a.live.Update(func(s *config.Settings) { s.Beat.BPM = bpm }); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bpm": bpm})
}

// followSettings reconfigures the scheduler whenever the metronome part of
// the live settings changes. Reference-only changes leave it alone.
func followSettings(ctx context.Context, live *config.Live, sched *beat.Scheduler) {
	changes, cancel := live.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-changes:
			if s.Beat == sched.Config() {
				continue
			}
			if err := sched.Reconfigure(s.Beat); err != nil {
				slog.Warn("reconfigure rejected", "err", err)
				continue
			}
			slog.Info("settings applied", "beat", s.Beat.String(), "reference_hz", s.ReferenceHz)
		}
	}
}

// pumpEvents moves scheduler and tracker output onto the event stream and
// the optional MIDI sink.
func pumpEvents(ctx context.Context, sched *beat.Scheduler, tracker *pitch.Tracker, out chan<- stream.Event, midiTicks chan<- beat.TickEvent) {
	send := func(ev stream.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		var ev stream.Event
		select {
		case <-ctx.Done():
			return
		case t := <-sched.Ticks():
			select {
			case midiTicks <- t:
			default:
			}
			ev = stream.TickEvent(t)
		case st := <-sched.Transitions():
			ev = stream.StateEvent(st)
		case r := <-tracker.Readings():
			ev = stream.PitchEvent(r)
		}
		if !send(ev) {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
