// Package midi forwards metronome ticks to a MIDI output as percussion notes.
package midi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/satindergrewal/tempotune/internal/beat"
)

// General MIDI percussion: channel 10, wood blocks.
const (
	Channel   uint8 = 9 // zero-based
	KeyAccent uint8 = 76
	KeyBeat   uint8 = 77

	VelocityAccent      uint8 = 127
	VelocityBeat        uint8 = 100
	VelocitySubdivision uint8 = 70
)

// SendFunc writes one MIDI message.
type SendFunc func(msg gomidi.Message) error

// Sink turns tick events into note-on messages. The previous note is released
// before the next one starts.
type Sink struct {
	send    SendFunc
	closeFn func() error

	mu      sync.Mutex
	lastKey uint8
	playing bool
}

// NewSink creates a sink writing through send.
func NewSink(send SendFunc) *Sink {
	return &Sink{send: send}
}

// Open connects to the first MIDI output whose name contains pattern
// (case-insensitive).
func Open(pattern string) (*Sink, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	var found drivers.Out
	for _, out := range outs {
		if containsCI(out.String(), pattern) {
			found = out
			break
		}
	}
	if found == nil {
		drv.Close()
		return nil, fmt.Errorf("output matching %q not found", pattern)
	}
	if err := found.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open %q: %w", found.String(), err)
	}

	send, err := gomidi.SendTo(found)
	if err != nil {
		found.Close()
		drv.Close()
		return nil, fmt.Errorf("send to %q: %w", found.String(), err)
	}

	slog.Info("midi: connected", "device", found.String())
	s := NewSink(send)
	s.closeFn = func() error {
		found.Close()
		return drv.Close()
	}
	return s, nil
}

// NoteFor returns the key and velocity for a tick.
func NoteFor(ev beat.TickEvent) (key, velocity uint8) {
	switch {
	case ev.FirstOfBar:
		return KeyAccent, VelocityAccent
	case ev.Kind == beat.Downbeat:
		return KeyBeat, VelocityBeat
	default:
		return KeyBeat, VelocitySubdivision
	}
}

// Play sounds one tick.
func (s *Sink) Play(ev beat.TickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseLocked(); err != nil {
		return err
	}
	key, vel := NoteFor(ev)
	if err := s.send(gomidi.NoteOn(Channel, key, vel)); err != nil {
		return fmt.Errorf("midi: note on: %w", err)
	}
	s.lastKey = key
	s.playing = true
	return nil
}

// Run plays ticks until ctx is cancelled or ticks is closed. Send errors are
// logged and the loop continues.
func (s *Sink) Run(ctx context.Context, ticks <-chan beat.TickEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ticks:
			if !ok {
				return
			}
			if err := s.Play(ev); err != nil {
				slog.Warn("midi: play failed", "err", err, "beat", ev.Beat)
			}
		}
	}
}

// Close releases the sounding note and the output port.
func (s *Sink) Close() error {
	s.mu.Lock()
	err := s.releaseLocked()
	s.mu.Unlock()
	if s.closeFn != nil {
		if cerr := s.closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Sink) releaseLocked() error {
	if !s.playing {
		return nil
	}
	s.playing = false
	if err := s.send(gomidi.NoteOff(Channel, s.lastKey)); err != nil {
		return fmt.Errorf("midi: note off: %w", err)
	}
	return nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
