package config

import (
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/tempotune/internal/beat"
	"github.com/satindergrewal/tempotune/internal/pitch"
)

// Settings is the part of the configuration that changes while running.
type Settings struct {
	Beat        beat.Config `json:"beat"`
	ReferenceHz int         `json:"reference_hz"`
}

// Validate checks both the metronome and the tuner settings.
func (s Settings) Validate() error {
	if err := s.Beat.Validate(); err != nil {
		return err
	}
	return pitch.ValidateReference(s.ReferenceHz)
}

// Live holds the current Settings. Readers get whole snapshots, so an update
// is never seen half applied.
type Live struct {
	cur atomic.Pointer[Settings]

	mu     sync.Mutex // serializes writers and guards subs
	subs   map[int]chan Settings
	nextID int
}

// NewLive creates a store holding initial. The caller validates initial.
func NewLive(initial Settings) *Live {
	l := &Live{subs: make(map[int]chan Settings)}
	l.cur.Store(&initial)
	return l
}

// Settings returns the initial live settings from a loaded Config.
func (c Config) Settings() Settings {
	return Settings{Beat: c.Beat(), ReferenceHz: c.ReferenceHz}
}

// Snapshot returns the current settings.
func (l *Live) Snapshot() Settings {
	return *l.cur.Load()
}

// ReferenceHz returns the current reference pitch.
func (l *Live) ReferenceHz() int {
	return l.cur.Load().ReferenceHz
}

// SetBeat replaces the metronome settings.
func (l *Live) SetBeat(c beat.Config) error {
	return l.Update(func(s *Settings) { s.Beat = c })
}

// SetReference replaces the reference pitch.
func (l *Live) SetReference(hz int) error {
	return l.Update(func(s *Settings) { s.ReferenceHz = hz })
}

// Update applies fn to a copy of the current settings and stores the result
// if it validates. Subscribers are notified only on a stored change.
func (l *Live) Update(fn func(*Settings)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := *l.cur.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if next == *l.cur.Load() {
		return nil
	}
	l.cur.Store(&next)

	for _, ch := range l.subs {
		// Latest value wins.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return nil
}

// Subscribe returns a channel that receives the settings after each change,
// and a func that ends the subscription. A slow reader sees only the newest.
func (l *Live) Subscribe() (<-chan Settings, func()) {
	ch := make(chan Settings, 1)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// ClampBPM forces bpm into the metronome range.
func ClampBPM(bpm int) int {
	return min(max(bpm, beat.MinBPM), beat.MaxBPM)
}

// ClampBeats forces beats per bar into range.
func ClampBeats(n int) int {
	return min(max(n, beat.MinBeatsPerBar), beat.MaxBeatsPerBar)
}

// ClampSubdivisions forces subdivisions into range.
func ClampSubdivisions(n int) int {
	return min(max(n, beat.MinSubdivisions), beat.MaxSubdivisions)
}

// ClampReference forces the reference pitch into range.
func ClampReference(hz int) int {
	return min(max(hz, pitch.MinReferenceHz), pitch.MaxReferenceHz)
}
