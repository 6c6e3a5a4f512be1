package stream

import (
	"github.com/satindergrewal/tempotune/internal/beat"
	"github.com/satindergrewal/tempotune/internal/pitch"
)

// Event types.
const (
	TypeTick  = "tick"
	TypePitch = "pitch"
	TypeState = "state"
)

// Event is one item on the outbound event stream. Exactly one payload is set.
type Event struct {
	Type  string          `json:"type"`
	Tick  *beat.TickEvent `json:"tick,omitempty"`
	Pitch *pitch.Reading  `json:"pitch,omitempty"`
	State *beat.State     `json:"state,omitempty"`
}

// TickEvent wraps a metronome tick.
func TickEvent(t beat.TickEvent) Event {
	return Event{Type: TypeTick, Tick: &t}
}

// PitchEvent wraps a tuner reading.
func PitchEvent(r pitch.Reading) Event {
	return Event{Type: TypePitch, Pitch: &r}
}

// StateEvent wraps a start or stop of the metronome.
func StateEvent(s beat.State) Event {
	return Event{Type: TypeState, State: &s}
}
