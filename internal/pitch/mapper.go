package pitch

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultReferenceHz = 440
	MinReferenceHz     = 415
	MaxReferenceHz     = 466

	// NoNote is the name shown when no pitch is present.
	NoNote = "--"
)

// ErrInvalidReference is returned for a reference pitch outside [415, 466] Hz.
var ErrInvalidReference = errors.New("pitch: reference out of range")

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Reading is one tuner result.
type Reading struct {
	Frequency float64 `json:"frequency"`
	Note      string  `json:"note"`
	Cents     float64 `json:"cents"`
}

// None is the reading for silence.
func None() Reading {
	return Reading{Note: NoNote}
}

// Valid reports whether r carries a pitch.
func (r Reading) Valid() bool {
	return r.Frequency > 0 && r.Note != NoNote
}

func (r Reading) String() string {
	if !r.Valid() {
		return NoNote
	}
	return fmt.Sprintf("%s %+.1f¢ (%.2f Hz)", r.Note, r.Cents, r.Frequency)
}

// ValidateReference checks a reference pitch for A4.
func ValidateReference(hz int) error {
	if hz < MinReferenceHz || hz > MaxReferenceHz {
		return fmt.Errorf("%w: %d Hz", ErrInvalidReference, hz)
	}
	return nil
}

// Map converts a frequency to the nearest equal-tempered note name and the
// deviation from it in cents, with referenceHz tuned as A (MIDI note 69).
// Octave numbers are not reported.
func Map(freq float64, referenceHz int) Reading {
	if freq <= 0 || referenceHz <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return None()
	}

	noteNum := 12*math.Log2(freq/float64(referenceHz)) + 69
	// Rounding half down keeps cents in (-50, +50].
	nearest := math.Ceil(noteNum - 0.5)
	cents := (noteNum - nearest) * 100

	idx := int(nearest) % 12
	if idx < 0 {
		idx += 12
	}
	return Reading{Frequency: freq, Note: noteNames[idx], Cents: cents}
}

// NoteFrequency returns the frequency of MIDI note number n at referenceHz.
func NoteFrequency(n int, referenceHz int) float64 {
	return float64(referenceHz) * math.Pow(2, float64(n-69)/12)
}
