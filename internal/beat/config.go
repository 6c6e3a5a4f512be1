// Package beat schedules metronome ticks and estimates tempo from taps.
package beat

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinBPM          = 40
	MaxBPM          = 240
	MinBeatsPerBar  = 2
	MaxBeatsPerBar  = 7
	MinSubdivisions = 1
	MaxSubdivisions = 4
)

// ErrInvalidConfig is returned for a tempo, meter or subdivision out of range.
var ErrInvalidConfig = errors.New("beat: invalid config")

// Config is the tempo and meter the scheduler plays.
type Config struct {
	BPM          int `json:"bpm"`
	BeatsPerBar  int `json:"beats_per_bar"`
	Subdivisions int `json:"subdivisions"`
}

// DefaultConfig is 120 bpm in 4/4 without subdivisions.
func DefaultConfig() Config {
	return Config{BPM: 120, BeatsPerBar: 4, Subdivisions: 1}
}

// Validate reports the first out-of-range field as ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.BPM < MinBPM || c.BPM > MaxBPM:
		return fmt.Errorf("%w: bpm %d not in [%d, %d]", ErrInvalidConfig, c.BPM, MinBPM, MaxBPM)
	case c.BeatsPerBar < MinBeatsPerBar || c.BeatsPerBar > MaxBeatsPerBar:
		return fmt.Errorf("%w: beats per bar %d not in [%d, %d]", ErrInvalidConfig, c.BeatsPerBar, MinBeatsPerBar, MaxBeatsPerBar)
	case c.Subdivisions < MinSubdivisions || c.Subdivisions > MaxSubdivisions:
		return fmt.Errorf("%w: subdivisions %d not in [%d, %d]", ErrInvalidConfig, c.Subdivisions, MinSubdivisions, MaxSubdivisions)
	}
	return nil
}

// TotalTicks is the number of ticks in one bar.
func (c Config) TotalTicks() int {
	return c.BeatsPerBar * c.Subdivisions
}

// Interval is the time between consecutive ticks.
func (c Config) Interval() time.Duration {
	if c.BPM <= 0 || c.Subdivisions <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.BPM*c.Subdivisions)
}

func (c Config) String() string {
	return fmt.Sprintf("%d bpm, %d beats, %d subdivisions", c.BPM, c.BeatsPerBar, c.Subdivisions)
}
