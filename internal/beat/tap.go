package beat

import (
	"math"
	"time"
)

const (
	// TapSessionTimeout ends a tapping session; the next tap starts over.
	TapSessionTimeout = 2 * time.Second
	// MinTapInterval filters out double taps and switch bounce.
	MinTapInterval = 200 * time.Millisecond
	tapHistorySize = 4
)

// TapTempo estimates a tempo from the spacing of taps. It keeps the last four
// intervals. Not safe for concurrent use.
type TapTempo struct {
	intervals [tapHistorySize]time.Duration
	head      int
	count     int
	last      time.Time
}

// Tap registers a tap at now. It returns the estimated bpm and true once at
// least one usable interval is known.
func (t *TapTempo) Tap(now time.Time) (int, bool) {
	defer func() { t.last = now }()

	if t.last.IsZero() || now.Sub(t.last) > TapSessionTimeout {
		t.clear()
		return 0, false
	}

	interval := now.Sub(t.last)
	if interval <= MinTapInterval {
		return 0, false
	}
	t.push(interval)

	avg := t.mean()
	if avg <= 0 {
		return 0, false
	}
	return int(math.Round(float64(time.Minute) / float64(avg))), true
}

// Reset forgets all taps.
func (t *TapTempo) Reset() {
	t.clear()
	t.last = time.Time{}
}

// Intervals returns the remembered intervals, oldest first.
func (t *TapTempo) Intervals() []time.Duration {
	out := make([]time.Duration, t.count)
	for i := range out {
		out[i] = t.intervals[(t.head+i)%tapHistorySize]
	}
	return out
}

func (t *TapTempo) push(d time.Duration) {
	if t.count == tapHistorySize {
		t.intervals[t.head] = d
		t.head = (t.head + 1) % tapHistorySize
		return
	}
	t.intervals[(t.head+t.count)%tapHistorySize] = d
	t.count++
}

func (t *TapTempo) mean() time.Duration {
	if t.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < t.count; i++ {
		sum += t.intervals[(t.head+i)%tapHistorySize]
	}
	return sum / time.Duration(t.count)
}

func (t *TapTempo) clear() {
	t.head = 0
	t.count = 0
}
