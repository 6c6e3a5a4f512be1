package beat

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Config ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"slowest", Config{40, 2, 1}, true},
		{"fastest", Config{240, 7, 4}, true},
		{"bpm 300", Config{300, 4, 1}, false},
		{"bpm 39", Config{39, 4, 1}, false},
		{"beats 1", Config{120, 1, 1}, false},
		{"beats 8", Config{120, 8, 1}, false},
		{"subdivisions 5", Config{120, 4, 5}, false},
		{"subdivisions 0", Config{120, 4, 0}, false},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: Validate = %v, want nil", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: Validate = %v, want ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestConfigInterval(t *testing.T) {
	tests := []struct {
		cfg  Config
		want time.Duration
	}{
		{Config{120, 4, 1}, 500 * time.Millisecond},
		{Config{120, 4, 4}, 125 * time.Millisecond},
		{Config{40, 3, 3}, 500 * time.Millisecond},
		{Config{240, 4, 2}, 125 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := tt.cfg.Interval(); got != tt.want {
			t.Errorf("%v: Interval = %v, want %v", tt.cfg, got, tt.want)
		}
	}
	if got := (Config{120, 3, 4}).TotalTicks(); got != 12 {
		t.Errorf("TotalTicks = %d, want 12", got)
	}
}

// --- TapTempo ---

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTapTempoSteady(t *testing.T) {
	var tt TapTempo
	if _, ok := tt.Tap(epoch); ok {
		t.Fatal("first tap produced a bpm")
	}
	for i := 1; i <= 3; i++ {
		bpm, ok := tt.Tap(epoch.Add(time.Duration(i) * 500 * time.Millisecond))
		if !ok || bpm != 120 {
			t.Errorf("tap %d = %d, %v; want 120, true", i+1, bpm, ok)
		}
	}
}

func TestTapTempoSessionTimeout(t *testing.T) {
	var tt TapTempo
	tt.Tap(epoch)
	tt.Tap(epoch.Add(500 * time.Millisecond))
	if _, ok := tt.Tap(epoch.Add(3500 * time.Millisecond)); ok {
		t.Error("tap after 3000 ms produced a bpm")
	}
	if n := len(tt.Intervals()); n != 0 {
		t.Errorf("history has %d intervals after timeout, want 0", n)
	}
	// The late tap starts the next session.
	if bpm, ok := tt.Tap(epoch.Add(4500 * time.Millisecond)); !ok || bpm != 60 {
		t.Errorf("tap after restart = %d, %v; want 60, true", bpm, ok)
	}
}

func TestTapTempoIgnoresDoubleTap(t *testing.T) {
	var tt TapTempo
	tt.Tap(epoch)
	tt.Tap(epoch.Add(600 * time.Millisecond))
	before := tt.Intervals()

	if _, ok := tt.Tap(epoch.Add(700 * time.Millisecond)); ok {
		t.Error("tap 100 ms after the previous one produced a bpm")
	}
	after := tt.Intervals()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("history changed: %v -> %v", before, after)
	}
}

func TestTapTempoKeepsFourIntervals(t *testing.T) {
	var tt TapTempo
	at := epoch
	tt.Tap(at)
	var bpm int
	for _, ms := range []int{400, 500, 600, 700, 800} {
		at = at.Add(time.Duration(ms) * time.Millisecond)
		bpm, _ = tt.Tap(at)
	}
	// Last four: 500, 600, 700, 800 -> 650 ms
	if bpm != 92 {
		t.Errorf("bpm = %d, want 92", bpm)
	}
	if n := len(tt.Intervals()); n != 4 {
		t.Errorf("len(Intervals) = %d, want 4", n)
	}
}

func TestTapTempoReset(t *testing.T) {
	var tt TapTempo
	tt.Tap(epoch)
	tt.Tap(epoch.Add(500 * time.Millisecond))
	tt.Reset()
	if _, ok := tt.Tap(epoch.Add(time.Second)); ok {
		t.Error("first tap after Reset produced a bpm")
	}
}

// --- Scheduler ---

// fakeClock advances by cost between a tick's start and its elapsed
// measurement, and lets the first limit waits complete immediately.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	cost  time.Duration
	calls int
	limit int
	waits []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls%2 == 0 {
		c.t = c.t.Add(c.cost)
	}
	return c.t
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waits) >= c.limit {
		return nil
	}
	c.waits = append(c.waits, d)
	c.t = c.t.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

func (c *fakeClock) allow(n int) {
	c.mu.Lock()
	c.limit += n
	c.mu.Unlock()
}

func newFakeScheduler(c *fakeClock) *Scheduler {
	return NewScheduler(WithClock(c.now), WithSleeper(c.after), WithEventBuffer(256))
}

func collect(t *testing.T, s *Scheduler, n int) []TickEvent {
	t.Helper()
	out := make([]TickEvent, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev := <-s.Ticks():
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d ticks, want %d", len(out), n)
		}
	}
	return out
}

func TestSchedulerDriftCorrection(t *testing.T) {
	clock := &fakeClock{t: epoch, cost: 3 * time.Millisecond, limit: 99}
	s := newFakeScheduler(clock)
	cfg := Config{BPM: 120, BeatsPerBar: 4, Subdivisions: 1}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ticks := collect(t, s, 100)
	span := ticks[99].Time.Sub(ticks[0].Time)
	want := 99 * cfg.Interval()
	if drift := (span - want).Abs(); drift >= 50*time.Millisecond {
		t.Errorf("drift over 100 ticks = %v, want < 50ms", drift)
	}

	clock.mu.Lock()
	defer clock.mu.Unlock()
	for i, w := range clock.waits {
		if w != cfg.Interval()-clock.cost {
			t.Fatalf("wait %d = %v, want %v", i, w, cfg.Interval()-clock.cost)
		}
	}
}

func TestSchedulerTickSequence(t *testing.T) {
	clock := &fakeClock{t: epoch, limit: 29}
	s := newFakeScheduler(clock)
	cfg := Config{BPM: 90, BeatsPerBar: 3, Subdivisions: 4}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i, ev := range collect(t, s, 30) {
		wantIndex := i % cfg.TotalTicks()
		if ev.Index != wantIndex {
			t.Fatalf("tick %d index = %d, want %d", i, ev.Index, wantIndex)
		}
		if ev.Beat != ev.Index/cfg.Subdivisions+1 || ev.Beat < 1 || ev.Beat > cfg.BeatsPerBar {
			t.Errorf("tick %d: beat %d inconsistent with index %d", i, ev.Beat, ev.Index)
		}
		if wantKind := ev.Index%cfg.Subdivisions != 0; (ev.Kind == Subdivision) != wantKind {
			t.Errorf("tick %d: kind = %v", i, ev.Kind)
		}
		if ev.FirstOfBar != (ev.Index == 0) {
			t.Errorf("tick %d: FirstOfBar = %v", i, ev.FirstOfBar)
		}
	}
}

func TestSchedulerStateInvariant(t *testing.T) {
	s := NewScheduler()
	cfg := Config{BPM: 240, BeatsPerBar: 5, Subdivisions: 3}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := s.State()
		if !st.Running {
			t.Fatal("not running")
		}
		if st.Beat != st.TickIndex/cfg.Subdivisions+1 {
			t.Fatalf("state %+v breaks beat/index relation", st)
		}
		if st.TickIndex < 0 || st.TickIndex >= cfg.TotalTicks() {
			t.Fatalf("state %+v index out of range", st)
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	if st := s.State(); st != (State{Running: false, TickIndex: 0, Beat: 1}) {
		t.Errorf("state after Stop = %+v", st)
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := NewScheduler()
	s.Stop()
	if err := s.Start(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()
	if s.State().Running {
		t.Error("running after Stop")
	}

	for i := 0; i < 20; i++ {
		if err := s.Start(DefaultConfig()); err != nil {
			t.Fatal(err)
		}
		s.Stop()
	}
	if st := s.State(); st.Running || st.Beat != 1 {
		t.Errorf("state after cycles = %+v", st)
	}
}

func TestSchedulerStopInterruptsWait(t *testing.T) {
	s := NewScheduler()
	if err := s.Start(Config{BPM: 40, BeatsPerBar: 4, Subdivisions: 1}); err != nil {
		t.Fatal(err)
	}
	<-s.Ticks()

	start := time.Now()
	s.Stop()
	if d := time.Since(start); d > 200*time.Millisecond {
		t.Errorf("Stop took %v with a 1.5s interval pending", d)
	}
}

func TestSchedulerTransitions(t *testing.T) {
	s := NewScheduler()
	if err := s.Start(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	want := []bool{true, false}
	for i, w := range want {
		select {
		case st := <-s.Transitions():
			if st.Running != w {
				t.Errorf("transition %d running = %v, want %v", i, st.Running, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing transition %d", i)
		}
	}
}

func TestSchedulerReconfigureKeepsIndex(t *testing.T) {
	clock := &fakeClock{t: epoch, limit: 2}
	s := newFakeScheduler(clock)
	if err := s.Start(Config{BPM: 120, BeatsPerBar: 4, Subdivisions: 1}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	collect(t, s, 3) // indices 0, 1, 2; loop now waits with next index 3

	if err := s.Reconfigure(Config{BPM: 100, BeatsPerBar: 2, Subdivisions: 2}); err != nil {
		t.Fatal(err)
	}
	ev := collect(t, s, 1)[0]
	if ev.Index != 3 || ev.Kind != Subdivision || ev.Beat != 2 {
		t.Errorf("tick after reconfigure = %+v, want index 3 subdivision of beat 2", ev)
	}
	if st := s.State(); !st.Running || st.TickIndex != 3 || st.Beat != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestSchedulerReconfigureSameConfigKeepsCadence(t *testing.T) {
	s := NewScheduler()
	cfg := Config{BPM: 40, BeatsPerBar: 4, Subdivisions: 1}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	<-s.Ticks()

	if err := s.Reconfigure(cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-s.Ticks():
		t.Fatalf("unchanged config produced tick %+v before the %v interval", ev, cfg.Interval())
	case <-time.After(300 * time.Millisecond):
	}
	if st := s.State(); st.TickIndex != 0 {
		t.Errorf("state = %+v, want index 0", st)
	}
}

func TestSchedulerStateFollowsReconfigure(t *testing.T) {
	type sample struct {
		st  State
		cfg Config
	}
	var (
		mu      sync.Mutex
		samples []sample
		s       *Scheduler
	)
	clock := &fakeClock{t: epoch, limit: 2}
	// The loop reads the clock at the start of every tick, after any new
	// config has been picked up.
	now := func() time.Time {
		mu.Lock()
		samples = append(samples, sample{s.State(), s.Config()})
		mu.Unlock()
		return clock.now()
	}
	s = NewScheduler(WithClock(now), WithSleeper(clock.after), WithEventBuffer(16))
	if err := s.Start(Config{BPM: 120, BeatsPerBar: 4, Subdivisions: 1}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	collect(t, s, 3) // state is index 2, beat 3

	if err := s.Reconfigure(Config{BPM: 100, BeatsPerBar: 4, Subdivisions: 2}); err != nil {
		t.Fatal(err)
	}
	collect(t, s, 1)

	mu.Lock()
	defer mu.Unlock()
	for i, sm := range samples {
		if sm.st.Beat != sm.st.TickIndex/sm.cfg.Subdivisions+1 {
			t.Errorf("sample %d: state %+v does not match config %v", i, sm.st, sm.cfg)
		}
	}
	st, cfg := s.Snapshot()
	if cfg.Subdivisions != 2 || st.TickIndex != 3 || st.Beat != 2 {
		t.Errorf("snapshot = %+v %v", st, cfg)
	}
}

func TestSchedulerReconfigureResetsIndex(t *testing.T) {
	clock := &fakeClock{t: epoch, limit: 2}
	s := newFakeScheduler(clock)
	if err := s.Start(Config{BPM: 120, BeatsPerBar: 4, Subdivisions: 1}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	collect(t, s, 3)

	if err := s.Reconfigure(Config{BPM: 120, BeatsPerBar: 2, Subdivisions: 1}); err != nil {
		t.Fatal(err)
	}
	ev := collect(t, s, 1)[0]
	if ev.Index != 0 || !ev.FirstOfBar || ev.Kind != Downbeat {
		t.Errorf("tick after shrinking bar = %+v, want first of bar", ev)
	}
}

func TestSchedulerStartWhileRunning(t *testing.T) {
	clock := &fakeClock{t: epoch, limit: 0}
	s := newFakeScheduler(clock)
	if err := s.Start(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	collect(t, s, 1)

	next := Config{BPM: 60, BeatsPerBar: 3, Subdivisions: 1}
	if err := s.Start(next); err != nil {
		t.Fatal(err)
	}
	ev := collect(t, s, 1)[0]
	if ev.Index != 1 {
		t.Errorf("Start while running restarted the bar: %+v", ev)
	}
	if s.Config() != next {
		t.Errorf("Config = %v, want %v", s.Config(), next)
	}
}

func TestSchedulerRejectsInvalidConfig(t *testing.T) {
	s := NewScheduler()
	bad := []Config{{300, 4, 1}, {120, 1, 1}, {120, 4, 5}}
	for _, cfg := range bad {
		if err := s.Start(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Start(%v) = %v, want ErrInvalidConfig", cfg, err)
		}
		if err := s.Reconfigure(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Reconfigure(%v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
	if s.State().Running {
		t.Error("invalid Start left the scheduler running")
	}
}

func TestSchedulerReconfigureWhileStopped(t *testing.T) {
	s := NewScheduler()
	cfg := Config{BPM: 200, BeatsPerBar: 7, Subdivisions: 2}
	if err := s.Reconfigure(cfg); err != nil {
		t.Fatal(err)
	}
	if s.State().Running {
		t.Error("Reconfigure started the scheduler")
	}
	if s.Config() != cfg {
		t.Errorf("Config = %v, want %v", s.Config(), cfg)
	}
}

func TestSchedulerRealTimeCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time test")
	}
	s := NewScheduler()
	cfg := Config{BPM: 240, BeatsPerBar: 4, Subdivisions: 4}
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	ticks := collect(t, s, 20)
	s.Stop()

	span := ticks[19].Time.Sub(ticks[0].Time)
	if drift := (span - 19*cfg.Interval()).Abs(); drift >= 50*time.Millisecond {
		t.Errorf("drift over 20 ticks = %v", drift)
	}
}
