package beat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventBuffer is the capacity of the tick channel.
const DefaultEventBuffer = 64

// TickKind tells a beat from a subdivision between beats.
type TickKind int

const (
	Downbeat TickKind = iota
	Subdivision
)

func (k TickKind) String() string {
	if k == Subdivision {
		return "subdivision"
	}
	return "downbeat"
}

func (k TickKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TickKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "downbeat":
		*k = Downbeat
	case "subdivision":
		*k = Subdivision
	default:
		return fmt.Errorf("beat: unknown tick kind %q", b)
	}
	return nil
}

// TickEvent is emitted once per tick. Beat is the beat the tick belongs to,
// FirstOfBar marks the accented first beat.
type TickEvent struct {
	Kind       TickKind  `json:"kind"`
	Beat       int       `json:"beat"`
	FirstOfBar bool      `json:"first_of_bar"`
	Index      int       `json:"index"`
	Time       time.Time `json:"time"`
}

// State is a snapshot of the scheduler. Beat always equals
// TickIndex/Subdivisions + 1 for the config in effect.
type State struct {
	Running   bool `json:"running"`
	TickIndex int  `json:"tick_index"`
	Beat      int  `json:"beat"`
}

func stoppedState() State {
	return State{Beat: 1}
}

// snapshot pairs a State with the Config it was computed for.
type snapshot struct {
	state State
	cfg   Config
}

// Scheduler emits drift-corrected ticks for a Config. Start, Stop and
// Reconfigure may be called from any goroutine.
type Scheduler struct {
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	cfg      Config
	cancel   context.CancelFunc
	done     chan struct{}
	reconfCh chan Config

	snap        atomic.Pointer[snapshot]
	ticks       chan TickEvent
	transitions chan State
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper replaces time.After for the wait between ticks.
func WithSleeper(after func(time.Duration) <-chan time.Time) SchedulerOption {
	return func(s *Scheduler) { s.after = after }
}

// WithEventBuffer sets the tick channel capacity.
func WithEventBuffer(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.ticks = make(chan TickEvent, n)
		}
	}
}

// NewScheduler creates a stopped scheduler holding the default config.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		now:         time.Now,
		after:       time.After,
		cfg:         DefaultConfig(),
		reconfCh:    make(chan Config, 1),
		ticks:       make(chan TickEvent, DefaultEventBuffer),
		transitions: make(chan State, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(stoppedState(), s.cfg)
	return s
}

// Ticks returns the tick stream. Ticks are dropped when the reader falls behind.
func (s *Scheduler) Ticks() <-chan TickEvent {
	return s.ticks
}

// Transitions reports every change between running and stopped.
func (s *Scheduler) Transitions() <-chan State {
	return s.transitions
}

// State returns the current state.
func (s *Scheduler) State() State {
	return s.snap.Load().state
}

// Config returns the config the running loop is ticking with, or the one the
// next Start will use when stopped.
func (s *Scheduler) Config() Config {
	if snap := s.snap.Load(); snap.state.Running {
		return snap.cfg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Snapshot returns the current state together with the config it belongs to.
func (s *Scheduler) Snapshot() (State, Config) {
	snap := s.snap.Load()
	return snap.state, snap.cfg
}

// Start begins ticking at index 0. Starting a running scheduler reconfigures it.
func (s *Scheduler) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.offer(cfg)
		return nil
	}
	s.cfg = cfg

	// Drop a config left over from before the last stop.
	select {
	case <-s.reconfCh:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(State{Running: true, Beat: 1}, cfg)
	s.notify()

	slog.Info("metronome started", "bpm", cfg.BPM, "beats", cfg.BeatsPerBar, "subdivisions", cfg.Subdivisions)
	go s.run(ctx, cfg, s.done)
	return nil
}

// Stop halts the loop and waits for it to exit. Stopping a stopped scheduler
// does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.setState(stoppedState(), s.cfg)
	s.notify()
	slog.Info("metronome stopped")
}

// Reconfigure applies cfg. A running loop switches at once and ticks
// immediately; a stopped scheduler keeps cfg for the next Start. A config
// equal to the one already in effect leaves the loop undisturbed.
func (s *Scheduler) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.offer(cfg)
		return nil
	}
	s.cfg = cfg
	return nil
}

// offer hands cfg to the loop, replacing one it has not picked up yet.
// Nothing is sent when cfg is already the latest config. Must be called with
// mu held.
func (s *Scheduler) offer(cfg Config) {
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	select {
	case <-s.reconfCh:
	default:
	}
	s.reconfCh <- cfg
}

func (s *Scheduler) run(ctx context.Context, cfg Config, done chan struct{}) {
	defer close(done)

	index := 0
	for {
		if ctx.Err() != nil {
			return
		}

		start := s.now()
		s.tick(cfg, index, start)
		index = (index + 1) % cfg.TotalTicks()

		wait := max(cfg.Interval()-s.now().Sub(start), 0)
		timer := s.after(wait)

	waiting:
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-s.reconfCh:
				if next == cfg {
					continue
				}
				cfg = next
				if index >= cfg.TotalTicks() {
					index = 0
				}
				s.rebase(cfg)
				slog.Debug("metronome reconfigured", "bpm", cfg.BPM, "beats", cfg.BeatsPerBar, "subdivisions", cfg.Subdivisions, "index", index)
				break waiting
			case <-timer:
				break waiting
			}
		}
	}
}

func (s *Scheduler) tick(cfg Config, index int, at time.Time) {
	beat := index/cfg.Subdivisions + 1
	ev := TickEvent{
		Kind:  Subdivision,
		Beat:  beat,
		Index: index,
		Time:  at,
	}
	if index%cfg.Subdivisions == 0 {
		ev.Kind = Downbeat
		ev.FirstOfBar = index == 0
	}

	s.setState(State{Running: true, TickIndex: index, Beat: beat}, cfg)

	select {
	case s.ticks <- ev:
	default:
		slog.Debug("tick dropped", "index", index)
	}
}

// rebase re-derives the state of the last tick for cfg, so State and Config
// agree before the next tick is emitted.
func (s *Scheduler) rebase(cfg Config) {
	st := s.State()
	if st.TickIndex >= cfg.TotalTicks() {
		st.TickIndex = 0
	}
	st.Beat = st.TickIndex/cfg.Subdivisions + 1
	s.setState(st, cfg)
}

func (s *Scheduler) setState(st State, cfg Config) {
	s.snap.Store(&snapshot{state: st, cfg: cfg})
}

func (s *Scheduler) notify() {
	select {
	case s.transitions <- s.State():
	default:
	}
}
