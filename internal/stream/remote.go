package stream

import (
	"sync"
	"time"

	"github.com/satindergrewal/tempotune/internal/audio"
)

// OpusSampleRate is the rate WebRTC Opus tracks are decoded at.
const OpusSampleRate = 48000

// RemoteSource is an audio.Source fed with PCM pushed by a remote peer.
type RemoteSource struct {
	rate int
	ch   chan []int16

	mu      sync.Mutex
	open    bool
	pending []int16
}

// NewRemoteSource creates a source for mono PCM at rate.
func NewRemoteSource(rate int) *RemoteSource {
	return &RemoteSource{
		rate: rate,
		ch:   make(chan []int16, 64),
	}
}

// Open starts accepting pushed audio and discards anything stale.
func (s *RemoteSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.pending = nil
	for {
		select {
		case <-s.ch:
		default:
			return nil
		}
	}
}

// Push queues a copy of pcm. Audio is dropped while closed or when the
// reader is behind.
func (s *RemoteSource) Push(pcm []int16) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open || len(pcm) == 0 {
		return
	}
	frame := make([]int16, len(pcm))
	copy(frame, pcm)
	select {
	case s.ch <- frame:
	default:
	}
}

// Read fills buf from pushed audio, waiting at most one buffer period.
// It returns 0, nil when nothing arrived in time.
func (s *RemoteSource) Read(buf []int16) (int, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		n := copy(buf, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(max(audio.WindowPeriod(len(buf), s.rate), time.Millisecond))
	defer timer.Stop()

	select {
	case frame := <-s.ch:
		n := copy(buf, frame)
		if n < len(frame) {
			s.mu.Lock()
			s.pending = frame[n:]
			s.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// SampleRate returns the rate pushed PCM is expected at.
func (s *RemoteSource) SampleRate() int { return s.rate }

// MinBufferSize is 0: any read size works.
func (s *RemoteSource) MinBufferSize() int { return 0 }

// Close stops accepting audio.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.pending = nil
	s.mu.Unlock()
	return nil
}
