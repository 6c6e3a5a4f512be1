package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer is the PortAudio read chunk used by PortAudioSource.
const DefaultFramesPerBuffer = 1024

// PortAudioSource captures from the default input device through a blocking
// PortAudio stream.
type PortAudioSource struct {
	rate   int
	frames int

	stream  *portaudio.Stream
	in      []int16
	pending []int16
}

// NewPortAudioSource creates a mono int16 source at rate Hz reading frames
// samples per device call.
func NewPortAudioSource(rate, frames int) *PortAudioSource {
	if rate <= 0 {
		rate = SampleRate
	}
	if frames <= 0 {
		frames = DefaultFramesPerBuffer
	}
	return &PortAudioSource{rate: rate, frames: frames}
}

// Open initializes PortAudio and starts a mono input stream on the default
// device. Opening an open source does nothing.
func (p *PortAudioSource) Open() error {
	if p.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init: %v", ErrCaptureUnavailable, err)
	}

	p.in = make([]int16, p.frames)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(p.rate), len(p.in), p.in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open input stream: %v", ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start input stream: %v", ErrCaptureUnavailable, err)
	}

	p.stream = stream
	p.pending = nil
	return nil
}

// Read blocks for one device chunk at most.
func (p *PortAudioSource) Read(buf []int16) (int, error) {
	if p.stream == nil {
		return 0, errors.New("portaudio source not open")
	}
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}

	if err := p.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, fmt.Errorf("portaudio read: %w", err)
	}
	n := copy(buf, p.in)
	if n < len(p.in) {
		p.pending = append(p.pending[:0], p.in[n:]...)
	}
	return n, nil
}

// SampleRate returns the capture rate in Hz.
func (p *PortAudioSource) SampleRate() int { return p.rate }

// MinBufferSize returns the frames read per device call.
func (p *PortAudioSource) MinBufferSize() int { return p.frames }

// Close stops the stream and terminates PortAudio.
func (p *PortAudioSource) Close() error {
	if p.stream == nil {
		return nil
	}
	stream := p.stream
	p.stream = nil

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
