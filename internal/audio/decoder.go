package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// DecodeFile decodes an audio file to mono int16 samples.
// WAV files are read natively; anything else goes through FFmpeg and comes
// back at SampleRate.
func DecodeFile(path string) ([]int16, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return decodeWAV(path)
	}
	samples, err := decodeFFmpeg(path, SampleRate)
	if err != nil {
		return nil, 0, err
	}
	return samples, SampleRate, nil
}

func decodeWAV(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wav decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("%s: missing wav format", path)
	}

	return toMono16(buf.Data, buf.Format.NumChannels, int(d.BitDepth)), buf.Format.SampleRate, nil
}

// toMono16 averages interleaved frames and rescales them to 16 bits.
func toMono16(data []int, channels, bitDepth int) []int16 {
	frames := len(data) / channels
	out := make([]int16, frames)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			v := data[i*channels+c]
			switch {
			case bitDepth == 8:
				v = (v - 128) << 8
			case bitDepth > 16:
				v >>= bitDepth - 16
			}
			sum += v
		}
		out[i] = clip16(sum / channels)
	}
	return out
}

func clip16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// decodeFFmpeg runs FFmpeg to decode an audio file to mono little-endian
// int16 at the given rate.
func decodeFFmpeg(path string, rate int) ([]int16, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	return BytesToSamples(out), nil
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// FileSource replays a decoded file as if it were a live input.
type FileSource struct {
	path     string
	loop     bool
	realtime bool

	samples []int16
	rate    int
	pos     int
	next    time.Time
}

// NewFileSource creates a source for path. With loop set it restarts at
// EOF; with realtime set each Read is paced to the capture rate.
func NewFileSource(path string, loop, realtime bool) *FileSource {
	return &FileSource{path: path, loop: loop, realtime: realtime}
}

// Open decodes the whole file into memory.
func (f *FileSource) Open() error {
	samples, rate, err := DecodeFile(f.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if len(samples) == 0 || rate <= 0 {
		return fmt.Errorf("%w: %s has no audio", ErrCaptureUnavailable, f.path)
	}
	f.samples = samples
	f.rate = rate
	f.pos = 0
	f.next = time.Now()
	return nil
}

// Read copies the next samples into buf, sleeping to hold real time when
// realtime is set.
func (f *FileSource) Read(buf []int16) (int, error) {
	if f.samples == nil {
		return 0, errors.New("file source not open")
	}
	if f.pos >= len(f.samples) {
		if !f.loop {
			return 0, io.EOF
		}
		f.pos = 0
	}

	n := copy(buf, f.samples[f.pos:])
	f.pos += n

	if f.realtime {
		f.next = f.next.Add(WindowPeriod(n, f.rate))
		if d := time.Until(f.next); d > 0 {
			time.Sleep(d)
		}
	}
	return n, nil
}

// SampleRate returns the file's rate, or SampleRate before Open.
func (f *FileSource) SampleRate() int {
	if f.rate == 0 {
		return SampleRate
	}
	return f.rate
}

// MinBufferSize is 0: any read size works.
func (f *FileSource) MinBufferSize() int { return 0 }

// Close drops the decoded samples.
func (f *FileSource) Close() error {
	f.samples = nil
	return nil
}
