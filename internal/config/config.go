package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/satindergrewal/tempotune/internal/beat"
	"github.com/satindergrewal/tempotune/internal/pitch"
)

// Capture modes.
const (
	CapturePortAudio = "portaudio"
	CaptureFile      = "file"
	CaptureWebRTC    = "webrtc"
	CaptureNone      = "none"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Metronome
	BPM          int
	BeatsPerBar  int
	Subdivisions int

	// Tuner
	ReferenceHz  int
	Capture      string // portaudio, file, webrtc, none
	CaptureFile  string // path for the file capture mode
	WindowSize   int    // samples per analysis window
	SampleRate   int
	PollInterval time.Duration
	SilenceRMS   float64
	MinHz        float64
	MaxHz        float64
	UseFFT       bool // FFT autocorrelation instead of direct lag search
	TunerOnStart bool // start listening at boot instead of waiting for /api/tuner/start

	// Output
	MIDIPort string // substring of the MIDI out port name, empty disables

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("TEMPOTUNE_PORT", 8080),

		BPM:          envInt("TEMPOTUNE_BPM", 120),
		BeatsPerBar:  envInt("TEMPOTUNE_BEATS", 4),
		Subdivisions: envInt("TEMPOTUNE_SUBDIVISIONS", 1),

		ReferenceHz:  envInt("TEMPOTUNE_REFERENCE_HZ", pitch.DefaultReferenceHz),
		Capture:      strings.ToLower(envStr("TEMPOTUNE_CAPTURE", CapturePortAudio)),
		CaptureFile:  envStr("TEMPOTUNE_CAPTURE_FILE", ""),
		WindowSize:   envInt("TEMPOTUNE_WINDOW_SIZE", 4096),
		SampleRate:   envInt("TEMPOTUNE_SAMPLE_RATE", 44100),
		PollInterval: time.Duration(envInt("TEMPOTUNE_POLL_INTERVAL_MS", 20)) * time.Millisecond,
		SilenceRMS:   envFloat("TEMPOTUNE_SILENCE_RMS", pitch.DefaultSilenceThreshold),
		MinHz:        envFloat("TEMPOTUNE_MIN_HZ", pitch.DefaultMinFrequency),
		MaxHz:        envFloat("TEMPOTUNE_MAX_HZ", pitch.DefaultMaxFrequency),
		UseFFT:       envBool("TEMPOTUNE_FFT", false),
		TunerOnStart: envBool("TEMPOTUNE_TUNER_AUTOSTART", true),

		MIDIPort: envStr("TEMPOTUNE_MIDI_PORT", ""),

		LogLevel: envStr("TEMPOTUNE_LOG_LEVEL", "info"),
	}
}

// Beat returns the metronome part of the configuration.
func (c Config) Beat() beat.Config {
	return beat.Config{BPM: c.BPM, BeatsPerBar: c.BeatsPerBar, Subdivisions: c.Subdivisions}
}

// DetectorOptions returns the pitch detector settings.
func (c Config) DetectorOptions() []pitch.Option {
	return []pitch.Option{
		pitch.WithSilenceThreshold(c.SilenceRMS),
		pitch.WithFrequencyRange(c.MinHz, c.MaxHz),
		pitch.WithFFT(c.UseFFT),
	}
}

// Validate checks everything that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if err := c.Beat().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := pitch.ValidateReference(c.ReferenceHz); err != nil {
		errs = append(errs, err)
	}
	switch c.Capture {
	case CapturePortAudio, CaptureWebRTC, CaptureNone:
	case CaptureFile:
		if c.CaptureFile == "" {
			errs = append(errs, errors.New("file capture needs TEMPOTUNE_CAPTURE_FILE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture mode %q", c.Capture))
	}
	if c.WindowSize <= 0 || c.SampleRate <= 0 || c.PollInterval <= 0 {
		errs = append(errs, errors.New("window size, sample rate and poll interval must be positive"))
	}
	if c.MinHz <= 0 || c.MaxHz <= c.MinHz {
		errs = append(errs, fmt.Errorf("frequency range [%g, %g] invalid", c.MinHz, c.MaxHz))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
