package pitch

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/satindergrewal/tempotune/internal/audio"
)

const (
	DefaultSilenceThreshold = 50.0   // RMS on the 16-bit scale
	DefaultMinFrequency     = 40.0   // Hz, sets the longest lag searched
	DefaultMaxFrequency     = 1000.0 // Hz, sets the shortest lag searched
)

// Detector estimates the fundamental frequency of a window by autocorrelation.
// A Detector reuses scratch buffers and is not safe for concurrent use.
type Detector struct {
	silence float64
	minHz   float64
	maxHz   float64
	useFFT  bool

	scratch []float64
	corr    []float64

	plan     *algofft.Plan[complex128]
	planSize int
	spectrum []complex128
	timeBuf  []complex128
}

// Option configures a Detector.
type Option func(*Detector)

// WithSilenceThreshold sets the RMS below which a window counts as silence.
func WithSilenceThreshold(rms float64) Option {
	return func(d *Detector) {
		if rms >= 0 {
			d.silence = rms
		}
	}
}

// WithFrequencyRange sets the detectable pitch range. The lag search covers
// [sampleRate/maxHz, sampleRate/minHz).
func WithFrequencyRange(minHz, maxHz float64) Option {
	return func(d *Detector) {
		if minHz > 0 && maxHz > minHz {
			d.minHz = minHz
			d.maxHz = maxHz
		}
	}
}

// WithFFT switches the correlation from direct dot products to an FFT.
func WithFFT(enabled bool) Option {
	return func(d *Detector) {
		d.useFFT = enabled
	}
}

// NewDetector creates a detector with the given options applied over the defaults.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		silence: DefaultSilenceThreshold,
		minHz:   DefaultMinFrequency,
		maxHz:   DefaultMaxFrequency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// LagBounds returns the half-open lag range [minLag, maxLag) searched at rate.
func (d *Detector) LagBounds(rate int) (minLag, maxLag int) {
	return int(float64(rate) / d.maxHz), int(float64(rate) / d.minHz)
}

// Detect returns the fundamental frequency of buf in Hz, or 0 when the window
// is silent, malformed, or has no usable peak.
func (d *Detector) Detect(buf audio.SampleBuffer) float64 {
	n := len(buf.Samples)
	rate := buf.SampleRate
	if n == 0 || rate <= 0 {
		return 0
	}

	x := d.toFloat(buf.Samples)
	if math.Sqrt(vecmath.DotProduct(x, x)/float64(n)) < d.silence {
		return 0
	}

	minLag, maxLag := d.LagBounds(rate)
	minLag = max(minLag, 1)
	maxLag = min(maxLag, n-1)
	if minLag >= maxLag {
		return 0
	}

	corr, err := d.correlate(x, maxLag+1)
	if err != nil {
		return 0
	}

	start := searchStart(corr, minLag, maxLag)
	best := start
	for lag := start + 1; lag < maxLag; lag++ {
		if corr[lag] > corr[best] {
			best = lag
		}
	}

	lag := refine(corr, best)
	freq := float64(rate) / lag
	if math.IsNaN(freq) || math.IsInf(freq, 0) || freq <= 0 {
		return 0
	}
	return freq
}

// searchStart skips the lobe around lag 0: the search begins at the first lag
// where the correlation is no longer positive, or at minLag if that comes first.
// Without this the overlap bias of the unnormalized sum makes the shortest lags
// win for low notes.
func searchStart(corr []float64, minLag, maxLag int) int {
	for lag := 1; lag < maxLag; lag++ {
		if corr[lag] <= 0 {
			return max(lag, minLag)
		}
	}
	return minLag
}

// refine fits a parabola through the peak and its neighbours. When the three
// points do not describe a maximum the integer lag is kept.
func refine(corr []float64, best int) float64 {
	if best <= 0 || best+1 >= len(corr) {
		return float64(best)
	}
	prev, curr, next := corr[best-1], corr[best], corr[best+1]
	denom := prev - 2*curr + next
	if denom >= 0 {
		return float64(best)
	}
	delta := (prev - next) / (2 * denom)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return float64(best)
	}
	return float64(best) + delta
}

func (d *Detector) toFloat(samples []int16) []float64 {
	if cap(d.scratch) < len(samples) {
		d.scratch = make([]float64, len(samples))
	}
	x := d.scratch[:len(samples)]
	for i, s := range samples {
		x[i] = float64(s)
	}
	return x
}

// correlate returns the unnormalized autocorrelation of x for lags [0, lags).
func (d *Detector) correlate(x []float64, lags int) ([]float64, error) {
	if cap(d.corr) < lags {
		d.corr = make([]float64, lags)
	}
	corr := d.corr[:lags]

	if d.useFFT {
		if err := d.correlateFFT(x, corr); err != nil {
			return nil, err
		}
		return corr, nil
	}

	n := len(x)
	for lag := range corr {
		corr[lag] = vecmath.DotProduct(x[:n-lag], x[lag:])
	}
	return corr, nil
}

// correlateFFT computes the linear autocorrelation as IFFT(|FFT(x)|^2) with x
// zero-padded to at least twice its length. The result carries the transform's
// scale factor, which does not move the peak.
func (d *Detector) correlateFFT(x, corr []float64) error {
	size := nextPowerOf2(2 * len(x))
	if d.plan == nil || d.planSize != size {
		plan, err := algofft.NewPlan64(size)
		if err != nil {
			return fmt.Errorf("pitch: fft plan: %w", err)
		}
		d.plan = plan
		d.planSize = size
		d.spectrum = make([]complex128, size)
		d.timeBuf = make([]complex128, size)
	}

	for i := range d.timeBuf {
		d.timeBuf[i] = 0
	}
	for i, v := range x {
		d.timeBuf[i] = complex(v, 0)
	}

	if err := d.plan.Forward(d.spectrum, d.timeBuf); err != nil {
		return fmt.Errorf("pitch: forward fft: %w", err)
	}
	for i, c := range d.spectrum {
		d.spectrum[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	if err := d.plan.Inverse(d.timeBuf, d.spectrum); err != nil {
		return fmt.Errorf("pitch: inverse fft: %w", err)
	}

	for lag := range corr {
		corr[lag] = real(d.timeBuf[lag])
	}
	return nil
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
