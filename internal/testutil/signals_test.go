package testutil

import "testing"

func TestSineAmplitude(t *testing.T) {
	s := Sine(441, 44100, 10000, 100)
	// 441 Hz at 44.1 kHz has a period of exactly 100 samples; the peak sits at 25.
	if s[0] != 0 {
		t.Errorf("s[0] = %d, want 0", s[0])
	}
	if s[25] != 10000 {
		t.Errorf("s[25] = %d, want 10000", s[25])
	}
	if s[75] != -10000 {
		t.Errorf("s[75] = %d, want -10000", s[75])
	}
}

func TestSineClips(t *testing.T) {
	s := Sine(441, 44100, 1e6, 100)
	if s[25] != 32767 || s[75] != -32768 {
		t.Errorf("clipping failed: %d %d", s[25], s[75])
	}
}

func TestNoiseDeterministic(t *testing.T) {
	a := Noise(7, 100, 64)
	b := Noise(7, 100, 64)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("noise differs at %d", i)
		}
		if a[i] > 100 || a[i] < -100 {
			t.Fatalf("noise[%d] = %d out of range", i, a[i])
		}
	}
}
