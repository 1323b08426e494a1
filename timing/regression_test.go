package timing

import (
	"errors"
	"testing"
	"time"
)

func linear(n int, base, step, c time.Duration, num, den uint64) []Sample {
	samples := make([]Sample, n)

	for i := range samples {
		x := base + time.Duration(i)*step
		samples[i] = Sample{X: x, Y: c + time.Duration(uint64(x)*num/den)}
	}

	return samples
}

func TestFitExactLine(t *testing.T) {
	cases := []struct {
		name     string
		num, den uint64
		c        time.Duration
	}{
		{"unit", 1, 1, 5 * time.Second},
		{"fast", 1001, 1000, 123 * time.Millisecond},
		{"slow", 999, 1000, 2 * time.Hour},
	}

	for _, tc := range cases {
		samples := linear(64, time.Second, 40*time.Millisecond, tc.c, tc.num, tc.den)

		r, err := Fit(samples)
		if err != nil {
			t.Fatalf("%s: fit failed: %v", tc.name, err)
		}

		if r.Num != tc.num || r.Den != tc.den {
			t.Errorf("%s: rate %d/%d, want %d/%d", tc.name, r.Num, r.Den, tc.num, tc.den)
		}

		if r.RSquared != 1 {
			t.Errorf("%s: r squared %v, want 1", tc.name, r.RSquared)
		}

		m := r.Mapping()
		for _, s := range samples {
			if got := m.Adjust(s.X); got != s.Y {
				t.Fatalf("%s: mapping at %v = %v, want %v", tc.name, s.X, got, s.Y)
			}
		}
	}
}

func TestFitInterceptAtMean(t *testing.T) {
	samples := linear(64, time.Second, 40*time.Millisecond, 0, 1001, 1000)

	r, err := Fit(samples)
	if err != nil {
		t.Fatal(err)
	}

	// mean of x is base + 31.5 steps, floored
	wantX := time.Second + 1260*time.Millisecond
	if r.XBase != wantX {
		t.Errorf("xbase %v, want %v", r.XBase, wantX)
	}

	if want := time.Duration(uint64(wantX) * 1001 / 1000); r.B != want {
		t.Errorf("b %v, want %v", r.B, want)
	}
}

func TestFitOrderIndependent(t *testing.T) {
	samples := linear(16, 0, time.Millisecond, time.Second, 3, 2)
	reversed := make([]Sample, len(samples))

	for i := range samples {
		reversed[len(samples)-1-i] = samples[i]
	}

	a, err := Fit(samples)
	if err != nil {
		t.Fatal(err)
	}

	b, err := Fit(reversed)
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Errorf("fit depends on order: %+v vs %+v", a, b)
	}
}

func TestFitDegenerate(t *testing.T) {
	if _, err := Fit(nil); !errors.Is(err, ErrTooFewSamples) {
		t.Errorf("nil samples: %v", err)
	}

	if _, err := Fit([]Sample{{X: 1, Y: 1}}); !errors.Is(err, ErrTooFewSamples) {
		t.Errorf("one sample: %v", err)
	}

	same := []Sample{{X: 10, Y: 1}, {X: 10, Y: 2}, {X: 10, Y: 3}}
	if _, err := Fit(same); !errors.Is(err, ErrDegenerate) {
		t.Errorf("zero x variance: %v", err)
	}

	flat := []Sample{{X: 1, Y: 7}, {X: 2, Y: 7}, {X: 3, Y: 7}}
	if _, err := Fit(flat); !errors.Is(err, ErrNonIncreasing) {
		t.Errorf("flat y: %v", err)
	}
}

func TestFitNoisyRSquared(t *testing.T) {
	samples := linear(64, 0, 40*time.Millisecond, 0, 1, 1)
	for i := range samples {
		if i%2 == 0 {
			samples[i].Y += 2 * time.Millisecond
		}
	}

	r, err := Fit(samples)
	if err != nil {
		t.Fatal(err)
	}

	if r.RSquared >= 1 || r.RSquared < 0.99 {
		t.Errorf("r squared %v out of range", r.RSquared)
	}
}
