package agent

import (
	"math"
	"testing"
)

func TestBoundsRoundTrip(t *testing.T) {
	b := NewBounds([]float64{-2.5e-4}, []float64{2.5e-4}, 1.0)

	// Unsquash then squash must reproduce interior actions exactly.
	for _, a := range []float64{-2.0e-4, -1.0e-5, 0, 3.0e-5, 2.4e-4} {
		u := make([]float64, 1)
		b.Unsquash([]float64{a}, u)
		out := make([]float64, 1)
		b.Squash(u, out)
		if math.Abs(out[0]-a) > 1e-12 {
			t.Errorf("round trip of %g gave %g", a, out[0])
		}
	}
}

func TestBoundsRoundTripCompressed(t *testing.T) {
	b := NewBounds([]float64{-2.5e-4}, []float64{2.5e-4}, 1.0/3.0)

	if math.Abs(b.High[0]-2.5e-4/3) > 1e-18 {
		t.Fatalf("compressed high = %g, want %g", b.High[0], 2.5e-4/3)
	}
	for _, a := range []float64{-8.0e-5, 0, 5.0e-5} {
		u := make([]float64, 1)
		b.Unsquash([]float64{a}, u)
		out := make([]float64, 1)
		b.Squash(u, out)
		if math.Abs(out[0]-a) > 1e-12 {
			t.Errorf("round trip of %g gave %g", a, out[0])
		}
	}
}

func TestBoundsSquashStaysInside(t *testing.T) {
	b := NewBounds([]float64{-2.5e-4, -1}, []float64{2.5e-4, 3}, 1.0)

	u := []float64{57.0, -57.0}
	out := make([]float64, 2)
	b.Squash(u, out)
	if out[0] > b.High[0] || out[0] < b.Low[0] {
		t.Errorf("squash(%g) = %g outside [%g, %g]", u[0], out[0], b.Low[0], b.High[0])
	}
	if out[1] > b.High[1] || out[1] < b.Low[1] {
		t.Errorf("squash(%g) = %g outside [%g, %g]", u[1], out[1], b.Low[1], b.High[1])
	}
}

func TestBoundsNormalizeClipsNearEdges(t *testing.T) {
	b := NewBounds([]float64{-1}, []float64{1}, 1.0)

	// An action exactly on the bound must stay inside the open interval so
	// atanh stays finite.
	out := make([]float64, 1)
	b.Normalize([]float64{1}, out)
	if out[0] >= 1 {
		t.Errorf("normalize(1) = %g, want < 1", out[0])
	}
	b.Unsquash([]float64{1}, out)
	if math.IsInf(out[0], 0) || math.IsNaN(out[0]) {
		t.Errorf("unsquash(1) = %g, want finite", out[0])
	}
}

func TestLogDetTanh(t *testing.T) {
	// Matches the direct form where that is representable.
	for _, u := range []float64{-5, -1.3, -0.1, 0, 0.7, 4.2} {
		th := math.Tanh(u)
		direct := math.Log(1 - th*th)
		if got := logDetTanh(u); math.Abs(got-direct) > 1e-9 {
			t.Errorf("logDetTanh(%g) = %g, want %g", u, got, direct)
		}
	}

	// Far in the tail the direct form underflows but the closed form keeps
	// going as 2*(ln2 - |u|).
	got := logDetTanh(25)
	want := 2 * (math.Ln2 - 25)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("logDetTanh(25) = %g, want %g", got, want)
	}
	if math.IsInf(logDetTanh(-25), 0) {
		t.Error("logDetTanh(-25) is infinite")
	}
}

func TestStdTransform(t *testing.T) {
	// Zero maps to 0.25 by construction.
	if got := stdTransform(0); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("stdTransform(0) = %g, want 0.25", got)
	}

	// Monotonic within the clamp.
	prev := stdTransform(-13)
	for x := -12.0; x <= 13; x++ {
		cur := stdTransform(x)
		if cur <= prev {
			t.Fatalf("stdTransform not increasing at %g", x)
		}
		prev = cur
	}

	// Saturated beyond the clamp.
	if stdTransform(-100) != stdTransform(logEpsilon) {
		t.Error("lower clamp not applied")
	}
	if stdTransform(100) != stdTransform(-logEpsilon) {
		t.Error("upper clamp not applied")
	}
	if stdTransform(-100) <= 0 {
		t.Error("std must stay positive")
	}
}

func TestStdTransformDeriv(t *testing.T) {
	const h = 1e-6
	for _, x := range []float64{-5, -1, 0, 0.5, 3} {
		num := (stdTransform(x+h) - stdTransform(x-h)) / (2 * h)
		if got := stdTransformDeriv(x); math.Abs(got-num) > 1e-6 {
			t.Errorf("deriv at %g: %g, finite diff %g", x, got, num)
		}
	}
	if stdTransformDeriv(100) != 0 || stdTransformDeriv(-100) != 0 {
		t.Error("deriv must vanish where the clamp is active")
	}
}
