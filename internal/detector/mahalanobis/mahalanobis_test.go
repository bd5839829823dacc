package mahalanobis

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func diagonal(values ...float64) *mat.SymDense {
	n := len(values)
	m := mat.NewSymDense(n, nil)
	for i, v := range values {
		m.SetSym(i, i, v)
	}
	return m
}

func filled(n int, v float64) *mat.SymDense {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = v
	}
	return mat.NewSymDense(n, data)
}

func TestDistance_Identity(t *testing.T) {
	s := NewScorer(make([]float64, 5), diagonal(1, 1, 1, 1, 1))
	if s.Degenerate() {
		t.Fatal("identity covariance reported as degenerate")
	}

	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{name: "at mean", x: []float64{0, 0, 0, 0, 0}, want: 0},
		{name: "3-4-5 triangle", x: []float64{3, 4, 0, 0, 0}, want: 5},
		{name: "negative offsets", x: []float64{-1, -1, -1, -1, 0}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Distance(tt.x)
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("Distance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistance_MixedScales(t *testing.T) {
	// Temperature-like, vibration-like and power-like variances side by side.
	variances := []float64{1e4, 1e-2, 25, 1e6, 4e-4}
	mean := []float64{25, 1.2, 110, 500, 0.05}
	s := NewScorer(mean, diagonal(variances...))

	x := make([]float64, len(mean))
	want := 0.0
	for i := range x {
		dev := 2 * math.Sqrt(variances[i])
		x[i] = mean[i] + dev
		want += dev * dev / (variances[i] + Regularization)
	}
	want = math.Sqrt(want)

	got := s.Distance(x)
	if math.Abs(got-want) > 1e-6*want {
		t.Errorf("Distance = %v, want %v", got, want)
	}
}

func TestDistance_CorrelatedCovariance(t *testing.T) {
	cov := mat.NewSymDense(5, []float64{
		2, 1, 0, 0, 0,
		1, 2, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
		0, 0, 0, 0, 1,
	})
	s := NewScorer(make([]float64, 5), cov)

	// Inverse of [[2,1],[1,2]] is 1/3 [[2,-1],[-1,2]]; x=(1,1) gives 2/3.
	got := s.Distance([]float64{1, 1, 0, 0, 0})
	want := math.Sqrt(2.0 / 3.0)
	if math.Abs(got-want) > 1e-5 {
		t.Errorf("Distance = %v, want %v", got, want)
	}
}

func TestDistance_ZeroDeterminantIsInfinite(t *testing.T) {
	tests := []struct {
		name string
		cov  *mat.SymDense
	}{
		{name: "all zeros", cov: filled(5, 0)},
		{name: "rank one", cov: filled(5, 1)},
	}
	inputs := [][]float64{
		{0, 0, 0, 0, 0},
		{1, 2, 3, 4, 5},
		{-100, 0.5, 1e9, 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(make([]float64, 5), tt.cov)
			if !s.Degenerate() {
				t.Fatal("expected degenerate scorer")
			}
			for _, x := range inputs {
				if got := s.Distance(x); !math.IsInf(got, 1) {
					t.Errorf("Distance(%v) = %v, want +Inf", x, got)
				}
			}
		})
	}
}

func TestDistance_NonNegative(t *testing.T) {
	s := NewScorer([]float64{1, -1, 2, -2, 0.5}, diagonal(0.5, 2, 3, 0.1, 9))
	inputs := [][]float64{
		{1, -1, 2, -2, 0.5},
		{0, 0, 0, 0, 0},
		{1e6, -1e6, 1e-6, 3, 3},
	}
	for _, x := range inputs {
		got := s.Distance(x)
		if math.IsNaN(got) || got < 0 {
			t.Errorf("Distance(%v) = %v, want >= 0", x, got)
		}
	}
}

func TestDistance_NaNAndLengthMismatch(t *testing.T) {
	s := NewScorer(make([]float64, 5), diagonal(1, 1, 1, 1, 1))

	if got := s.Distance([]float64{math.NaN(), 0, 0, 0, 0}); !math.IsNaN(got) {
		t.Errorf("Distance with NaN input = %v, want NaN", got)
	}
	if got := s.Distance([]float64{0, 0}); !math.IsNaN(got) {
		t.Errorf("Distance with short input = %v, want NaN", got)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{name: "odd", in: []float64{3, 1, 2}, want: 2},
		{name: "even", in: []float64{4, 1, 3, 2}, want: 2.5},
		{name: "single", in: []float64{7}, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.in); got != tt.want {
				t.Errorf("median(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if !math.IsNaN(median(nil)) {
		t.Error("median(nil) should be NaN")
	}
}
