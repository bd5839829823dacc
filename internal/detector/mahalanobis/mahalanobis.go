// Package mahalanobis scores feature vectors against a fitted Gaussian model.
package mahalanobis

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Regularization is added to the covariance diagonal before inversion.
const Regularization = 1e-6

// Scorer holds the precomputed inverse covariance for one model. It is
// read-only after construction and safe for concurrent use.
type Scorer struct {
	mean *mat.VecDense
	inv  *mat.Dense // nil when the model is degenerate
}

// NewScorer prepares a scorer for the given mean and covariance.
//
// A covariance with zero determinant, or one that stays exactly singular
// after regularization, yields a degenerate scorer whose distances are +Inf.
// The regularized covariance is divided by the median of its diagonal before
// inversion and the inverse divided by the same scale afterwards, which keeps
// mixed-unit features (°C, g, W) from losing precision in the solve.
func NewScorer(mean []float64, cov mat.Symmetric) *Scorer {
	s := &Scorer{mean: mat.NewVecDense(len(mean), append([]float64(nil), mean...))}

	if mat.Det(cov) == 0 {
		return s
	}

	n, _ := cov.Dims()
	reg := mat.NewSymDense(n, nil)
	reg.CopySym(cov)
	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		reg.SetSym(i, i, reg.At(i, i)+Regularization)
		diag[i] = reg.At(i, i)
	}

	scale := median(diag)
	if scale == 0 || math.IsNaN(scale) {
		return s
	}

	var scaled mat.Dense
	scaled.Apply(func(_, _ int, v float64) float64 { return v / scale }, reg)

	var inv mat.Dense
	if err := inv.Inverse(&scaled); err != nil {
		// A finite Condition error still carries a usable inverse.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return s
		}
	}
	var restored mat.Dense
	restored.Apply(func(_, _ int, v float64) float64 { return v / scale }, &inv)

	s.inv = &restored
	return s
}

// Degenerate reports whether every distance from this scorer is +Inf.
func (s *Scorer) Degenerate() bool { return s.inv == nil }

// Dim returns the feature vector length the scorer expects.
func (s *Scorer) Dim() int { return s.mean.Len() }

// Distance returns sqrt((x-μ)ᵀ Σ⁻¹ (x-μ)). The result is non-negative, +Inf
// for a degenerate model, or NaN when x carries NaN, has the wrong length,
// or the model is not positive semi-definite.
func (s *Scorer) Distance(x []float64) float64 {
	if len(x) != s.mean.Len() {
		return math.NaN()
	}
	if s.inv == nil {
		return math.Inf(1)
	}
	var d mat.VecDense
	d.SubVec(mat.NewVecDense(len(x), x), s.mean)
	return math.Sqrt(mat.Inner(&d, s.inv, &d))
}

// median returns the middle value of v, averaging the two middle values for
// even lengths. v is not modified.
func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
