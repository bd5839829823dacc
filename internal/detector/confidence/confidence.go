// Package confidence maps Mahalanobis distances to a calibrated confidence
// score using adaptive bands around the model threshold and the stability of
// recent distances.
package confidence

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// HistoryCapacity bounds the number of past distances retained per stream.
	HistoryCapacity = 20

	// stabilityWindow is how many recent distances feed the stability factor.
	stabilityWindow = 5

	guard = 1e-6

	confidentNormal    = 0.95
	confidentAnomalous = 0.90
	bandCeiling        = 0.9
	logisticSteepness  = 10
)

// History is a bounded FIFO of finite past distances. It is not safe for
// concurrent use; the owning engine serializes access.
type History struct {
	values []float64
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{values: make([]float64, 0, HistoryCapacity)}
}

// Push appends v, evicting the oldest entry once capacity is reached.
func (h *History) Push(v float64) {
	if len(h.values) == HistoryCapacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:HistoryCapacity-1]
	}
	h.values = append(h.values, v)
}

// Len returns the number of retained distances.
func (h *History) Len() int { return len(h.values) }

// Values returns a copy of the retained distances, oldest first.
func (h *History) Values() []float64 {
	return append([]float64(nil), h.values...)
}

// last returns the n most recent values without copying.
func (h *History) last(n int) []float64 {
	if n > len(h.values) {
		n = len(h.values)
	}
	return h.values[len(h.values)-n:]
}

// Reset drops every retained distance.
func (h *History) Reset() { h.values = h.values[:0] }

// Estimator computes confidence for a fixed threshold. The zero value is not
// usable; construct with NewEstimator.
type Estimator struct {
	threshold float64
	lower     float64
	upper     float64
}

// NewEstimator derives the uncertainty band from the threshold's order of
// magnitude: m = log10(threshold), band = [threshold·e^(−m/2), threshold·e^(m/2)].
func NewEstimator(threshold float64) Estimator {
	m := math.Log10(threshold)
	return Estimator{
		threshold: threshold,
		lower:     threshold * math.Exp(-m/2),
		upper:     threshold * math.Exp(m/2),
	}
}

// Bounds returns the lower and upper edges of the uncertainty band.
func (e Estimator) Bounds() (lower, upper float64) { return e.lower, e.upper }

// Base returns the history-free confidence for distance.
func (e Estimator) Base(distance float64) float64 {
	switch {
	case distance < e.lower:
		return confidentNormal
	case distance > e.upper:
		return confidentAnomalous
	}
	// threshold == 1 collapses the band to a point.
	x := 0.5
	if width := e.upper - e.lower; width != 0 {
		x = (distance - e.lower) / width
	}
	return bandCeiling / (1 + math.Exp(logisticSteepness*(x-0.5)))
}

// Confidence returns a score in [0,1] for distance and records it in h.
//
// Only finite distances are appended. Once more than five distances are
// retained, the base score is blended with a stability factor built from the
// last five: closeness of distance to their mean and their relative spread.
// The blend weight grows with history length up to HistoryCapacity.
func (e Estimator) Confidence(distance float64, h *History) float64 {
	if !math.IsNaN(distance) && !math.IsInf(distance, 0) {
		h.Push(distance)
	}

	base := e.Base(distance)
	if h.Len() <= stabilityWindow {
		return clip(base)
	}

	recent := h.last(stabilityWindow)
	mean := stat.Mean(recent, nil)
	std := math.Sqrt(stat.Moment(2, recent, nil))

	trend := math.Exp(-math.Abs(distance-mean) / (std + guard))
	variation := math.Exp(-(std / (mean + guard)))
	factor := (trend + variation) / 2

	weight := math.Min(float64(h.Len())/HistoryCapacity, 1)
	return clip(base*(1-weight) + (base+factor)/2*weight)
}

// clip bounds v to [0,1]; NaN maps to 0.
func clip(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
