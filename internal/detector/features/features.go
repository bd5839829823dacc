// Package features turns a raw sensor window into the fixed-length statistical
// feature vector the distance model was fit on.
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PerChannel is the number of statistics extracted for each channel.
const PerChannel = 5

// Names lists the per-channel statistics in vector order.
var Names = [PerChannel]string{"std", "kurtosis", "peak_amplitude", "rms", "peak_to_peak"}

// ErrMalformedInput is returned for windows that cannot be scored.
var ErrMalformedInput = errors.New("malformed input")

// Window is an ordered sequence of readings, one row per reading and one
// column per channel.
type Window [][]float64

// Rows returns the number of readings in the window.
func (w Window) Rows() int { return len(w) }

// Channels returns the width of the first row, or 0 for an empty window.
func (w Window) Channels() int {
	if len(w) == 0 {
		return 0
	}
	return len(w[0])
}

// Validate rejects windows that are empty, too short for variance-based
// statistics, ragged, or whose width does not match channels.
func Validate(w Window, channels int) error {
	if len(w) == 0 {
		return fmt.Errorf("%w: empty window", ErrMalformedInput)
	}
	if len(w) < 2 {
		return fmt.Errorf("%w: window has %d row, at least 2 are required", ErrMalformedInput, len(w))
	}
	for i, row := range w {
		if len(row) != channels {
			return fmt.Errorf("%w: row %d has %d channels, model expects %d",
				ErrMalformedInput, i, len(row), channels)
		}
	}
	return nil
}

// Extract computes the feature vector for w. The caller must Validate first.
// When removeDC is set each channel has its mean subtracted before the
// statistics are taken, which must match the preprocessing used at fit time.
func Extract(w Window, removeDC bool) []float64 {
	channels := w.Channels()
	out := make([]float64, 0, channels*PerChannel)
	col := make([]float64, len(w))

	for c := 0; c < channels; c++ {
		for r, row := range w {
			col[r] = row[c]
		}
		if removeDC {
			floats.AddConst(-stat.Mean(col, nil), col)
		}
		s := channelStats(col)
		out = append(out, s[:]...)
	}
	return out
}

// channelStats returns std, excess kurtosis, max |x|, RMS and peak-to-peak.
// Moments are population (biased) moments. A channel with zero variance has
// kurtosis 0 rather than the undefined 0/0.
func channelStats(x []float64) [PerChannel]float64 {
	m2 := stat.Moment(2, x, nil)

	kurtosis := 0.0
	if m2 > 0 {
		kurtosis = stat.Moment(4, x, nil)/(m2*m2) - 3
	}

	peak := 0.0
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	if floats.HasNaN(x) {
		peak = math.NaN()
	}

	return [PerChannel]float64{
		math.Sqrt(m2),
		kurtosis,
		peak,
		math.Sqrt(floats.Dot(x, x) / float64(len(x))),
		floats.Max(x) - floats.Min(x),
	}
}

// Breakdown splits a feature vector into named per-channel groups. Channel
// names default to axis_<index> when names does not cover every channel.
func Breakdown(vec []float64, names []string) map[string]map[string]float64 {
	channels := len(vec) / PerChannel
	out := make(map[string]map[string]float64, channels)
	for c := 0; c < channels; c++ {
		stats := make(map[string]float64, PerChannel)
		for i, n := range Names {
			stats[n] = vec[c*PerChannel+i]
		}
		out[ChannelName(names, c)] = stats
	}
	return out
}

// ChannelName returns names[i] when present, axis_<i> otherwise.
func ChannelName(names []string, i int) string {
	if len(names) > i && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("axis_%d", i)
}
