// Package testutil builds detector fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/model"
)

// Identity returns the n×n identity matrix.
func Identity(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	return out
}

// NewArtifact builds a zero-mean, identity-covariance model for the given
// number of channels. Override fields with model options as needed.
func NewArtifact(t testing.TB, channels int, threshold float64, opts ...model.Option) *model.Artifact {
	t.Helper()
	n := channels * features.PerChannel
	art, err := model.New(make([]float64, n), Identity(n), threshold, opts...)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return art
}

// WriteArtifact stores art as YAML in a temp dir and returns its path.
func WriteArtifact(t testing.TB, art *model.Artifact) string {
	t.Helper()
	data, err := art.Marshal()
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

// SwingWindow alternates +a and -a on a single channel. Its features are
// [a, -2, a, a, 2a], so the distance from a zero mean under identity
// covariance is about sqrt(7a²+4).
func SwingWindow(a float64, rows int) features.Window {
	w := make(features.Window, rows)
	for i := range w {
		v := a
		if i%2 == 1 {
			v = -a
		}
		w[i] = []float64{v}
	}
	return w
}

// ConstantWindow repeats v on a single channel.
func ConstantWindow(v float64, rows int) features.Window {
	w := make(features.Window, rows)
	for i := range w {
		w[i] = []float64{v}
	}
	return w
}
