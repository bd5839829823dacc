// Package model loads and validates the fitted Gaussian model artifact used
// for Mahalanobis scoring. Artifacts are produced offline and never mutated.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/HerbHall/sensorguard/internal/detector/features"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ErrModelUnavailable is returned when an artifact is missing or malformed.
var ErrModelUnavailable = errors.New("model not found or unreadable")

// symmetryTolerance bounds |cov[i][j] - cov[j][i]| relative to the entry size.
const symmetryTolerance = 1e-9

// Artifact holds the immutable fitted parameters of the distance model.
type Artifact struct {
	Mean       []float64
	Covariance *mat.SymDense
	Threshold  float64

	// RemoveDC records whether channel means were subtracted before feature
	// extraction at fit time. Serving must apply the same preprocessing.
	RemoveDC bool
	Channels []string
	Version  string
}

// Option configures an Artifact built with New.
type Option func(*Artifact)

// WithRemoveDC overrides the DC removal preprocessing flag (default true).
func WithRemoveDC(remove bool) Option {
	return func(a *Artifact) { a.RemoveDC = remove }
}

// WithChannels names the channels in fit order.
func WithChannels(names ...string) Option {
	return func(a *Artifact) { a.Channels = append([]string(nil), names...) }
}

// WithVersion tags the artifact with a version string.
func WithVersion(v string) Option {
	return func(a *Artifact) { a.Version = v }
}

// New validates the parameters and builds an Artifact. Inputs are copied.
func New(mu []float64, cov [][]float64, threshold float64, opts ...Option) (*Artifact, error) {
	a := &Artifact{
		Mean:      append([]float64(nil), mu...),
		Threshold: threshold,
		RemoveDC:  true,
	}
	for _, o := range opts {
		o(a)
	}

	if err := validate(a.Mean, cov, threshold, a.Channels); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	n := len(mu)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	a.Covariance = sym
	return a, nil
}

func validate(mu []float64, cov [][]float64, threshold float64, channels []string) error {
	n := len(mu)
	if n == 0 {
		return errors.New("mean vector is empty")
	}
	if n%features.PerChannel != 0 {
		return fmt.Errorf("mean length %d is not a multiple of %d features per channel", n, features.PerChannel)
	}
	if !finite(threshold) || threshold <= 0 {
		return fmt.Errorf("threshold %v must be finite and positive", threshold)
	}
	for i, v := range mu {
		if !finite(v) {
			return fmt.Errorf("mean[%d] is not finite", i)
		}
	}
	if len(cov) != n {
		return fmt.Errorf("covariance has %d rows, want %d", len(cov), n)
	}
	for i, row := range cov {
		if len(row) != n {
			return fmt.Errorf("covariance row %d has %d columns, want %d", i, len(row), n)
		}
		for j, v := range row {
			if !finite(v) {
				return fmt.Errorf("covariance[%d][%d] is not finite", i, j)
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			diff := math.Abs(cov[i][j] - cov[j][i])
			scale := math.Max(1, math.Max(math.Abs(cov[i][j]), math.Abs(cov[j][i])))
			if diff > symmetryTolerance*scale {
				return fmt.Errorf("covariance is not symmetric at [%d][%d]", i, j)
			}
		}
	}
	if len(channels) != 0 && len(channels) != n/features.PerChannel {
		return fmt.Errorf("artifact names %d channels, features describe %d", len(channels), n/features.PerChannel)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FeatureCount returns the feature vector length F.
func (a *Artifact) FeatureCount() int { return len(a.Mean) }

// ChannelCount returns the number of raw channels a window must carry.
func (a *Artifact) ChannelCount() int { return len(a.Mean) / features.PerChannel }

// ChannelNames returns the channel names, defaulting to axis_<i>.
func (a *Artifact) ChannelNames() []string {
	names := make([]string, a.ChannelCount())
	for i := range names {
		names[i] = features.ChannelName(a.Channels, i)
	}
	return names
}

// document is the on-disk artifact layout shared by the YAML and JSON forms.
type document struct {
	Mu            []float64     `json:"mu" yaml:"mu"`
	Cov           [][]float64   `json:"cov" yaml:"cov"`
	Threshold     *float64      `json:"threshold" yaml:"threshold"`
	Channels      []string      `json:"channels,omitempty" yaml:"channels,omitempty"`
	Version       string        `json:"version,omitempty" yaml:"version,omitempty"`
	Preprocessing preprocessing `json:"preprocessing" yaml:"preprocessing"`
}

type preprocessing struct {
	RemoveDC *bool `json:"remove_dc,omitempty" yaml:"remove_dc,omitempty"`
}

// Load reads an artifact from a .yaml, .yml or .json file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	a, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return a, nil
}

// Parse decodes an artifact in the given format ("yaml", "yml" or "json").
func Parse(data []byte, format string) (*Artifact, error) {
	var doc document
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %w", ErrModelUnavailable, err)
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode json: %w", ErrModelUnavailable, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported artifact format %q", ErrModelUnavailable, format)
	}

	if doc.Mu == nil {
		return nil, fmt.Errorf("%w: missing array \"mu\"", ErrModelUnavailable)
	}
	if doc.Cov == nil {
		return nil, fmt.Errorf("%w: missing array \"cov\"", ErrModelUnavailable)
	}
	if doc.Threshold == nil {
		return nil, fmt.Errorf("%w: missing scalar \"threshold\"", ErrModelUnavailable)
	}

	opts := []Option{WithChannels(doc.Channels...), WithVersion(doc.Version)}
	if doc.Preprocessing.RemoveDC != nil {
		opts = append(opts, WithRemoveDC(*doc.Preprocessing.RemoveDC))
	}
	return New(doc.Mu, doc.Cov, *doc.Threshold, opts...)
}

// Marshal encodes the artifact as YAML in the layout Load accepts.
func (a *Artifact) Marshal() ([]byte, error) {
	n := a.FeatureCount()
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			cov[i][j] = a.Covariance.At(i, j)
		}
	}
	threshold := a.Threshold
	removeDC := a.RemoveDC
	doc := document{
		Mu:            a.Mean,
		Cov:           cov,
		Threshold:     &threshold,
		Channels:      a.Channels,
		Version:       a.Version,
		Preprocessing: preprocessing{RemoveDC: &removeDC},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return out, nil
}
