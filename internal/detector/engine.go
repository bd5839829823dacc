// Package detector orchestrates feature extraction, Mahalanobis scoring,
// confidence estimation and the stability gate into per-stream predictions.
//
// An Engine owns the rolling state of one sensor stream. A Registry maps
// sensor ids to engines that share one immutable model.
package detector

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector/confidence"
	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/mahalanobis"
	"github.com/HerbHall/sensorguard/internal/detector/model"
	"github.com/HerbHall/sensorguard/internal/detector/stability"
)

// DefaultStreamID is used when a caller does not name its stream.
const DefaultStreamID = "default"

// compiled bundles an artifact with everything derived from it once.
type compiled struct {
	art       *model.Artifact
	scorer    *mahalanobis.Scorer
	estimator confidence.Estimator
}

func compile(art *model.Artifact) (*compiled, error) {
	if art == nil {
		return nil, fmt.Errorf("%w: no artifact", ErrModelUnavailable)
	}
	return &compiled{
		art:       art,
		scorer:    mahalanobis.NewScorer(art.Mean, art.Covariance),
		estimator: confidence.NewEstimator(art.Threshold),
	}, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers an observer notified after every prediction.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithStreamID names the stream the engine serves.
func WithStreamID(id string) Option {
	return func(e *Engine) { e.streamID = id }
}

// Engine scores windows for a single stream. It is safe for concurrent use;
// the gate and history update together under one lock so each successful
// prediction mutates both exactly once.
type Engine struct {
	model    *compiled
	now      func() time.Time
	observer Observer
	streamID string

	mu          sync.Mutex
	gate        stability.Gate
	history     *confidence.History
	predictions uint64
	lastSeen    time.Time
}

// NewEngine builds an engine for art. A nil artifact fails with
// ErrModelUnavailable.
func NewEngine(art *model.Artifact, opts ...Option) (*Engine, error) {
	c, err := compile(art)
	if err != nil {
		return nil, err
	}
	return newEngine(c, opts...), nil
}

func newEngine(c *compiled, opts ...Option) *Engine {
	e := &Engine{
		model:    c,
		now:      time.Now,
		streamID: DefaultStreamID,
		history:  confidence.NewHistory(),
	}
	for _, o := range opts {
		o(e)
	}
	e.lastSeen = e.now()
	return e
}

// StreamID returns the stream this engine serves.
func (e *Engine) StreamID() string { return e.streamID }

// Artifact returns the model backing the engine.
func (e *Engine) Artifact() *model.Artifact { return e.model.art }

// Predict scores one window.
//
// Malformed windows and NaN distances produce a failed Outcome and leave the
// stream state untouched. A degenerate model scores +Inf, which is treated
// as maximally anomalous.
func (e *Engine) Predict(w features.Window) Outcome {
	art := e.model.art

	if err := features.Validate(w, art.ChannelCount()); err != nil {
		return e.finish(failed(e.streamID, err, e.now()), false)
	}

	vec := features.Extract(w, art.RemoveDC)
	distance := e.model.scorer.Distance(vec)
	if math.IsNaN(distance) {
		return e.finish(failed(e.streamID, ErrNaNDistance, e.now()), false)
	}

	raw := distance > art.Threshold

	e.mu.Lock()
	prev := e.gate.Stable()
	stable := e.gate.Update(raw)
	conf := e.model.estimator.Confidence(distance, e.history)
	flags := e.gate.Flags()
	histLen := e.history.Len()
	e.predictions++
	ts := e.now()
	e.lastSeen = ts
	e.mu.Unlock()

	res := &Result{
		StreamID:      e.streamID,
		StableAnomaly: stable,
		RawAnomaly:    raw,
		Confidence:    conf,
		Distance:      distance,
		Threshold:     art.Threshold,
		Features:      features.Breakdown(vec, art.Channels),
		Flags:         flags,
		HistoryLen:    histLen,
		Degenerate:    e.model.scorer.Degenerate(),
		Timestamp:     ts,
	}
	return e.finish(Outcome{Result: res}, prev != stable)
}

func (e *Engine) finish(out Outcome, changed bool) Outcome {
	if e.observer != nil {
		e.observer.ObservePrediction(Observation{
			StreamID: e.streamID,
			Outcome:  out,
			Changed:  changed,
		})
	}
	return out
}

// State is a point-in-time copy of an engine's rolling state.
type State struct {
	StreamID      string
	Flags         [stability.Window]bool
	StableAnomaly bool
	History       []float64
	Predictions   uint64
	LastSeen      time.Time
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		StreamID:      e.streamID,
		Flags:         e.gate.Flags(),
		StableAnomaly: e.gate.Stable(),
		History:       e.history.Values(),
		Predictions:   e.predictions,
		LastSeen:      e.lastSeen,
	}
}

// Reset clears the flags and distance history as if freshly constructed.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate.Reset()
	e.history.Reset()
	e.predictions = 0
}

func (e *Engine) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}
