package detector

import (
	"time"

	"github.com/HerbHall/sensorguard/internal/detector/stability"
)

// Result is a successful prediction for one window.
type Result struct {
	StreamID string

	// StableAnomaly is true iff at least two of Flags are set.
	StableAnomaly bool
	// RawAnomaly is Distance > Threshold for this window alone.
	RawAnomaly bool

	Confidence float64
	Distance   float64 // +Inf for a degenerate model
	Threshold  float64

	// Features holds the per-channel breakdown keyed by channel name.
	Features map[string]map[string]float64

	Flags      [stability.Window]bool
	HistoryLen int
	Degenerate bool
	Timestamp  time.Time
}

// Failure describes a rejected or unscorable window. It implements error and
// unwraps to the sentinel matching Kind.
type Failure struct {
	StreamID  string
	Kind      ErrorKind
	Message   string
	Timestamp time.Time
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Kind.sentinel() }

// Outcome is the tagged result of Predict: exactly one of Result and Err is set.
type Outcome struct {
	Result *Result
	Err    *Failure
}

// Ok reports whether the outcome carries a Result.
func (o Outcome) Ok() bool { return o.Err == nil && o.Result != nil }

// Error returns the failure as an error, or nil on success.
func (o Outcome) Error() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}

func failed(streamID string, err error, at time.Time) Outcome {
	return Outcome{Err: &Failure{
		StreamID:  streamID,
		Kind:      kindOf(err),
		Message:   err.Error(),
		Timestamp: at,
	}}
}

// Observation is handed to an Observer after every Predict call.
type Observation struct {
	StreamID string
	Outcome  Outcome

	// Changed is set when this prediction flipped the stable verdict.
	Changed bool
}

// Observer receives one Observation per prediction. Implementations must not
// call back into the engine that produced it.
type Observer interface {
	ObservePrediction(Observation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Observation)

// ObservePrediction calls f(o).
func (f ObserverFunc) ObservePrediction(o Observation) { f(o) }
