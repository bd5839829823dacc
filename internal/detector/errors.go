package detector

import (
	"errors"

	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/model"
)

// Sentinel errors. Failures returned by the engine unwrap to one of these.
var (
	ErrModelUnavailable = model.ErrModelUnavailable
	ErrMalformedInput   = features.ErrMalformedInput
	ErrNaNDistance      = errors.New("NaN distance")
	ErrTooManyStreams   = errors.New("stream limit reached")
)

// ErrorKind classifies a failed prediction.
type ErrorKind string

const (
	// ModelUnavailable means no usable artifact backs the engine.
	ModelUnavailable ErrorKind = "model_unavailable"
	// SingularCovariance is never returned as a failure. A degenerate model
	// still yields a Result with an infinite distance and Degenerate set.
	SingularCovariance ErrorKind = "singular_covariance"
	// NaNDistance means scoring produced NaN for this window.
	NaNDistance ErrorKind = "nan_distance"
	// MalformedInput means the window was rejected before extraction.
	MalformedInput ErrorKind = "malformed_input"
	// StreamLimit means the registry refused to open another stream.
	StreamLimit ErrorKind = "stream_limit"
)

// sentinel returns the error a failure of this kind unwraps to.
func (k ErrorKind) sentinel() error {
	switch k {
	case ModelUnavailable:
		return ErrModelUnavailable
	case NaNDistance:
		return ErrNaNDistance
	case MalformedInput:
		return ErrMalformedInput
	case StreamLimit:
		return ErrTooManyStreams
	}
	return nil
}

// kindOf maps an error back to its kind, defaulting to MalformedInput.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return ModelUnavailable
	case errors.Is(err, ErrNaNDistance):
		return NaNDistance
	case errors.Is(err, ErrTooManyStreams):
		return StreamLimit
	}
	return MalformedInput
}
