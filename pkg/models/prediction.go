package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/model"
)

// Float is a float64 that survives JSON. NaN encodes as 0 and infinities as
// the strings "+Inf" and "-Inf". Decoding also accepts "NaN", "Inf", "+Inf"
// and "-Inf" strings so clients can submit non-finite readings.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("0"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN", "nan":
			*f = Float(math.NaN())
		case "Inf", "+Inf", "inf", "+inf", "Infinity":
			*f = Float(math.Inf(1))
		case "-Inf", "-inf", "-Infinity":
			*f = Float(math.Inf(-1))
		default:
			return fmt.Errorf("invalid number %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// PredictRequest is the body of a prediction request.
type PredictRequest struct {
	Data     [][]Float `json:"data"`
	SensorID string    `json:"sensor_id,omitempty"`
}

// Window converts the request data into a detector window.
func (r PredictRequest) Window() features.Window {
	w := make(features.Window, len(r.Data))
	for i, row := range r.Data {
		w[i] = make([]float64, len(row))
		for j, v := range row {
			w[i][j] = float64(v)
		}
	}
	return w
}

// Prediction is the wire form of a successful prediction.
type Prediction struct {
	SensorID       string                      `json:"sensor_id"`
	StableAnomaly  bool                        `json:"stable_anomaly"`
	RawAnomaly     bool                        `json:"raw_anomaly"`
	Confidence     Float                       `json:"confidence"`
	Distance       Float                       `json:"distance"`
	Threshold      Float                       `json:"threshold"`
	FeatureValues  map[string]map[string]Float `json:"feature_values"`
	StabilityFlags []bool                      `json:"stability_flags"`
	HistoryLen     int                         `json:"history_len"`
	Degenerate     bool                        `json:"degenerate_model,omitempty"`
	Timestamp      time.Time                   `json:"timestamp"`
}

// PredictionError is the wire form of a failed prediction.
type PredictionError struct {
	SensorID  string    `json:"sensor_id"`
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPrediction converts an engine result.
func NewPrediction(r *detector.Result) Prediction {
	fv := make(map[string]map[string]Float, len(r.Features))
	for ch, stats := range r.Features {
		m := make(map[string]Float, len(stats))
		for name, v := range stats {
			m[name] = Float(v)
		}
		fv[ch] = m
	}
	return Prediction{
		SensorID:       r.StreamID,
		StableAnomaly:  r.StableAnomaly,
		RawAnomaly:     r.RawAnomaly,
		Confidence:     Float(r.Confidence),
		Distance:       Float(r.Distance),
		Threshold:      Float(r.Threshold),
		FeatureValues:  fv,
		StabilityFlags: r.Flags[:],
		HistoryLen:     r.HistoryLen,
		Degenerate:     r.Degenerate,
		Timestamp:      r.Timestamp,
	}
}

// NewPredictionError converts an engine failure.
func NewPredictionError(f *detector.Failure) PredictionError {
	return PredictionError{
		SensorID:  f.StreamID,
		Error:     f.Message,
		Kind:      string(f.Kind),
		Timestamp: f.Timestamp,
	}
}

// OutcomePayload returns the wire value for an outcome: a Prediction on
// success, a PredictionError otherwise.
func OutcomePayload(o detector.Outcome) any {
	if o.Ok() {
		return NewPrediction(o.Result)
	}
	return NewPredictionError(o.Err)
}

// StreamState is the wire form of one stream's rolling state.
type StreamState struct {
	ID             string    `json:"id"`
	StableAnomaly  bool      `json:"stable_anomaly"`
	StabilityFlags []bool    `json:"stability_flags"`
	History        []Float   `json:"distance_history"`
	Predictions    uint64    `json:"predictions"`
	LastSeen       time.Time `json:"last_seen"`
}

// NewStreamState converts an engine snapshot.
func NewStreamState(s detector.State) StreamState {
	hist := make([]Float, len(s.History))
	for i, v := range s.History {
		hist[i] = Float(v)
	}
	return StreamState{
		ID:             s.StreamID,
		StableAnomaly:  s.StableAnomaly,
		StabilityFlags: s.Flags[:],
		History:        hist,
		Predictions:    s.Predictions,
		LastSeen:       s.LastSeen,
	}
}

// ModelSummary describes the loaded artifact without its matrices.
type ModelSummary struct {
	Features  int      `json:"features"`
	Channels  []string `json:"channels"`
	Threshold Float    `json:"threshold"`
	RemoveDC  bool     `json:"remove_dc"`
	Version   string   `json:"version,omitempty"`
}

// NewModelSummary summarizes a.
func NewModelSummary(a *model.Artifact) ModelSummary {
	return ModelSummary{
		Features:  a.FeatureCount(),
		Channels:  a.ChannelNames(),
		Threshold: Float(a.Threshold),
		RemoveDC:  a.RemoveDC,
		Version:   a.Version,
	}
}
