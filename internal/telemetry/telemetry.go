// Package telemetry records detector events as Prometheus metrics and
// structured log entries.
package telemetry

import (
	"context"
	"fmt"
	"math"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/event"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Outcome label value for successful predictions. Failures use the
// detector.ErrorKind string.
const outcomeOK = "ok"

// Recorder turns detector observations into metrics and logs.
type Recorder struct {
	logger *zap.Logger

	predictions     *prometheus.CounterVec
	distance        prometheus.Histogram
	confidence      prometheus.Histogram
	stableAnomalies prometheus.Counter
	activeStreams   prometheus.GaugeFunc
}

// NewRecorder registers the detector metrics with reg. streams reports the
// current number of tracked streams for the active-streams gauge.
func NewRecorder(reg prometheus.Registerer, streams func() int, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		logger: logger,
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorguard_predictions_total",
				Help: "Predictions by outcome (ok or error kind).",
			},
			[]string{"outcome"},
		),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorguard_distance",
			Help:    "Finite Mahalanobis distances of scored windows.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorguard_confidence",
			Help:    "Confidence of successful predictions.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		stableAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensorguard_stable_anomalies_total",
			Help: "Transitions of a stream into the stable anomaly state.",
		}),
	}
	r.activeStreams = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sensorguard_active_streams",
			Help: "Sensor streams currently tracked.",
		},
		func() float64 {
			if streams == nil {
				return 0
			}
			return float64(streams())
		},
	)

	for _, c := range []prometheus.Collector{r.predictions, r.distance, r.confidence, r.stableAnomalies, r.activeStreams} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return r, nil
}

// Subscribe attaches the recorder to every detector topic on sub.
func (r *Recorder) Subscribe(sub event.Subscriber) (unsubscribe func()) {
	unsubs := []func(){
		sub.Subscribe(detector.TopicPredictionCompleted, r.Handle),
		sub.Subscribe(detector.TopicPredictionFailed, r.Handle),
		sub.Subscribe(detector.TopicAnomalyRaised, r.Handle),
		sub.Subscribe(detector.TopicAnomalyCleared, r.Handle),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle records one detector event.
func (r *Recorder) Handle(_ context.Context, e event.Event) {
	obs, ok := e.Payload.(detector.Observation)
	if !ok {
		return
	}

	switch e.Topic {
	case detector.TopicPredictionCompleted:
		res := obs.Outcome.Result
		r.predictions.WithLabelValues(outcomeOK).Inc()
		if !math.IsInf(res.Distance, 0) {
			r.distance.Observe(res.Distance)
		}
		r.confidence.Observe(res.Confidence)
		r.logger.Debug("prediction",
			zap.String("sensor_id", obs.StreamID),
			zap.Float64("distance", res.Distance),
			zap.Float64("confidence", res.Confidence),
			zap.Bools("flags", res.Flags[:]),
			zap.Bool("stable_anomaly", res.StableAnomaly),
		)

	case detector.TopicPredictionFailed:
		f := obs.Outcome.Err
		r.predictions.WithLabelValues(string(f.Kind)).Inc()
		r.logger.Warn("prediction failed",
			zap.String("sensor_id", obs.StreamID),
			zap.String("kind", string(f.Kind)),
			zap.String("error", f.Message),
		)

	case detector.TopicAnomalyRaised:
		r.stableAnomalies.Inc()
		res := obs.Outcome.Result
		r.logger.Warn("stable anomaly raised",
			zap.String("sensor_id", obs.StreamID),
			zap.Float64("distance", res.Distance),
			zap.Float64("threshold", res.Threshold),
			zap.Float64("confidence", res.Confidence),
		)

	case detector.TopicAnomalyCleared:
		r.logger.Info("stable anomaly cleared",
			zap.String("sensor_id", obs.StreamID),
			zap.Float64("distance", obs.Outcome.Result.Distance),
		)
	}
}
