package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/detector/model"
	"github.com/HerbHall/sensorguard/internal/event"
	"go.uber.org/zap"
)

// Event topics published by the Registry. Payloads are Observation values.
const (
	TopicPredictionCompleted = "detector.prediction.completed"
	TopicPredictionFailed    = "detector.prediction.failed"
	TopicAnomalyRaised       = "detector.anomaly.raised"
	TopicAnomalyCleared      = "detector.anomaly.cleared"
)

const eventSource = "detector"

// Config holds per-stream limits and maintenance settings.
type Config struct {
	MaxStreams          int           `mapstructure:"max_streams"`
	StreamIdleTTL       time.Duration `mapstructure:"stream_idle_ttl"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxStreams:          1024,
		StreamIdleTTL:       1 * time.Hour,
		MaintenanceInterval: 5 * time.Minute,
	}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPublisher sends prediction events to p.
func WithPublisher(p event.Publisher) RegistryOption {
	return func(r *Registry) { r.bus = p }
}

// WithLogger sets the logger used by the maintenance loop.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryClock overrides the clock shared by the registry and its engines.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// StreamInfo summarizes one tracked stream.
type StreamInfo struct {
	ID            string    `json:"id"`
	LastSeen      time.Time `json:"last_seen"`
	Predictions   uint64    `json:"predictions"`
	StableAnomaly bool      `json:"stable_anomaly"`
}

// Registry keeps one Engine per sensor id, created on first use. All engines
// share the same artifact and precomputed scorer.
type Registry struct {
	model  *compiled
	cfg    Config
	bus    event.Publisher
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	streams map[string]*Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry builds a registry for art. A nil artifact fails with
// ErrModelUnavailable.
func NewRegistry(art *model.Artifact, cfg Config, opts ...RegistryOption) (*Registry, error) {
	c, err := compile(art)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		model:   c,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		streams: make(map[string]*Engine),
	}
	for _, o := range opts {
		o(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Artifact returns the shared model.
func (r *Registry) Artifact() *model.Artifact { return r.model.art }

// Predict scores w on the stream named sensorID, creating it if needed.
// An empty sensorID selects DefaultStreamID.
func (r *Registry) Predict(sensorID string, w features.Window) Outcome {
	if sensorID == "" {
		sensorID = DefaultStreamID
	}
	e, err := r.getOrCreate(sensorID)
	if err != nil {
		out := failed(sensorID, err, r.now())
		r.ObservePrediction(Observation{StreamID: sensorID, Outcome: out})
		return out
	}
	return e.Predict(w)
}

func (r *Registry) getOrCreate(id string) (*Engine, error) {
	r.mu.RLock()
	e, ok := r.streams[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if e, ok = r.streams[id]; ok {
		return e, nil
	}
	if r.cfg.MaxStreams > 0 && len(r.streams) >= r.cfg.MaxStreams {
		return nil, fmt.Errorf("%w: %d streams open, cannot add %q", ErrTooManyStreams, len(r.streams), id)
	}
	e = newEngine(r.model,
		WithStreamID(id),
		WithClock(r.now),
		WithObserver(r),
	)
	r.streams[id] = e
	return e, nil
}

// ObservePrediction publishes the observation on the event bus. Engines in
// the registry report through it; it is exported to satisfy Observer.
func (r *Registry) ObservePrediction(o Observation) {
	if r.bus == nil {
		return
	}
	publish := func(topic string) {
		r.bus.PublishAsync(r.ctx, event.Event{
			Topic:     topic,
			Source:    eventSource,
			Timestamp: r.now(),
			Payload:   o,
		})
	}

	if !o.Outcome.Ok() {
		publish(TopicPredictionFailed)
		return
	}
	publish(TopicPredictionCompleted)
	if o.Changed {
		if o.Outcome.Result.StableAnomaly {
			publish(TopicAnomalyRaised)
		} else {
			publish(TopicAnomalyCleared)
		}
	}
}

// Stream returns a snapshot of one stream.
func (r *Registry) Stream(id string) (State, bool) {
	r.mu.RLock()
	e, ok := r.streams[id]
	r.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	return e.Snapshot(), true
}

// Streams lists every tracked stream ordered by id.
func (r *Registry) Streams() []StreamInfo {
	r.mu.RLock()
	engines := make([]*Engine, 0, len(r.streams))
	for _, e := range r.streams {
		engines = append(engines, e)
	}
	r.mu.RUnlock()

	out := make([]StreamInfo, 0, len(engines))
	for _, e := range engines {
		s := e.Snapshot()
		out = append(out, StreamInfo{
			ID:            s.StreamID,
			LastSeen:      s.LastSeen,
			Predictions:   s.Predictions,
			StableAnomaly: s.StableAnomaly,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset clears the rolling state of one stream. It reports whether the
// stream existed.
func (r *Registry) Reset(id string) bool {
	r.mu.RLock()
	e, ok := r.streams[id]
	r.mu.RUnlock()
	if ok {
		e.Reset()
	}
	return ok
}

// Remove drops a stream entirely.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	delete(r.streams, id)
	return ok
}

// Count returns the number of tracked streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Evict removes streams with no prediction for idleFor and returns how many
// were removed.
func (r *Registry) Evict(idleFor time.Duration) int {
	cutoff := r.now().Add(-idleFor)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.streams {
		if e.idleSince().Before(cutoff) {
			delete(r.streams, id)
			removed++
		}
	}
	return removed
}

// Start launches the idle-stream eviction loop. It is a no-op when either
// the TTL or the interval is not positive.
func (r *Registry) Start() {
	if r.cfg.StreamIdleTTL <= 0 || r.cfg.MaintenanceInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.runMaintenance()
			}
		}
	}()
}

func (r *Registry) runMaintenance() {
	if n := r.Evict(r.cfg.StreamIdleTTL); n > 0 {
		r.logger.Info("evicted idle streams",
			zap.Int("count", n),
			zap.Duration("idle_ttl", r.cfg.StreamIdleTTL),
		)
	}
}

// Stop ends the maintenance loop and waits for it to exit.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}
