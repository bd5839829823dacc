// Package webhook posts stable anomaly transitions to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/event"
	"github.com/HerbHall/sensorguard/internal/version"
	"github.com/HerbHall/sensorguard/pkg/models"
	"go.uber.org/zap"
)

// Config holds the webhook notifier configuration.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns a disabled notifier with a 10s delivery timeout.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// Notifier delivers anomaly raised/cleared events.
type Notifier struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client
}

// New creates a notifier. With an empty URL every event is dropped.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Notifier{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether a URL is configured.
func (n *Notifier) Enabled() bool { return n.cfg.URL != "" }

// Subscribe attaches the notifier to the transition topics on sub.
func (n *Notifier) Subscribe(sub event.Subscriber) (unsubscribe func()) {
	raised := sub.Subscribe(detector.TopicAnomalyRaised, n.HandleEvent)
	cleared := sub.Subscribe(detector.TopicAnomalyCleared, n.HandleEvent)
	return func() {
		raised()
		cleared()
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	SensorID  string `json:"sensor_id"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// HandleEvent posts one transition. Other topics are ignored.
func (n *Notifier) HandleEvent(ctx context.Context, e event.Event) {
	if !n.Enabled() {
		return
	}
	if e.Topic != detector.TopicAnomalyRaised && e.Topic != detector.TopicAnomalyCleared {
		return
	}
	obs, ok := e.Payload.(detector.Observation)
	if !ok {
		return
	}

	body, err := json.Marshal(Payload{
		Event:     e.Topic,
		Source:    e.Source,
		SensorID:  obs.StreamID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      models.OutcomePayload(obs.Outcome),
	})
	if err != nil {
		n.logger.Error("failed to marshal webhook payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	n.send(ctx, body, e.Topic, obs.StreamID)
}

func (n *Notifier) send(ctx context.Context, body []byte, topic, sensorID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sensorguard-webhook/"+version.Short())

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.String("sensor_id", sensorID),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint returned error",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	n.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.String("sensor_id", sensorID),
		zap.Int("status_code", resp.StatusCode),
	)
}
