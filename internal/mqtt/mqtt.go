// Package mqtt bridges sensor windows arriving over MQTT into the detector
// and publishes predictions and stable-state transitions back to the broker.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/event"
	"github.com/HerbHall/sensorguard/pkg/models"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Retained stream state payloads.
const (
	StateAnomaly = "anomaly"
	StateNormal  = "normal"
)

// WindowTopic returns the subscription filter for incoming windows.
func WindowTopic(prefix string) string { return prefix + "/+/window" }

// PredictionTopic returns the topic a stream's predictions are published to.
func PredictionTopic(prefix, sensorID string) string {
	return prefix + "/" + sensorID + "/prediction"
}

// StateTopic returns the retained stable-state topic of a stream.
func StateTopic(prefix, sensorID string) string {
	return prefix + "/" + sensorID + "/state"
}

// SensorIDFromTopic extracts the sensor id from "<prefix>/<id>/window".
func SensorIDFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/window")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Predictor scores a window for a named stream. *detector.Registry
// implements it.
type Predictor interface {
	Predict(sensorID string, w features.Window) detector.Outcome
}

// publisher is the subset of pahomqtt.Client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge subscribes to sensor windows, runs them through the detector and
// publishes the outcome. With no broker configured it does nothing.
type Bridge struct {
	logger    *zap.Logger
	cfg       Config
	predictor Predictor

	mu        sync.RWMutex
	client    pahomqtt.Client
	pub       publisher
	announced map[string]bool
}

// New creates a bridge. Call Start to connect.
func New(cfg Config, predictor Predictor, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger:    logger,
		cfg:       cfg,
		predictor: predictor,
		announced: make(map[string]bool),
	}
}

// Enabled reports whether a broker is configured.
func (b *Bridge) Enabled() bool { return b.cfg.BrokerURL != "" }

// Start connects to the broker and subscribes to window topics. Connection
// failures are logged and retried in the background by the client.
func (b *Bridge) Start(_ context.Context) error {
	if !b.Enabled() {
		b.logger.Info("mqtt bridge disabled (no broker configured)")
		return nil
	}

	filter := WindowTopic(b.cfg.TopicPrefix)
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(b.cfg.Timeout).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			// Resubscribe on every (re)connect.
			token := c.Subscribe(filter, b.cfg.QoS, b.onMessage)
			if !token.WaitTimeout(b.cfg.Timeout) || token.Error() != nil {
				b.logger.Warn("mqtt subscribe failed",
					zap.String("filter", filter),
					zap.Error(token.Error()),
				)
				return
			}
			b.logger.Info("mqtt subscribed", zap.String("filter", filter))
		})

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	b.mu.Lock()
	b.client = client
	b.pub = client
	b.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(b.cfg.Timeout):
		b.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		b.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		b.logger.Info("mqtt connected to broker",
			zap.String("broker_url", b.cfg.BrokerURL),
		)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("mqtt disconnected")
	}
	b.client = nil
	b.pub = nil
}

// Connected reports whether the client is currently connected.
func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil && b.client.IsConnected()
}

func (b *Bridge) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	b.process(msg.Topic(), msg.Payload())
}

// process decodes one window message, scores it and publishes the outcome.
func (b *Bridge) process(topic string, payload []byte) {
	topicID, ok := SensorIDFromTopic(b.cfg.TopicPrefix, topic)
	if !ok {
		b.logger.Debug("ignoring message on unexpected topic", zap.String("topic", topic))
		return
	}

	var req models.PredictRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("invalid window payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		b.publishJSON(PredictionTopic(b.cfg.TopicPrefix, topicID), false, models.PredictionError{
			SensorID: topicID,
			Error:    "invalid window payload: " + err.Error(),
			Kind:     string(detector.MalformedInput),
		})
		return
	}
	if req.SensorID == "" {
		req.SensorID = topicID
	}

	out := b.predictor.Predict(req.SensorID, req.Window())
	if b.cfg.HADiscovery && out.Ok() {
		b.announce(req.SensorID)
	}
	b.publishJSON(PredictionTopic(b.cfg.TopicPrefix, req.SensorID), false, models.OutcomePayload(out))
}

// HandleEvent publishes stable-state transitions as retained state messages.
// Subscribe it to detector.TopicAnomalyRaised and detector.TopicAnomalyCleared.
func (b *Bridge) HandleEvent(_ context.Context, e event.Event) {
	obs, ok := e.Payload.(detector.Observation)
	if !ok {
		return
	}
	var state string
	switch e.Topic {
	case detector.TopicAnomalyRaised:
		state = StateAnomaly
	case detector.TopicAnomalyCleared:
		state = StateNormal
	default:
		return
	}
	b.publish(StateTopic(b.cfg.TopicPrefix, obs.StreamID), true, []byte(state))
}

// announce publishes HA discovery configs the first time a stream is seen.
func (b *Bridge) announce(sensorID string) {
	b.mu.Lock()
	if b.announced[sensorID] {
		b.mu.Unlock()
		return
	}
	b.announced[sensorID] = true
	b.mu.Unlock()

	for _, cfg := range BuildStreamDiscoveryConfigs(sensorID, b.cfg.TopicPrefix, b.cfg.HADiscoveryPrefix) {
		// Discovery configs are always retained so HA picks them up on restart.
		b.publish(cfg.Topic, true, cfg.Payload)
	}
	b.publish(StateTopic(b.cfg.TopicPrefix, sensorID), true, []byte(StateNormal))
}

func (b *Bridge) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	b.publish(topic, retained, payload)
}

func (b *Bridge) publish(topic string, retained bool, payload []byte) {
	b.mu.RLock()
	pub := b.pub
	b.mu.RUnlock()
	if pub == nil {
		return
	}

	token := pub.Publish(topic, b.cfg.QoS, retained, payload)
	if !token.WaitTimeout(b.cfg.Timeout) {
		b.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return
	}
	if token.Error() != nil {
		b.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", topic),
			zap.Error(token.Error()),
		)
		return
	}
	b.logger.Debug("mqtt message published", zap.String("mqtt_topic", topic))
}
