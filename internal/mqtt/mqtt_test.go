package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/detector/features"
	"github.com/HerbHall/sensorguard/internal/event"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (p *recordingPublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type stubPredictor struct {
	gotID  string
	gotWin features.Window
	out    detector.Outcome
}

func (s *stubPredictor) Predict(id string, w features.Window) detector.Outcome {
	s.gotID, s.gotWin = id, w
	if s.out.Err != nil {
		s.out.Err.StreamID = id
	} else if s.out.Result != nil {
		s.out.Result.StreamID = id
	}
	return s.out
}

func newTestBridge(cfg Config, p Predictor) (*Bridge, *recordingPublisher) {
	b := New(cfg, p, zap.NewNop())
	pub := &recordingPublisher{}
	b.pub = pub
	return b, pub
}

func TestSensorIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"plant/pump-3/window", "pump-3", true},
		{"plant/pump-3/prediction", "", false},
		{"other/pump-3/window", "", false},
		{"plant//window", "", false},
		{"plant/a/b/window", "", false},
		{"plant/window", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := SensorIDFromTopic("plant", tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("SensorIDFromTopic(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	if got := WindowTopic("plant"); got != "plant/+/window" {
		t.Errorf("WindowTopic = %q", got)
	}
	if got := PredictionTopic("plant", "p1"); got != "plant/p1/prediction" {
		t.Errorf("PredictionTopic = %q", got)
	}
	if got := StateTopic("plant", "p1"); got != "plant/p1/state" {
		t.Errorf("StateTopic = %q", got)
	}
}

func TestProcess_PublishesPrediction(t *testing.T) {
	pred := &stubPredictor{out: detector.Outcome{Result: &detector.Result{Confidence: 0.95, Distance: 0.4, Threshold: 5}}}
	b, pub := newTestBridge(Config{TopicPrefix: "plant", Timeout: time.Second}, pred)

	b.process("plant/pump-3/window", []byte(`{"data": [[1, 2], [3, 4]]}`))

	if pred.gotID != "pump-3" {
		t.Errorf("sensor id = %q, want topic segment pump-3", pred.gotID)
	}
	if pred.gotWin.Rows() != 2 || pred.gotWin.Channels() != 2 {
		t.Errorf("window shape = %dx%d", pred.gotWin.Rows(), pred.gotWin.Channels())
	}

	msgs := pub.byTopic("plant/pump-3/prediction")
	if len(msgs) != 1 {
		t.Fatalf("prediction messages = %d, want 1", len(msgs))
	}
	var body map[string]any
	if err := json.Unmarshal(msgs[0].payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["confidence"] != 0.95 {
		t.Errorf("confidence = %v, want 0.95", body["confidence"])
	}
	if msgs[0].retained {
		t.Error("prediction published retained")
	}
}

func TestProcess_BodySensorIDWins(t *testing.T) {
	pred := &stubPredictor{out: detector.Outcome{Result: &detector.Result{}}}
	b, pub := newTestBridge(Config{TopicPrefix: "plant", Timeout: time.Second}, pred)

	b.process("plant/gateway/window", []byte(`{"data": [[1], [2]], "sensor_id": "fan-1"}`))

	if pred.gotID != "fan-1" {
		t.Errorf("sensor id = %q, want fan-1", pred.gotID)
	}
	if len(pub.byTopic("plant/fan-1/prediction")) != 1 {
		t.Error("prediction not published under the body sensor id")
	}
}

func TestProcess_FailuresPublishErrorObject(t *testing.T) {
	pred := &stubPredictor{out: detector.Outcome{Err: &detector.Failure{Kind: detector.NaNDistance, Message: "NaN distance"}}}
	b, pub := newTestBridge(Config{TopicPrefix: "plant", Timeout: time.Second}, pred)

	b.process("plant/p/window", []byte(`{"data": [[1], ["NaN"]]}`))
	b.process("plant/p/window", []byte(`not json`))

	msgs := pub.byTopic("plant/p/prediction")
	if len(msgs) != 2 {
		t.Fatalf("prediction messages = %d, want 2", len(msgs))
	}
	if !strings.Contains(string(msgs[0].payload), `"error":"NaN distance"`) {
		t.Errorf("NaN payload = %s", msgs[0].payload)
	}
	if !strings.Contains(string(msgs[1].payload), `"kind":"malformed_input"`) {
		t.Errorf("invalid JSON payload = %s", msgs[1].payload)
	}
}

func TestProcess_IgnoresForeignTopics(t *testing.T) {
	pred := &stubPredictor{}
	b, pub := newTestBridge(Config{TopicPrefix: "plant", Timeout: time.Second}, pred)

	b.process("elsewhere/p/window", []byte(`{"data": [[1], [2]]}`))
	if pred.gotID != "" || len(pub.msgs) != 0 {
		t.Error("message on foreign topic was processed")
	}
}

func TestProcess_AnnouncesStreamOnce(t *testing.T) {
	pred := &stubPredictor{out: detector.Outcome{Result: &detector.Result{}}}
	cfg := Config{TopicPrefix: "plant", Timeout: time.Second, HADiscovery: true, HADiscoveryPrefix: "homeassistant"}
	b, pub := newTestBridge(cfg, pred)

	b.process("plant/Pump 3/window", []byte(`{"data": [[1], [2]]}`))
	b.process("plant/Pump 3/window", []byte(`{"data": [[1], [2]]}`))

	cfgs := pub.byTopic("homeassistant/binary_sensor/sensorguard_pump_3/anomaly/config")
	if len(cfgs) != 1 {
		t.Fatalf("anomaly discovery configs = %d, want 1", len(cfgs))
	}
	if !cfgs[0].retained {
		t.Error("discovery config not retained")
	}
	state := pub.byTopic("plant/Pump 3/state")
	if len(state) != 1 || string(state[0].payload) != StateNormal {
		t.Errorf("initial state messages = %+v", state)
	}
}

func TestHandleEvent_PublishesRetainedState(t *testing.T) {
	b, pub := newTestBridge(Config{TopicPrefix: "plant", Timeout: time.Second}, &stubPredictor{})

	obs := detector.Observation{StreamID: "p1"}
	b.HandleEvent(context.Background(), event.Event{Topic: detector.TopicAnomalyRaised, Payload: obs})
	b.HandleEvent(context.Background(), event.Event{Topic: detector.TopicAnomalyCleared, Payload: obs})
	b.HandleEvent(context.Background(), event.Event{Topic: detector.TopicPredictionCompleted, Payload: obs})

	msgs := pub.byTopic("plant/p1/state")
	if len(msgs) != 2 {
		t.Fatalf("state messages = %d, want 2", len(msgs))
	}
	if string(msgs[0].payload) != StateAnomaly || string(msgs[1].payload) != StateNormal {
		t.Errorf("states = %s, %s", msgs[0].payload, msgs[1].payload)
	}
	for _, m := range msgs {
		if !m.retained {
			t.Error("state published without retain")
		}
	}
}

func TestStart_NoOpWithEmptyBrokerURL(t *testing.T) {
	b := New(DefaultConfig(), &stubPredictor{}, zap.NewNop())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if b.client != nil {
		t.Error("client should be nil when no broker URL is configured")
	}
	if b.Connected() {
		t.Error("Connected() = true without a broker")
	}
	b.Stop()
}

func TestPublish_NoOpWhenNotConnected(t *testing.T) {
	b := New(DefaultConfig(), &stubPredictor{}, zap.NewNop())
	// pub is nil -- should not panic.
	b.publish("sensorguard/x/state", true, []byte(StateAnomaly))
}

func TestSafeObjectID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"pump-3", "pump_3"},
		{"Line A/Motor 2", "line_a_motor_2"},
		{"---", "unknown"},
		{"", "unknown"},
		{"already_clean", "already_clean"},
	}
	for _, tt := range tests {
		if got := SafeObjectID(tt.input); got != tt.want {
			t.Errorf("SafeObjectID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestBuildStreamDiscoveryConfigs(t *testing.T) {
	cfgs := BuildStreamDiscoveryConfigs("pump-3", "plant", "homeassistant")
	if len(cfgs) != 3 {
		t.Fatalf("configs = %d, want 3", len(cfgs))
	}

	var bs BinarySensorConfig
	if err := json.Unmarshal(cfgs[0].Payload, &bs); err != nil {
		t.Fatalf("decode binary sensor: %v", err)
	}
	if bs.StateTopic != "plant/pump-3/state" {
		t.Errorf("StateTopic = %q", bs.StateTopic)
	}
	if bs.PayloadOn != StateAnomaly || bs.PayloadOff != StateNormal {
		t.Errorf("payloads = %q/%q", bs.PayloadOn, bs.PayloadOff)
	}
	if bs.DeviceClass != "problem" {
		t.Errorf("DeviceClass = %q", bs.DeviceClass)
	}

	var s SensorConfig
	if err := json.Unmarshal(cfgs[1].Payload, &s); err != nil {
		t.Fatalf("decode sensor: %v", err)
	}
	if s.StateTopic != "plant/pump-3/prediction" || s.ValueTemplate != "{{ value_json.confidence }}" {
		t.Errorf("confidence sensor = %+v", s)
	}
	if cfgs[2].Topic != "homeassistant/sensor/sensorguard_pump_3/distance/config" {
		t.Errorf("distance topic = %q", cfgs[2].Topic)
	}
}
