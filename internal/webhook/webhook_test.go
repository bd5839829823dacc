package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/event"
	"go.uber.org/zap"
)

func transition(topic, sensorID string, stable bool) event.Event {
	return event.Event{
		Topic:     topic,
		Source:    "detector",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: detector.Observation{
			StreamID: sensorID,
			Changed:  true,
			Outcome: detector.Outcome{Result: &detector.Result{
				StreamID:      sensorID,
				StableAnomaly: stable,
				RawAnomaly:    stable,
				Distance:      7.5,
				Threshold:     5,
			}},
		},
	}
}

func TestNotifier_DeliversTransitions(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "sensorguard-webhook/") {
			t.Errorf("User-Agent = %q", ua)
		}
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	}))
	defer srv.Close()

	bus := event.NewBus(zap.NewNop())
	n := New(Config{URL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	unsubscribe := n.Subscribe(bus)
	defer unsubscribe()

	ctx := context.Background()
	_ = bus.Publish(ctx, transition(detector.TopicAnomalyRaised, "pump-3", true))
	_ = bus.Publish(ctx, transition(detector.TopicPredictionCompleted, "pump-3", true))
	_ = bus.Publish(ctx, transition(detector.TopicAnomalyCleared, "pump-3", false))

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d payloads, want 2", len(received))
	}
	if received[0]["event"] != detector.TopicAnomalyRaised || received[1]["event"] != detector.TopicAnomalyCleared {
		t.Errorf("events = %v, %v", received[0]["event"], received[1]["event"])
	}
	if received[0]["sensor_id"] != "pump-3" || received[0]["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("payload = %v", received[0])
	}
	data, _ := received[0]["data"].(map[string]any)
	if data["stable_anomaly"] != true || data["distance"] != 7.5 {
		t.Errorf("data = %v", data)
	}
}

func TestNotifier_DisabledWithoutURL(t *testing.T) {
	n := New(DefaultConfig(), nil)
	if n.Enabled() {
		t.Fatal("notifier enabled without URL")
	}
	// Must not panic or block.
	n.HandleEvent(context.Background(), transition(detector.TopicAnomalyRaised, "s", true))
}

func TestNotifier_EndpointErrorsAreSwallowed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL}, zap.NewNop())
	n.HandleEvent(context.Background(), transition(detector.TopicAnomalyRaised, "s", true))
	n.HandleEvent(context.Background(), event.Event{Topic: detector.TopicAnomalyRaised, Payload: "not an observation"})

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
