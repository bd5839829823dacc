package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/sensorguard/internal/auth"
	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/event"
	"github.com/HerbHall/sensorguard/pkg/models"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the realtime prediction feed.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenService // nil disables token checks
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes it to detector events.
func NewHandler(tokens *auth.TokenService, bus event.Subscriber, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		logger: logger,
	}
	if bus != nil {
		for _, topic := range []string{
			detector.TopicPredictionCompleted,
			detector.TopicPredictionFailed,
			detector.TopicAnomalyRaised,
			detector.TopicAnomalyCleared,
		} {
			bus.Subscribe(topic, h.HandleEvent)
		}
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/predictions", h.handlePredictionStream)
}

// ClientCount returns the number of connected feed clients.
func (h *Handler) ClientCount() int { return h.hub.ClientCount() }

// handlePredictionStream upgrades the connection and streams detector events.
// The optional sensor_id query parameter takes a comma-separated list of
// streams to follow.
func (h *Handler) handlePredictionStream(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if h.tokens != nil {
		// Browser WS API doesn't support headers, so the token rides in the query.
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token parameter", http.StatusUnauthorized)
			return
		}
		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow any origin since we validate via JWT token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		subject: subject,
		sensors: parseSensorFilter(r.URL.Query().Get("sensor_id")),
		send:    make(chan Message, 256),
		logger:  h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	// Client disconnected -- stop write pump and unregister.
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func parseSensorFilter(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

// HandleEvent forwards one detector event to subscribed clients.
func (h *Handler) HandleEvent(_ context.Context, e event.Event) {
	obs, ok := e.Payload.(detector.Observation)
	if !ok {
		return
	}
	var typ MessageType
	switch e.Topic {
	case detector.TopicPredictionCompleted:
		typ = MessagePrediction
	case detector.TopicPredictionFailed:
		typ = MessagePredictionFail
	case detector.TopicAnomalyRaised:
		typ = MessageAnomalyRaised
	case detector.TopicAnomalyCleared:
		typ = MessageAnomalyCleared
	default:
		return
	}
	h.hub.Broadcast(Message{
		Type:      typ,
		SensorID:  obs.StreamID,
		Timestamp: e.Timestamp,
		Data:      models.OutcomePayload(obs.Outcome),
	})
}
