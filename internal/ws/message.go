package ws

import "time"

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessagePrediction     MessageType = "prediction"
	MessagePredictionFail MessageType = "prediction.failed"
	MessageAnomalyRaised  MessageType = "anomaly.raised"
	MessageAnomalyCleared MessageType = "anomaly.cleared"
)

// Message is the envelope for all WebSocket messages. Data is a
// models.Prediction or models.PredictionError.
type Message struct {
	Type      MessageType `json:"type"`
	SensorID  string      `json:"sensor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
