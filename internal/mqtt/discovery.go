package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model,omitempty"`
	ViaDevice   string   `json:"via_device,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name        string   `json:"name"`
	ObjectID    string   `json:"object_id"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	DeviceClass string   `json:"device_class,omitempty"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	Device      HADevice `json:"device"`
	Icon        string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name          string   `json:"name"`
	ObjectID      string   `json:"object_id"`
	UniqueID      string   `json:"unique_id"`
	StateTopic    string   `json:"state_topic"`
	ValueTemplate string   `json:"value_template,omitempty"`
	StateClass    string   `json:"state_class,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	Device        HADevice `json:"device"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildStreamDiscoveryConfigs announces one sensor stream to Home Assistant:
// a problem binary_sensor fed by the retained state topic, and confidence and
// distance sensors read from the prediction topic.
func BuildStreamDiscoveryConfigs(sensorID, topicPrefix, haPrefix string) []DiscoveryConfig {
	safeID := SafeObjectID(sensorID)
	device := HADevice{
		Identifiers: []string{"sensorguard_" + safeID},
		Name:        sensorID,
		Model:       "mahalanobis anomaly detector",
		ViaDevice:   "sensorguard",
	}

	entities := []struct {
		topic string
		body  any
	}{
		{
			topic: fmt.Sprintf("%s/binary_sensor/sensorguard_%s/anomaly/config", haPrefix, safeID),
			body: BinarySensorConfig{
				Name:        sensorID + " Anomaly",
				ObjectID:    "sensorguard_" + safeID + "_anomaly",
				UniqueID:    "sensorguard_" + safeID + "_anomaly",
				StateTopic:  StateTopic(topicPrefix, sensorID),
				DeviceClass: "problem",
				PayloadOn:   StateAnomaly,
				PayloadOff:  StateNormal,
				Device:      device,
				Icon:        "mdi:sine-wave",
			},
		},
		{
			topic: fmt.Sprintf("%s/sensor/sensorguard_%s/confidence/config", haPrefix, safeID),
			body: SensorConfig{
				Name:          sensorID + " Confidence",
				ObjectID:      "sensorguard_" + safeID + "_confidence",
				UniqueID:      "sensorguard_" + safeID + "_confidence",
				StateTopic:    PredictionTopic(topicPrefix, sensorID),
				ValueTemplate: "{{ value_json.confidence }}",
				StateClass:    "measurement",
				Icon:          "mdi:gauge",
				Device:        device,
			},
		},
		{
			topic: fmt.Sprintf("%s/sensor/sensorguard_%s/distance/config", haPrefix, safeID),
			body: SensorConfig{
				Name:          sensorID + " Distance",
				ObjectID:      "sensorguard_" + safeID + "_distance",
				UniqueID:      "sensorguard_" + safeID + "_distance",
				StateTopic:    PredictionTopic(topicPrefix, sensorID),
				ValueTemplate: "{{ value_json.distance }}",
				StateClass:    "measurement",
				Icon:          "mdi:ruler",
				Device:        device,
			},
		},
	}

	configs := make([]DiscoveryConfig, 0, len(entities))
	for _, e := range entities {
		payload, err := json.Marshal(e.body)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{Topic: e.topic, Payload: payload})
	}
	return configs
}
