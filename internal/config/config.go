// Package config turns a loaded Viper instance into typed settings and
// builds the process logger.
package config

import (
	"fmt"
	"time"

	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/mqtt"
	"github.com/HerbHall/sensorguard/internal/webhook"
	"github.com/spf13/viper"
)

// ModelConfig locates the fitted model artifact.
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig enables bearer-token checks on the API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether API requests must carry a valid token.
func (c AuthConfig) Enabled() bool { return c.JWTSecret != "" }

// WSConfig toggles the realtime prediction feed.
type WSConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Settings is the typed view of everything outside the "server" and
// "logging" sections.
type Settings struct {
	Model    ModelConfig     `mapstructure:"model"`
	Detector detector.Config `mapstructure:"detector"`
	Auth     AuthConfig      `mapstructure:"auth"`
	MQTT     mqtt.Config     `mapstructure:"mqtt"`
	WS       WSConfig        `mapstructure:"ws"`
	Webhook  webhook.Config  `mapstructure:"webhook"`
}

// Load decodes Settings from v, keeping defaults for anything v leaves unset.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Detector: detector.DefaultConfig(),
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		MQTT:     mqtt.DefaultConfig(),
		WS:       WSConfig{Enabled: true},
		Webhook:  webhook.DefaultConfig(),
	}
	// Unmarshal walks every leaf key, so SG_* environment overrides of nested
	// keys apply as well as file values.
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if s.Detector.MaxStreams < 0 {
		return nil, fmt.Errorf("detector.max_streams must not be negative, got %d", s.Detector.MaxStreams)
	}
	return s, nil
}
