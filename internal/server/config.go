package server

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host           string  `mapstructure:"host"`
	Port           int     `mapstructure:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// DefaultConfig returns the listen address and limits used when nothing is
// configured.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		RateLimitRPS:   100,
		RateLimitBurst: 200,
	}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConfigFrom decodes the "server" section of v.
func ConfigFrom(v *viper.Viper) (Config, error) {
	wrapper := struct {
		Server Config `mapstructure:"server"`
	}{Server: DefaultConfig()}
	if err := v.Unmarshal(&wrapper); err != nil {
		return wrapper.Server, fmt.Errorf("decode server config: %w", err)
	}
	return wrapper.Server, nil
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.rate_limit_burst", 200)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("model.path", "./model.yaml")
	v.SetDefault("detector.max_streams", 1024)
	v.SetDefault("detector.stream_idle_ttl", "1h")
	v.SetDefault("detector.maintenance_interval", "5m")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "sensorguard")
	v.SetDefault("mqtt.topic_prefix", "sensorguard")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "10s")
	v.SetDefault("mqtt.ha_discovery", false)
	v.SetDefault("mqtt.ha_discovery_prefix", "homeassistant")

	v.SetDefault("ws.enabled", true)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sensorguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sensorguard")
	}

	// Environment variable support: SG_SERVER_PORT=9090
	v.SetEnvPrefix("SG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
