// services/ess/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Session SessionConfig `mapstructure:"session"`
	Topics  TopicsConfig  `mapstructure:"topics"`
	Logger  *logrus.Logger
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MQTTConfig holds MQTT broker settings for the station link.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	CleanSession   bool          `mapstructure:"clean_session"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SessionConfig holds settings for the station session.
type SessionConfig struct {
	ProductCode       string        `mapstructure:"product_code"`
	DeviceCode        string        `mapstructure:"device_code"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	ConnectWait       time.Duration `mapstructure:"connect_wait"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	EventLogLimit     int           `mapstructure:"event_log_limit"`
}

// TopicsConfig selects derived or explicit topic resolution.
type TopicsConfig struct {
	Derived   bool            `mapstructure:"derived"`
	Overrides []TopicOverride `mapstructure:"overrides"`
}

// TopicOverride pins one category/direction pair to an explicit topic.
type TopicOverride struct {
	Category  string `mapstructure:"category"`
	Direction string `mapstructure:"direction"`
	Topic     string `mapstructure:"topic"`
}

// Load reads configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ESS")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.clean_session", true)
	viper.SetDefault("mqtt.keep_alive", "60s")
	viper.SetDefault("mqtt.connect_timeout", "10s")

	viper.SetDefault("session.heartbeat_timeout", "120s")
	viper.SetDefault("session.connect_wait", "10s")
	viper.SetDefault("session.reconnect_interval", "3s")
	viper.SetDefault("session.event_log_limit", 1000)

	viper.SetDefault("topics.derived", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error if using env vars
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Session.DeviceCode == "" {
		return nil, fmt.Errorf("session.device_code is required")
	}

	return &config, nil
}
