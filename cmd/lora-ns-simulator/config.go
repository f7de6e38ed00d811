package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rawrobot/lora-ns-simulator/internal/kafka"
	"github.com/rawrobot/lora-ns-simulator/internal/mqtt"
	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
)

// Sink names accepted by simulation.sink
const (
	SinkMQTT  = "mqtt"
	SinkKafka = "kafka"
)

const (
	defaultApplicationID = "lora-ns-simulator"
	defaultRate          = 5 * time.Second
	defaultTopicDepth    = 3
)

type Config struct {
	Logging    Logging          `toml:"logging"`
	Broker     BrokerConfig     `toml:"broker"`
	Kafka      kafka.Config     `toml:"kafka"`
	Simulation SimulationConfig `toml:"simulation"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Dashboard  DashboardConfig  `toml:"dashboard"`
}

type Logging struct {
	Level                 string `toml:"level"`
	Pretty                bool   `toml:"pretty"`
	OutputDir             string `toml:"output_dir"`
	EnableSessionLog      bool   `toml:"enable_session_log"`
	SessionLogMaxDuration string `toml:"session_log_max_duration"`
}

type BrokerConfig struct {
	Server                string        `toml:"server"`
	User                  string        `toml:"user,omitempty"`
	Password              string        `toml:"password,omitempty"`
	ClientID              string        `toml:"client_id"`
	ConnectTimeout        time.Duration `toml:"connect_timeout"`
	ConnectAttempts       int           `toml:"connect_attempts"`
	AutoReconnect         bool          `toml:"auto_reconnect"`
	TLSCertFile           string        `toml:"tls_cert_file,omitempty"`
	TLSKeyFile            string        `toml:"tls_key_file,omitempty"`
	TLSCAFile             string        `toml:"tls_ca_file,omitempty"`
	TLSInsecureSkipVerify bool          `toml:"tls_insecure_skip_verify,omitempty"`
}

type SimulationConfig struct {
	ApplicationID       string        `toml:"application_id"`
	Sink                string        `toml:"sink"`
	Rate                time.Duration `toml:"rate"`
	Limit               uint64        `toml:"limit"` // 0 runs until stopped
	DischargeTime       time.Duration `toml:"discharge_time"`
	AirTemperature      int           `toml:"airtemp_sensors"`
	ExternalTemperature int           `toml:"extemp_sensors"`
	InternalTemperature int           `toml:"intemp_sensors"`
	Static              int           `toml:"static_sensors"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // empty disables the endpoint
}

type DashboardConfig struct {
	Enabled    bool `toml:"enabled"`
	TopicDepth int  `toml:"topic_depth"` // Number of topic levels to show from the end
	Truncate   bool `toml:"truncate"`
}

// DefaultConfig mirrors the command line defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:                 "info",
			Pretty:                true,
			OutputDir:             "logs",
			SessionLogMaxDuration: "1h",
		},
		Broker: BrokerConfig{
			Server:          mqtt.DefaultBrokerURL,
			ConnectTimeout:  mqtt.DefaultConnectTimeout,
			ConnectAttempts: mqtt.DefaultConnectAttempts,
		},
		Kafka: kafka.Config{
			Topic: kafka.DefaultTopic,
		},
		Simulation: SimulationConfig{
			ApplicationID:       defaultApplicationID,
			Sink:                SinkMQTT,
			Rate:                defaultRate,
			DischargeTime:       sensor.DefaultDischargeTime,
			AirTemperature:      1,
			ExternalTemperature: 1,
			InternalTemperature: 1,
		},
		Dashboard: DashboardConfig{
			TopicDepth: defaultTopicDepth,
			Truncate:   true,
		},
	}
}

// LoadConfig reads filename over the defaults and applies environment
// overrides. An empty filename skips the file.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		if _, err := toml.DecodeFile(filename, config); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	applyEnv(config)
	return config, nil
}

func applyEnv(config *Config) {
	if envUser := os.Getenv("MQTT_USER"); envUser != "" {
		config.Broker.User = envUser
	}
	if envPass := os.Getenv("MQTT_PASSWORD"); envPass != "" {
		config.Broker.Password = envPass
	}
	if appID := os.Getenv("LORASIM_APPLICATION_ID"); appID != "" {
		config.Simulation.ApplicationID = appID
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = splitList(brokers)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	sim := c.Simulation
	if sim.ApplicationID == "" {
		return errors.New("application id is required")
	}
	if sim.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %s", sim.Rate)
	}
	if sim.DischargeTime <= 0 {
		return fmt.Errorf("discharge time must be positive, got %s", sim.DischargeTime)
	}
	if sim.AirTemperature < 0 || sim.ExternalTemperature < 0 || sim.InternalTemperature < 0 || sim.Static < 0 {
		return errors.New("sensor counts must not be negative")
	}
	if c.FleetConfig().Size() == 0 {
		return errors.New("at least one sensor is required")
	}

	switch sim.Sink {
	case SinkMQTT:
		if c.Broker.Server == "" {
			return errors.New("broker server is required")
		}
		if err := validateTLSConfig(&c.Broker); err != nil {
			return fmt.Errorf("TLS validation failed: %w", err)
		}
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka sink requires at least one broker")
		}
	default:
		return fmt.Errorf("unknown sink %q, want %s or %s", sim.Sink, SinkMQTT, SinkKafka)
	}

	if c.Dashboard.TopicDepth < 1 {
		c.Dashboard.TopicDepth = defaultTopicDepth
	}
	return nil
}

func validateTLSConfig(broker *BrokerConfig) error {
	isTLS := strings.HasPrefix(broker.Server, "ssl://") ||
		strings.HasPrefix(broker.Server, "tls://") ||
		strings.HasPrefix(broker.Server, "mqtts://")

	// If client certificate is specified, both cert and key must be present
	if (broker.TLSCertFile != "") != (broker.TLSKeyFile != "") {
		return fmt.Errorf("both tls_cert_file and tls_key_file must be specified together")
	}

	for _, f := range []struct{ kind, path string }{
		{"certificate", broker.TLSCertFile},
		{"key", broker.TLSKeyFile},
		{"CA", broker.TLSCAFile},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			return fmt.Errorf("TLS %s file not found: %s", f.kind, f.path)
		}
	}

	if isTLS && broker.TLSInsecureSkipVerify {
		fmt.Fprintf(os.Stderr, "WARNING: TLS certificate verification disabled for %s - this is insecure!\n", broker.Server)
	}

	return nil
}

// ToMQTTConfig converts the broker section to mqtt.Config
func (b *BrokerConfig) ToMQTTConfig() mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.BrokerURL = b.Server
	cfg.ClientID = b.ClientID
	cfg.Username = b.User
	cfg.Password = b.Password
	cfg.AutoReconnect = b.AutoReconnect
	cfg.TLSCertFile = b.TLSCertFile
	cfg.TLSKeyFile = b.TLSKeyFile
	cfg.TLSCAFile = b.TLSCAFile
	cfg.TLSInsecureSkipVerify = b.TLSInsecureSkipVerify
	if b.ConnectTimeout > 0 {
		cfg.ConnectTimeout = b.ConnectTimeout
	}
	if b.ConnectAttempts > 0 {
		cfg.ConnectAttempts = b.ConnectAttempts
	}
	return cfg
}

// FleetConfig converts the simulation section to a sensor fleet description
func (c *Config) FleetConfig() sensor.FleetConfig {
	return sensor.FleetConfig{
		SamplingPeriod:      c.Simulation.Rate,
		EmitLimit:           c.Simulation.Limit,
		DischargeTime:       c.Simulation.DischargeTime,
		AirTemperature:      c.Simulation.AirTemperature,
		ExternalTemperature: c.Simulation.ExternalTemperature,
		InternalTemperature: c.Simulation.InternalTemperature,
		Static:              c.Simulation.Static,
	}
}
