package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a peerlink instance.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Host     HostConfig     `yaml:"host"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Relay    RelayConfig    `yaml:"relay"`
	Commands CommandsConfig `yaml:"commands"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// HostConfig identifies this instance in the shared record store.
type HostConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite record store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries change notifications between peers.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RelayConfig controls the conversation relay poll/process loop.
type RelayConfig struct {
	// Enabled turns on processing of envelopes that need a reply.
	// Instances that only request replies still post and fetch envelopes.
	Enabled bool `yaml:"enabled"`

	// PollInterval is the fallback timer period between polls.
	// Default: 15s
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxWorkers caps concurrent envelope processing.
	// 0 derives the value from the CPU count, clamped to [1,8].
	MaxWorkers int `yaml:"max_workers"`

	// SubscriptionID names the change subscription registered with the store.
	// Default: "relay-<host id>"
	SubscriptionID string `yaml:"subscription_id"`

	Inference InferenceConfig `yaml:"inference"`
}

// InferenceConfig points the relay at an OpenAI-compatible chat completions server.
type InferenceConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// CommandsConfig controls the lease-based command queue worker.
type CommandsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	BatchSize     int           `yaml:"batch_size"`
	WaitInterval  time.Duration `yaml:"wait_interval"`

	// TargetURL is the local backend commands are proxied to.
	// When empty, commands run against this instance's own API.
	TargetURL string `yaml:"target_url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PEERLINK_SECTION_KEY
// For example: PEERLINK_DATABASE_PATH, PEERLINK_HOST_ID
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "peerlink-host"
	}

	return &Config{
		Host: HostConfig{
			ID:   hostname,
			Name: hostname,
		},
		Database: DatabaseConfig{
			Path:        "./data/peerlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "peerlink-" + hostname,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Relay: RelayConfig{
			PollInterval: 15 * time.Second,
			Inference: InferenceConfig{
				URL:     "http://127.0.0.1:11434/v1",
				Timeout: 5 * time.Minute,
			},
		},
		Commands: CommandsConfig{
			Enabled:       true,
			PollInterval:  15 * time.Second,
			LeaseDuration: 60 * time.Second,
			BatchSize:     10,
			WaitInterval:  500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// envStrings maps PEERLINK_* variables onto string fields. Secrets belong
// here rather than in the file.
func envStrings(cfg *Config) map[string]*string {
	return map[string]*string{
		"PEERLINK_HOST_ID":                 &cfg.Host.ID,
		"PEERLINK_HOST_NAME":               &cfg.Host.Name,
		"PEERLINK_DATABASE_PATH":           &cfg.Database.Path,
		"PEERLINK_MQTT_HOST":               &cfg.MQTT.Broker.Host,
		"PEERLINK_MQTT_USERNAME":           &cfg.MQTT.Auth.Username,
		"PEERLINK_MQTT_PASSWORD":           &cfg.MQTT.Auth.Password,
		"PEERLINK_API_HOST":                &cfg.API.Host,
		"PEERLINK_INFLUXDB_TOKEN":          &cfg.InfluxDB.Token,
		"PEERLINK_RELAY_INFERENCE_URL":     &cfg.Relay.Inference.URL,
		"PEERLINK_RELAY_INFERENCE_API_KEY": &cfg.Relay.Inference.APIKey,
	}
}

// applyEnvOverrides replaces config values with any non-empty PEERLINK_*
// variable. An unparsable PEERLINK_API_PORT is ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envStrings(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("PEERLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate reports every invalid field at once.
//
// Returns:
//   - error: All failures joined with errors.Join, or nil if valid
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(strings.TrimSpace(c.Host.ID) != "", "host.id is required")
	check(c.Database.Path != "", "database.path is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")

	check(c.Relay.PollInterval > 0, "relay.poll_interval must be positive")
	check(c.Relay.MaxWorkers >= 0, "relay.max_workers must not be negative")
	check(!c.Relay.Enabled || c.Relay.Inference.URL != "", "relay.inference.url is required when the relay is enabled")

	check(c.Commands.PollInterval > 0, "commands.poll_interval must be positive")
	check(c.Commands.LeaseDuration > 0, "commands.lease_duration must be positive")
	check(c.Commands.WaitInterval > 0, "commands.wait_interval must be positive")
	check(c.Commands.BatchSize >= 1, "commands.batch_size must be at least 1")

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// RelaySubscriptionID returns the configured relay subscription ID or the
// per-host default.
func (c *Config) RelaySubscriptionID() string {
	if c.Relay.SubscriptionID != "" {
		return c.Relay.SubscriptionID
	}
	return "relay-" + c.Host.ID
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
