package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RVLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig contains service identity information.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BridgeConfig contains the RV-C bridge settings: protocol and mapping
// files, bus interfaces, and pipeline tuning.
type BridgeConfig struct {
	// SpecFile is the path to the protocol specification YAML
	// (message definitions keyed by DGN).
	SpecFile string `yaml:"spec_file"`

	// MappingFile is the path to the device mapping YAML
	// (entity descriptors and templates).
	MappingFile string `yaml:"mapping_file"`

	// SourceAddress is this node's address on the bus, stamped on
	// outbound command frames.
	SourceAddress uint8 `yaml:"source_address"`

	// StaleAfter is the silence window before an entity is flagged
	// stale. Zero disables the staleness sweep.
	StaleAfter time.Duration `yaml:"stale_after"`

	// HubQueueSize is the per-subscriber event queue capacity.
	HubQueueSize int `yaml:"hub_queue_size"`

	// HealthInterval is how often health status is published.
	HealthInterval time.Duration `yaml:"health_interval"`

	// Interfaces lists the CAN gateway connections, one per physical bus.
	Interfaces []CANInterfaceConfig `yaml:"interfaces"`
}

// CANInterfaceConfig describes one CAN gateway connection.
type CANInterfaceConfig struct {
	// Name is the interface tag (e.g. "house", "chassis"). Entity
	// descriptors reference it.
	Name string `yaml:"name"`

	// Address is the gateway URL: "tcp://host:port" or "unix:///path".
	Address string `yaml:"address"`

	// ConnectTimeout is the maximum time to wait for connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ReconnectInterval is the initial delay between reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	Enabled  bool             `yaml:"enabled"`
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

// APITimeoutConfig contains HTTP timeout settings, in seconds.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Operator OperatorConfig `yaml:"operator"`
}

// OperatorConfig holds the single operator login for the HTTP API.
// The password should come from the environment in production; it is
// required whenever a JWT secret is configured.
type OperatorConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// JWTConfig contains bearer token settings for the HTTP API. An empty
// secret disables authentication; when set, it must be long enough to
// resist brute force.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RVLINK_SECTION_KEY
// For example: RVLINK_DATABASE_PATH, RVLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // Path comes from the command line
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "rvlink-001",
			Name: "RVLink",
		},
		Bridge: BridgeConfig{
			SpecFile:       "./configs/rvc-spec.yaml",
			MappingFile:    "./configs/device-map.yaml",
			SourceAddress:  0x80,
			StaleAfter:     5 * time.Minute,
			HubQueueSize:   64,
			HealthInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/rvlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rvlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Operator: OperatorConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RVLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RVLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("RVLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RVLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RVLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("RVLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("RVLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Secrets should come from the environment in production.
	if v := os.Getenv("RVLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("RVLINK_OPERATOR_USERNAME"); v != "" {
		cfg.Security.Operator.Username = v
	}
	if v := os.Getenv("RVLINK_OPERATOR_PASSWORD"); v != "" {
		cfg.Security.Operator.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Bridge.SpecFile == "" {
		errs = append(errs, "bridge.spec_file is required")
	}
	if c.Bridge.MappingFile == "" {
		errs = append(errs, "bridge.mapping_file is required")
	}
	if len(c.Bridge.Interfaces) == 0 {
		errs = append(errs, "bridge.interfaces must list at least one CAN interface")
	}
	seen := make(map[string]bool, len(c.Bridge.Interfaces))
	for i, iface := range c.Bridge.Interfaces {
		if iface.Name == "" {
			errs = append(errs, fmt.Sprintf("bridge.interfaces[%d].name is required", i))
		}
		if seen[iface.Name] {
			errs = append(errs, fmt.Sprintf("bridge.interfaces: duplicate name %q", iface.Name))
		}
		seen[iface.Name] = true
		if iface.Address == "" {
			errs = append(errs, fmt.Sprintf("bridge.interfaces[%d].address is required", i))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An API without a secret serves unauthenticated; that is a valid
	// deployment on an isolated vehicle network. A short secret is not,
	// and neither is a secret guarding a login with no password.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" {
		if len(s) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters when set")
		}
		if c.Security.Operator.Username == "" {
			errs = append(errs, "security.operator.username is required when security.jwt.secret is set")
		}
		if c.Security.Operator.Password == "" {
			errs = append(errs, "security.operator.password is required when security.jwt.secret is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
