package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  id: "test-rig"
bridge:
  spec_file: "./configs/rvc-spec.yaml"
  mapping_file: "./configs/device-map.yaml"
  source_address: 0x82
  stale_after: 2m
  interfaces:
    - name: "house"
      address: "tcp://localhost:29536"
    - name: "chassis"
      address: "unix:///run/canbusd.sock"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  enabled: true
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-rig" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-rig")
	}
	if cfg.Bridge.SourceAddress != 0x82 {
		t.Errorf("Bridge.SourceAddress = 0x%02X, want 0x82", cfg.Bridge.SourceAddress)
	}
	if cfg.Bridge.StaleAfter != 2*time.Minute {
		t.Errorf("Bridge.StaleAfter = %v, want 2m", cfg.Bridge.StaleAfter)
	}
	if len(cfg.Bridge.Interfaces) != 2 {
		t.Fatalf("Bridge.Interfaces = %d, want 2", len(cfg.Bridge.Interfaces))
	}
	if cfg.Bridge.Interfaces[1].Name != "chassis" {
		t.Errorf("Interfaces[1].Name = %q, want chassis", cfg.Bridge.Interfaces[1].Name)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
service:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty service.id, got nil")
	}
}

// validBase returns a config that passes validation, for mutation tests.
func validBase() *Config {
	return &Config{
		Service: ServiceConfig{ID: "rvlink-001"},
		Bridge: BridgeConfig{
			SpecFile:    "./configs/rvc-spec.yaml",
			MappingFile: "./configs/device-map.yaml",
			Interfaces: []CANInterfaceConfig{
				{Name: "house", Address: "tcp://localhost:29536"},
			},
		},
		Database: DatabaseConfig{Path: "/data/rvlink.db"},
		MQTT:     MQTTConfig{QoS: 1},
		API:      APIConfig{Enabled: true, Port: 8080},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing service ID", func(c *Config) { c.Service.ID = "" }, true},
		{"missing spec file", func(c *Config) { c.Bridge.SpecFile = "" }, true},
		{"missing mapping file", func(c *Config) { c.Bridge.MappingFile = "" }, true},
		{"no interfaces", func(c *Config) { c.Bridge.Interfaces = nil }, true},
		{"unnamed interface", func(c *Config) { c.Bridge.Interfaces[0].Name = "" }, true},
		{"interface without address", func(c *Config) { c.Bridge.Interfaces[0].Address = "" }, true},
		{"duplicate interface names", func(c *Config) {
			c.Bridge.Interfaces = append(c.Bridge.Interfaces, CANInterfaceConfig{
				Name: "house", Address: "tcp://other:29536",
			})
		}, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"port ignored when API disabled", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
		{"empty JWT secret allowed", func(c *Config) { c.Security.JWT.Secret = "" }, false},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
		{"JWT secret with operator credentials", func(c *Config) {
			c.Security.JWT.Secret = "test-secret-key-at-least-32-chars!"
			c.Security.Operator = OperatorConfig{Username: "admin", Password: "changeme"}
		}, false},
		{"JWT secret without operator password", func(c *Config) {
			c.Security.JWT.Secret = "test-secret-key-at-least-32-chars!"
			c.Security.Operator = OperatorConfig{Username: "admin"}
		}, true},
		{"JWT secret without operator username", func(c *Config) {
			c.Security.JWT.Secret = "test-secret-key-at-least-32-chars!"
			c.Security.Operator = OperatorConfig{Password: "changeme"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("RVLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("RVLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("RVLINK_MQTT_USERNAME", "testuser")
	t.Setenv("RVLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("RVLINK_API_HOST", "192.168.1.1")
	t.Setenv("RVLINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("RVLINK_JWT_SECRET", "jwt-secret")
	t.Setenv("RVLINK_OPERATOR_USERNAME", "rig-operator")
	t.Setenv("RVLINK_OPERATOR_PASSWORD", "rig-password")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
	if cfg.Security.Operator.Username != "rig-operator" {
		t.Errorf("Security.Operator.Username = %q, want %q", cfg.Security.Operator.Username, "rig-operator")
	}
	if cfg.Security.Operator.Password != "rig-password" {
		t.Errorf("Security.Operator.Password = %q, want %q", cfg.Security.Operator.Password, "rig-password")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Bridge.SourceAddress != 0x80 {
		t.Errorf("defaultConfig Bridge.SourceAddress = 0x%02X, want 0x80", cfg.Bridge.SourceAddress)
	}
}
