package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the mesh bridge.
// All configuration is loaded from YAML and can be overridden by environment
// variables and, finally, by command-line flags.
type Config struct {
	Mesh     MeshConfig     `yaml:"mesh"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MeshConfig contains settings for the sensor mesh side of the bridge.
type MeshConfig struct {
	// Gateway is the radio gateway daemon socket.
	// Format: "unix:///run/rf24gw.sock" or "tcp://127.0.0.1:2424".
	Gateway string `yaml:"gateway"`

	// SensorFrameType is the single-character header tag of sensor frames.
	// Default: "M"
	SensorFrameType string `yaml:"sensor_frame_type"`

	// PollTimeout bounds how long one maintenance tick waits on the gateway
	// socket for new bytes.
	// Default: 5ms
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// AddressLease is how long an assigned mesh address stays reserved for a
	// node that has gone quiet. Zero keeps addresses forever.
	// Default: 10m
	AddressLease time.Duration `yaml:"address_lease"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Certs     MQTTCertsConfig     `yaml:"certs"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// KeepAlive is the MQTT keepalive interval.
	// Default: 10s
	KeepAlive time.Duration `yaml:"keep_alive"`

	// CommandTimeout bounds connect, subscribe and publish round trips.
	// Default: 20s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// TLSHandshakeTimeout bounds the TLS handshake on connect.
	// Default: 5s
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`

	// StatusTopic receives the retained online/offline status and the
	// Last Will. Empty disables status publishing.
	// Default: "meshbridge/status"
	StatusTopic string `yaml:"status_topic"`
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

// MQTTCertsConfig names the TLS material used to authenticate the bridge.
// File names are resolved inside Directory.
type MQTTCertsConfig struct {
	Directory   string `yaml:"directory"`
	RootCA      string `yaml:"root_ca"`
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// AutoReconnect lets the client reconnect on its own after a lost
	// connection. When false, one manual reconnect is attempted.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// MaxDelay caps the exponential reconnect backoff, in seconds.
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts turns the session fatal after this many consecutive
	// failed reconnect attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// BridgeConfig controls the forwarding loop.
type BridgeConfig struct {
	// PublishCount is the number of successful publishes after which the
	// bridge stops. 0 means unlimited.
	PublishCount int `yaml:"publish_count"`

	// YieldTimeout is how long the loop hands control to the MQTT session
	// before each frame.
	// Default: 100ms
	YieldTimeout time.Duration `yaml:"yield_timeout"`

	// PacingDelay is the fixed delay between frames.
	// Default: 1s
	PacingDelay time.Duration `yaml:"pacing_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "configs/config.yaml"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file at DefaultPath is tolerated so the bridge can run on
// defaults plus flags; any other missing path is an error.
//
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
// For example: MESHBRIDGE_MQTT_HOST, MESHBRIDGE_CERT_DIR
//
// The result is not validated: callers apply flag overrides first and then
// call Validate.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded configuration
//   - error: If the file cannot be read or parsed
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		// Defaults plus env and flags.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with the bridge's stock settings.
func defaultConfig() *Config {
	return &Config{
		Mesh: MeshConfig{
			Gateway:         "tcp://127.0.0.1:2424",
			SensorFrameType: "M",
			PollTimeout:     5 * time.Millisecond,
			AddressLease:    10 * time.Minute,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
				TLS:  true,
			},
			Certs: MQTTCertsConfig{
				Directory:   "aws-iot-device-sdk-embedded-C-master/certs",
				RootCA:      "rootCA.crt",
				Certificate: "cert.pem",
				PrivateKey:  "privkey.pem",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				AutoReconnect: true,
				MaxDelay:      128,
				MaxAttempts:   0,
			},
			KeepAlive:           10 * time.Second,
			CommandTimeout:      20 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			StatusTopic:         "meshbridge/status",
		},
		Bridge: BridgeConfig{
			PublishCount: 0,
			YieldTimeout: 100 * time.Millisecond,
			PacingDelay:  time.Second,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/meshbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "mesh",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Mesh
	if v := os.Getenv("MESHBRIDGE_GATEWAY"); v != "" {
		cfg.Mesh.Gateway = v
	}

	// MQTT
	if v := os.Getenv("MESHBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MESHBRIDGE_CERT_DIR"); v != "" {
		cfg.MQTT.Certs.Directory = v
	}

	// Database
	if v := os.Getenv("MESHBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so an operator sees them in one run.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Mesh validation
	if c.Mesh.Gateway == "" {
		errs = append(errs, "mesh.gateway is required")
	}
	if len(c.Mesh.SensorFrameType) != 1 {
		errs = append(errs, "mesh.sensor_frame_type must be a single character")
	} else if c.Mesh.SensorFrameType[0] >= 128 {
		errs = append(errs, "mesh.sensor_frame_type must not be a system frame type")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.TLS {
		if c.MQTT.Certs.RootCA == "" || c.MQTT.Certs.Certificate == "" || c.MQTT.Certs.PrivateKey == "" {
			errs = append(errs, "mqtt.certs root_ca, certificate and private_key are required when tls is enabled")
		}
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keep_alive must be positive")
	}
	if c.MQTT.CommandTimeout <= 0 {
		errs = append(errs, "mqtt.command_timeout must be positive")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}
	if c.MQTT.Reconnect.MaxDelay < 1 {
		errs = append(errs, "mqtt.reconnect.max_delay must be at least 1 second")
	}

	// Bridge validation
	if c.Bridge.PublishCount < 0 {
		errs = append(errs, "bridge.publish_count must not be negative")
	}
	if c.Bridge.YieldTimeout <= 0 {
		errs = append(errs, "bridge.yield_timeout must be positive")
	}
	if c.Bridge.PacingDelay < 0 {
		errs = append(errs, "bridge.pacing_delay must not be negative")
	}

	// Optional stores
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CertificatePaths builds the paths of the root CA, device certificate and
// private key.
//
// A relative certificate directory is resolved against workDir; an absolute
// one is used as is.
//
// Parameters:
//   - workDir: Directory relative paths are resolved against (usually the cwd)
//
// Returns:
//   - CertPaths: Absolute or workDir-relative file paths
func (c *MQTTConfig) CertificatePaths(workDir string) CertPaths {
	dir := c.Certs.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workDir, dir)
	}
	return CertPaths{
		RootCA:      filepath.Join(dir, c.Certs.RootCA),
		Certificate: filepath.Join(dir, c.Certs.Certificate),
		PrivateKey:  filepath.Join(dir, c.Certs.PrivateKey),
	}
}

// CertPaths holds the resolved TLS file locations.
type CertPaths struct {
	RootCA      string
	Certificate string
	PrivateKey  string
}

// SensorType returns the sensor frame tag as a byte.
func (m *MeshConfig) SensorType() byte {
	if m.SensorFrameType == "" {
		return 'M'
	}
	return m.SensorFrameType[0]
}

// ReconnectMaxDelay returns the maximum reconnect backoff as a Duration.
func (c *MQTTConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}
