// Package config loads and validates the bridge's YAML configuration
// document: broker connection, sink connection, and the list of mapping
// points. Credentials can be overridden from the environment so the file can
// be checked in without secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
)

// Env constants for overriding credentials.
const (
	EnvMQTTUsername     = "MQTT_USERNAME"
	EnvMQTTPassword     = "MQTT_PASSWORD"
	EnvInfluxDBUsername = "INFLUXDB_USERNAME"
	EnvInfluxDBPassword = "INFLUXDB_PASSWORD"
)

// Config is the full configuration document.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	HTTPPort string   `yaml:"http_port"`
	MQTT     MQTT     `yaml:"mqtt"`
	InfluxDB InfluxDB `yaml:"influxdb"`
	Points   []Point  `yaml:"points"`
}

// MQTT holds broker connection parameters. Setting CAFile switches the
// connection to TLS.
type MQTT struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	ClientIDPrefix        string `yaml:"client_id_prefix"`
	QoS                   int    `yaml:"qos"`
	CAFile                string `yaml:"cafile"`
	CertFile              string `yaml:"certfile"`
	KeyFile               string `yaml:"keyfile"`
	InsecureSkipVerify    bool   `yaml:"insecure_skip_verify"`
	KeepAliveSeconds      int    `yaml:"keep_alive_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// BrokerURL assembles the paho broker URL from host, port and TLS settings.
func (m MQTT) BrokerURL() string {
	scheme := "tcp"
	if m.CAFile != "" || m.CertFile != "" {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}

// KeepAlive returns the keep-alive interval as a duration.
func (m MQTT) KeepAlive() time.Duration {
	return time.Duration(m.KeepAliveSeconds) * time.Second
}

// ConnectTimeout returns the connect timeout as a duration.
func (m MQTT) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutSeconds) * time.Second
}

// InfluxDB holds sink connection parameters.
type InfluxDB struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	SSL                bool   `yaml:"ssl"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Database           string `yaml:"database"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// Addr assembles the HTTP API base URL.
func (i InfluxDB) Addr() string {
	scheme := "http"
	if i.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, i.Host, i.Port)
}

// Timeout returns the request timeout as a duration.
func (i InfluxDB) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// Point is one declarative mapping rule: messages matching Topic are turned
// into records via the measurement, field and tag specs. Database optionally
// routes the point's records away from the default database.
type Point struct {
	Topic       string            `yaml:"topic"`
	Measurement string            `yaml:"measurement"`
	Fields      map[string]string `yaml:"fields"`
	Tags        map[string]string `yaml:"tags"`
	Database    string            `yaml:"database"`
}

// Load reads, parses and validates a configuration file, applying defaults
// and environment overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = "mqtt-bridge-"
	}
	if c.MQTT.KeepAliveSeconds == 0 {
		c.MQTT.KeepAliveSeconds = 60
	}
	if c.MQTT.ConnectTimeoutSeconds == 0 {
		c.MQTT.ConnectTimeoutSeconds = 10
	}
	if c.InfluxDB.Port == 0 {
		c.InfluxDB.Port = 8086
	}
	if c.InfluxDB.TimeoutSeconds == 0 {
		c.InfluxDB.TimeoutSeconds = 10
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(EnvInfluxDBUsername); v != "" {
		c.InfluxDB.Username = v
	}
	if v := os.Getenv(EnvInfluxDBPassword); v != "" {
		c.InfluxDB.Password = v
	}
}

// Validate checks the document for the mistakes that would otherwise surface
// as confusing runtime behavior. Path expression syntax is checked later, by
// mapping.CompileRules.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.InfluxDB.Host == "" {
		return fmt.Errorf("influxdb.host is required")
	}
	if c.InfluxDB.Database == "" {
		return fmt.Errorf("influxdb.database is required")
	}
	if len(c.Points) == 0 {
		return fmt.Errorf("at least one point is required")
	}
	for i, p := range c.Points {
		if p.Topic == "" {
			return fmt.Errorf("points[%d]: topic is required", i)
		}
		if p.Measurement == "" {
			return fmt.Errorf("points[%d] (topic %q): measurement is required", i, p.Topic)
		}
		if len(p.Fields) == 0 {
			return fmt.Errorf("points[%d] (topic %q): at least one field is required", i, p.Topic)
		}
	}
	return nil
}

// RuleConfigs converts the points into the mapping engine's rule inputs.
func (c *Config) RuleConfigs() []mapping.RuleConfig {
	rcs := make([]mapping.RuleConfig, len(c.Points))
	for i, p := range c.Points {
		rcs[i] = mapping.RuleConfig{
			Topic:       p.Topic,
			Measurement: p.Measurement,
			Fields:      p.Fields,
			Tags:        p.Tags,
			Database:    p.Database,
		}
	}
	return rcs
}

// Databases returns the default database plus every distinct per-point
// database, in declaration order. All are created at startup.
func (c *Config) Databases() []string {
	seen := map[string]struct{}{c.InfluxDB.Database: {}}
	names := []string{c.InfluxDB.Database}
	for _, p := range c.Points {
		if p.Database == "" {
			continue
		}
		if _, ok := seen[p.Database]; ok {
			continue
		}
		seen[p.Database] = struct{}{}
		names = append(names, p.Database)
	}
	return names
}
