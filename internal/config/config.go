package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oicur0t/sensorlog/internal/gate"
	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"github.com/oicur0t/sensorlog/pkg/retry"
	"github.com/spf13/viper"
)

// Source types
const (
	SourceSerial = "serial"
	SourceFile   = "file"
)

// LogConfig maps one sensor measurement to its bounded log
type LogConfig struct {
	Name     string `mapstructure:"name"`
	Sensor   string `mapstructure:"sensor"`
	SubLabel string `mapstructure:"sub_label"`
	Unit     string `mapstructure:"unit"`
	Label    string `mapstructure:"label"`
	HighRate bool   `mapstructure:"high_rate"`
	Capacity int    `mapstructure:"capacity"` // 0 picks the tier capacity
}

// StoreConfig holds the bounded log store settings
type StoreConfig struct {
	DataDir          string `mapstructure:"data_dir"`
	DefaultCapacity  int    `mapstructure:"default_capacity"`
	HighRateCapacity int    `mapstructure:"high_rate_capacity"`
}

// SerialConfig holds serial port settings
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// CaptureFileConfig holds settings for following a capture file
type CaptureFileConfig struct {
	Path      string `mapstructure:"path"`
	StateFile string `mapstructure:"state_file"`
	FromStart bool   `mapstructure:"from_start"`
}

// SourceConfig selects where raw sensor lines come from
type SourceConfig struct {
	Type   string            `mapstructure:"type"`
	Serial SerialConfig      `mapstructure:"serial"`
	File   CaptureFileConfig `mapstructure:"file"`
}

// DashboardConfig holds refresh settings
type DashboardConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout"`
	ReadinessPoll    time.Duration `mapstructure:"readiness_poll"`
}

// HTTPServerConfig holds HTTP server settings
type HTTPServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ServerMTLSConfig holds mTLS configuration for the server
type ServerMTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ServerCert string `mapstructure:"server_cert"`
	ServerKey  string `mapstructure:"server_key"`
	ClientAuth string `mapstructure:"client_auth"` // require, request, or none
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI                string        `mapstructure:"uri"`
	Database           string        `mapstructure:"database"`
	CollectionPrefix   string        `mapstructure:"collection_prefix"`
	CertificateKeyFile string        `mapstructure:"certificate_key_file"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxPoolSize        int           `mapstructure:"max_pool_size"`
	TTLDays            int           `mapstructure:"ttl_days"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// BatchingConfig holds batching configuration
type BatchingConfig struct {
	MaxSize   int           `mapstructure:"max_size"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
	QueueSize int           `mapstructure:"queue_size"`
}

// ArchiveConfig holds the optional MongoDB archive settings
type ArchiveConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Batching BatchingConfig `mapstructure:"batching"`
}

// Config represents the complete sensorlog configuration
type Config struct {
	Store     StoreConfig      `mapstructure:"store"`
	Logs      []LogConfig      `mapstructure:"logs"`
	Source    SourceConfig     `mapstructure:"source"`
	Dashboard DashboardConfig  `mapstructure:"dashboard"`
	Server    HTTPServerConfig `mapstructure:"server"`
	MTLS      ServerMTLSConfig `mapstructure:"mtls"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	LogLevel  string           `mapstructure:"log_level"`
	LogFormat string           `mapstructure:"log_format"`
}

// DefaultLogs returns the six logs of the sensor board: TMP116, HDC2010,
// OPT3001 and DPS310. Light and pressure are sampled faster and use the high
// rate tier.
func DefaultLogs() []LogConfig {
	return []LogConfig{
		{Name: "tmp116", Sensor: "TMP116", Unit: "°C", Label: "Temperature"},
		{Name: "hdc2010_temp", Sensor: "HDC2010", SubLabel: "temperature", Unit: "°C", Label: "Temperature"},
		{Name: "hdc2010_hum", Sensor: "HDC2010", SubLabel: "humidity", Unit: "%", Label: "Humidity"},
		{Name: "opt3001", Sensor: "OPT3001", Unit: "lux", Label: "Light intensity", HighRate: true},
		{Name: "dps310_temp", Sensor: "DPS310", SubLabel: "temperature", Unit: "°C", Label: "Temperature"},
		{Name: "dps310_pressure", Sensor: "DPS310", SubLabel: "pressure", Unit: "hPa", Label: "Pressure", HighRate: true},
	}
}

// Load reads the configuration file at configPath. An empty path uses
// defaults and SENSORLOG_* environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("sensorlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Logs) == 0 {
		config.Logs = DefaultLogs()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.data_dir", "csv")
	v.SetDefault("store.default_capacity", 100)
	v.SetDefault("store.high_rate_capacity", 600)
	v.SetDefault("source.type", SourceSerial)
	v.SetDefault("source.serial.device", "/dev/ttyACM0")
	v.SetDefault("source.serial.baud_rate", 9600)
	v.SetDefault("source.serial.read_timeout", "1s")
	v.SetDefault("source.file.from_start", false)
	v.SetDefault("dashboard.refresh_interval", "10s")
	v.SetDefault("dashboard.readiness_timeout", "2s")
	v.SetDefault("dashboard.readiness_poll", "250ms")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_address", "127.0.0.1:8480")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("mtls.enabled", false)
	v.SetDefault("mtls.client_auth", "require")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.mongodb.database", "sensorlog")
	v.SetDefault("archive.mongodb.collection_prefix", "readings_")
	v.SetDefault("archive.mongodb.timeout", "10s")
	v.SetDefault("archive.mongodb.max_pool_size", 10)
	v.SetDefault("archive.mongodb.ttl_days", 30)
	v.SetDefault("archive.mongodb.max_retries", 3)
	v.SetDefault("archive.batching.max_size", 100)
	v.SetDefault("archive.batching.max_wait", "5s")
	v.SetDefault("archive.batching.queue_size", 1000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Store.DefaultCapacity < 1 || c.Store.HighRateCapacity < 1 {
		return fmt.Errorf("store capacities must be at least 1")
	}

	seen := make(map[string]bool, len(c.Logs))
	for _, l := range c.Logs {
		if l.Name == "" || l.Sensor == "" {
			return fmt.Errorf("every log needs a name and a sensor")
		}
		if filepath.Base(l.Name) != l.Name || strings.ContainsAny(l.Name, `/\`) {
			return fmt.Errorf("log name %q must be a plain file name", l.Name)
		}
		if seen[l.Name] {
			return fmt.Errorf("log %q is configured twice", l.Name)
		}
		seen[l.Name] = true
		if l.Capacity < 0 {
			return fmt.Errorf("log %q: capacity must not be negative", l.Name)
		}
	}

	switch c.Source.Type {
	case SourceSerial:
		if c.Source.Serial.Device == "" {
			return fmt.Errorf("source.serial.device is required")
		}
		if c.Source.Serial.BaudRate <= 0 {
			return fmt.Errorf("source.serial.baud_rate must be positive")
		}
	case SourceFile:
		if c.Source.File.Path == "" {
			return fmt.Errorf("source.file.path is required")
		}
	default:
		return fmt.Errorf("source.type must be %q or %q, got %q", SourceSerial, SourceFile, c.Source.Type)
	}

	if c.Dashboard.RefreshInterval <= 0 {
		return fmt.Errorf("dashboard.refresh_interval must be positive")
	}
	if c.Dashboard.ReadinessPoll < 0 {
		return fmt.Errorf("dashboard.readiness_poll must not be negative")
	}

	if c.MTLS.Enabled {
		if c.MTLS.ServerCert == "" || c.MTLS.ServerKey == "" {
			return fmt.Errorf("mtls.server_cert and mtls.server_key are required when mTLS is enabled")
		}
		if c.MTLS.ClientAuth != "none" && c.MTLS.CACert == "" {
			return fmt.Errorf("mtls.ca_cert is required to verify client certificates")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.MongoDB.URI == "" {
			return fmt.Errorf("archive.mongodb.uri is required when the archive is enabled")
		}
		if c.Archive.Batching.MaxSize < 1 || c.Archive.Batching.MaxWait <= 0 {
			return fmt.Errorf("archive.batching needs a positive max_size and max_wait")
		}
	}

	return nil
}

// Capacity returns the row limit of a log: its own override, else its tier
func (c *Config) Capacity(l LogConfig) int {
	if l.Capacity > 0 {
		return l.Capacity
	}
	if l.HighRate {
		return c.Store.HighRateCapacity
	}
	return c.Store.DefaultCapacity
}

// StoreLogs returns the bounded log definitions for the store
func (c *Config) StoreLogs() []logstore.LogConfig {
	logs := make([]logstore.LogConfig, len(c.Logs))
	for i, l := range c.Logs {
		logs[i] = logstore.LogConfig{Name: l.Name, Capacity: c.Capacity(l)}
	}
	return logs
}

// Catalog builds the sensor catalog shared by the router and the dashboard
func (c *Config) Catalog() (*sensor.Catalog, error) {
	entries := make([]sensor.Entry, len(c.Logs))
	for i, l := range c.Logs {
		entries[i] = sensor.Entry{
			Log:      l.Name,
			Sensor:   l.Sensor,
			SubLabel: l.SubLabel,
			Unit:     l.Unit,
			Label:    l.Label,
		}
	}
	return sensor.NewCatalog(entries)
}

// Readiness returns how the dashboard waits for a log's first row
func (c *Config) Readiness() gate.Options {
	return gate.Options{
		Timeout:      c.Dashboard.ReadinessTimeout,
		PollInterval: c.Dashboard.ReadinessPoll,
	}
}

// ArchiveRetry returns the retry policy for archive inserts
func (c *Config) ArchiveRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.Archive.MongoDB.MaxRetries
	return cfg
}
