// Package config loads the application configuration from an optional YAML
// file and applies environment overrides for deployment settings.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// DNS proxy settings
	DNS DNSConfig `yaml:"dns"`

	// HTTP control API settings
	API APIConfig `yaml:"api"`

	// Upstream resolver
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Classification pipeline
	Classifier ClassifierConfig `yaml:"classifier"`

	// Site content fetcher
	Fetcher FetcherConfig `yaml:"fetcher"`

	// Moderation oracle
	Moderation ModerationConfig `yaml:"moderation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DNSConfig holds DNS listener settings
type DNSConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Address returns the bind address in host:port form.
func (c DNSConfig) Address() string {
	return net.JoinHostPort(c.IP, fmt.Sprintf("%d", c.Port))
}

// APIConfig holds control API listener and auth settings
type APIConfig struct {
	IP        string        `yaml:"ip"`
	Port      int           `yaml:"port"`
	SecretKey string        `yaml:"secret_key"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Address returns the bind address in host:port form.
func (c APIConfig) Address() string {
	return net.JoinHostPort(c.IP, fmt.Sprintf("%d", c.Port))
}

// UpstreamConfig holds the upstream DNS forwarding settings
type UpstreamConfig struct {
	Server  string        `yaml:"server"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage settings
type StorageConfig struct {
	DatabasePath  string        `yaml:"database_path"`
	LogBufferSize int           `yaml:"log_buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the expiry sweeper
}

// ClassifierConfig holds classification queue and worker settings
type ClassifierConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	EntryTTL      time.Duration `yaml:"entry_ttl"`
	DrainGrace    time.Duration `yaml:"drain_grace"`
}

// FetcherConfig holds site crawl settings
type FetcherConfig struct {
	Timeout  time.Duration `yaml:"timeout"` // per scheme / per page
	MaxBytes int           `yaml:"max_bytes"`
	MaxDepth int           `yaml:"max_depth"`
	MaxPages int           `yaml:"max_pages"`
}

// ModerationConfig holds moderation oracle settings
type ModerationConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Load loads the configuration from a YAML file and applies environment
// overrides. An empty path or a missing file skips the file and uses
// defaults + environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Run on defaults and environment alone.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyEnv overlays environment variables over file values. Environment wins.
func (c *Config) applyEnv() {
	if v := os.Getenv("DNS_IP"); v != "" {
		c.DNS.IP = v
	}
	if v := os.Getenv("DNS_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			c.DNS.Port = p
		}
	}
	if v := os.Getenv("API_IP"); v != "" {
		c.API.IP = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			c.API.Port = p
		}
	}
	if v := os.Getenv("SQLALCHEMY_DATABASE_URL"); v != "" {
		c.Storage.DatabasePath = databasePathFromURL(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Moderation.APIKey = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.API.SecretKey = v
	}
}

// databasePathFromURL accepts either a plain file path or a SQLAlchemy-style
// sqlite URL ("sqlite:///./warden.db") and returns the file path.
func databasePathFromURL(u string) string {
	for _, prefix := range []string{"sqlite:///", "sqlite://"} {
		if strings.HasPrefix(u, prefix) {
			return strings.TrimPrefix(u, prefix)
		}
	}
	return u
}

func parsePort(s string) (int, error) {
	var p int
	if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
		return 0, err
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port out of range: %d", p)
	}
	return p, nil
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// DNS defaults
	if c.DNS.IP == "" {
		c.DNS.IP = "127.0.0.1"
	}
	if c.DNS.Port == 0 {
		c.DNS.Port = 5353
	}

	// API defaults
	if c.API.IP == "" {
		c.API.IP = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if c.API.SecretKey == "" {
		c.API.SecretKey = "placeholder_secret_key"
	}
	if c.API.TokenTTL == 0 {
		c.API.TokenTTL = 12 * time.Hour
	}

	// Upstream defaults
	if c.Upstream.Server == "" {
		c.Upstream.Server = "8.8.8.8:53"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 4 * time.Second
	}

	// Storage defaults
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./warden.db"
	}
	if c.Storage.LogBufferSize == 0 {
		c.Storage.LogBufferSize = 1000
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = time.Second
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
	}

	// Classifier defaults
	if c.Classifier.QueueCapacity == 0 {
		c.Classifier.QueueCapacity = 1024
	}
	if c.Classifier.EntryTTL == 0 {
		c.Classifier.EntryTTL = 24 * time.Hour
	}
	if c.Classifier.DrainGrace == 0 {
		c.Classifier.DrainGrace = 5 * time.Second
	}

	// Fetcher defaults
	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = 5 * time.Second
	}
	if c.Fetcher.MaxBytes == 0 {
		c.Fetcher.MaxBytes = 5000
	}
	if c.Fetcher.MaxDepth == 0 {
		c.Fetcher.MaxDepth = 3
	}
	if c.Fetcher.MaxPages == 0 {
		c.Fetcher.MaxPages = 5
	}

	// Moderation defaults
	if c.Moderation.Model == "" {
		c.Moderation.Model = "omni-moderation-latest"
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "dns-warden"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DNS.Port < 1 || c.DNS.Port > 65535 {
		return fmt.Errorf("dns.port out of range: %d", c.DNS.Port)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}

	if _, _, err := net.SplitHostPort(c.Upstream.Server); err != nil {
		return fmt.Errorf("invalid upstream.server %q: %w", c.Upstream.Server, err)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}

	if c.Classifier.QueueCapacity < 1 {
		return fmt.Errorf("classifier.queue_capacity must be at least 1")
	}
	if c.Classifier.EntryTTL <= 0 {
		return fmt.Errorf("classifier.entry_ttl must be positive")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate logging output
	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}
