package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg := LoadWithDefaults()

	if cfg.DNS.Address() != "127.0.0.1:5353" {
		t.Errorf("Expected default DNS bind 127.0.0.1:5353, got %s", cfg.DNS.Address())
	}
	if cfg.API.Address() != "127.0.0.1:8000" {
		t.Errorf("Expected default API bind 127.0.0.1:8000, got %s", cfg.API.Address())
	}
	if cfg.Upstream.Server != "8.8.8.8:53" {
		t.Errorf("Expected default upstream 8.8.8.8:53, got %s", cfg.Upstream.Server)
	}
	if cfg.Upstream.Timeout != 4*time.Second {
		t.Errorf("Expected default upstream timeout 4s, got %v", cfg.Upstream.Timeout)
	}
	if cfg.Classifier.QueueCapacity != 1024 {
		t.Errorf("Expected default queue capacity 1024, got %d", cfg.Classifier.QueueCapacity)
	}
	if cfg.Classifier.EntryTTL != 24*time.Hour {
		t.Errorf("Expected default entry TTL 24h, got %v", cfg.Classifier.EntryTTL)
	}
	if cfg.Fetcher.MaxBytes != 5000 {
		t.Errorf("Expected default fetch max bytes 5000, got %d", cfg.Fetcher.MaxBytes)
	}
	if cfg.Moderation.Model != "omni-moderation-latest" {
		t.Errorf("Expected default moderation model, got %s", cfg.Moderation.Model)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	content := `
dns:
  ip: 0.0.0.0
  port: 53
upstream:
  server: 1.1.1.1:53
  timeout: 2s
classifier:
  queue_capacity: 64
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.DNS.Address() != "0.0.0.0:53" {
		t.Errorf("Expected DNS bind 0.0.0.0:53, got %s", cfg.DNS.Address())
	}
	if cfg.Upstream.Server != "1.1.1.1:53" {
		t.Errorf("Expected upstream 1.1.1.1:53, got %s", cfg.Upstream.Server)
	}
	if cfg.Upstream.Timeout != 2*time.Second {
		t.Errorf("Expected upstream timeout 2s, got %v", cfg.Upstream.Timeout)
	}
	if cfg.Classifier.QueueCapacity != 64 {
		t.Errorf("Expected queue capacity 64, got %d", cfg.Classifier.QueueCapacity)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}

	// Unset fields still get defaults
	if cfg.API.Port != 8000 {
		t.Errorf("Expected default API port 8000, got %d", cfg.API.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Expected no error for missing config file, got %v", err)
	}
	if cfg.DNS.Address() != "127.0.0.1:5353" {
		t.Errorf("Expected default DNS bind, got %s", cfg.DNS.Address())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DNS_IP", "192.0.2.1")
	t.Setenv("DNS_PORT", "10053")
	t.Setenv("API_PORT", "10080")
	t.Setenv("SQLALCHEMY_DATABASE_URL", "sqlite:///./firewall.db")
	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.DNS.Address() != "192.0.2.1:10053" {
		t.Errorf("Expected DNS bind 192.0.2.1:10053, got %s", cfg.DNS.Address())
	}
	if cfg.API.Port != 10080 {
		t.Errorf("Expected API port 10080, got %d", cfg.API.Port)
	}
	if cfg.Storage.DatabasePath != "./firewall.db" {
		t.Errorf("Expected database path ./firewall.db, got %s", cfg.Storage.DatabasePath)
	}
	if cfg.API.SecretKey != "test-secret" {
		t.Errorf("Expected secret key from env, got %s", cfg.API.SecretKey)
	}
	if cfg.Moderation.APIKey != "sk-test" {
		t.Errorf("Expected moderation key from env, got %s", cfg.Moderation.APIKey)
	}
}

func TestDatabasePathFromURL(t *testing.T) {
	cases := map[string]string{
		"sqlite:///./firewall.db": "./firewall.db",
		"sqlite:///data/w.db":     "data/w.db",
		"./plain.db":              "./plain.db",
	}
	for in, want := range cases {
		if got := databasePathFromURL(in); got != want {
			t.Errorf("databasePathFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := LoadWithDefaults()
	cfg.Logging.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for bad log level")
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	cfg := LoadWithDefaults()
	cfg.Upstream.Server = "8.8.8.8" // missing port

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for upstream without port")
	}
}
