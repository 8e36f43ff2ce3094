package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"CONFIG_FILE", "HOST", "PORT", "REQUEST_TIMEOUT", "LOG_LEVEL", "BACKEND_URL", "BACKEND_TIMEOUT",
	"MAX_UPLOAD_SIZE", "SESSION_TTL", "REDIS_ADDR", "CACHE_TTL", "HISTORY_DSN", "AZURE_ACCOUNT",
	"AZURE_KEY", "AZURE_CONTAINER", "OUTPUT_DIR", "JWT_SECRET", "JWT_AUDIENCE", "ALLOW_PRIVATE_SOURCES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("unexpected address %s", cfg.ServerAddress())
	}
	if cfg.BackendURL != "http://localhost:5000" {
		t.Errorf("unexpected backend URL %s", cfg.BackendURL)
	}
	if cfg.BackendTimeout != 0 {
		t.Errorf("backend calls must be unbounded by default, got %s", cfg.BackendTimeout)
	}
	if cfg.MaxUploadSize != 10*1024*1024 {
		t.Errorf("unexpected upload limit %d", cfg.MaxUploadSize)
	}
	if cfg.AzureEnabled() {
		t.Error("azure must be disabled without credentials")
	}
	if cfg.AllowPrivateSources {
		t.Error("private sources must be refused by default")
	}
}

func TestLoadFromEnv_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
port: "9090"
backend_url: http://filters:5000
backend_timeout: 45s
session_ttl: 5m
azure_account: acct
azure_container: results
allow_private_sources: true
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	t.Setenv("AZURE_KEY", "secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("environment must override file, got port %s", cfg.Port)
	}
	if cfg.BackendURL != "http://filters:5000" || cfg.BackendTimeout != 45*time.Second || cfg.SessionTTL != 5*time.Minute {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if !cfg.AzureEnabled() {
		t.Error("expected azure to be enabled")
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("unset values keep defaults, got %s", cfg.RequestTimeout)
	}
	if !cfg.AllowPrivateSources {
		t.Error("expected allow_private_sources from file")
	}

	t.Setenv("ALLOW_PRIVATE_SOURCES", "false")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.AllowPrivateSources {
		t.Error("environment must override allow_private_sources")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port not numeric", key: "PORT", value: "http"},
		{name: "port out of range", key: "PORT", value: "70000"},
		{name: "backend without scheme", key: "BACKEND_URL", value: "localhost:5000"},
		{name: "backend ftp", key: "BACKEND_URL", value: "ftp://files"},
		{name: "zero upload size", key: "MAX_UPLOAD_SIZE", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
