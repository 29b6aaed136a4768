package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests the default configuration
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.Addr)
	}
	if cfg.DefaultBot != "greeter" {
		t.Errorf("Expected default bot greeter, got %s", cfg.DefaultBot)
	}
	if cfg.ConditionTimeout != 100*time.Millisecond {
		t.Errorf("Expected 100ms condition timeout, got %v", cfg.ConditionTimeout)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Errorf("Expected 1MiB body limit, got %d", cfg.MaxBodyBytes)
	}
}

// TestLoadEnv tests environment overrides
func TestLoadEnv(t *testing.T) {
	t.Setenv("GAMEPATCH_ADDR", ":9090")
	t.Setenv("GAMEPATCH_RATE_BURST", "5")
	t.Setenv("GAMEPATCH_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.RateBurst != 5 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 origins, got %v", cfg.AllowedOrigins)
	}
}

// TestLoadDotEnv tests reading a .env file
func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GAMEPATCH_DEFAULT_BOT=helper\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("GAMEPATCH_DEFAULT_BOT", "")
	os.Unsetenv("GAMEPATCH_DEFAULT_BOT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultBot != "helper" {
		t.Errorf("Expected bot from .env, got %s", cfg.DefaultBot)
	}
}

// TestLoadInvalid tests rejected values
func TestLoadInvalid(t *testing.T) {
	t.Setenv("GAMEPATCH_LOG_FORMAT", "xml")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected unknown log format to fail")
	}

	t.Setenv("GAMEPATCH_LOG_FORMAT", "text")
	t.Setenv("GAMEPATCH_RATE_LIMIT", "abc")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected unparseable rate to fail")
	}
}

// TestNewLogger tests level and format selection
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info to be filtered")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("Expected JSON output, got %s", out)
	}
}
