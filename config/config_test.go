package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/shreegurucool/auth-go"
)

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(New())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.BaseURL != auth.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.DisableCredentials {
		t.Error("credentials should be carried by default")
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("ProbeTimeout = %v", cfg.ProbeTimeout)
	}
	if cfg.ResendCooldown != 60*time.Second {
		t.Errorf("ResendCooldown = %v", cfg.ResendCooldown)
	}
	if cfg.TokenStore != "file" || filepath.Base(cfg.TokenFile) != "storage.json" {
		t.Errorf("TokenStore = %q TokenFile = %q", cfg.TokenStore, cfg.TokenFile)
	}
	if cfg.EntryPath != "/welcome" {
		t.Errorf("EntryPath = %q", cfg.EntryPath)
	}
}

func TestDecode_Environment(t *testing.T) {
	t.Setenv("GURU_API_BASE_URL", "https://learn.example.com/api")
	t.Setenv("GURU_WITH_CREDENTIALS", "false")
	t.Setenv("GURU_PROBE_TIMEOUT_MS", "250")
	t.Setenv("GURU_RESEND_COOLDOWN_S", "30")
	t.Setenv("GURU_TOKEN_STORE", "redis")
	t.Setenv("GURU_REDIS_ADDR", "localhost:6379")
	t.Setenv("GURU_METRICS_ENABLED", "true")

	cfg, err := Decode(New())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.BaseURL != "https://learn.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if !cfg.DisableCredentials {
		t.Error("credentials should be disabled")
	}
	if cfg.ProbeTimeout != 250*time.Millisecond {
		t.Errorf("ProbeTimeout = %v", cfg.ProbeTimeout)
	}
	if cfg.ResendCooldown != 30*time.Second {
		t.Errorf("ResendCooldown = %v", cfg.ResendCooldown)
	}
	if cfg.TokenStore != "redis" || cfg.RedisAddr != "localhost:6379" || !cfg.MetricsEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestDecode_RejectsNegativeDurations(t *testing.T) {
	t.Setenv("GURU_PROBE_TIMEOUT_MS", "-1")
	if _, err := Decode(New()); err == nil {
		t.Error("expected error for negative probe timeout")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	const key = "GURU_ENTRY_PATH"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=/start\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.EntryPath != "/start" {
		t.Errorf("EntryPath = %q, want /start", cfg.EntryPath)
	}
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Load() error: %v", err)
	}
}
