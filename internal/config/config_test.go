package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("RECONCILE_SCHEDULE", "")
	t.Setenv("SCOPE_IDLE_TTL", "")
	t.Setenv("DISPATCH_RATE_PER_SECOND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReconcileSchedule != "@every 1m" {
		t.Fatalf("expected default schedule @every 1m, got %q", cfg.ReconcileSchedule)
	}
	if cfg.ScopeIdleTTL != 5*time.Minute {
		t.Fatalf("expected default idle ttl 5m, got %s", cfg.ScopeIdleTTL)
	}
	if cfg.DispatchRatePerSecond != 20 {
		t.Fatalf("expected default dispatch rate 20, got %v", cfg.DispatchRatePerSecond)
	}
	if cfg.NATSSubjectPrefix != "docvault" {
		t.Fatalf("expected default subject prefix docvault, got %q", cfg.NATSSubjectPrefix)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("SCOPE_IDLE_TTL", "90s")
	t.Setenv("RESYNC_MAX_BACKOFF", "45")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")
	t.Setenv("FEED_BUFFER", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ScopeIdleTTL != 90*time.Second {
		t.Fatalf("expected idle ttl 90s, got %s", cfg.ScopeIdleTTL)
	}
	if cfg.ResyncMaxBackoff != 45*time.Second {
		t.Fatalf("expected bare integer to be read as seconds, got %s", cfg.ResyncMaxBackoff)
	}
	if cfg.BreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
	if cfg.FeedBuffer != 256 {
		t.Fatalf("expected malformed value to fall back to 256, got %d", cfg.FeedBuffer)
	}
}

func TestLoadAppliesFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docvault.yaml")
	content := "api_port: 9000\nNATS_SUBJECT_PREFIX: staging\nDISPATCH_BURST: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("API_PORT", "")
	t.Setenv("NATS_SUBJECT_PREFIX", "")
	t.Setenv("DISPATCH_BURST", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIPort != "9000" {
		t.Fatalf("expected port from file, got %q", cfg.APIPort)
	}
	if cfg.NATSSubjectPrefix != "staging" {
		t.Fatalf("expected prefix from file, got %q", cfg.NATSSubjectPrefix)
	}
	if cfg.DispatchBurst != 7 {
		t.Fatalf("expected environment to override file, got %d", cfg.DispatchBurst)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("api_port: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestResilienceConfigMapsKeys(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:      4,
		RetryInitialBackoff:   time.Second,
		RetryMaxBackoff:       5 * time.Second,
		BreakerEnabled:        true,
		BreakerMinRequests:    8,
		BreakerFailureRatio:   0.5,
		BreakerOpenTimeout:    time.Minute,
		BreakerHalfOpenMaxReq: 2,
	}
	got := cfg.ResilienceConfig()
	if got.RetryMaxAttempts != 4 || got.BreakerMinRequests != 8 || got.BreakerHalfOpenMaxCalls != 2 {
		t.Fatalf("unexpected resilience config %+v", got)
	}
	if got.RetryMultiplier != 2.0 {
		t.Fatalf("expected default multiplier kept, got %v", got.RetryMultiplier)
	}
}
