package config

import (
	"testing"
	"time"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LISTEN_PORT", "7000")
	t.Setenv("TIMEOUT_SWEEP_SEC", "2")
	t.Setenv("RATE_LIMIT_RPS", "nope")
	t.Setenv("MAX_CLIENTS", "-5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 7000 {
		t.Fatalf("port: got %d", cfg.ListenPort)
	}
	if cfg.TimeoutSweep != 2*time.Second {
		t.Fatalf("timeout sweep: got %v", cfg.TimeoutSweep)
	}
	if cfg.RateLimitRPS != 20 {
		t.Fatalf("invalid rps should keep default, got %v", cfg.RateLimitRPS)
	}
	if cfg.MaxClients != 1000 {
		t.Fatalf("negative max clients should keep default, got %d", cfg.MaxClients)
	}
	if cfg.CleanupSweep != time.Minute || cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected sweep/session defaults: %v %v", cfg.CleanupSweep, cfg.SessionTTL)
	}
}

func TestLoadPortArgument(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load("9100")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 9100 {
		t.Fatalf("port arg not applied: %d", cfg.ListenPort)
	}
	if _, err := Load("abc"); err == nil {
		t.Fatalf("expected error for bad port")
	}
}
