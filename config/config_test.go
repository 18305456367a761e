package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_TYPE", "")
	t.Setenv("SIMULATION_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Type != "mongo" {
		t.Errorf("expected mongo backend by default, got %s", cfg.Database.Type)
	}
	if cfg.Database.LogRetention != 1000 {
		t.Errorf("expected durable log retention 1000, got %d", cfg.Database.LogRetention)
	}
	if cfg.Simulation.Interval != 10*time.Second {
		t.Errorf("expected 10s generator interval, got %v", cfg.Simulation.Interval)
	}
	if !cfg.Irrigation.AutoOffCancelOnManual {
		t.Errorf("manual OFF should cancel pending auto-off by default")
	}
}

func TestLoadMemoryRetention(t *testing.T) {
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("LOG_RETENTION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.LogRetention != 100 {
		t.Errorf("expected in-memory log retention 100, got %d", cfg.Database.LogRetention)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("DB_TYPE", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported DB_TYPE")
	}
}

func TestParseTokens(t *testing.T) {
	tokens := parseTokens("abc:alice, def:bob ,broken,:nouser")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
	if tokens["abc"] != "alice" || tokens["def"] != "bob" {
		t.Errorf("unexpected tokens: %v", tokens)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "250ms")
	if d := getEnvDuration("X_DURATION", time.Second); d != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", d)
	}
	t.Setenv("X_DURATION", "garbage")
	if d := getEnvDuration("X_DURATION", time.Second); d != time.Second {
		t.Errorf("expected fallback, got %v", d)
	}
}
