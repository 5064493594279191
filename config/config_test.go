package config

import (
	"testing"

	"github.com/pion/logging"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(mapLookup(nil))

	if cfg.Port != "8080" {
		t.Fatalf("Port=%q, want 8080", cfg.Port)
	}
	if cfg.RequireAuth {
		t.Fatalf("RequireAuth=true, want false")
	}
	if !cfg.Redis.Enabled {
		t.Fatalf("Redis.Enabled=false, want true")
	}
	if got := cfg.Redis.Addr(); got != "localhost:6379" {
		t.Fatalf("Redis.Addr=%q", got)
	}
	if cfg.SendBuffer != 256 {
		t.Fatalf("SendBuffer=%d, want 256", cfg.SendBuffer)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.ICE.Mode != "stun-turn" || len(cfg.ICE.Servers) != 1 || cfg.ICE.Servers[0].URLs[0] != defaultSTUN {
		t.Fatalf("ICE=%+v, want default STUN only", cfg.ICE)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg := load(mapLookup(map[string]string{
		"PORT":            "9000",
		"ALLOWED_ORIGINS": " https://a.example , ,https://b.example",
		"REQUIRE_AUTH":    "true",
		"REDIS_ENABLED":   "false",
		"REDIS_DB":        "3",
		"SEND_BUFFER":     "not-a-number",
		"TURN_URLS":       "turn:t.example:3478",
		"TURN_USERNAME":   "u",
		"TURN_PASSWORD":   "p",
	}))

	if cfg.Port != "9000" {
		t.Fatalf("Port=%q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if !cfg.RequireAuth || cfg.Redis.Enabled || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.SendBuffer != 256 {
		t.Fatalf("SendBuffer=%d, want fallback 256", cfg.SendBuffer)
	}
	if !cfg.ICE.TURNConfigured() {
		t.Fatalf("expected TURN configured: %+v", cfg.ICE)
	}
}

func TestBuildICE_Modes(t *testing.T) {
	turn := []string{"turn:t.example:3478"}

	stunOnly := BuildICE("stun-only", nil, turn, "u", "p")
	if len(stunOnly.Servers) != 1 || stunOnly.TURNConfigured() {
		t.Fatalf("stun-only=%+v", stunOnly)
	}

	turnOnly := BuildICE("turn-only", []string{"stun:s.example"}, turn, "u", "p")
	if len(turnOnly.Servers) != 1 || turnOnly.Servers[0].URLs[0] != turn[0] {
		t.Fatalf("turn-only=%+v", turnOnly)
	}

	fallback := BuildICE("turn-only", nil, nil, "", "")
	if len(fallback.Servers) != 1 || fallback.Servers[0].URLs[0] != defaultSTUN {
		t.Fatalf("turn-only fallback=%+v", fallback)
	}
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("Debug")
	if err != nil || lvl != logging.LogLevelDebug {
		t.Fatalf("ParseLogLevel(Debug)=%v, %v", lvl, err)
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	f, err := NewLoggerFactory("warn")
	if err != nil {
		t.Fatalf("NewLoggerFactory: %v", err)
	}
	if f.DefaultLogLevel != logging.LogLevelWarn {
		t.Fatalf("DefaultLogLevel=%v, want warn", f.DefaultLogLevel)
	}
}
