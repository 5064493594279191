package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/logging"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	RequireAuth    bool
	LogLevel       string
	SendBuffer     int
	Redis          RedisConfig
	ICE            ICEConfig
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// Addr returns host:port for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// ICEServer describes a STUN/TURN server advertised to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfig is the injected ICE server list. Mode is one of
// stun-turn (default), stun-only, turn-only.
type ICEConfig struct {
	Mode    string      `json:"mode"`
	Servers []ICEServer `json:"iceServers"`
}

func Load() *Config {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) *Config {
	env := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	// Parse allowed origins (comma-separated)
	origins := splitAndClean(env("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:           env("PORT", "8080"),
		Environment:    env("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      env("JWT_SECRET", "change-me-in-production"),
		RequireAuth:    parseBool(env("REQUIRE_AUTH", "false")),
		LogLevel:       env("LOG_LEVEL", "info"),
		SendBuffer:     parseInt(env("SEND_BUFFER", "256"), 256),
		Redis: RedisConfig{
			Enabled:  parseBool(env("REDIS_ENABLED", "true")),
			Host:     env("REDIS_HOST", "localhost"),
			Port:     env("REDIS_PORT", "6379"),
			Password: env("REDIS_PASSWORD", ""),
			DB:       parseInt(env("REDIS_DB", "0"), 0),
			Prefix:   env("REDIS_PREFIX", "roomcall"),
		},
		ICE: LoadICE(lookup),
	}
}

// LoadICE reads the ICE server list.
//
// Env vars:
//   - ICE_MODE: stun-turn (default), stun-only, turn-only
//   - STUN_URLS: comma-separated STUN URLs
//   - TURN_URLS: comma-separated TURN URLs
//   - TURN_USERNAME / TURN_PASSWORD: TURN credentials
func LoadICE(lookup func(string) (string, bool)) ICEConfig {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	mode := strings.ToLower(get("ICE_MODE"))
	if mode == "" {
		mode = "stun-turn"
	}
	return BuildICE(mode, splitAndClean(get("STUN_URLS")), splitAndClean(get("TURN_URLS")), get("TURN_USERNAME"), get("TURN_PASSWORD"))
}

// BuildICE assembles the server list for mode. A turn-only mode without TURN
// servers falls back to the default STUN server.
func BuildICE(mode string, stunURLs, turnURLs []string, username, credential string) ICEConfig {
	turnOnly := mode == "turn-only"
	stunOnly := mode == "stun-only"

	var servers []ICEServer
	if !turnOnly {
		if len(stunURLs) == 0 {
			stunURLs = []string{defaultSTUN}
		}
		servers = append(servers, ICEServer{URLs: stunURLs})
	}
	if !stunOnly && len(turnURLs) > 0 {
		servers = append(servers, ICEServer{
			URLs:       turnURLs,
			Username:   username,
			Credential: credential,
		})
	}
	if turnOnly && len(servers) == 0 {
		servers = append(servers, ICEServer{URLs: []string{defaultSTUN}})
	}
	return ICEConfig{Mode: mode, Servers: servers}
}

// TURNConfigured reports whether any server carries credentials.
func (c ICEConfig) TURNConfigured() bool {
	for _, s := range c.Servers {
		if s.Username != "" || s.Credential != "" {
			return true
		}
	}
	return false
}

// NewLoggerFactory builds the shared leveled logger factory.
func NewLoggerFactory(level string) (*logging.DefaultLoggerFactory, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = lvl
	return f, nil
}

func ParseLogLevel(raw string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return logging.LogLevelTrace, nil
	case "debug", "dev", "development":
		return logging.LogLevelDebug, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "error", "prod", "production":
		return logging.LogLevelError, nil
	case "off", "disabled":
		return logging.LogLevelDisabled, nil
	}
	return logging.LogLevelInfo, fmt.Errorf("invalid log level %q (expected trace, debug, info, warn, error)", raw)
}

func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
