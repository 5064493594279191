package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mossy-p/roomcall/config"
)

const (
	DefaultServer = "ws://localhost:8080/ws"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Options carries CLI flag values; empty means unset.
type Options struct {
	Server   string
	Room     string
	Name     string
	Token    string
	STUN     string
	TURN     string
	TURNUser string
	TURNPass string
	LogLevel string
}

type clientConfig struct {
	Server   string
	Room     string
	Name     string
	Token    string
	LogLevel string
	ICE      config.ICEConfig
}

// loadConfig resolves each setting with the following priority:
// 1. CLI flags
// 2. Environment variables
// 3. Defaults
func loadConfig(opts Options, getenv func(string) string) (*clientConfig, error) {
	pick := func(flag, env, fallback string) string {
		if flag != "" {
			return flag
		}
		if v := strings.TrimSpace(getenv(env)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &clientConfig{
		Server:   pick(opts.Server, "ROOMCALL_SERVER", DefaultServer),
		Room:     pick(opts.Room, "ROOMCALL_ROOM", ""),
		Name:     pick(opts.Name, "ROOMCALL_NAME", ""),
		Token:    pick(opts.Token, "ROOMCALL_TOKEN", ""),
		LogLevel: pick(opts.LogLevel, "LOG_LEVEL", "info"),
	}
	if cfg.Room == "" {
		return nil, fmt.Errorf("room is required")
	}
	if cfg.Name == "" {
		host, _ := os.Hostname()
		cfg.Name = host
	}

	stun := pick(opts.STUN, "STUN_SERVER", DefaultSTUN)
	turn := pick(opts.TURN, "TURN_SERVER", "")
	mode := "stun-turn"
	if turn == "" {
		mode = "stun-only"
	}
	cfg.ICE = config.BuildICE(mode,
		splitList(stun),
		splitList(turn),
		pick(opts.TURNUser, "TURN_USERNAME", ""),
		pick(opts.TURNPass, "TURN_PASSWORD", ""),
	)
	return cfg, nil
}

func splitList(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// iceURL derives the server's /api/ice endpoint from its WebSocket URL.
func iceURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/api/ice"
	u.RawQuery = ""
	return u.String(), nil
}

// fetchICE asks the signaling server for its ICE server list.
func fetchICE(ctx context.Context, server string) (config.ICEConfig, error) {
	endpoint, err := iceURL(server)
	if err != nil {
		return config.ICEConfig{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return config.ICEConfig{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return config.ICEConfig{}, fmt.Errorf("fetch ICE servers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return config.ICEConfig{}, fmt.Errorf("fetch ICE servers: status %d", resp.StatusCode)
	}

	var ice config.ICEConfig
	if err := json.NewDecoder(resp.Body).Decode(&ice); err != nil {
		return config.ICEConfig{}, fmt.Errorf("decode ICE servers: %w", err)
	}
	return ice, nil
}
