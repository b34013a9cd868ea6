package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. YAML file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the ROLLCALL_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations are given
// in milliseconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ROLLCALL_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("ROLLCALL_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("ROLLCALL_WS_PORT"); v > 0 {
		cfg.WSPort = v
	}
	if envBool("ROLLCALL_WS") {
		cfg.WebSocket = true
	}
	if envBool("ROLLCALL_LISTEN") {
		cfg.Listen = true
	}
	if envBool("ROLLCALL_STRICT") {
		cfg.Strict = true
	}
	if v := envInt("ROLLCALL_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := envInt("ROLLCALL_LIVENESS_MS"); v > 0 {
		cfg.LivenessTimeout = msDuration(v)
	}
	if v := envInt("ROLLCALL_SWEEP_MS"); v > 0 {
		cfg.SweepInterval = msDuration(v)
	}

	// Client runner
	if v := os.Getenv("ROLLCALL_NAMES"); v != "" {
		if names, err := ParseNames(v); err == nil {
			cfg.Names = names
		}
	}
	if v := envInt("ROLLCALL_PING_WINDOW_MS"); v > 0 {
		cfg.PingWindow = msDuration(v)
	}
	if envBool("ROLLCALL_RECONNECT") {
		cfg.Reconnect = true
	}

	// Proxy
	if envBool("ROLLCALL_PROXY") {
		cfg.Proxy = true
	}
	if v := os.Getenv("ROLLCALL_CLIENT_SIDE"); v != "" {
		cfg.ClientSide = v
	}
	if v := os.Getenv("ROLLCALL_SERVER_SIDE"); v != "" {
		cfg.ServerSide = v
	}
	if envBool("ROLLCALL_KEEP_OPEN") {
		cfg.KeepOpen = true
	}

	// SSH tunnel
	if v := os.Getenv("ROLLCALL_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("ROLLCALL_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("ROLLCALL_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("ROLLCALL_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("ROLLCALL_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("ROLLCALL_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("ROLLCALL_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
