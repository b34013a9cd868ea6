package config

import (
	"strings"
	"testing"
	"time"

	ncerr "rollcall/internal/errors"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"port zero", "host:0", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
		{"no host before colon", ":22", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── ParsePort / ParseEndpoint / ParseNames ───────────────────────────

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"8001", 8001, false},
		{"1", 1, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"-1", 0, true},
		{"http", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:8001", "127.0.0.1:8001", false},
		{"localhost:8002", "localhost:8002", false},
		{"[::1]:8001", "[::1]:8001", false},
		{":8001", "", true},
		{"localhost", "", true},
		{"localhost:0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseNames(t *testing.T) {
	got, err := ParseNames("John, Lucy,,Abby")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "|") != "John|Lucy|Abby" {
		t.Errorf("names = %q", got)
	}

	for _, bad := range []string{"", " , ", "Mary Ann"} {
		if _, err := ParseNames(bad); err == nil {
			t.Errorf("ParseNames(%q) should fail", bad)
		}
	}
}

// ── Defaults ─────────────────────────────────────────────────────────

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Port != DefaultPort || cfg.LivenessTimeout != 5*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.SweepInterval > cfg.LivenessTimeout/5 {
		t.Errorf("default sweep %s exceeds timeout/5", cfg.SweepInterval)
	}
	if len(cfg.Names) != 6 || cfg.Names[0] != "John" {
		t.Errorf("names = %q", cfg.Names)
	}

	// Mutating one Config's names must not leak into the defaults.
	cfg.Names[0] = "Zed"
	if DefaultClientNames[0] != "John" {
		t.Error("Defaults shares the DefaultClientNames backing array")
	}
}

func TestMode(t *testing.T) {
	cases := map[string]Config{
		"serve":  {Listen: true},
		"proxy":  {Proxy: true},
		"client": {},
	}
	for want, cfg := range cases {
		if got := cfg.Mode(); got != want {
			t.Errorf("Mode() = %q, want %q", got, want)
		}
	}
}

// ── Validate ─────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	serve := func(mut func(*Config)) *Config {
		c := Defaults()
		c.Listen = true
		if mut != nil {
			mut(c)
		}
		return c
	}
	client := func(mut func(*Config)) *Config {
		c := Defaults()
		if mut != nil {
			mut(c)
		}
		return c
	}
	proxy := func(mut func(*Config)) *Config {
		c := Defaults()
		c.Proxy = true
		if mut != nil {
			mut(c)
		}
		return c
	}

	tests := []struct {
		name      string
		cfg       *Config
		wantField string // empty means valid
	}{
		{"serve defaults", serve(nil), ""},
		{"client defaults", client(nil), ""},
		{"proxy defaults", proxy(nil), ""},
		{"serve and proxy", serve(func(c *Config) { c.Proxy = true }), "proxy"},
		{"bad port", serve(func(c *Config) { c.Port = 0 }), "port"},
		{"ws without listen", client(func(c *Config) { c.WSPort = 9000 }), "ws-port"},
		{"ws same port", serve(func(c *Config) { c.WSPort = c.Port }), "ws-port"},
		{"ws ok", serve(func(c *Config) { c.WSPort = 8081 }), ""},
		{"sweep too slow", serve(func(c *Config) { c.SweepInterval = 2 * time.Second }), "sweep-interval"},
		{"sweep at bound", serve(func(c *Config) { c.SweepInterval = time.Second }), ""},
		{"zero liveness", serve(func(c *Config) { c.LivenessTimeout = 0 }), "liveness-timeout"},
		{"serve via tunnel", serve(func(c *Config) { c.TunnelEnabled, c.TunnelHost = true, "gw" }), "tunnel"},
		{"tiny lines", serve(func(c *Config) { c.MaxLineLength = 1 }), "max-line"},
		{"proxy one side", proxy(func(c *Config) { c.ServerSide = "" }), "proxy"},
		{"proxy same side", proxy(func(c *Config) { c.ServerSide = c.ClientSide }), "server-side"},
		{"client no host", client(func(c *Config) { c.Host = "" }), "host"},
		{"client no names", client(func(c *Config) { c.Names = nil }), "names"},
		{"client spaced name", client(func(c *Config) { c.Names = []string{"Mary Ann"} }), "names"},
		{"client zero window", client(func(c *Config) { c.PingWindow = 0 }), "ping-window"},
		{"tunnel without host", client(func(c *Config) { c.TunnelEnabled = true }), "tunnel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ncerr.ConfigError
			if !ncerr.As(err, &ce) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("field = %q, want %q (%v)", ce.Field, tt.wantField, err)
			}
		})
	}
}

// TestValidate_Hints verifies that common mistakes come with an
// actionable hint.
func TestValidate_Hints(t *testing.T) {
	c := Defaults()
	c.Listen = true
	c.SweepInterval = 3 * time.Second
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "hint: use 1s or less") {
		t.Errorf("error = %v", err)
	}
}
