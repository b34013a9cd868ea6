package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollcall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Apply(t *testing.T) {
	path := writeFile(t, `
listen: true
port: 9100
ws_port: 9101
server:
  strict: true
  liveness_timeout_ms: 3000
  sweep_interval_ms: 250
client:
  names: [Lucy, Abby]
  ping_window_ms: 4000
proxy:
  client_side: 127.0.0.1:9200
  keep_open: true
tunnel:
  spec: ops@gw:2222
`)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	f.Apply(cfg)

	if !cfg.Listen || cfg.Port != 9100 || cfg.WSPort != 9101 {
		t.Errorf("top-level = %+v", cfg)
	}
	if !cfg.Strict || cfg.LivenessTimeout != 3*time.Second || cfg.SweepInterval != 250*time.Millisecond {
		t.Errorf("server = strict %v liveness %v sweep %v", cfg.Strict, cfg.LivenessTimeout, cfg.SweepInterval)
	}
	if strings.Join(cfg.Names, ",") != "Lucy,Abby" || cfg.PingWindow != 4*time.Second {
		t.Errorf("client = %q %v", cfg.Names, cfg.PingWindow)
	}
	if cfg.ClientSide != "127.0.0.1:9200" || !cfg.KeepOpen {
		t.Errorf("proxy = %q keep %v", cfg.ClientSide, cfg.KeepOpen)
	}
	// Unset keys keep their defaults.
	if cfg.ServerSide != DefaultProxyServerSide || cfg.Stagger != DefaultClientStagger {
		t.Errorf("unset keys changed: %q %v", cfg.ServerSide, cfg.Stagger)
	}
	if cfg.TunnelSpec != "ops@gw:2222" {
		t.Errorf("TunnelSpec = %q", cfg.TunnelSpec)
	}
}

func TestLoadFile_ExplicitFalse(t *testing.T) {
	path := writeFile(t, "server:\n  strict: false\n")
	f, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Strict: true}
	f.Apply(cfg)
	if cfg.Strict {
		t.Error("explicit false should override")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	f, err := LoadFile(writeFile(t, ""))
	if err != nil {
		t.Fatalf("empty file: %v", err)
	}
	cfg := Defaults()
	f.Apply(cfg)
	if cfg.Port != DefaultPort {
		t.Errorf("empty file changed Port to %d", cfg.Port)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	_, err := LoadFile(writeFile(t, "prot: 8001\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
