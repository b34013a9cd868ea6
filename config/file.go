package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of the configuration.  Zero values
// mean "not set" and leave the underlying Config untouched.
//
//	listen: true
//	port: 8001
//	server:
//	  strict: false
//	  liveness_timeout_ms: 5000
//	  sweep_interval_ms: 1000
//	client:
//	  names: [John, James, Lucy]
//	  ping_window_ms: 7000
//	proxy:
//	  client_side: 127.0.0.1:8001
//	  server_side: 127.0.0.1:8002
type File struct {
	Listen    *bool      `yaml:"listen"`
	Host      string     `yaml:"host"`
	Port      int        `yaml:"port"`
	WSPort    int        `yaml:"ws_port"`
	WebSocket *bool      `yaml:"websocket"`
	Verbose   int        `yaml:"verbose"`
	Server    ServerFile `yaml:"server"`
	Client    ClientFile `yaml:"client"`
	Proxy     ProxyFile  `yaml:"proxy"`
	Tunnel    TunnelFile `yaml:"tunnel"`
}

// ServerFile holds presence server settings.
type ServerFile struct {
	Strict            *bool `yaml:"strict"`
	LivenessTimeoutMS int   `yaml:"liveness_timeout_ms"`
	SweepIntervalMS   int   `yaml:"sweep_interval_ms"`
	MaxLineLength     int   `yaml:"max_line_length"`
}

// ClientFile holds client runner settings.
type ClientFile struct {
	Names        []string `yaml:"names"`
	StaggerMS    int      `yaml:"stagger_ms"`
	PingWindowMS int      `yaml:"ping_window_ms"`
	Reconnect    *bool    `yaml:"reconnect"`
}

// ProxyFile holds forwarding proxy settings.
type ProxyFile struct {
	Enabled    *bool  `yaml:"enabled"`
	ClientSide string `yaml:"client_side"`
	ServerSide string `yaml:"server_side"`
	KeepOpen   *bool  `yaml:"keep_open"`
}

// TunnelFile holds SSH tunnel settings.
type TunnelFile struct {
	Spec          string `yaml:"spec"`
	KeyPath       string `yaml:"key"`
	Agent         *bool  `yaml:"agent"`
	StrictHostKey *bool  `yaml:"strict_host_key"`
	KnownHosts    string `yaml:"known_hosts"`
}

// LoadFile reads and decodes a YAML configuration file.  Unknown keys
// are rejected.  An empty file yields an empty File.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	var out File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &out, nil
}

// Apply overlays every set field of f onto cfg.
func (f *File) Apply(cfg *Config) {
	if f.Listen != nil {
		cfg.Listen = *f.Listen
	}
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if f.WSPort > 0 {
		cfg.WSPort = f.WSPort
	}
	if f.WebSocket != nil {
		cfg.WebSocket = *f.WebSocket
	}
	if f.Verbose > 0 {
		cfg.Verbose = f.Verbose
	}

	if f.Server.Strict != nil {
		cfg.Strict = *f.Server.Strict
	}
	if f.Server.LivenessTimeoutMS > 0 {
		cfg.LivenessTimeout = msDuration(f.Server.LivenessTimeoutMS)
	}
	if f.Server.SweepIntervalMS > 0 {
		cfg.SweepInterval = msDuration(f.Server.SweepIntervalMS)
	}
	if f.Server.MaxLineLength > 0 {
		cfg.MaxLineLength = f.Server.MaxLineLength
	}

	if len(f.Client.Names) > 0 {
		cfg.Names = append([]string(nil), f.Client.Names...)
	}
	if f.Client.StaggerMS > 0 {
		cfg.Stagger = msDuration(f.Client.StaggerMS)
	}
	if f.Client.PingWindowMS > 0 {
		cfg.PingWindow = msDuration(f.Client.PingWindowMS)
	}
	if f.Client.Reconnect != nil {
		cfg.Reconnect = *f.Client.Reconnect
	}

	if f.Proxy.Enabled != nil {
		cfg.Proxy = *f.Proxy.Enabled
	}
	if f.Proxy.ClientSide != "" {
		cfg.ClientSide = f.Proxy.ClientSide
	}
	if f.Proxy.ServerSide != "" {
		cfg.ServerSide = f.Proxy.ServerSide
	}
	if f.Proxy.KeepOpen != nil {
		cfg.KeepOpen = *f.Proxy.KeepOpen
	}

	if f.Tunnel.Spec != "" {
		cfg.TunnelSpec = f.Tunnel.Spec
	}
	if f.Tunnel.KeyPath != "" {
		cfg.SSHKeyPath = f.Tunnel.KeyPath
	}
	if f.Tunnel.Agent != nil {
		cfg.UseSSHAgent = *f.Tunnel.Agent
	}
	if f.Tunnel.StrictHostKey != nil {
		cfg.StrictHostKey = *f.Tunnel.StrictHostKey
	}
	if f.Tunnel.KnownHosts != "" {
		cfg.KnownHostsPath = f.Tunnel.KnownHosts
	}
}
