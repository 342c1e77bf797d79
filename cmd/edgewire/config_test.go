package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/transport/tcp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPeerConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
name = "edge-a"
role = "client"
server_addr = "127.0.0.1:9400"
poll_interval = "40ms"
max_connect_attempts = 4
log_level = "debug"

[security]
mode = "Development"

[security.tls]
enabled = true
server_name = "edge"
ca_file = "ca.pem"
`)
	cfg, err := loadPeerConfig(path, overrides{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "edge-a" || cfg.Role != "client" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Transport != config.TransportTCP {
		t.Fatalf("unexpected transport default: %q", cfg.Transport)
	}
	if cfg.MaxUnit != 1200 {
		t.Fatalf("unexpected max_unit default: %d", cfg.MaxUnit)
	}
	if got := cfg.SessionConfig().PollInterval; got != 40*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", got)
	}
	if cfg.MaxConnectAttempts != 4 {
		t.Fatalf("unexpected max connect attempts: %d", cfg.MaxConnectAttempts)
	}
	if cfg.Security.Mode != tcp.SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.Security.Mode)
	}
	if !cfg.Security.TLS.Enabled || cfg.Security.TLS.ServerName != "edge" {
		t.Fatalf("unexpected tls config: %+v", cfg.Security.TLS)
	}

	over, err := loadPeerConfig(path, overrides{Name: "edge-b", ServerAddr: "10.0.0.1:9400"})
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	if over.Name != "edge-b" || over.ServerAddr != "10.0.0.1:9400" {
		t.Fatalf("flag overrides not applied: %+v", over)
	}
}

func TestLoadPeerConfigSoloForcesMem(t *testing.T) {
	path := writeConfig(t, "role = \"server\"\ntransport = \"p2p\"\n")
	cfg, err := loadPeerConfig(path, overrides{Role: "solo"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Role != "solo" || cfg.Transport != config.TransportMem {
		t.Fatalf("solo override not applied: %+v", cfg)
	}
}

func TestLoadPeerConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "role = \"server\"\nbogus = 1\n",
		"bad duration":     "poll_interval = \"soon\"\n",
		"client no server": "role = \"client\"\n",
		"bad log level":    "log_level = \"loud\"\n",
		"zero payload":     "max_payload_bytes = 0\n",
	}
	for name, body := range cases {
		if _, err := loadPeerConfig(writeConfig(t, body), overrides{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
