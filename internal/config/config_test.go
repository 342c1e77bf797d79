package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/danmuck/edgewire/internal/transport/tcp"
)

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"server", "client", "solo"} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s: write template: %v", kind, err)
		}
		cfg, err := LoadPeerConfig(path)
		if err != nil {
			t.Fatalf("%s: load: %v", kind, err)
		}
		if cfg.Role != kind {
			t.Fatalf("%s: role got=%q", kind, cfg.Role)
		}
		if err := cfg.SessionConfig().Validate(); err != nil {
			t.Fatalf("%s: session config invalid: %v", kind, err)
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := WriteTemplate(path, "server", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "server", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "server", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("relay"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDefaultsApplied(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "min.toml")
	if err := os.WriteFile(path, []byte("role = \"solo\"\ntransport = \"tcp\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportMem || cfg.MaxUnit != 1200 || cfg.Name != "edgewire" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	sc := cfg.SessionConfig()
	if sc.Role != session.RoleSolo || sc.PollInterval != 16*time.Millisecond {
		t.Fatalf("unexpected session config: %+v", sc)
	}
}

func TestValidatePeerConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]PeerConfig{
		"missing server addr": {Name: "c", Role: "client", Transport: TransportTCP, MaxUnit: 64},
		"client on mem":       {Name: "c", Role: "client", Transport: TransportMem, ServerAddr: "x", MaxUnit: 64},
		"unknown role":        {Name: "c", Role: "relay", Transport: TransportTCP, MaxUnit: 64},
		"tiny unit":           {Name: "s", Role: "server", Transport: TransportTCP, ListenAddr: ":1", MaxUnit: 8},
		"prod without tls":    {Name: "s", Role: "server", Transport: TransportTCP, ListenAddr: ":1", MaxUnit: 64, Security: tcp.Security{Mode: tcp.SecurityModeProduction}},
	}
	for name, cfg := range cases {
		if err := ValidatePeerConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadPeerConfigParseError(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("role = "), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadPeerConfig(path)
	if err == nil || !strings.Contains(err.Error(), "config parse failed") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

