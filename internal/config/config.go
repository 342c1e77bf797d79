package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/edgewire/internal/logging"
	"github.com/danmuck/edgewire/internal/transport"
	"github.com/danmuck/edgewire/internal/transport/tcp"
)

const (
	TransportTCP = "tcp"
	TransportP2P = "p2p"
	TransportMem = "mem"
)

// PeerConfig describes one edgewire process.
type PeerConfig struct {
	Name               string       `toml:"name"`
	Role               string       `toml:"role"`
	Transport          string       `toml:"transport"`
	ListenAddr         string       `toml:"listen_addr"`
	ServerAddr         string       `toml:"server_addr"`
	AdminAddr          string       `toml:"admin_addr"`
	AdminToken         string       `toml:"admin_token"`
	CorsOrigins        []string     `toml:"cors_origins"`
	MaxUnit            int          `toml:"max_unit"`
	MaxPayloadBytes    uint64       `toml:"max_payload_bytes"`
	PollIntervalMS     int          `toml:"poll_interval_ms"`
	MaxConnectAttempts int          `toml:"max_connect_attempts"`
	Companion          bool         `toml:"companion"`
	LogLevel           string       `toml:"log_level"`
	Security           tcp.Security `toml:"security"`
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	var cfg PeerConfig
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	ApplyDefaults(&cfg)
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field. Solo peers always run on the in-memory
// transport.
func ApplyDefaults(cfg *PeerConfig) {
	if cfg.Name == "" {
		cfg.Name = "edgewire"
	}
	cfg.Role = strings.ToLower(strings.TrimSpace(cfg.Role))
	if cfg.Role == "" {
		cfg.Role = "server"
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	if cfg.Role == "solo" {
		cfg.Transport = TransportMem
	}
	if cfg.Role == "server" && cfg.ListenAddr == "" {
		if cfg.Transport == TransportP2P {
			cfg.ListenAddr = "/ip4/0.0.0.0/tcp/9400"
		} else {
			cfg.ListenAddr = ":9400"
		}
	}
	if cfg.MaxUnit == 0 {
		cfg.MaxUnit = 1200
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 8 * 1024 * 1024
	}
	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = 16
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("peer config missing name")
	}
	switch cfg.Transport {
	case TransportTCP, TransportP2P, TransportMem:
	default:
		return fmt.Errorf("peer config unknown transport %q", cfg.Transport)
	}
	switch cfg.Role {
	case "server":
		if strings.TrimSpace(cfg.ListenAddr) == "" {
			return fmt.Errorf("server config missing listen_addr")
		}
		if cfg.Transport == TransportTCP {
			if err := cfg.Security.ValidateServer(); err != nil {
				return fmt.Errorf("server security invalid: %w", err)
			}
		}
	case "client":
		if strings.TrimSpace(cfg.ServerAddr) == "" {
			return fmt.Errorf("client config missing server_addr")
		}
		if cfg.Transport == TransportMem {
			return fmt.Errorf("client config cannot use the mem transport")
		}
		if cfg.Transport == TransportTCP {
			if err := cfg.Security.ValidateClient(); err != nil {
				return fmt.Errorf("client security invalid: %w", err)
			}
		}
	case "solo":
	default:
		return fmt.Errorf("peer config unknown role %q", cfg.Role)
	}
	if cfg.MaxUnit < transport.MinUnit {
		return fmt.Errorf("max_unit must be >= %d", transport.MinUnit)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("peer config unknown log_level %q", cfg.LogLevel)
		}
	}
	if cfg.PollIntervalMS < 0 {
		return fmt.Errorf("poll_interval_ms must be >= 0")
	}
	return nil
}
