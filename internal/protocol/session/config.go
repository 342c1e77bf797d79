package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/frame"
)

// Role is the part a peer plays in the session.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
	// RoleSolo is a combined server and client with no remote peers.
	RoleSolo Role = "solo"
)

var ErrInvalidConfig = fmt.Errorf("%w: invalid session config", protocol.ErrConfiguration)

func NormalizeRole(r Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// Config defines per-session protocol settings.
type Config struct {
	Name            string        `toml:"name"`
	Role            Role          `toml:"role"`
	MaxPayloadBytes uint64        `toml:"max_payload_bytes"`
	PollInterval    time.Duration `toml:"poll_interval"`
}

func DefaultConfig() Config {
	return Config{
		Name:            "edgewire",
		Role:            RoleServer,
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
		PollInterval:    16 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	switch NormalizeRole(c.Role) {
	case RoleServer, RoleClient, RoleSolo:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidConfig, c.Role)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if c.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: max_payload_bytes must be > 0", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be > 0", ErrInvalidConfig)
	}
	return nil
}

func (c Config) limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}
