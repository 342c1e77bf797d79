package config

import (
	"time"

	"github.com/danmuck/edgewire/internal/protocol/session"
)

// SessionConfig projects the peer config onto protocol session settings.
func (c PeerConfig) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Name = c.Name
	cfg.Role = session.Role(c.Role)
	if c.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if c.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(c.PollIntervalMS) * time.Millisecond
	}
	return cfg
}
