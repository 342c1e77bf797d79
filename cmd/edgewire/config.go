package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/transport/tcp"
)

type fileConfig struct {
	Name               string   `toml:"name"`
	Role               string   `toml:"role"`
	Transport          string   `toml:"transport"`
	ListenAddr         string   `toml:"listen_addr"`
	ServerAddr         string   `toml:"server_addr"`
	AdminAddr          string   `toml:"admin_addr"`
	AdminToken         string   `toml:"admin_token"`
	CorsOrigins        []string `toml:"cors_origins"`
	MaxUnit            int      `toml:"max_unit"`
	MaxPayloadBytes    int64    `toml:"max_payload_bytes"`
	PollInterval       string   `toml:"poll_interval"`
	PollIntervalMS     int      `toml:"poll_interval_ms"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	Companion          bool     `toml:"companion"`
	LogLevel           string   `toml:"log_level"`
	Security           struct {
		Mode string        `toml:"mode"`
		TLS  tcp.TLSConfig `toml:"tls"`
	} `toml:"security"`
}

// overrides come from flags and win over the file.
type overrides struct {
	Role       string
	Name       string
	ServerAddr string
}

func loadPeerConfig(path string, over overrides) (config.PeerConfig, error) {
	var cfg config.PeerConfig

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.PeerConfig{}, fmt.Errorf("load edgewire config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.PeerConfig{}, fmt.Errorf("load edgewire config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("role") {
		cfg.Role = raw.Role
	}
	if meta.IsDefined("transport") {
		cfg.Transport = raw.Transport
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("server_addr") {
		cfg.ServerAddr = strings.TrimSpace(raw.ServerAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("max_unit") {
		cfg.MaxUnit = raw.MaxUnit
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return config.PeerConfig{}, fmt.Errorf("max_payload_bytes must be > 0")
		}
		cfg.MaxPayloadBytes = uint64(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return config.PeerConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollIntervalMS = int(d / time.Millisecond)
	}
	if meta.IsDefined("poll_interval_ms") {
		cfg.PollIntervalMS = raw.PollIntervalMS
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("companion") {
		cfg.Companion = raw.Companion
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("security", "mode") {
		cfg.Security.Mode = tcp.NormalizeSecurityMode(tcp.SecurityMode(raw.Security.Mode))
	}
	if meta.IsDefined("security", "tls") {
		cfg.Security.TLS = raw.Security.TLS
	}

	if v := strings.TrimSpace(over.Role); v != "" {
		cfg.Role = v
	}
	if v := strings.TrimSpace(over.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(over.ServerAddr); v != "" {
		cfg.ServerAddr = v
	}

	config.ApplyDefaults(&cfg)
	if err := config.ValidatePeerConfig(cfg); err != nil {
		return config.PeerConfig{}, err
	}
	return cfg, nil
}
