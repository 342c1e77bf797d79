package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("tcp: invalid security mode")
	ErrTLSRequired             = errors.New("tcp: tls required")
	ErrMTLSRequired            = errors.New("tcp: mtls required")
	ErrTLSCertFileRequired     = errors.New("tcp: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("tcp: tls key file required")
	ErrTLSCAFileRequired       = errors.New("tcp: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("tcp: insecure skip verify not allowed")
)

// SecurityMode selects how strictly TLS settings are enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Security is the transport security policy shared by Listen and Dial.
type Security struct {
	Mode SecurityMode `toml:"mode"`
	TLS  TLSConfig    `toml:"tls"`
}

func (s Security) ValidateClient() error {
	mode := NormalizeSecurityMode(s.Mode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, s.Mode)
	}

	if mode == SecurityModeProduction {
		if !s.TLS.Enabled {
			return ErrTLSRequired
		}
		if !s.TLS.Mutual {
			return ErrMTLSRequired
		}
		if s.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if s.TLS.Mutual && !s.TLS.Enabled {
		return ErrTLSRequired
	}
	if s.TLS.Enabled && strings.TrimSpace(s.TLS.CAFile) == "" && !s.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if s.TLS.Mutual {
		if strings.TrimSpace(s.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(s.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

func (s Security) ValidateServer() error {
	mode := NormalizeSecurityMode(s.Mode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, s.Mode)
	}

	if mode == SecurityModeProduction {
		if !s.TLS.Enabled {
			return ErrTLSRequired
		}
		if !s.TLS.Mutual {
			return ErrMTLSRequired
		}
	}
	if s.TLS.Mutual && !s.TLS.Enabled {
		return ErrTLSRequired
	}
	if s.TLS.Enabled {
		if strings.TrimSpace(s.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(s.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if s.TLS.Mutual && strings.TrimSpace(s.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (s Security) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.TLS.CertFile, s.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if s.TLS.Mutual || NormalizeSecurityMode(s.Mode) == SecurityModeProduction {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		pool, err := loadPool(s.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

func (s Security) clientTLSConfig(addr string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.TLS.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(s.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(s.TLS.CAFile); caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if s.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(s.TLS.CertFile, s.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("tcp: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
