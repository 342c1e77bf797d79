package tcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/danmuck/edgewire/internal/testutil/tlstest"
	"github.com/danmuck/edgewire/internal/transport"
)

func TestValidateServerProductionRequiresMTLS(t *testing.T) {
	testlog.Start(t)
	sec := Security{Mode: SecurityModeProduction}
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	sec.TLS.Enabled = true
	if err := sec.ValidateServer(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
	sec.TLS.Mutual = true
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	sec.TLS.CertFile, sec.TLS.KeyFile = "server.crt", "server.key"
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	sec.TLS.CAFile = "ca.crt"
	if err := sec.ValidateServer(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestValidateClientRejectsInsecureSkipInProduction(t *testing.T) {
	testlog.Start(t)
	sec := Security{
		Mode: SecurityModeProduction,
		TLS: TLSConfig{
			Enabled:            true,
			Mutual:             true,
			CertFile:           "client.crt",
			KeyFile:            "client.key",
			CAFile:             "ca.crt",
			InsecureSkipVerify: true,
		},
	}
	if err := sec.ValidateClient(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	if err := (Security{Mode: "staging"}).ValidateClient(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	if NormalizeSecurityMode("") != SecurityModeDevelopment {
		t.Fatalf("empty mode must default to development")
	}
}

func runPair(t *testing.T, srvSec, cliSec Security) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := Listen("127.0.0.1:0", "server", 1024, srvSec)
	require.NoError(t, err)
	defer srv.Close()
	go func() { _ = srv.Serve(ctx) }()

	client, err := Dial(ctx, srv.Addr().String(), DialConfig{
		ClientConfig: transport.ClientConfig{
			Name:               "client-a",
			MaxUnit:            1024,
			MaxConnectAttempts: 3,
			Backoff:            transport.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2},
		},
		ConnectTimeout: 2 * time.Second,
		Security:       cliSec,
	})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, transport.PeerID(1), client.LocalPeer())

	require.NoError(t, client.Send([]byte("ping"), transport.Broadcast()))
	var got []byte
	require.Eventually(t, func() bool {
		for _, ev := range srv.Inbox().Drain() {
			if ev.Kind == transport.EventFrame {
				got = ev.Data
			}
		}
		return got != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("ping"), got)

	require.NoError(t, srv.Send([]byte("pong"), transport.ToPeer(client.LocalPeer())))
	require.Eventually(t, func() bool { return client.Inbox().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("pong"), client.Inbox().Drain()[0].Data)
}

func TestPlainLoopback(t *testing.T) {
	testlog.Start(t)
	runPair(t, Security{}, Security{})
}

func TestMutualTLSLoopback(t *testing.T) {
	testlog.Start(t)
	b := tlstest.NewLoopbackBundle(t)
	srvSec := Security{
		Mode: SecurityModeProduction,
		TLS:  TLSConfig{Enabled: true, Mutual: true, CertFile: b.ServerCert, KeyFile: b.ServerKey, CAFile: b.CAFile},
	}
	cliSec := Security{
		Mode: SecurityModeProduction,
		TLS:  TLSConfig{Enabled: true, Mutual: true, CertFile: b.ClientCert, KeyFile: b.ClientKey, CAFile: b.CAFile},
	}
	runPair(t, srvSec, cliSec)
}
