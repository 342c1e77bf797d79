// Package tcp carries the star transport over plain TCP or TLS.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/transport"
)

// Server accepts client streams and hands them to a transport.StreamServer.
type Server struct {
	*transport.StreamServer

	ln   net.Listener
	wg   sync.WaitGroup
	once sync.Once
}

// Listen opens addr, wrapping it in TLS when sec enables it.
func Listen(addr, name string, maxUnit int, sec Security) (*Server, error) {
	if err := sec.ValidateServer(); err != nil {
		return nil, err
	}
	var (
		ln  net.Listener
		err error
	)
	if sec.TLS.Enabled {
		tlsCfg, cfgErr := sec.serverTLSConfig()
		if cfgErr != nil {
			return nil, cfgErr
		}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return NewServer(ln, name, maxUnit), nil
}

// NewServer wraps an existing listener.
func NewServer(ln net.Listener, name string, maxUnit int) *Server {
	return &Server{
		StreamServer: transport.NewStreamServer(name, maxUnit),
		ln:           ln,
	}
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts until ctx is done or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.StreamServer.Serve(ctx, conn, conn.RemoteAddr().String())
		}()
	}
}

func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ln.Close()
		_ = s.StreamServer.Close()
	})
	return err
}

// DialConfig configures Dial.
type DialConfig struct {
	transport.ClientConfig
	ConnectTimeout time.Duration
	Security       Security
}

// Dial connects to the server at addr and starts the read loop.
func Dial(ctx context.Context, addr string, cfg DialConfig) (*transport.StreamClient, error) {
	if err := cfg.Security.ValidateClient(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return dialConn(ctx, addr, cfg)
	}
	client, err := transport.Connect(ctx, dial, cfg.ClientConfig)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("component", "transport.tcp").
		Str("addr", addr).
		Uint8("local_peer", client.LocalPeer()).
		Msg("tcp.Dial connected")
	client.Start(ctx)
	return client, nil
}

func dialConn(ctx context.Context, addr string, cfg DialConfig) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.Security.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := cfg.Security.clientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}
