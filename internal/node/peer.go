// Package node runs one edgewire peer: transport, registry, session and the
// admin HTTP surface.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/demo"
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/registry"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/danmuck/edgewire/internal/transport"
	"github.com/danmuck/edgewire/internal/transport/mem"
	"github.com/danmuck/edgewire/internal/transport/p2p"
	"github.com/danmuck/edgewire/internal/transport/tcp"
)

var (
	ErrUnsupportedTransport = errors.New("node: unsupported transport")
	ErrCompanionDisabled    = errors.New("node: companion module not registered")
	ErrServerLost           = errors.New("node: server connection lost")
)

// Peer is one running edgewire participant.
type Peer struct {
	cfg   config.PeerConfig
	tr    transport.Transport
	sess  *session.Session
	types demo.Types
	note  registry.Type[demo.Note]

	serve func(context.Context) error
	done  <-chan struct{}
	addrs []string

	router   *gin.Engine
	appeared time.Time
	ready    atomic.Bool
	stats    counters
	once     sync.Once
	log      zerolog.Logger
}

var _ Node = (*Peer)(nil)

// Appear opens the configured transport and attaches a peer to it. ctx bounds
// the transport's lifetime, not just the dial.
func Appear(ctx context.Context, cfg config.PeerConfig) (*Peer, error) {
	if err := config.ValidatePeerConfig(cfg); err != nil {
		return nil, err
	}
	tr, serve, done, addrs, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p, err := Attach(cfg, tr)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	p.serve = serve
	p.done = done
	p.addrs = addrs
	return p, nil
}

// Attach builds a peer over an already open transport.
func Attach(cfg config.PeerConfig, tr transport.Transport) (*Peer, error) {
	p := &Peer{
		cfg:      cfg,
		tr:       tr,
		appeared: time.Now(),
		log: log.With().
			Str("component", "node").
			Str("node", cfg.Name).
			Logger(),
	}
	reg := registry.New()
	types, err := demo.Register(reg)
	if err != nil {
		return nil, err
	}
	p.types = types
	if cfg.Companion {
		note, err := demo.RegisterCompanion(reg)
		if err != nil {
			return nil, err
		}
		p.note = note
	}
	sess, err := session.New(cfg.SessionConfig(), reg, tr, session.WithLogger(p.log))
	if err != nil {
		return nil, err
	}
	p.sess = sess
	p.subscribe()
	p.router = newRouter(cfg.Name, cfg.CorsOrigins)
	p.registerRoutes()
	sess.Open()
	p.log.Info().
		Str("role", cfg.Role).
		Uint8("peer", tr.LocalPeer()).
		Int("types", reg.TypeCount()).
		Msg("node appeared")
	return p, nil
}

func openTransport(ctx context.Context, cfg config.PeerConfig) (transport.Transport, func(context.Context) error, <-chan struct{}, []string, error) {
	clientCfg := transport.ClientConfig{
		Name:               cfg.Name,
		MaxUnit:            cfg.MaxUnit,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
	}
	switch {
	case cfg.Role == string(session.RoleSolo), cfg.Transport == config.TransportMem && cfg.Role == string(session.RoleServer):
		return mem.NewHub(cfg.MaxUnit).Server(), nil, nil, nil, nil
	case cfg.Role == string(session.RoleServer) && cfg.Transport == config.TransportTCP:
		srv, err := tcp.Listen(cfg.ListenAddr, cfg.Name, cfg.MaxUnit, cfg.Security)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return srv, srv.Serve, nil, []string{srv.Addr().String()}, nil
	case cfg.Role == string(session.RoleServer) && cfg.Transport == config.TransportP2P:
		srv, err := p2p.Listen(ctx, cfg.ListenAddr, cfg.Name, cfg.MaxUnit)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return srv, nil, nil, srv.Addrs(), nil
	case cfg.Role == string(session.RoleClient) && cfg.Transport == config.TransportTCP:
		c, err := tcp.Dial(ctx, cfg.ServerAddr, tcp.DialConfig{ClientConfig: clientCfg, Security: cfg.Security})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return c, nil, c.Done(), nil, nil
	case cfg.Role == string(session.RoleClient) && cfg.Transport == config.TransportP2P:
		c, err := p2p.Dial(ctx, cfg.ServerAddr, clientCfg)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return c, nil, c.Done(), nil, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("%w: %s over %s", ErrUnsupportedTransport, cfg.Role, cfg.Transport)
}

func (p *Peer) NodeID() string          { return p.cfg.Name }
func (p *Peer) Kind() string            { return p.cfg.Role }
func (p *Peer) HTTPRouter() *gin.Engine { return p.router }

func (p *Peer) Session() *session.Session { return p.sess }

// Addrs lists the addresses clients can dial. Empty for clients and solo peers.
func (p *Peer) Addrs() []string { return append([]string(nil), p.addrs...) }

func (p *Peer) Ready() bool { return p.ready.Load() }

// Run drives the peer until ctx is done, the session fails, or a client loses
// its server. The peer is closed on return.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	if p.serve != nil {
		start("transport", p.serve)
	}
	if p.cfg.AdminAddr != "" {
		start("admin", p.serveAdmin)
	}
	start("session", func(ctx context.Context) error {
		return p.sess.Run(ctx, p.cfg.SessionConfig().PollInterval)
	})
	p.ready.Store(true)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	case <-p.done:
		err = ErrServerLost
	}
	p.ready.Store(false)
	cancel()
	wg.Wait()
	p.Close()
	if err != nil {
		p.log.Error().Err(err).Msg("node stopped")
	} else {
		p.log.Info().Msg("node stopped")
	}
	return err
}

func (p *Peer) serveAdmin(ctx context.Context) error {
	srv := &http.Server{
		Addr:              p.cfg.AdminAddr,
		Handler:           p.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	p.log.Info().Str("addr", p.cfg.AdminAddr).Msg("admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close tears down the session and the transport. Safe to call twice.
func (p *Peer) Close() {
	p.once.Do(func() {
		p.sess.Close()
		if err := p.tr.Close(); err != nil {
			p.log.Warn().Err(err).Msg("transport close failed")
		}
	})
}

func (p *Peer) SendPing(value int, to transport.Target, relay bool) error {
	return session.Send(p.sess, p.types.Ping, demo.Ping{Value: value}, to, relay)
}

func (p *Peer) SendBlob(seq uint32, name string, data []byte, to transport.Target, relay bool) error {
	return session.Send(p.sess, p.types.Blob, demo.Blob{Seq: seq, Name: name, Data: data}, to, relay)
}

func (p *Peer) SendNote(text string, to transport.Target, relay bool) error {
	if !p.note.Valid() {
		return ErrCompanionDisabled
	}
	return session.Send(p.sess, p.note, demo.Note{Text: text}, to, relay)
}

func (p *Peer) subscribe() {
	session.Subscribe(p.sess, p.types.Ping, p.onPing)
	session.Subscribe(p.sess, p.types.Pong, p.onPong)
	session.Subscribe(p.sess, p.types.Blob, p.onBlob)
	if p.note.Valid() {
		session.Subscribe(p.sess, p.note, p.onNote)
	}
}

// onPing answers every ping with a pong addressed back to its sender.
func (p *Peer) onPing(msg demo.Ping, sender protocol.SenderInfo, handled *bool) {
	*handled = true
	p.stats.pings.Add(1)
	var err error
	switch {
	case p.sess.Role() != session.RoleClient:
		err = session.Send(p.sess, p.types.Pong, demo.Pong{Value: msg.Value}, transport.ToPeer(sender.Peer), false)
	case sender.Peer == transport.ServerPeer:
		err = session.Send(p.sess, p.types.Pong, demo.Pong{Value: msg.Value}, transport.ToPeer(transport.ServerPeer), false)
	default:
		err = session.Send(p.sess, p.types.Pong, demo.Pong{Value: msg.Value}, transport.ToPeer(sender.Peer), true)
	}
	if err != nil {
		p.log.Warn().Err(err).Uint8("to", sender.Peer).Msg("pong reply failed")
	}
}

func (p *Peer) onPong(msg demo.Pong, sender protocol.SenderInfo, handled *bool) {
	*handled = true
	p.stats.pongs.Add(1)
	p.stats.lastPong.Store(int64(msg.Value))
	p.log.Debug().Int("value", msg.Value).Uint8("from", sender.Peer).Msg("pong")
}

func (p *Peer) onBlob(msg demo.Blob, sender protocol.SenderInfo, handled *bool) {
	*handled = true
	p.stats.blobs.Add(1)
	p.stats.blobBytes.Add(int64(len(msg.Data)))
	p.log.Debug().
		Uint32("seq", msg.Seq).
		Str("name", msg.Name).
		Int("bytes", len(msg.Data)).
		Uint8("from", sender.Peer).
		Msg("blob")
}

func (p *Peer) onNote(msg demo.Note, sender protocol.SenderInfo, handled *bool) {
	*handled = true
	p.stats.notes.Add(1)
	p.log.Info().Str("text", msg.Text).Uint8("from", sender.Peer).Msg("note")
}
