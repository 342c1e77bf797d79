package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/registry"
	"github.com/danmuck/edgewire/internal/transport"
)

var ErrUnitTooSmall = fmt.Errorf("%w: transport unit too small to carry a fragment", protocol.ErrConfiguration)

// Session binds a registry, a handler table and a transport for one peer.
type Session struct {
	cfg      Config
	role     Role
	reg      *registry.Registry
	tr       transport.Transport
	handlers *handlerTable
	reasm    *frame.Reassembler
	sendMu   sync.Mutex
	open     atomic.Bool
	log      zerolog.Logger
}

type Option func(*Session)

// WithLogger replaces the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// New builds a session. The transport's local peer must agree with the role:
// servers and solo peers are peer 0, clients are anything else.
func New(cfg Config, reg *registry.Registry, tr transport.Transport, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil || tr == nil {
		return nil, fmt.Errorf("%w: registry and transport are required", ErrInvalidConfig)
	}
	role := NormalizeRole(cfg.Role)
	local := tr.LocalPeer()
	if (role == RoleClient) == (local == transport.ServerPeer) {
		return nil, fmt.Errorf("%w: role %s on peer %d", ErrInvalidConfig, role, local)
	}
	s := &Session{
		cfg:      cfg,
		role:     role,
		reg:      reg,
		tr:       tr,
		handlers: newHandlerTable(),
		reasm:    frame.NewReassembler(cfg.limits()),
		log: log.With().
			Str("component", "session").
			Str("node", cfg.Name).
			Str("role", string(role)).
			Uint8("peer", local).
			Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open freezes the registry and starts accepting sends and dispatches.
func (s *Session) Open() {
	s.reg.Freeze()
	s.open.Store(true)
	w := s.reg.Widths()
	s.log.Info().
		Int("types", s.reg.TypeCount()).
		Int("originators", s.reg.OriginatorCount()).
		Int("type_width", w.Type).
		Int("originator_width", w.Originator).
		Msg("session.Open")
}

// Close tears down session state: registry, handler table and pending
// reassembly. The transport is left to its owner.
func (s *Session) Close() {
	s.open.Store(false)
	s.reg.Reset()
	s.handlers.reset()
	s.reasm.Reset()
	s.log.Info().Msg("session.Close")
}

func (s *Session) IsOpen() bool { return s.open.Load() }

func (s *Session) Role() Role { return s.role }

func (s *Session) Name() string { return s.cfg.Name }

func (s *Session) LocalPeer() transport.PeerID { return s.tr.LocalPeer() }

// Peers lists directly addressable peers.
func (s *Session) Peers() []transport.PeerID { return s.tr.Peers() }

func (s *Session) Registry() *registry.Registry { return s.reg }

// PendingFragments lists in-flight reassemblies.
func (s *Session) PendingFragments() []frame.Pending { return s.reasm.Pending() }

func (s *Session) isClient() bool { return s.role == RoleClient }

// sendLeg is the forwarding layout this peer writes; recvLeg the one it reads.
func (s *Session) sendLeg() protocol.Leg {
	if s.isClient() {
		return protocol.LegRequest
	}
	return protocol.LegRelay
}

func (s *Session) recvLeg() protocol.Leg {
	if s.isClient() {
		return protocol.LegRelay
	}
	return protocol.LegRequest
}

// Poll drains the transport inbox once, dispatching every frame in arrival
// order. The first fatal error stops the drain and is returned.
func (s *Session) Poll() error {
	for _, ev := range s.tr.Inbox().Drain() {
		switch ev.Kind {
		case transport.EventFrame:
			if err := s.Dispatch(ev.Data, ev.Peer); err != nil {
				return err
			}
		case transport.EventConnected:
			s.log.Info().Uint8("remote", ev.Peer).Msg("session peer connected")
		case transport.EventDisconnected:
			dropped := s.reasm.Drop(ev.Peer)
			s.log.Info().Uint8("remote", ev.Peer).Int("dropped_fragments", dropped).Msg("session peer disconnected")
		}
	}
	return nil
}

// Run polls every tick until ctx is done or a poll fails.
func (s *Session) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = s.cfg.PollInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Poll(); err != nil {
				s.log.Error().Err(err).Msg("session.Run stopped")
				return err
			}
		}
	}
}
