package session

import (
	"errors"

	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/transport"
)

// Dispatch decodes one inbound envelope from peer from, runs its handlers and,
// on the server, relays forwarded messages one hop. Every returned error is
// fatal for the session.
func (s *Session) Dispatch(buf []byte, from transport.PeerID) error {
	if !s.open.Load() {
		return protocol.ErrRegistryNotFrozen
	}
	env, err := protocol.DecodeEnvelope(buf, s.reg.Widths(), s.recvLeg())
	if err != nil {
		return s.violation(from, 0, "", err)
	}

	if _, ok := s.reg.ResolveOriginator(env.Originator); !ok {
		if s.isClient() && !env.Flags.Has(protocol.FlagExpected) {
			observability.RecordMessageDropped(s.cfg.Name, "expected_absence")
			s.log.Debug().
				Uint8("from", from).
				Uint16("originator", env.Originator).
				Uint16("type_id", env.Type).
				Msg("session.Dispatch optional originator absent, dropped")
			return nil
		}
		return s.violation(from, env.Type, "", protocol.ErrUnknownOriginator)
	}

	entry, ok := s.reg.Resolve(env.Type)
	if !ok {
		return s.violation(from, env.Type, "", protocol.ErrUnknownType)
	}

	sender := protocol.SenderInfo{
		Peer:       from,
		Originator: env.Originator,
		Flags:      env.Flags &^ protocol.FlagFragment,
		ToPeer:     env.ToPeer,
		IgnorePeer: env.IgnorePeer,
	}
	if s.isClient() && env.Flags.Has(protocol.FlagForwarded) {
		sender.Peer = env.OriginalSender
	}

	payload := env.Body
	if env.Flags.Has(protocol.FlagFragment) {
		whole, done, err := s.reasm.Add(frame.Key{Peer: from, Type: env.Type}, env)
		if err != nil {
			return s.violation(from, env.Type, entry.Name, err)
		}
		observability.RecordFragment(s.cfg.Name, done)
		if !done {
			return nil
		}
		payload = whole
	}

	msg, err := entry.Decode(payload, sender)
	if err != nil {
		return s.violation(from, env.Type, entry.Name, err)
	}

	handled := false
	subs := s.handlers.list(env.Type)
	for _, sub := range subs {
		sub.fn(msg, sender, &handled)
	}
	if !handled {
		return s.violation(from, env.Type, entry.Name, protocol.ErrUnhandled)
	}
	observability.RecordMessageReceived(s.cfg.Name, entry.Name, len(buf))
	s.log.Debug().
		Uint8("from", from).
		Uint8("sender", sender.Peer).
		Str("type", entry.Name).
		Int("handlers", len(subs)).
		Msg("session.Dispatch handled")

	if !s.isClient() && sender.Forwarded() {
		return s.relay(entry.Name, env, payload, from)
	}
	return nil
}

// relay re-transmits a forwarded message to its target set, excluding
// ignorePeer and the original sender. The relayed envelope carries the
// original sender on the relay leg, so receivers never forward it again.
func (s *Session) relay(typeName string, env protocol.Envelope, payload []byte, from transport.PeerID) error {
	recipients := relayTargets(s.tr.Peers(), env.ToPeer, env.IgnorePeer, from)
	if len(recipients) == 0 {
		s.log.Debug().Str("type", typeName).Uint8("from", from).Msg("session.relay no recipients")
		return nil
	}
	out := protocol.Envelope{
		Originator:     env.Originator,
		Type:           env.Type,
		Flags:          env.Flags &^ protocol.FlagFragment,
		OriginalSender: from,
		Body:           payload,
	}
	targets := make([]transport.Target, 0, len(recipients))
	for _, id := range recipients {
		targets = append(targets, transport.ToPeer(id))
	}

	s.sendMu.Lock()
	delivered, err := s.writeLocked(typeName, out, protocol.LegRelay, targets, true)
	s.sendMu.Unlock()
	if delivered > 0 {
		observability.RecordMessageRelayed(s.cfg.Name, typeName, delivered)
	}
	return err
}

// relayTargets computes the single-hop recipient set from the request fields.
func relayTargets(peers []transport.PeerID, toPeer, ignorePeer, from uint8) []transport.PeerID {
	out := make([]transport.PeerID, 0, len(peers))
	for _, p := range peers {
		if p == from || p == ignorePeer || p == transport.ServerPeer {
			continue
		}
		if toPeer != protocol.NoPeer && p != toPeer {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Session) violation(from transport.PeerID, typeID uint16, typeName string, err error) error {
	verr := protocol.ViolationError{Peer: from, TypeID: typeID, Type: typeName, Err: err}
	observability.RecordViolation(s.cfg.Name, violationKind(err))
	s.log.Error().
		Uint8("from", from).
		Uint16("type_id", typeID).
		Str("type", typeName).
		Err(err).
		Msg("session.Dispatch violation")
	return verr
}

func violationKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnhandled):
		return "unhandled"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrUnknownOriginator):
		return "unknown_originator"
	case errors.Is(err, protocol.ErrInterleavedFragment):
		return "interleaved_fragment"
	case errors.Is(err, protocol.ErrFragmentTooLarge), errors.Is(err, protocol.ErrBadFragment):
		return "fragment"
	case errors.Is(err, protocol.ErrPayloadMismatch):
		return "payload_mismatch"
	case errors.Is(err, protocol.ErrTruncated), errors.Is(err, protocol.ErrIDOutOfRange):
		return "envelope"
	default:
		return "other"
	}
}
