package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/registry"
	"github.com/danmuck/edgewire/internal/transport"
)

var ErrPayloadTooLarge = fmt.Errorf("%w: payload exceeds max_payload_bytes", protocol.ErrConfiguration)

// Send encodes msg and hands it to the transport.
//
// A client always writes to the server. With relay set, the client asks the
// server to re-transmit the message to the peers implied by target. A server
// addresses target directly and ignores relay. A solo peer validates the
// message and drops it.
func Send[T any](s *Session, t registry.Type[T], msg T, target transport.Target, relay bool) error {
	if !s.open.Load() {
		return protocol.ErrRegistryNotFrozen
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrNotRegistered, t.Name())
	}
	entry, ok := s.reg.Resolve(t.ID())
	if !ok || entry.Name != t.Name() {
		return fmt.Errorf("%w: %q", protocol.ErrNotRegistered, t.Name())
	}
	orig, ok := s.reg.ResolveOriginator(uint16(t.Originator()))
	if !ok {
		return fmt.Errorf("%w: id=%d for type %q", protocol.ErrNoOriginator, t.Originator(), t.Name())
	}

	env := protocol.Envelope{
		Originator: uint16(orig.ID),
		Type:       t.ID(),
		ToPeer:     protocol.NoPeer,
		IgnorePeer: protocol.NoPeer,
		Body:       t.Encode(msg),
	}
	if orig.Synced {
		env.Flags |= protocol.FlagExpected
	}

	to := target
	if s.isClient() {
		if relay {
			env.Flags |= protocol.FlagForwarded
			env.ToPeer, env.IgnorePeer = forwardingFields(target)
		}
		to = transport.ToPeer(transport.ServerPeer)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, err := s.writeLocked(entry.Name, env, s.sendLeg(), []transport.Target{to}, false)
	return err
}

// forwardingFields maps a target onto the (toPeer, ignorePeer) request fields.
func forwardingFields(t transport.Target) (uint8, uint8) {
	switch t.Mode {
	case transport.ModePeer:
		return t.Peer, protocol.NoPeer
	case transport.ModeAllExcept:
		return protocol.NoPeer, t.Peer
	default:
		return protocol.NoPeer, protocol.NoPeer
	}
}

// writeLocked encodes env, fragmenting it when it exceeds the transport unit,
// and writes every frame to each target in turn. Callers hold sendMu so the
// chunks of one message are never interleaved with other sends.
//
// A failed target does not stop delivery to the others. With skipGone set,
// targets that have disconnected are logged and skipped instead of reported.
// The count is the number of targets that received every frame.
func (s *Session) writeLocked(typeName string, env protocol.Envelope, leg protocol.Leg, targets []transport.Target, skipGone bool) (int, error) {
	if uint64(len(env.Body)) > s.cfg.MaxPayloadBytes {
		return 0, fmt.Errorf("%w: type=%s size=%d", ErrPayloadTooLarge, typeName, len(env.Body))
	}
	widths := s.reg.Widths()
	frames, size, err := s.encodeFrames(env, widths, leg)
	if err != nil {
		return 0, err
	}

	if s.role == RoleSolo {
		s.log.Debug().
			Str("type", typeName).
			Int("frames", len(frames)).
			Msg("session.Send solo drop")
		return 0, nil
	}
	delivered := 0
	var errs []error
	for _, to := range targets {
		if err := s.writeFrames(frames, to); err != nil {
			if skipGone && errors.Is(err, transport.ErrUnreachable) {
				s.log.Warn().
					Str("type", typeName).
					Str("target", to.String()).
					Msg("session.relay recipient left")
				continue
			}
			s.log.Warn().
				Str("type", typeName).
				Str("target", to.String()).
				Err(err).
				Msg("session.Send transport failed")
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		observability.RecordMessageSent(s.cfg.Name, typeName, len(frames), size)
		s.log.Debug().
			Str("type", typeName).
			Int("frames", len(frames)).
			Int("bytes", size).
			Int("targets", delivered).
			Bool("forwarded", env.Flags.Has(protocol.FlagForwarded)).
			Msg("session.Send")
	}
	if len(errs) == 1 {
		return delivered, errs[0]
	}
	return delivered, errors.Join(errs...)
}

// writeFrames stops at the first failed frame; the remaining chunks would be
// unusable to that target.
func (s *Session) writeFrames(frames [][]byte, to transport.Target) error {
	for _, f := range frames {
		if err := s.tr.Send(f, to); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) encodeFrames(env protocol.Envelope, widths protocol.Widths, leg protocol.Leg) ([][]byte, int, error) {
	whole, err := protocol.EncodeEnvelope(env, widths, leg)
	if err != nil {
		return nil, 0, err
	}
	unit := s.tr.MaxUnit()
	if len(whole) <= unit {
		return [][]byte{whole}, len(whole), nil
	}

	fragFlags := env.Flags | protocol.FlagFragment
	chunk := frame.ChunkCapacity(unit - protocol.HeaderLen(widths, fragFlags, leg))
	if chunk < frame.MinChunk {
		return nil, 0, fmt.Errorf("%w: unit=%d", ErrUnitTooSmall, unit)
	}
	chunks := frame.Split(env.Body, chunk)
	out := make([][]byte, 0, len(chunks))
	size := 0
	for _, c := range chunks {
		part := env
		part.Flags = fragFlags
		part.Body = c
		buf, err := protocol.EncodeEnvelope(part, widths, leg)
		if err != nil {
			return nil, 0, err
		}
		size += len(buf)
		out = append(out, buf)
	}
	return out, size, nil
}
