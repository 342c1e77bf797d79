package protocol

import "encoding/binary"

// HeaderLen returns the envelope header size for the given widths, flags and leg.
func HeaderLen(w Widths, flags Flags, leg Leg) int {
	n := w.Originator + w.Type + 1
	if flags.Has(FlagForwarded) {
		n += forwardingLen(leg)
	}
	return n
}

func forwardingLen(leg Leg) int {
	if leg == LegRelay {
		return 1
	}
	return 2
}

// EncodeEnvelope writes env using the protocol wire format:
// [originator][type][flags][forwarding fields if forwarded][body].
func EncodeEnvelope(env Envelope, w Widths, leg Leg) ([]byte, error) {
	buf := make([]byte, 0, HeaderLen(w, env.Flags, leg)+len(env.Body))
	buf, err := putID(buf, env.Originator, w.Originator)
	if err != nil {
		return nil, err
	}
	buf, err = putID(buf, env.Type, w.Type)
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(env.Flags))
	if env.Flags.Has(FlagForwarded) {
		switch leg {
		case LegRelay:
			buf = append(buf, env.OriginalSender)
		default:
			buf = append(buf, env.ToPeer, env.IgnorePeer)
		}
	}
	buf = append(buf, env.Body...)
	return buf, nil
}

func putID(buf []byte, id uint16, width int) ([]byte, error) {
	switch width {
	case 1:
		if id > 0xff {
			return nil, ErrIDOutOfRange
		}
		return append(buf, byte(id)), nil
	case 2:
		return binary.BigEndian.AppendUint16(buf, id), nil
	default:
		return nil, ErrIDOutOfRange
	}
}
