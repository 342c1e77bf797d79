package protocol

import "encoding/binary"

// DecodeEnvelope parses one envelope. Body aliases buf.
func DecodeEnvelope(buf []byte, w Widths, leg Leg) (Envelope, error) {
	var env Envelope
	offset := 0

	originator, n, err := readID(buf[offset:], w.Originator)
	if err != nil {
		return Envelope{}, err
	}
	env.Originator = originator
	offset += n

	typeID, n, err := readID(buf[offset:], w.Type)
	if err != nil {
		return Envelope{}, err
	}
	env.Type = typeID
	offset += n

	if len(buf)-offset < 1 {
		return Envelope{}, ErrTruncated
	}
	env.Flags = Flags(buf[offset])
	offset++

	env.ToPeer = NoPeer
	env.IgnorePeer = NoPeer
	if env.Flags.Has(FlagForwarded) {
		need := forwardingLen(leg)
		if len(buf)-offset < need {
			return Envelope{}, ErrTruncated
		}
		switch leg {
		case LegRelay:
			env.OriginalSender = buf[offset]
		default:
			env.ToPeer = buf[offset]
			env.IgnorePeer = buf[offset+1]
		}
		offset += need
	}

	env.Body = buf[offset:]
	return env, nil
}

func readID(buf []byte, width int) (uint16, int, error) {
	switch width {
	case 1:
		if len(buf) < 1 {
			return 0, 0, ErrTruncated
		}
		return uint16(buf[0]), 1, nil
	case 2:
		if len(buf) < 2 {
			return 0, 0, ErrTruncated
		}
		return binary.BigEndian.Uint16(buf[0:2]), 2, nil
	default:
		return 0, 0, ErrIDOutOfRange
	}
}
