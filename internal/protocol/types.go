package protocol

// Flags is the envelope flag byte.
type Flags uint8

const (
	FlagForwarded Flags = 1 << 0
	FlagExpected  Flags = 1 << 1
	FlagFragment  Flags = 1 << 2
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

const (
	// ServerPeer is the transport id of the authoritative peer.
	ServerPeer uint8 = 0
	// NoPeer marks an unrestricted toPeer/ignorePeer forwarding field.
	NoPeer uint8 = 255
)

// Leg selects the forwarding-field layout of a forwarded envelope.
type Leg uint8

const (
	// LegRequest is client->server: [toPeer u8][ignorePeer u8].
	LegRequest Leg = iota
	// LegRelay is server->client: [originalSender u8].
	LegRelay
)

func (l Leg) String() string {
	switch l {
	case LegRequest:
		return "request"
	case LegRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Widths holds the byte width of originator and type ids on the wire.
type Widths struct {
	Originator int
	Type       int
}

// WidthFor returns 1 while count fits a byte id space, otherwise 2.
func WidthFor(count int) int {
	if count < 256 {
		return 1
	}
	return 2
}

// Envelope is one decoded wire message.
type Envelope struct {
	Originator     uint16
	Type           uint16
	Flags          Flags
	ToPeer         uint8
	IgnorePeer     uint8
	OriginalSender uint8
	// Body is the contract payload, or a fragment frame when FlagFragment is set.
	Body []byte
}

// SenderInfo describes the origin of one received message. It is built per
// dispatch and only valid for the handler invocation.
type SenderInfo struct {
	Peer       uint8
	Originator uint16
	Flags      Flags
	// ToPeer and IgnorePeer are only meaningful on the server for a forwarded message.
	ToPeer     uint8
	IgnorePeer uint8
}

func (s SenderInfo) Forwarded() bool {
	return s.Flags.Has(FlagForwarded)
}

func (s SenderInfo) Expected() bool {
	return s.Flags.Has(FlagExpected)
}
