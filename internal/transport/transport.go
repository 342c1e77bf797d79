package transport

import (
	"errors"
	"fmt"
	"slices"
)

// PeerID is the session-local id of one participant. The server is always 0,
// clients are 1..254, and 255 is reserved as "no peer".
type PeerID = uint8

const (
	ServerPeer PeerID = 0
	NoPeer     PeerID = 255

	minClientPeer PeerID = 1
	maxClientPeer PeerID = 254
)

var (
	ErrClosed        = errors.New("transport: closed")
	ErrFrameTooLarge = errors.New("transport: frame exceeds max unit")
	ErrUnreachable   = errors.New("transport: peer unreachable")
	ErrNoPeerIDs     = errors.New("transport: no free peer ids")
)

// Mode is an addressing mode.
type Mode uint8

const (
	ModeBroadcast Mode = iota
	ModePeer
	ModeAllExcept
)

func (m Mode) String() string {
	switch m {
	case ModeBroadcast:
		return "broadcast"
	case ModePeer:
		return "peer"
	case ModeAllExcept:
		return "all_except"
	default:
		return "unknown"
	}
}

// Target addresses one send.
type Target struct {
	Mode Mode
	Peer PeerID
}

func Broadcast() Target {
	return Target{Mode: ModeBroadcast, Peer: NoPeer}
}

func ToPeer(id PeerID) Target {
	return Target{Mode: ModePeer, Peer: id}
}

func AllExcept(id PeerID) Target {
	return Target{Mode: ModeAllExcept, Peer: id}
}

func (t Target) String() string {
	if t.Mode == ModeBroadcast {
		return t.Mode.String()
	}
	return fmt.Sprintf("%s(%d)", t.Mode, t.Peer)
}

// Resolve returns the recipients of t among peers, in ascending order.
func (t Target) Resolve(peers []PeerID) ([]PeerID, error) {
	out := make([]PeerID, 0, len(peers))
	switch t.Mode {
	case ModeBroadcast:
		out = append(out, peers...)
	case ModePeer:
		if !slices.Contains(peers, t.Peer) {
			return nil, fmt.Errorf("%w: %d", ErrUnreachable, t.Peer)
		}
		out = append(out, t.Peer)
	case ModeAllExcept:
		for _, p := range peers {
			if p != t.Peer {
				out = append(out, p)
			}
		}
	default:
		return nil, fmt.Errorf("transport: unknown mode %d", t.Mode)
	}
	slices.Sort(out)
	return out, nil
}

// Transport is the host-provided byte channel the protocol layer rides on.
// Delivery is reliable and ordered per peer. Send must be safe for concurrent use.
type Transport interface {
	// LocalPeer is this endpoint's peer id.
	LocalPeer() PeerID
	// Peers lists the peers this endpoint can address directly. A client only
	// ever sees the server.
	Peers() []PeerID
	// MaxUnit is the largest frame Send accepts.
	MaxUnit() int
	Send(frame []byte, to Target) error
	Inbox() *Inbox
	Close() error
}
