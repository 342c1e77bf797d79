package frame

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/edgewire/internal/protocol"
)

// Key identifies one in-flight reassembly.
type Key struct {
	Peer uint8
	Type uint16
}

// Origin is the envelope header every chunk of one message repeats.
type Origin struct {
	Originator     uint16
	Flags          protocol.Flags
	ToPeer         uint8
	IgnorePeer     uint8
	OriginalSender uint8
}

// OriginOf extracts the repeated header fields of env.
func OriginOf(env protocol.Envelope) Origin {
	return Origin{
		Originator:     env.Originator,
		Flags:          env.Flags,
		ToPeer:         env.ToPeer,
		IgnorePeer:     env.IgnorePeer,
		OriginalSender: env.OriginalSender,
	}
}

// Pending describes one in-flight reassembly.
type Pending struct {
	Key         Key
	Origin      Origin
	Bytes       int
	Chunks      int
	StartedAt   time.Time
	LastChunkAt time.Time
}

type pending struct {
	meta Pending
	buf  []byte
}

// Reassembler holds at most one partial payload per (peer, type).
type Reassembler struct {
	mu     sync.Mutex
	limits Limits
	items  map[Key]*pending
	now    func() time.Time
}

func NewReassembler(limits Limits) *Reassembler {
	if limits.MaxPayloadBytes == 0 {
		limits = DefaultLimits()
	}
	return &Reassembler{
		limits: limits,
		items:  make(map[Key]*pending),
		now:    time.Now,
	}
}

// Add appends one fragment envelope. It returns the complete payload once the
// final chunk arrives.
func (r *Reassembler) Add(key Key, env protocol.Envelope) ([]byte, bool, error) {
	chunk, err := DecodeChunk(env.Body)
	if err != nil {
		r.mu.Lock()
		delete(r.items, key)
		r.mu.Unlock()
		return nil, false, err
	}
	origin := OriginOf(env)
	origin.Flags &^= protocol.FlagFragment

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	item, ok := r.items[key]
	if !ok {
		item = &pending{meta: Pending{Key: key, Origin: origin, StartedAt: now}}
		r.items[key] = item
	} else if item.meta.Origin != origin {
		delete(r.items, key)
		return nil, false, fmt.Errorf(
			"%w: peer=%d type=%d in-flight=%+v got=%+v",
			protocol.ErrInterleavedFragment,
			key.Peer,
			key.Type,
			item.meta.Origin,
			origin,
		)
	}

	if uint64(len(item.buf)+len(chunk.Data)) > r.limits.MaxPayloadBytes {
		delete(r.items, key)
		return nil, false, fmt.Errorf(
			"%w: peer=%d type=%d size>%d",
			protocol.ErrFragmentTooLarge,
			key.Peer,
			key.Type,
			r.limits.MaxPayloadBytes,
		)
	}
	item.buf = append(item.buf, chunk.Data...)
	item.meta.Chunks++
	item.meta.Bytes = len(item.buf)
	item.meta.LastChunkAt = now

	if chunk.More {
		return nil, false, nil
	}
	delete(r.items, key)
	if item.buf == nil {
		return []byte{}, true, nil
	}
	return item.buf, true, nil
}

// Drop discards every in-flight reassembly from peer.
func (r *Reassembler) Drop(peer uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.items {
		if key.Peer == peer {
			delete(r.items, key)
			n++
		}
	}
	return n
}

func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[Key]*pending)
}

// Pending lists in-flight reassemblies ordered by peer then type.
func (r *Reassembler) Pending() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pending, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Peer != out[j].Key.Peer {
			return out[i].Key.Peer < out[j].Key.Peer
		}
		return out[i].Key.Type < out[j].Key.Type
	})
	return out
}
