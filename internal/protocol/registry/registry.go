package registry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

const maxIDs = 1 << 16

// OriginatorID is the wire id of a logical source module.
type OriginatorID uint16

// Originator is one registered source module.
type Originator struct {
	ID   OriginatorID
	Name string
	// Synced marks a module guaranteed present on every peer. Messages it sends
	// carry the expected flag.
	Synced bool
}

// EncodeFunc serializes one message into w.
type EncodeFunc[T any] func(w *wire.Writer, msg T)

// DecodeFunc deserializes one message. It must consume exactly what the
// matching EncodeFunc produced.
type DecodeFunc[T any] func(r *wire.Reader, sender protocol.SenderInfo) (T, error)

type codec interface {
	decode(payload []byte, sender protocol.SenderInfo) (any, error)
}

type typedCodec[T any] struct {
	enc EncodeFunc[T]
	dec DecodeFunc[T]
}

func (c *typedCodec[T]) decode(payload []byte, sender protocol.SenderInfo) (any, error) {
	r := wire.NewReader(payload)
	msg, err := c.dec(r, sender)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Entry is the dispatch record for one registered message type.
type Entry struct {
	ID         uint16
	Name       string
	Originator OriginatorID
	codec      codec
}

// Decode runs the type's contract over payload and enforces exact consumption.
func (e Entry) Decode(payload []byte, sender protocol.SenderInfo) (any, error) {
	if e.codec == nil {
		return nil, protocol.ErrNotRegistered
	}
	msg, err := e.codec.decode(payload, sender)
	if err != nil {
		if protocol.IsFatal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrPayloadMismatch, err)
	}
	return msg, nil
}

// Type is the typed handle returned by Register.
type Type[T any] struct {
	id         uint16
	name       string
	originator OriginatorID
	enc        EncodeFunc[T]
}

func (t Type[T]) ID() uint16 {
	return t.id
}

func (t Type[T]) Name() string {
	return t.name
}

func (t Type[T]) Originator() OriginatorID {
	return t.originator
}

// Valid reports whether t came from Register.
func (t Type[T]) Valid() bool {
	return t.enc != nil
}

// Encode serializes msg with the type's contract.
func (t Type[T]) Encode(msg T) []byte {
	w := wire.NewWriter(64)
	t.enc(w, msg)
	return w.Payload()
}

type snapshot struct {
	originators      []Originator
	originatorByName map[string]OriginatorID
	types            []Entry
	typeByName       map[string]uint16
}

func emptySnapshot() *snapshot {
	return &snapshot{
		originatorByName: make(map[string]OriginatorID),
		typeByName:       make(map[string]uint16),
	}
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		originators:      make([]Originator, len(s.originators), len(s.originators)+1),
		originatorByName: make(map[string]OriginatorID, len(s.originatorByName)+1),
		types:            make([]Entry, len(s.types), len(s.types)+1),
		typeByName:       make(map[string]uint16, len(s.typeByName)+1),
	}
	copy(out.originators, s.originators)
	copy(out.types, s.types)
	for k, v := range s.originatorByName {
		out.originatorByName[k] = v
	}
	for k, v := range s.typeByName {
		out.typeByName[k] = v
	}
	return out
}

// Registry assigns wire ids to originators and message types.
//
// Registration happens during single-threaded startup. Every mutation publishes
// a new immutable snapshot, so lookups never lock. Freeze ends the
// registration phase for the session.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	snap   atomic.Pointer[snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot())
	return r
}

// RegisterOriginator returns the id for name, assigning the next one on first use.
func (r *Registry) RegisterOriginator(name string, synced bool) (OriginatorID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty originator name", protocol.ErrInvalidContract)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if id, ok := cur.originatorByName[name]; ok {
		if cur.originators[id].Synced != synced {
			return 0, fmt.Errorf("%w: originator %q synced=%t", protocol.ErrTypeConflict, name, cur.originators[id].Synced)
		}
		return id, nil
	}
	if r.frozen.Load() {
		log.Error().Str("component", "registry").Str("originator", name).Msg("registry.RegisterOriginator after freeze")
		return 0, fmt.Errorf("%w: originator %q", protocol.ErrRegistryFrozen, name)
	}
	if len(cur.originators) >= maxIDs {
		return 0, protocol.ErrTooManyIDs
	}

	next := cur.clone()
	id := OriginatorID(len(next.originators))
	next.originators = append(next.originators, Originator{ID: id, Name: name, Synced: synced})
	next.originatorByName[name] = id
	r.snap.Store(next)

	log.Debug().
		Str("component", "registry").
		Str("originator", name).
		Uint16("id", uint16(id)).
		Bool("synced", synced).
		Msg("registry.RegisterOriginator")
	return id, nil
}

// MustRegisterOriginator panics on error. Intended for startup wiring.
func (r *Registry) MustRegisterOriginator(name string, synced bool) OriginatorID {
	id, err := r.RegisterOriginator(name, synced)
	if err != nil {
		panic(err)
	}
	return id
}

// Register declares message type T under name, owned by originator.
// Calling it again with the same name and contract type returns the same id.
func Register[T any](r *Registry, originator OriginatorID, name string, enc EncodeFunc[T], dec DecodeFunc[T]) (Type[T], error) {
	name = strings.TrimSpace(name)
	if name == "" || enc == nil || dec == nil {
		return Type[T]{}, fmt.Errorf("%w: type %q", protocol.ErrInvalidContract, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if id, ok := cur.typeByName[name]; ok {
		entry := cur.types[id]
		tc, ok := entry.codec.(*typedCodec[T])
		if !ok || entry.Originator != originator {
			log.Error().
				Str("component", "registry").
				Str("type", name).
				Uint16("id", id).
				Msg("registry.Register conflicting contract")
			return Type[T]{}, fmt.Errorf("%w: %q", protocol.ErrTypeConflict, name)
		}
		return Type[T]{id: id, name: name, originator: originator, enc: tc.enc}, nil
	}
	if r.frozen.Load() {
		log.Error().Str("component", "registry").Str("type", name).Msg("registry.Register after freeze")
		return Type[T]{}, fmt.Errorf("%w: type %q", protocol.ErrRegistryFrozen, name)
	}
	if int(originator) >= len(cur.originators) {
		return Type[T]{}, fmt.Errorf("%w: id=%d for type %q", protocol.ErrNoOriginator, originator, name)
	}
	if len(cur.types) >= maxIDs {
		return Type[T]{}, protocol.ErrTooManyIDs
	}

	next := cur.clone()
	id := uint16(len(next.types))
	tc := &typedCodec[T]{enc: enc, dec: dec}
	next.types = append(next.types, Entry{ID: id, Name: name, Originator: originator, codec: tc})
	next.typeByName[name] = id
	r.snap.Store(next)

	log.Debug().
		Str("component", "registry").
		Str("type", name).
		Uint16("id", id).
		Uint16("originator", uint16(originator)).
		Msg("registry.Register")
	return Type[T]{id: id, name: name, originator: originator, enc: enc}, nil
}

// MustRegister panics on error. Intended for startup wiring.
func MustRegister[T any](r *Registry, originator OriginatorID, name string, enc EncodeFunc[T], dec DecodeFunc[T]) Type[T] {
	t, err := Register(r, originator, name, enc, dec)
	if err != nil {
		panic(err)
	}
	return t
}

// Freeze ends the registration phase. New names fail afterwards.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Swap(true) {
		return
	}
	cur := r.snap.Load()
	log.Info().
		Str("component", "registry").
		Int("originators", len(cur.originators)).
		Int("types", len(cur.types)).
		Msg("registry.Freeze")
}

func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Reset clears every registration and reopens the registry. Used at session teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(emptySnapshot())
	r.frozen.Store(false)
	log.Debug().Str("component", "registry").Msg("registry.Reset")
}

// Resolve returns the entry registered under id.
func (r *Registry) Resolve(id uint16) (Entry, bool) {
	cur := r.snap.Load()
	if int(id) >= len(cur.types) {
		return Entry{}, false
	}
	return cur.types[id], true
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	cur := r.snap.Load()
	id, ok := cur.typeByName[name]
	if !ok {
		return Entry{}, false
	}
	return cur.types[id], true
}

// ResolveOriginator returns the originator registered under id.
func (r *Registry) ResolveOriginator(id uint16) (Originator, bool) {
	cur := r.snap.Load()
	if int(id) >= len(cur.originators) {
		return Originator{}, false
	}
	return cur.originators[id], true
}

func (r *Registry) TypeCount() int {
	return len(r.snap.Load().types)
}

func (r *Registry) OriginatorCount() int {
	return len(r.snap.Load().originators)
}

// Widths derives the current id widths. Callers recompute it per encode/decode.
func (r *Registry) Widths() protocol.Widths {
	cur := r.snap.Load()
	return protocol.Widths{
		Originator: protocol.WidthFor(len(cur.originators)),
		Type:       protocol.WidthFor(len(cur.types)),
	}
}

// Entries returns the registered types in id order.
func (r *Registry) Entries() []Entry {
	cur := r.snap.Load()
	out := make([]Entry, len(cur.types))
	copy(out, cur.types)
	return out
}

// Originators returns the registered originators in id order.
func (r *Registry) Originators() []Originator {
	cur := r.snap.Load()
	out := make([]Originator, len(cur.originators))
	copy(out, cur.originators)
	return out
}
