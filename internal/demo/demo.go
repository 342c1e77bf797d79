// Package demo declares a small message set used by the edgewire CLI and the
// multi-peer tests.
package demo

import (
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/registry"
	"github.com/danmuck/edgewire/internal/protocol/wire"
)

const (
	OriginatorCore      = "demo.core"
	OriginatorCompanion = "demo.companion"

	TypePing = "demo.ping"
	TypePong = "demo.pong"
	TypeBlob = "demo.blob"
	TypeNote = "demo.note"
)

type Ping struct {
	Value int
}

type Pong struct {
	Value int
}

// Blob carries an arbitrary payload, large enough to need fragmenting.
type Blob struct {
	Seq  uint32
	Name string
	Data []byte
}

// Note is owned by the optional companion module.
type Note struct {
	Text string
}

// Types holds the typed handles of the core set.
type Types struct {
	Ping registry.Type[Ping]
	Pong registry.Type[Pong]
	Blob registry.Type[Blob]
}

// Register declares the core set. Registration order fixes the ids:
// Ping=0, Pong=1, Blob=2.
func Register(r *registry.Registry) (Types, error) {
	core, err := r.RegisterOriginator(OriginatorCore, true)
	if err != nil {
		return Types{}, err
	}
	ping, err := registry.Register(r, core, TypePing, encodePing, decodePing)
	if err != nil {
		return Types{}, err
	}
	pong, err := registry.Register(r, core, TypePong, encodePong, decodePong)
	if err != nil {
		return Types{}, err
	}
	blob, err := registry.Register(r, core, TypeBlob, encodeBlob, decodeBlob)
	if err != nil {
		return Types{}, err
	}
	return Types{Ping: ping, Pong: pong, Blob: blob}, nil
}

// RegisterCompanion declares the optional companion module. Peers without it
// drop its messages silently.
func RegisterCompanion(r *registry.Registry) (registry.Type[Note], error) {
	companion, err := r.RegisterOriginator(OriginatorCompanion, false)
	if err != nil {
		return registry.Type[Note]{}, err
	}
	return registry.Register(r, companion, TypeNote, encodeNote, decodeNote)
}

func encodePing(w *wire.Writer, m Ping) {
	w.I64(int64(m.Value))
}

func decodePing(r *wire.Reader, _ protocol.SenderInfo) (Ping, error) {
	v := r.I64()
	return Ping{Value: int(v)}, r.Err()
}

func encodePong(w *wire.Writer, m Pong) {
	w.I64(int64(m.Value))
}

func decodePong(r *wire.Reader, _ protocol.SenderInfo) (Pong, error) {
	v := r.I64()
	return Pong{Value: int(v)}, r.Err()
}

func encodeBlob(w *wire.Writer, m Blob) {
	w.U32(m.Seq)
	w.Str(m.Name)
	w.Bytes(m.Data)
}

func decodeBlob(r *wire.Reader, _ protocol.SenderInfo) (Blob, error) {
	m := Blob{
		Seq:  r.U32(),
		Name: r.Str(),
		Data: r.Bytes(),
	}
	return m, r.Err()
}

func encodeNote(w *wire.Writer, m Note) {
	w.Str(m.Text)
}

func decodeNote(r *wire.Reader, _ protocol.SenderInfo) (Note, error) {
	v := r.Str()
	return Note{Text: v}, r.Err()
}
