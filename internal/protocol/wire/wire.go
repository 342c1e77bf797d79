// Package wire provides the payload primitives message contracts serialize with.
//
// Fixed-size integers are big-endian. Strings and byte slices carry a uvarint
// length prefix. A Reader is sticky on its first error so decode functions can
// read every field and check once.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/multiformats/go-varint"
)

var (
	ErrShortRead     = fmt.Errorf("%w: short read", protocol.ErrPayloadMismatch)
	ErrTrailingBytes = fmt.Errorf("%w: trailing bytes", protocol.ErrPayloadMismatch)
	ErrInvalidBool   = fmt.Errorf("%w: invalid bool value", protocol.ErrPayloadMismatch)
	ErrInvalidLength = fmt.Errorf("%w: invalid length prefix", protocol.ErrPayloadMismatch)
)

// Writer accumulates one payload.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

func (w *Writer) Bool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	w.buf = append(w.buf, b)
}

func (w *Writer) Uvarint(v uint64) {
	w.buf = append(w.buf, varint.ToUvarint(v)...)
}

func (w *Writer) Str(v string) {
	w.Uvarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) Bytes(v []byte) {
	w.Uvarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// Raw appends v without a length prefix.
func (w *Writer) Raw(v []byte) {
	w.buf = append(w.buf, v...)
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Payload returns the accumulated bytes.
func (w *Writer) Payload() []byte {
	return w.buf
}

// Reader consumes one payload.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrShortRead
		r.off = len(r.buf)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) I64() int64 {
	return int64(r.U64())
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = ErrInvalidBool
		}
		return false
	}
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.FromUvarint(r.buf[r.off:])
	if err != nil {
		r.err = fmt.Errorf("%w: %v", ErrInvalidLength, err)
		r.off = len(r.buf)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Str() string {
	return string(r.Bytes())
}

// Bytes returns a copy of a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.off) {
		r.err = ErrShortRead
		r.off = len(r.buf)
		return nil
	}
	raw := r.take(int(n))
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Err() error {
	return r.err
}

// Finish reports whether the payload was consumed exactly.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d unread", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}
