package wire

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/edgewire/internal/protocol"
)

type sample struct {
	A uint8
	B uint16
	C uint32
	D uint64
	E int32
	F int64
	G float32
	H bool
	I uint64
	J string
	K []byte
}

func encodeSample(w *Writer, s sample) {
	w.U8(s.A)
	w.U16(s.B)
	w.U32(s.C)
	w.U64(s.D)
	w.I32(s.E)
	w.I64(s.F)
	w.F32(s.G)
	w.Bool(s.H)
	w.Uvarint(s.I)
	w.Str(s.J)
	w.Bytes(s.K)
}

func decodeSample(r *Reader) sample {
	return sample{
		A: r.U8(),
		B: r.U16(),
		C: r.U32(),
		D: r.U64(),
		E: r.I32(),
		F: r.I64(),
		G: r.F32(),
		H: r.Bool(),
		I: r.Uvarint(),
		J: r.Str(),
		K: r.Bytes(),
	}
}

func TestRoundTripAllPrimitives(t *testing.T) {
	in := sample{
		A: 0xfe,
		B: 0xbeef,
		C: 0xdeadbeef,
		D: math.MaxUint64,
		E: -7,
		F: math.MinInt64,
		G: 1.5,
		H: true,
		I: 300,
		J: "edgewire",
		K: []byte{0, 1, 2},
	}
	w := NewWriter(0)
	encodeSample(w, in)

	r := NewReader(w.Payload())
	out := decodeSample(r)
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if out.A != in.A || out.B != in.B || out.C != in.C || out.D != in.D || out.E != in.E || out.F != in.F {
		t.Fatalf("integer mismatch got=%+v want=%+v", out, in)
	}
	if out.G != in.G || out.H != in.H || out.I != in.I || out.J != in.J || !bytes.Equal(out.K, in.K) {
		t.Fatalf("mismatch got=%+v want=%+v", out, in)
	}
}

func TestFixedIntsAreBigEndian(t *testing.T) {
	w := NewWriter(4)
	w.U16(0x0102)
	w.U32(0x03040506)
	if got, want := w.Payload(), []byte{1, 2, 3, 4, 5, 6}; !bytes.Equal(got, want) {
		t.Fatalf("got=%x want=%x", got, want)
	}
}

func TestFinishDetectsTrailingBytes(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	r.U16()
	err := r.Finish()
	if !errors.Is(err, ErrTrailingBytes) || !errors.Is(err, protocol.ErrPayloadMismatch) {
		t.Fatalf("expected trailing bytes mismatch, got %v", err)
	}
	if r.Remaining() != 1 {
		t.Fatalf("remaining got=%d", r.Remaining())
	}
}

func TestShortReadIsSticky(t *testing.T) {
	r := NewReader([]byte{1})
	if v := r.U32(); v != 0 {
		t.Fatalf("short read returned %d", v)
	}
	r.U8()
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("expected sticky ErrShortRead, got %v", r.Err())
	}
	if !errors.Is(r.Finish(), protocol.ErrProtocolViolation) {
		t.Fatalf("short read must classify as protocol violation")
	}
}

func TestLengthPrefixBeyondPayload(t *testing.T) {
	w := NewWriter(0)
	w.Uvarint(10)
	w.Raw([]byte("abc"))
	r := NewReader(w.Payload())
	if r.Bytes() != nil || !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("expected short read, got %v", r.Err())
	}
}

func TestInvalidBool(t *testing.T) {
	r := NewReader([]byte{2})
	r.Bool()
	if !errors.Is(r.Err(), ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", r.Err())
	}
}

func TestBytesReturnsCopy(t *testing.T) {
	w := NewWriter(0)
	w.Bytes([]byte{9, 9})
	buf := w.Payload()
	out := NewReader(buf).Bytes()
	buf[1] = 0
	if out[0] != 9 {
		t.Fatalf("Bytes must not alias the payload")
	}
}
