package frame

import (
	"fmt"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/multiformats/go-varint"
)

const (
	continuationFinal byte = 0
	continuationMore  byte = 1
)

// MinChunk is the smallest useful chunk capacity.
const MinChunk = 1

// Limits constrains reassembly memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Chunk is one decoded fragment frame.
type Chunk struct {
	More bool
	Data []byte
}

// EncodeChunk builds [continuation u8][chunk-length uvarint][chunk bytes].
func EncodeChunk(more bool, data []byte) []byte {
	size := varint.ToUvarint(uint64(len(data)))
	buf := make([]byte, 0, 1+len(size)+len(data))
	if more {
		buf = append(buf, continuationMore)
	} else {
		buf = append(buf, continuationFinal)
	}
	buf = append(buf, size...)
	buf = append(buf, data...)
	return buf
}

// DecodeChunk parses one fragment frame. The frame must be consumed exactly.
// Data aliases buf.
func DecodeChunk(buf []byte) (Chunk, error) {
	if len(buf) < 2 {
		return Chunk{}, fmt.Errorf("%w: short frame", protocol.ErrBadFragment)
	}
	var c Chunk
	switch buf[0] {
	case continuationFinal:
	case continuationMore:
		c.More = true
	default:
		return Chunk{}, fmt.Errorf("%w: continuation=%d", protocol.ErrBadFragment, buf[0])
	}
	n, read, err := varint.FromUvarint(buf[1:])
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: chunk length: %v", protocol.ErrBadFragment, err)
	}
	rest := buf[1+read:]
	if uint64(len(rest)) != n {
		return Chunk{}, fmt.Errorf("%w: chunk length=%d have=%d", protocol.ErrBadFragment, n, len(rest))
	}
	c.Data = rest
	return c, nil
}

// ChunkCapacity returns the largest chunk whose frame fits in room bytes.
func ChunkCapacity(room int) int {
	if room < 2 {
		return 0
	}
	n := room - 1 - varint.UvarintSize(uint64(room))
	if n < 0 {
		return 0
	}
	return n
}

// Split cuts payload into ordered fragment frames carrying at most chunk bytes
// each. An empty payload yields one empty final frame.
func Split(payload []byte, chunk int) [][]byte {
	if chunk < MinChunk {
		return nil
	}
	count := (len(payload) + chunk - 1) / chunk
	if count == 0 {
		count = 1
	}
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, EncodeChunk(i < count-1, payload[start:end]))
	}
	return frames
}
