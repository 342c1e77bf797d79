package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/wire"
	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

type counter struct {
	N uint32
}

type label struct {
	Text string
}

func encodeCounter(w *wire.Writer, m counter) { w.U32(m.N) }

func decodeCounter(r *wire.Reader, _ protocol.SenderInfo) (counter, error) {
	n := r.U32()
	return counter{N: n}, r.Err()
}

func encodeLabel(w *wire.Writer, m label) { w.Str(m.Text) }

func decodeLabel(r *wire.Reader, _ protocol.SenderInfo) (label, error) {
	v := r.Str()
	return label{Text: v}, r.Err()
}

func registerSequence(t *testing.T, r *Registry, n int) map[string]uint16 {
	t.Helper()
	orig := r.MustRegisterOriginator("core", true)
	out := make(map[string]uint16, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("type.%03d", i)
		var id uint16
		if i%2 == 0 {
			id = MustRegister(r, orig, name, encodeCounter, decodeCounter).ID()
		} else {
			id = MustRegister(r, orig, name, encodeLabel, decodeLabel).ID()
		}
		out[name] = id
	}
	return out
}

func TestIDStabilityAcrossRegistries(t *testing.T) {
	testlog.Start(t)
	a := registerSequence(t, New(), 40)
	b := registerSequence(t, New(), 40)
	require.Equal(t, a, b)
	assert.Equal(t, uint16(0), a["type.000"])
	assert.Equal(t, uint16(39), a["type.039"])
}

func TestRegisterIsIdempotentByName(t *testing.T) {
	testlog.Start(t)
	r := New()
	orig := r.MustRegisterOriginator("core", true)
	first, err := Register(r, orig, "counter", encodeCounter, decodeCounter)
	require.NoError(t, err)
	again, err := Register(r, orig, "counter", encodeCounter, decodeCounter)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID())
	assert.Equal(t, 1, r.TypeCount())

	_, err = Register(r, orig, "counter", encodeLabel, decodeLabel)
	assert.ErrorIs(t, err, protocol.ErrTypeConflict)

	again2, err := r.RegisterOriginator("core", true)
	require.NoError(t, err)
	assert.Equal(t, orig, again2)
	_, err = r.RegisterOriginator("core", false)
	assert.ErrorIs(t, err, protocol.ErrTypeConflict)
}

func TestWidthThreshold(t *testing.T) {
	testlog.Start(t)
	r := New()
	registerSequence(t, r, 255)
	require.Equal(t, protocol.Widths{Originator: 1, Type: 1}, r.Widths())

	orig := OriginatorID(0)
	MustRegister(r, orig, "type.255", encodeCounter, decodeCounter)
	require.Equal(t, 256, r.TypeCount())
	assert.Equal(t, 2, r.Widths().Type)
	assert.Equal(t, 1, r.Widths().Originator)

	// previously registered ids now encode on two bytes
	env := protocol.Envelope{Type: 3, Body: []byte{0, 0, 0, 1}}
	buf, err := protocol.EncodeEnvelope(env, r.Widths(), protocol.LegRequest)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x03, 0x00}, buf[:4])
}

func TestFreezeRejectsNewNames(t *testing.T) {
	testlog.Start(t)
	r := New()
	orig := r.MustRegisterOriginator("core", true)
	MustRegister(r, orig, "counter", encodeCounter, decodeCounter)
	r.Freeze()
	require.True(t, r.Frozen())

	_, err := Register(r, orig, "label", encodeLabel, decodeLabel)
	assert.ErrorIs(t, err, protocol.ErrRegistryFrozen)
	assert.ErrorIs(t, err, protocol.ErrConfiguration)

	_, err = r.RegisterOriginator("late", false)
	assert.ErrorIs(t, err, protocol.ErrRegistryFrozen)

	same, err := Register(r, orig, "counter", encodeCounter, decodeCounter)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), same.ID())

	r.Reset()
	assert.False(t, r.Frozen())
	assert.Equal(t, 0, r.TypeCount())
	assert.Equal(t, 0, r.OriginatorCount())
}

func TestRegisterValidatesInput(t *testing.T) {
	testlog.Start(t)
	r := New()
	_, err := Register(r, 0, "counter", encodeCounter, decodeCounter)
	assert.ErrorIs(t, err, protocol.ErrNoOriginator)

	orig := r.MustRegisterOriginator("core", true)
	_, err = Register[counter](r, orig, " ", encodeCounter, decodeCounter)
	assert.ErrorIs(t, err, protocol.ErrInvalidContract)
	_, err = Register[counter](r, orig, "counter", nil, decodeCounter)
	assert.ErrorIs(t, err, protocol.ErrInvalidContract)

	assert.Panics(t, func() { r.MustRegisterOriginator("", true) })
}

func TestEntryDecodeEnforcesExactConsumption(t *testing.T) {
	testlog.Start(t)
	r := New()
	orig := r.MustRegisterOriginator("core", true)
	typ := MustRegister(r, orig, "counter", encodeCounter, decodeCounter)

	entry, ok := r.Resolve(typ.ID())
	require.True(t, ok)
	assert.Equal(t, "counter", entry.Name)

	msg, err := entry.Decode(typ.Encode(counter{N: 77}), protocol.SenderInfo{})
	require.NoError(t, err)
	assert.Equal(t, counter{N: 77}, msg)

	_, err = entry.Decode(append(typ.Encode(counter{N: 1}), 0xff), protocol.SenderInfo{})
	assert.ErrorIs(t, err, protocol.ErrPayloadMismatch)
	_, err = entry.Decode([]byte{0x01}, protocol.SenderInfo{})
	assert.ErrorIs(t, err, protocol.ErrPayloadMismatch)

	_, ok = r.Resolve(5)
	assert.False(t, ok)
	_, ok = r.Lookup("counter")
	assert.True(t, ok)
}

func TestLookupsAreSafeDuringRegistration(t *testing.T) {
	testlog.Start(t)
	r := New()
	orig := r.MustRegisterOriginator("core", true)
	MustRegister(r, orig, "counter", encodeCounter, decodeCounter)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, ok := r.Resolve(0); !ok {
					t.Error("type 0 must stay resolvable")
					return
				}
				_ = r.Widths()
			}
		}()
	}
	for i := 0; i < 300; i++ {
		MustRegister(r, orig, fmt.Sprintf("extra.%d", i), encodeLabel, decodeLabel)
	}
	close(stop)
	wg.Wait()
	assert.Len(t, r.Entries(), 301)
	assert.Len(t, r.Originators(), 1)
}
