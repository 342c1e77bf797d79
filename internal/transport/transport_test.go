package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

func TestTargetResolve(t *testing.T) {
	testlog.Start(t)
	peers := []PeerID{3, 1, 2}

	got, err := Broadcast().Resolve(peers)
	require.NoError(t, err)
	assert.Equal(t, []PeerID{1, 2, 3}, got)

	got, err = AllExcept(2).Resolve(peers)
	require.NoError(t, err)
	assert.Equal(t, []PeerID{1, 3}, got)

	got, err = ToPeer(3).Resolve(peers)
	require.NoError(t, err)
	assert.Equal(t, []PeerID{3}, got)

	_, err = ToPeer(9).Resolve(peers)
	assert.ErrorIs(t, err, ErrUnreachable)

	assert.Equal(t, "all_except(2)", AllExcept(2).String())
	assert.Equal(t, "broadcast", Broadcast().String())
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	in := Hello{Name: "client-a", Version: ProtocolVersion, MaxUnit: 1200}
	if err := WriteHello(&buf, in); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	got, err := ReadHello(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if got != in {
		t.Fatalf("hello mismatch got=%+v want=%+v", got, in)
	}

	if err := WriteHello(&buf, Hello{Version: ProtocolVersion, MaxUnit: 1}); !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
	ack := HelloAck{Status: AckStatusAccepted, PeerID: 0, TimestampMS: 1}
	if err := WriteHelloAck(&buf, ack); !errors.Is(err, ErrInvalidHelloAck) {
		t.Fatalf("server id must not be assigned to a client, got %v", err)
	}
}

func TestFrameRoundTripAndLimit(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc"), 8))
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, buf.Bytes())

	got, err := ReadFrame(&buf, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, 9), 8), ErrFrameTooLarge)
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 1, 0}), 8)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = ReadFrame(bytes.NewReader(nil), 8)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInboxDrainAndWait(t *testing.T) {
	testlog.Start(t)
	in := NewInbox()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, in.Wait(ctx), context.DeadlineExceeded)

	assert.True(t, in.Push(Event{Kind: EventFrame, Peer: 1, Data: []byte{1}}))
	assert.True(t, in.Push(Event{Kind: EventDisconnected, Peer: 1}))
	require.NoError(t, in.Wait(context.Background()))
	events := in.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, EventFrame, events[0].Kind)
	assert.Equal(t, "disconnected", events[1].Kind.String())
	assert.Nil(t, in.Drain())

	in.Close()
	assert.False(t, in.Push(Event{}))
}

func TestStreamServerHandshakeAssignsPeerIDs(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewStreamServer("server", 256)
	defer srv.Close()

	connect := func(name string) *StreamClient {
		serverSide, clientSide := net.Pipe()
		go func() { _ = srv.Serve(ctx, serverSide, name) }()
		c, err := Handshake(clientSide, Hello{Name: name, Version: ProtocolVersion, MaxUnit: 512})
		require.NoError(t, err)
		c.Start(ctx)
		return c
	}
	a := connect("a")
	b := connect("b")
	assert.Equal(t, PeerID(1), a.LocalPeer())
	assert.Equal(t, PeerID(2), b.LocalPeer())
	assert.Equal(t, 256, a.MaxUnit(), "client adopts the smaller unit")
	require.Eventually(t, func() bool { return len(srv.Peers()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Send([]byte("from-a"), Broadcast()))
	require.Eventually(t, func() bool { return srv.Inbox().Len() >= 3 }, time.Second, 5*time.Millisecond)
	var frames []Event
	for _, ev := range srv.Inbox().Drain() {
		if ev.Kind == EventFrame {
			frames = append(frames, ev)
		}
	}
	require.Len(t, frames, 1)
	assert.Equal(t, PeerID(1), frames[0].Peer)
	assert.Equal(t, []byte("from-a"), frames[0].Data)

	require.NoError(t, srv.Send([]byte("to-b"), ToPeer(2)))
	require.Eventually(t, func() bool { return b.Inbox().Len() == 1 }, time.Second, 5*time.Millisecond)
	ev := b.Inbox().Drain()[0]
	assert.Equal(t, ServerPeer, ev.Peer)
	assert.Equal(t, []byte("to-b"), ev.Data)
	assert.Equal(t, 0, a.Inbox().Len())

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return len(srv.Peers()) == 1 }, time.Second, 5*time.Millisecond)
	<-a.Done()
}

func TestStreamServerHonorsSmallerClientUnit(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewStreamServer("server", 1024)
	defer srv.Close()

	serverSide, clientSide := net.Pipe()
	go func() { _ = srv.Serve(ctx, serverSide, "small") }()
	c, err := Handshake(clientSide, Hello{Name: "small", Version: ProtocolVersion, MaxUnit: 64})
	require.NoError(t, err)
	c.Start(ctx)
	require.Eventually(t, func() bool { return len(srv.Peers()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 64, c.MaxUnit())
	assert.Equal(t, 64, srv.MaxUnit(), "server unit shrinks to fit the smallest client")

	err = srv.Send(make([]byte, 200), ToPeer(c.LocalPeer()))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, []PeerID{c.LocalPeer()}, srv.Peers(), "an oversized frame must not drop the client")

	require.NoError(t, srv.Send(bytes.Repeat([]byte{7}, 64), ToPeer(c.LocalPeer())))
	require.Eventually(t, func() bool { return c.Inbox().Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.Inbox().Drain()[0].Data, 64)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return len(srv.Peers()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1024, srv.MaxUnit())
}

func TestHelloRejectsUnitBelowMinimum(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHello(&buf, Hello{Name: "c", Version: ProtocolVersion, MaxUnit: MinUnit - 1})
	assert.ErrorIs(t, err, ErrInvalidHello)
}

func TestStreamServerRejectsVersionMismatch(t *testing.T) {
	testlog.Start(t)
	srv := NewStreamServer("server", 256)
	defer srv.Close()
	serverSide, clientSide := net.Pipe()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background(), serverSide, "old") }()

	_, err := Handshake(clientSide, Hello{Name: "old", Version: "edgewire/0", MaxUnit: 64})
	assert.ErrorIs(t, err, ErrHelloRejected)
	assert.ErrorIs(t, <-errCh, ErrInvalidHello)
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	attempts := 0
	dial := func(context.Context) (io.ReadWriteCloser, error) {
		attempts++
		return nil, errors.New("refused")
	}
	_, err := Connect(context.Background(), dial, ClientConfig{
		Name:               "c",
		MaxUnit:            64,
		MaxConnectAttempts: 3,
		Backoff:            BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1},
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
