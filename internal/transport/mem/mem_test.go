package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/danmuck/edgewire/internal/transport"
)

func TestHubStarRouting(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(32)
	srv := hub.Server()
	a, err := hub.Client()
	require.NoError(t, err)
	b, err := hub.Client()
	require.NoError(t, err)

	assert.Equal(t, transport.PeerID(1), a.LocalPeer())
	assert.Equal(t, transport.PeerID(2), b.LocalPeer())
	assert.Equal(t, []transport.PeerID{1, 2}, srv.Peers())
	assert.Equal(t, []transport.PeerID{transport.ServerPeer}, a.Peers())

	connected := srv.Inbox().Drain()
	require.Len(t, connected, 2)
	assert.Equal(t, transport.EventConnected, connected[0].Kind)

	assert.ErrorIs(t, a.Send([]byte("x"), transport.ToPeer(2)), transport.ErrUnreachable, "clients cannot address each other")

	frame := []byte("hello")
	require.NoError(t, a.Send(frame, transport.Broadcast()))
	frame[0] = 'j'
	got := srv.Inbox().Drain()
	require.Len(t, got, 1)
	assert.Equal(t, transport.PeerID(1), got[0].Peer)
	assert.Equal(t, []byte("hello"), got[0].Data, "frames are copied on send")

	require.NoError(t, srv.Send([]byte("all"), transport.AllExcept(1)))
	assert.Equal(t, 0, a.Inbox().Len())
	assert.Equal(t, 1, b.Inbox().Len())
	assert.Equal(t, 1, srv.Sent())

	assert.ErrorIs(t, srv.Send(make([]byte, 33), transport.Broadcast()), transport.ErrFrameTooLarge)
}

func TestHubCloseNotifiesServerAndReusesID(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(32)
	a, err := hub.Client()
	require.NoError(t, err)
	srv := hub.Server()
	srv.Inbox().Drain()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	events := srv.Inbox().Drain()
	require.Len(t, events, 1)
	assert.Equal(t, transport.EventDisconnected, events[0].Kind)
	assert.ErrorIs(t, a.Send([]byte("x"), transport.Broadcast()), transport.ErrClosed)

	again, err := hub.Client()
	require.NoError(t, err)
	assert.Equal(t, transport.PeerID(1), again.LocalPeer())
}
