package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/danmuck/edgewire/internal/transport"
)

func TestLoopbackStream(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv, err := Listen(ctx, "/ip4/127.0.0.1/tcp/0", "server", 2048)
	require.NoError(t, err)
	defer srv.Close()
	addrs := srv.Addrs()
	require.NotEmpty(t, addrs)

	client, err := Dial(ctx, addrs[0], transport.ClientConfig{Name: "client-a", MaxUnit: 2048, MaxConnectAttempts: 3})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, transport.PeerID(1), client.LocalPeer())

	require.NoError(t, client.Send([]byte("over-libp2p"), transport.Broadcast()))
	var got []byte
	require.Eventually(t, func() bool {
		for _, ev := range srv.Inbox().Drain() {
			if ev.Kind == transport.EventFrame {
				got = ev.Data
			}
		}
		return got != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("over-libp2p"), got)
}

func TestDialRejectsAddressWithoutPeerID(t *testing.T) {
	testlog.Start(t)
	_, err := Dial(context.Background(), "/ip4/127.0.0.1/tcp/9400", transport.ClientConfig{Name: "c", MaxUnit: 64})
	require.Error(t, err)
}
