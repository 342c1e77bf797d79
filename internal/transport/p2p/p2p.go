// Package p2p carries the star transport over libp2p streams. The server is a
// libp2p host listening on ProtocolID; clients dial its /p2p multiaddr.
package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgewire/internal/transport"
)

const ProtocolID = protocol.ID("/edgewire/1.0.0")

// Server is a libp2p host that feeds every inbound ProtocolID stream into a
// transport.StreamServer.
type Server struct {
	*transport.StreamServer

	host   host.Host
	cancel context.CancelFunc
}

// Listen starts a host on listenAddr, e.g. /ip4/0.0.0.0/tcp/9400.
func Listen(ctx context.Context, listenAddr, name string, maxUnit int) (*Server, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("p2p: generate key pair: %w", err)
	}
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Server{
		StreamServer: transport.NewStreamServer(name, maxUnit),
		host:         h,
		cancel:       cancel,
	}
	h.SetStreamHandler(ProtocolID, func(st network.Stream) {
		remote := st.Conn().RemotePeer().String()
		if err := s.StreamServer.Serve(sctx, st, remote); err != nil {
			log.Debug().Str("component", "transport.p2p").Str("remote", remote).Err(err).Msg("p2p stream closed")
		}
	})
	for _, a := range s.Addrs() {
		log.Info().Str("component", "transport.p2p").Str("addr", a).Msg("p2p.Listen listening")
	}
	return s, nil
}

// Addrs lists dialable /p2p multiaddrs for this host.
func (s *Server) Addrs() []string {
	info := peer.AddrInfo{ID: s.host.ID(), Addrs: s.host.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(maddrs))
	for _, m := range maddrs {
		out = append(out, m.String())
	}
	return out
}

func (s *Server) Close() error {
	s.cancel()
	s.host.RemoveStreamHandler(ProtocolID)
	_ = s.StreamServer.Close()
	return s.host.Close()
}

// Client wraps the stream client together with the host that owns the stream.
type Client struct {
	*transport.StreamClient

	host host.Host
}

// Dial connects to the server multiaddr, which must carry a /p2p component.
func Dial(ctx context.Context, serverAddr string, cfg transport.ClientConfig) (*Client, error) {
	maddr, err := multiaddr.NewMultiaddr(strings.TrimSpace(serverAddr))
	if err != nil {
		return nil, fmt.Errorf("p2p: invalid server address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: parse peer info: %w", err)
	}
	h, err := libp2p.New(libp2p.NoListenAddrs)
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := h.Connect(ctx, *info); err != nil {
			return nil, err
		}
		return h.NewStream(ctx, info.ID, ProtocolID)
	}
	sc, err := transport.Connect(ctx, dial, cfg)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	sc.Start(ctx)
	return &Client{StreamClient: sc, host: h}, nil
}

func (c *Client) Close() error {
	_ = c.StreamClient.Close()
	return c.host.Close()
}
