package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const frameLenSize = 4

// WriteFrame writes [len u32][frame] to w.
func WriteFrame(w io.Writer, frame []byte, maxUnit int) error {
	if len(frame) > maxUnit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), maxUnit)
	}
	buf := make([]byte, frameLenSize+len(frame))
	binary.BigEndian.PutUint32(buf[0:frameLenSize], uint32(len(frame)))
	copy(buf[frameLenSize:], frame)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader, maxUnit int) ([]byte, error) {
	var head [frameLenSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(head[:])
	if uint64(n) > uint64(maxUnit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxUnit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type streamConn struct {
	peer   PeerID
	remote string
	rw     io.ReadWriteCloser
	br     *bufio.Reader
	unit   int // agreed during the handshake
	wmu    sync.Mutex
}

func (c *streamConn) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rw, frame, c.unit)
}

// StreamServer is the server side of a star over framed byte streams. Stream
// producers (tcp, libp2p) hand every accepted stream to Serve.
//
// Each client gets the smaller of its announced unit and the server's own.
// MaxUnit reports the smallest unit across connected clients so a message
// fragmented once fits every recipient.
type StreamServer struct {
	mu      sync.RWMutex
	name    string
	maxUnit int
	conns   map[PeerID]*streamConn
	inbox   *Inbox
	closed  bool
	log     zerolog.Logger
}

func NewStreamServer(name string, maxUnit int) *StreamServer {
	return &StreamServer{
		name:    name,
		maxUnit: maxUnit,
		conns:   make(map[PeerID]*streamConn),
		inbox:   NewInbox(),
		log:     log.With().Str("component", "transport.server").Str("name", name).Logger(),
	}
}

func (s *StreamServer) LocalPeer() PeerID { return ServerPeer }
func (s *StreamServer) Inbox() *Inbox     { return s.inbox }

func (s *StreamServer) MaxUnit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit := s.maxUnit
	for _, c := range s.conns {
		unit = min(unit, c.unit)
	}
	return unit
}

func (s *StreamServer) Peers() []PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerID, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Remote returns the remote address recorded for peer.
func (s *StreamServer) Remote(peer PeerID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[peer]
	if !ok {
		return "", false
	}
	return c.remote, true
}

func (s *StreamServer) Send(frame []byte, to Target) error {
	if len(frame) > s.maxUnit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), s.maxUnit)
	}
	recipients, err := to.Resolve(s.Peers())
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range recipients {
		s.mu.RLock()
		c, ok := s.conns[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if len(frame) > c.unit {
			errs = append(errs, fmt.Errorf("peer %d: %w: %d > %d", id, ErrFrameTooLarge, len(frame), c.unit))
			continue
		}
		if err := c.write(frame); err != nil {
			s.log.Warn().Uint8("peer", id).Err(err).Msg("transport.Send write failed")
			errs = append(errs, fmt.Errorf("peer %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs the hello handshake on rw and pumps frames into the inbox until
// the stream fails or ctx is done.
func (s *StreamServer) Serve(ctx context.Context, rw io.ReadWriteCloser, remote string) error {
	defer rw.Close()
	br := bufio.NewReader(rw)
	hello, err := ReadHello(br)
	if err != nil {
		s.log.Warn().Str("remote", remote).Err(err).Msg("transport.Serve hello failed")
		return err
	}

	now := uint64(time.Now().UnixMilli())
	if strings.TrimSpace(hello.Version) != ProtocolVersion {
		_ = WriteHelloAck(rw, HelloAck{Status: AckStatusRejected, Message: "version mismatch", TimestampMS: now})
		return fmt.Errorf("%w: version %q", ErrInvalidHello, hello.Version)
	}

	conn := &streamConn{remote: remote, rw: rw, br: br, unit: min(hello.MaxUnit, s.maxUnit)}
	id, err := s.attach(conn)
	if err != nil {
		_ = WriteHelloAck(rw, HelloAck{Status: AckStatusRejected, Message: err.Error(), TimestampMS: now})
		return err
	}
	defer s.detach(id)

	err = WriteHelloAck(rw, HelloAck{
		Status:      AckStatusAccepted,
		PeerID:      id,
		Message:     "welcome " + hello.Name,
		MaxUnit:     conn.unit,
		TimestampMS: now,
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Uint8("peer", id).
		Str("remote", remote).
		Str("client", hello.Name).
		Int("max_unit", conn.unit).
		Msg("transport.Serve peer joined")
	s.inbox.Push(Event{Kind: EventConnected, Peer: id})

	stop := context.AfterFunc(ctx, func() { _ = rw.Close() })
	defer stop()
	for {
		frame, err := ReadFrame(br, conn.unit)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Uint8("peer", id).Err(err).Msg("transport.Serve read failed")
			return err
		}
		s.inbox.Push(Event{Kind: EventFrame, Peer: id, Data: frame})
	}
}

func (s *StreamServer) attach(c *streamConn) (PeerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	for id := minClientPeer; id <= maxClientPeer; id++ {
		if _, taken := s.conns[id]; !taken {
			c.peer = id
			s.conns[id] = c
			return id, nil
		}
	}
	return 0, ErrNoPeerIDs
}

func (s *StreamServer) detach(id PeerID) {
	s.mu.Lock()
	_, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		s.log.Info().Uint8("peer", id).Msg("transport.Serve peer left")
		s.inbox.Push(Event{Kind: EventDisconnected, Peer: id})
	}
}

func (s *StreamServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*streamConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.rw.Close()
	}
	return nil
}

// ClientConfig configures a stream client connect loop.
type ClientConfig struct {
	Name               string
	MaxUnit            int
	MaxConnectAttempts int
	HandshakeTimeout   time.Duration
	Backoff            BackoffConfig
}

// DialFunc opens one raw stream to the server.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamClient is the client side of a star: exactly one stream, to the server.
type StreamClient struct {
	conn    *streamConn
	local   PeerID
	maxUnit int
	inbox   *Inbox
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// Connect dials until the hello handshake succeeds, backing off between
// attempts. MaxConnectAttempts <= 0 retries until ctx is done.
func Connect(ctx context.Context, dial DialFunc, cfg ClientConfig) (*StreamClient, error) {
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		client, err := connectOnce(ctx, dial, cfg)
		if err == nil {
			return client, nil
		}
		log.Warn().
			Str("component", "transport.client").
			Int("attempt", attempt).
			Err(err).
			Msg("transport.Connect attempt failed")
		if errors.Is(err, ErrHelloRejected) {
			return nil, err
		}
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func connectOnce(ctx context.Context, dial DialFunc, cfg ClientConfig) (*StreamClient, error) {
	rw, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(hctx, func() { _ = rw.Close() })
	client, err := Handshake(rw, Hello{Name: cfg.Name, Version: ProtocolVersion, MaxUnit: cfg.MaxUnit})
	if !stop() {
		return nil, fmt.Errorf("transport: handshake aborted: %w", hctx.Err())
	}
	if err != nil {
		_ = rw.Close()
		return nil, err
	}
	return client, nil
}

// Handshake performs the client half of the hello exchange on rw.
func Handshake(rw io.ReadWriteCloser, hello Hello) (*StreamClient, error) {
	if err := WriteHello(rw, hello); err != nil {
		return nil, err
	}
	br := bufio.NewReader(rw)
	ack, err := ReadHelloAck(br)
	if err != nil {
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		return nil, fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	maxUnit := hello.MaxUnit
	if ack.MaxUnit > 0 && ack.MaxUnit < maxUnit {
		maxUnit = ack.MaxUnit
	}
	c := &StreamClient{
		conn:    &streamConn{peer: ServerPeer, rw: rw, br: br, unit: maxUnit},
		local:   ack.PeerID,
		maxUnit: maxUnit,
		inbox:   NewInbox(),
		done:    make(chan struct{}),
		log: log.With().
			Str("component", "transport.client").
			Uint8("local_peer", ack.PeerID).
			Logger(),
	}
	c.log.Info().Str("message", ack.Message).Int("max_unit", maxUnit).Msg("transport.Handshake accepted")
	return c, nil
}

// Start pumps server frames into the inbox until the stream fails or ctx is done.
func (c *StreamClient) Start(ctx context.Context) {
	go func() {
		defer c.finish()
		stop := context.AfterFunc(ctx, func() { _ = c.conn.rw.Close() })
		defer stop()
		for {
			frame, err := ReadFrame(c.conn.br, c.maxUnit)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					c.log.Warn().Err(err).Msg("transport.StreamClient read failed")
				}
				return
			}
			c.inbox.Push(Event{Kind: EventFrame, Peer: ServerPeer, Data: frame})
		}
	}()
}

func (c *StreamClient) finish() {
	c.once.Do(func() {
		close(c.done)
		c.inbox.Push(Event{Kind: EventDisconnected, Peer: ServerPeer})
	})
}

// Done is closed once the server stream ends.
func (c *StreamClient) Done() <-chan struct{} { return c.done }

func (c *StreamClient) LocalPeer() PeerID { return c.local }
func (c *StreamClient) MaxUnit() int      { return c.maxUnit }
func (c *StreamClient) Inbox() *Inbox     { return c.inbox }
func (c *StreamClient) Peers() []PeerID   { return []PeerID{ServerPeer} }

func (c *StreamClient) Send(frame []byte, to Target) error {
	recipients, err := to.Resolve(c.Peers())
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	return c.conn.write(frame)
}

func (c *StreamClient) Close() error {
	return c.conn.rw.Close()
}
