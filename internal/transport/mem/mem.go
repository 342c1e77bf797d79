// Package mem is an in-process star transport for tests and the solo runtime.
package mem

import (
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/edgewire/internal/transport"
)

// Hub owns one server endpoint and up to 254 client endpoints.
type Hub struct {
	mu      sync.RWMutex
	maxUnit int
	server  *Endpoint
	clients map[transport.PeerID]*Endpoint
}

func NewHub(maxUnit int) *Hub {
	h := &Hub{
		maxUnit: maxUnit,
		clients: make(map[transport.PeerID]*Endpoint),
	}
	h.server = &Endpoint{hub: h, local: transport.ServerPeer, inbox: transport.NewInbox()}
	return h
}

// Server returns the server endpoint.
func (h *Hub) Server() *Endpoint { return h.server }

// Client attaches a new client on the lowest free id.
func (h *Hub) Client() (*Endpoint, error) {
	h.mu.Lock()
	var id transport.PeerID
	found := false
	for c := transport.PeerID(1); c < transport.NoPeer; c++ {
		if _, taken := h.clients[c]; !taken {
			id, found = c, true
			break
		}
	}
	if !found {
		h.mu.Unlock()
		return nil, transport.ErrNoPeerIDs
	}
	ep := &Endpoint{hub: h, local: id, inbox: transport.NewInbox()}
	h.clients[id] = ep
	h.mu.Unlock()

	h.server.inbox.Push(transport.Event{Kind: transport.EventConnected, Peer: id})
	return ep, nil
}

func (h *Hub) detach(id transport.PeerID) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		h.server.inbox.Push(transport.Event{Kind: transport.EventDisconnected, Peer: id})
	}
}

func (h *Hub) clientIDs() []transport.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]transport.PeerID, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (h *Hub) endpoint(id transport.PeerID) *Endpoint {
	if id == transport.ServerPeer {
		return h.server
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// Endpoint is one side of the hub and implements transport.Transport.
type Endpoint struct {
	hub    *Hub
	local  transport.PeerID
	inbox  *transport.Inbox
	mu     sync.Mutex
	closed bool
	sent   int
}

func (e *Endpoint) LocalPeer() transport.PeerID { return e.local }
func (e *Endpoint) MaxUnit() int                { return e.hub.maxUnit }
func (e *Endpoint) Inbox() *transport.Inbox     { return e.inbox }

func (e *Endpoint) Peers() []transport.PeerID {
	if e.local == transport.ServerPeer {
		return e.hub.clientIDs()
	}
	return []transport.PeerID{transport.ServerPeer}
}

// Sent counts frames handed to Send, one per recipient.
func (e *Endpoint) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *Endpoint) Send(frame []byte, to transport.Target) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if len(frame) > e.hub.maxUnit {
		return fmt.Errorf("%w: %d > %d", transport.ErrFrameTooLarge, len(frame), e.hub.maxUnit)
	}
	recipients, err := to.Resolve(e.Peers())
	if err != nil {
		return err
	}
	for _, id := range recipients {
		dst := e.hub.endpoint(id)
		if dst == nil {
			continue
		}
		data := make([]byte, len(frame))
		copy(data, frame)
		dst.inbox.Push(transport.Event{Kind: transport.EventFrame, Peer: e.local, Data: data})
		e.mu.Lock()
		e.sent++
		e.mu.Unlock()
	}
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.inbox.Close()
	if e.local != transport.ServerPeer {
		e.hub.detach(e.local)
	}
	return nil
}
