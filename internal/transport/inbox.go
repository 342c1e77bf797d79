package transport

import (
	"context"
	"sync"
)

// EventKind classifies inbox events.
type EventKind uint8

const (
	EventFrame EventKind = iota
	EventConnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one inbound transport occurrence.
type Event struct {
	Kind EventKind
	Peer PeerID
	Data []byte
}

// Inbox is an unbounded FIFO filled by transport goroutines and drained by the
// session poll step. Push never blocks, so a poll thread that sends while
// draining cannot deadlock against its own inbox.
type Inbox struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

func (b *Inbox) Push(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, ev)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued event.
func (b *Inbox) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = nil
	return out
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Wait blocks until an event may be available or ctx is done.
func (b *Inbox) Wait(ctx context.Context) error {
	if b.Len() > 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.notify:
		return nil
	}
}

func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
