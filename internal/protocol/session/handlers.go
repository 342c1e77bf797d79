package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/registry"
)

// Handler receives one decoded message. Set *handled to true to mark the
// message consumed; every handler runs regardless.
type Handler[T any] func(msg T, sender protocol.SenderInfo, handled *bool)

// Subscription identifies one Subscribe call.
type Subscription struct {
	typeID uint16
	id     uint64
}

func (s Subscription) TypeID() uint16 { return s.typeID }

type handlerFunc func(msg any, sender protocol.SenderInfo, handled *bool)

type subscriber struct {
	id uint64
	fn handlerFunc
}

// handlerTable maps type id to an ordered subscriber list. Lists are replaced
// on write, so a reader can iterate its copy while handlers unsubscribe.
type handlerTable struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[uint16][]subscriber
}

func newHandlerTable() *handlerTable {
	return &handlerTable{byType: make(map[uint16][]subscriber)}
}

func (h *handlerTable) add(typeID uint16, fn handlerFunc) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	cur := h.byType[typeID]
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscriber{id: h.nextID, fn: fn})
	h.byType[typeID] = next
	return Subscription{typeID: typeID, id: h.nextID}
}

func (h *handlerTable) remove(sub Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.byType[sub.typeID]
	if !ok {
		return false
	}
	next := make([]subscriber, 0, len(cur))
	found := false
	for _, s := range cur {
		if s.id == sub.id {
			found = true
			continue
		}
		next = append(next, s)
	}
	h.byType[sub.typeID] = next
	return found
}

func (h *handlerTable) list(typeID uint16) []subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byType[typeID]
}

func (h *handlerTable) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byType = make(map[uint16][]subscriber)
}

// Subscribe appends h to the handlers of t. It panics if t did not come from
// registry.Register.
func Subscribe[T any](s *Session, t registry.Type[T], h Handler[T]) Subscription {
	if !t.Valid() || h == nil {
		panic(fmt.Errorf("%w: subscribe to %q", protocol.ErrNotRegistered, t.Name()))
	}
	sub := s.handlers.add(t.ID(), func(msg any, sender protocol.SenderInfo, handled *bool) {
		m, ok := msg.(T)
		if !ok {
			return
		}
		h(m, sender, handled)
	})
	s.log.Debug().Str("type", t.Name()).Uint16("type_id", t.ID()).Msg("session.Subscribe")
	return sub
}

// Unsubscribe removes exactly sub. It reports whether sub was still present.
func (s *Session) Unsubscribe(sub Subscription) bool {
	return s.handlers.remove(sub)
}

// HandlerCount returns the number of handlers subscribed to typeID.
func (s *Session) HandlerCount(typeID uint16) int {
	return len(s.handlers.list(typeID))
}
