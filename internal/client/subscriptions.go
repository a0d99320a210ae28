package client

import (
	"sync"

	"github.com/aranyaone/relay/internal/protocol"
)

// Handler processes one envelope delivered to a subscriber.
type Handler func(env protocol.Envelope)

// subscriptions is the typed dispatch table: message type -> handlers. It
// replaces ad hoc event-emitter callbacks with explicit add/remove semantics,
// so listeners cannot accumulate unbounded.
type subscriptions struct {
	mu     sync.RWMutex
	nextID int
	table  map[protocol.MessageType]map[int]Handler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		table: make(map[protocol.MessageType]map[int]Handler),
	}
}

// add registers a handler and returns a remove function. Multiple handlers
// per type are supported.
func (s *subscriptions) add(msgType protocol.MessageType, handler Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table[msgType] == nil {
		s.table[msgType] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.table[msgType][id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if handlers, ok := s.table[msgType]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(s.table, msgType)
			}
		}
	}
}

// dispatch invokes every handler registered for the envelope's type.
func (s *subscriptions) dispatch(env protocol.Envelope) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.table[env.Type]))
	for _, h := range s.table[env.Type] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}
