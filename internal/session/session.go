package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/queue"
)

// Session is the per-connection state handle. Frames sent through it travel
// over the session's outgoing queue channel, so the egress pump delivers
// every frame for a connection in the order it was sent.
type Session struct {
	id       int64
	outgoing string
	q        queue.Queue
	log      zerolog.Logger
	ctx      context.Context

	registered atomic.Bool

	mu     sync.RWMutex
	values map[string]any
}

// SessionID returns the session's id.
func (s *Session) SessionID() int64 {
	return s.id
}

// IsRegistered reports whether the session has completed registration.
func (s *Session) IsRegistered() bool {
	return s.registered.Load()
}

// SetRegistered flips the registration gate. Before registration only the
// register verb is accepted at ingress.
func (s *Session) SetRegistered(registered bool) {
	s.registered.Store(registered)
}

// Send marshals the frame and pushes it onto the session's outgoing channel.
func (s *Session) Send(frame *protocol.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	return s.q.Push(s.ctx, s.outgoing, string(data))
}

// Set stores a key-value pair on the session.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Value returns a stored value.
func (s *Session) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}
