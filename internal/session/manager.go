package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/queue"
)

// Manager owns the session table and the subsystem event bus.
type Manager struct {
	log         zerolog.Logger
	q           queue.Queue
	sockethubID string
	bus         *Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager creates a manager and starts the subsystem bus relay.
func NewManager(ctx context.Context, q queue.Queue, sockethubID string, log zerolog.Logger) (*Manager, error) {
	ctx, cancel := context.WithCancel(ctx)

	bus, err := newBus(ctx, q, sockethubID, log)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Manager{
		log:         log.With().Str("component", "session").Logger(),
		q:           q,
		sockethubID: sockethubID,
		bus:         bus,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[int64]*Session),
	}, nil
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(ctx context.Context, id int64) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	s := &Session{
		id:       id,
		outgoing: protocol.OutgoingChannel(m.sockethubID, id),
		q:        m.q,
		log:      m.log.With().Int64("sid", id).Logger(),
		ctx:      m.ctx,
		values:   make(map[string]any),
	}
	m.sessions[id] = s
	m.log.Debug().Int64("sid", id).Msg("session created")
	return s, nil
}

// Destroy removes the session from the table.
func (m *Manager) Destroy(id int64) {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if existed {
		m.log.Debug().Int64("sid", id).Msg("session destroyed")
	}
}

// Subsystem returns the event bus.
func (m *Manager) Subsystem() *Bus {
	return m.bus
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown drops subsystem bindings, stops the relay, and cancels the
// context session sends run under, so sends fail fast once the dispatcher is
// going down. Sessions stay in the table until their connections' close path
// destroys them.
func (m *Manager) Shutdown() {
	m.bus.Close()
	m.cancel()
}
