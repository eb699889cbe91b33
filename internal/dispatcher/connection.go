package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/session"
)

// Conn is the transport side of a client connection. The websocket server
// implements it; tests drive the dispatcher with a fake.
type Conn interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
}

// Connection phases. Frames buffer until the session resolves, replay in
// arrival order, and then flow straight through the ingress pipeline.
type phase int

const (
	phaseBuffering phase = iota
	phaseActive
	phaseClosing
)

type inboundFrame struct {
	data   []byte
	binary bool
}

// Connection ties one transport connection to its session, pending-message
// buffer, and egress pump.
type Connection struct {
	d    *Dispatcher
	conn Conn
	log  zerolog.Logger
	sid  int64

	mu      sync.Mutex
	phase   phase
	pending []inboundFrame
	sess    *session.Session

	closeOnce sync.Once
}

// Connect admits a new transport connection: it allocates a session id,
// starts the egress pump, and resolves the session asynchronously while
// inbound frames buffer.
func (d *Dispatcher) Connect(conn Conn) *Connection {
	sid := d.nextSessionID()
	c := &Connection{
		d:    d,
		conn: conn,
		log:  d.log.With().Int64("sid", sid).Logger(),
		sid:  sid,
	}

	c.log.Debug().Msg("connection admitted")
	go d.runEgress(c)
	go c.resolveSession()
	return c
}

// SessionID returns the connection's session id.
func (c *Connection) SessionID() int64 {
	return c.sid
}

// resolveSession obtains the session handle and replays buffered frames in
// arrival order before the connection goes active. A resolution failure
// leaves the connection open but permanently buffering.
func (c *Connection) resolveSession() {
	sess, err := c.d.sessions.Get(c.d.ctx, c.sid)
	if err != nil {
		c.log.Error().Err(err).Msg("session resolution failed")
		return
	}

	c.mu.Lock()
	if c.phase == phaseClosing {
		c.mu.Unlock()
		return
	}
	c.sess = sess

	// Drain the buffer without holding the lock across frame processing;
	// frames arriving mid-replay keep appending and are drained in turn.
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, f := range batch {
			c.process(f)
		}
		c.mu.Lock()
		if c.phase == phaseClosing {
			c.mu.Unlock()
			return
		}
	}
	c.phase = phaseActive
	c.mu.Unlock()

	c.log.Debug().Msg("session resolved, connection active")
}

// HandleMessage feeds one inbound frame from the transport.
func (c *Connection) HandleMessage(data []byte, binary bool) {
	c.mu.Lock()
	switch c.phase {
	case phaseBuffering:
		buf := make([]byte, len(data))
		copy(buf, data)
		c.pending = append(c.pending, inboundFrame{data: buf, binary: binary})
		c.mu.Unlock()
	case phaseClosing:
		c.mu.Unlock()
		c.log.Debug().Msg("frame after close, dropping")
	default:
		c.mu.Unlock()
		c.process(inboundFrame{data: data, binary: binary})
	}
}

// Close tears the connection down: broadcast cleanup, unblock the egress
// pump with the disconnect sentinel, and destroy the session after a grace
// period so in-flight responses can drain. Cleanup failures are logged and
// swallowed.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.phase = phaseClosing
		c.pending = nil
		c.mu.Unlock()

		d := c.d
		err := d.sessions.Subsystem().Send(context.Background(), protocol.EventCleanup,
			protocol.Entity{Platform: "dispatcher"},
			protocol.CleanupObject{SIDs: []int64{c.sid}})
		if err != nil {
			c.log.Warn().Err(err).Msg("cleanup broadcast failed")
		}

		outgoing := protocol.OutgoingChannel(d.sockethubID, c.sid)
		if err := d.q.Push(context.Background(), outgoing, protocol.DisconnectSentinel); err != nil {
			c.log.Warn().Err(err).Msg("failed to push disconnect sentinel")
		}

		sid := c.sid
		go func() {
			timer := time.NewTimer(d.destroyGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-d.ctx.Done():
			}
			d.sessions.Destroy(sid)
		}()

		c.log.Debug().Msg("connection closed")
	})
}
