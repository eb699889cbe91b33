// Package dispatcher implements the request/response multiplexer at the core
// of the message bus: per-connection ingress validation and dispatch, the
// per-session egress pump, and the platform liveness protocol.
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/config"
	"github.com/sockethub/dispatcher/internal/queue"
	"github.com/sockethub/dispatcher/internal/registry"
	"github.com/sockethub/dispatcher/internal/session"
)

// destroyGrace is how long a closed connection's session lingers so
// in-flight responses can drain.
const destroyGrace = 5 * time.Second

// SessionStore is the session-manager collaborator contract.
type SessionStore interface {
	Get(ctx context.Context, id int64) (*session.Session, error)
	Destroy(id int64)
	Subsystem() *session.Bus
	Shutdown()
}

// Dispatcher multiplexes verb requests between client connections, local
// verb handlers, and out-of-process platform listeners on the shared queue.
type Dispatcher struct {
	log         zerolog.Logger
	reg         *registry.Registry
	q           queue.Queue
	sessions    SessionStore
	sockethubID string

	// Allow-list of loaded platforms; dispatcher is implicitly allowed.
	loaded      map[string]bool
	myPlatforms []string

	intervalTime  time.Duration
	intervalCount int

	encKey string

	ctx    context.Context
	cancel context.CancelFunc

	inShutdown atomic.Bool
	sessionSeq atomic.Int64

	// Overridable in tests.
	destroyGrace time.Duration
}

// New creates a dispatcher. The dispatcher platform with its local register
// and ping verbs is added to the registry if not already present.
func New(ctx context.Context, cfg *config.Config, reg *registry.Registry, q queue.Queue, sessions SessionStore, log zerolog.Logger) (*Dispatcher, error) {
	ctx, cancel := context.WithCancel(ctx)

	loaded := make(map[string]bool, len(cfg.Platforms))
	for _, name := range cfg.Platforms {
		loaded[name] = true
	}

	d := &Dispatcher{
		log:           log.With().Str("component", "dispatcher").Logger(),
		reg:           reg,
		q:             q,
		sessions:      sessions,
		sockethubID:   cfg.SockethubID,
		loaded:        loaded,
		myPlatforms:   cfg.Platforms,
		intervalTime:  cfg.ListenerIntervalTime,
		intervalCount: cfg.ListenerIntervalCount,
		ctx:           ctx,
		cancel:        cancel,
		destroyGrace:  destroyGrace,
	}

	if err := d.ensureDispatcherPlatform(); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

// ensureDispatcherPlatform registers the built-in local platform.
func (d *Dispatcher) ensureDispatcherPlatform() error {
	if _, ok := d.reg.Platform("dispatcher"); ok {
		return nil
	}
	p, err := d.reg.Add("dispatcher", true)
	if err != nil {
		return err
	}
	if err := p.AddVerb("register", map[string]any{"type": "object"}, registerHandler); err != nil {
		return err
	}
	return p.AddVerb("ping", nil, pingHandler)
}

// registerHandler flips the session's registration gate. Registration is an
// opaque verb; credentials in the object are stored on the session for
// platform listeners to pick up.
func registerHandler(req map[string]any, sess registry.Session, respond registry.ResponseFunc) {
	if object, ok := req["object"].(map[string]any); ok {
		sess.Set("register", object)
	}
	sess.SetRegistered(true)
	respond(nil, req["object"])
}

// pingHandler answers a client-facing dispatcher ping.
func pingHandler(req map[string]any, sess registry.Session, respond registry.ResponseFunc) {
	respond(nil, map[string]any{"timestamp": time.Now().UnixMilli()})
}

// nextSessionID derives a session id from wall-clock millis mixed with a
// strictly monotonic process-wide counter, so two connections in the same
// millisecond cannot collide.
func (d *Dispatcher) nextSessionID() int64 {
	seq := d.sessionSeq.Add(1)
	return time.Now().UnixMilli()<<16 | (seq & 0xffff)
}

// InShutdown reports whether Shutdown has been called.
func (d *Dispatcher) InShutdown() bool {
	return d.inShutdown.Load()
}

// Shutdown stops accepting inbound messages, aborts any outstanding liveness
// retries, and tears down the session manager's subsystem bindings. Open
// connections are not force-closed; their sessions drain and are destroyed
// through the normal close path.
func (d *Dispatcher) Shutdown() {
	if d.inShutdown.Swap(true) {
		return
	}
	d.log.Info().Msg("dispatcher shutting down")
	d.cancel()
	d.sessions.Shutdown()
}
