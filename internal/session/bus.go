// Package session provides per-connection session state and the subsystem
// event bus the dispatcher and platform listeners use for side-band control
// (ping, ping-response, cleanup).
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/protocol"
	"github.com/sockethub/dispatcher/internal/queue"
)

// Handler receives subsystem events.
type Handler func(event *protocol.SubsystemEvent)

// Bus is the subsystem event bus. Events are relayed over the queue's
// pub/sub channel so out-of-process listeners participate; the dispatcher's
// own broadcasts loop back through the subscription, so every event is
// dispatched to local handlers exactly once.
type Bus struct {
	log     zerolog.Logger
	q       queue.Queue
	channel string

	mu       sync.RWMutex
	handlers map[string][]Handler

	cancelRelay func()
}

func newBus(ctx context.Context, q queue.Queue, sockethubID string, log zerolog.Logger) (*Bus, error) {
	b := &Bus{
		log:      log.With().Str("component", "subsystem").Logger(),
		q:        q,
		channel:  protocol.SubsystemChannel(sockethubID),
		handlers: make(map[string][]Handler),
	}

	events, cancel, err := q.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, err
	}
	b.cancelRelay = cancel

	go b.relay(events)
	return b, nil
}

func (b *Bus) relay(events <-chan string) {
	for payload := range events {
		var event protocol.SubsystemEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.log.Warn().Err(err).Msg("invalid subsystem event")
			continue
		}
		b.dispatch(&event)
	}
}

func (b *Bus) dispatch(event *protocol.SubsystemEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Verb]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// On registers a handler for an event verb.
func (b *Bus) On(verb string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[verb] = append(b.handlers[verb], handler)
}

// Send broadcasts an event to every subscriber on the bus, local handlers
// included.
func (b *Bus) Send(ctx context.Context, verb string, actor protocol.Entity, object any) error {
	event, err := protocol.NewSubsystemEvent(verb, actor, object)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.q.Publish(ctx, b.channel, string(data))
}

// Close drops all handlers and stops the relay.
func (b *Bus) Close() {
	b.mu.Lock()
	b.handlers = make(map[string][]Handler)
	b.mu.Unlock()
	b.cancelRelay()
}
