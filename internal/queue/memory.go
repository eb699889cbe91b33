package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelFull is returned by Push when a channel's buffer is exhausted,
// which indicates a consumer has stopped draining it.
var ErrChannelFull = errors.New("queue: channel buffer full")

const memoryChannelBuffer = 1024

// Memory is an in-process Queue for tests and single-process deployments.
type Memory struct {
	mu          sync.Mutex
	lists       map[string]chan string
	subscribers map[string][]chan string
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		lists:       make(map[string]chan string),
		subscribers: make(map[string][]chan string),
	}
}

func (m *Memory) list(channel string) chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.lists[channel]
	if !ok {
		ch = make(chan string, memoryChannelBuffer)
		m.lists[channel] = ch
	}
	return ch
}

// Push appends to the channel's FIFO list.
func (m *Memory) Push(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.list(channel) <- payload:
		return nil
	default:
		return ErrChannelFull
	}
}

// BlockingPop waits for the oldest payload on the channel.
func (m *Memory) BlockingPop(ctx context.Context, channel string) (string, error) {
	select {
	case payload := <-m.list(channel):
		return payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Publish fans the payload out to current subscribers. Slow subscribers drop
// messages rather than block the publisher. Sends happen under the lock so an
// unsubscribe cannot close a channel between the snapshot and the send.
func (m *Memory) Publish(ctx context.Context, channel, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscribers[channel] {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber stream for the channel.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := make(chan string, 64)

	m.mu.Lock()
	m.subscribers[channel] = append(m.subscribers[channel], sub)
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// The close must share the removal's critical section: Publish
			// sends under the same lock, so it can never see a closed
			// channel that is still in the subscriber list.
			m.mu.Lock()
			subs := m.subscribers[channel]
			for i, s := range subs {
				if s == sub {
					m.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(sub)
			m.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub, cancel, nil
}

// Len reports the number of queued payloads on a channel.
func (m *Memory) Len(channel string) int {
	return len(m.list(channel))
}
