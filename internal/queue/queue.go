// Package queue abstracts the shared queue the dispatcher and the platform
// listeners communicate through: per-channel FIFO lists with a blocking
// consumer, plus a pub/sub side-band for subsystem control events.
package queue

import "context"

// Queue is implemented by the Redis client and by the in-memory queue used
// in tests and single-process deployments.
type Queue interface {
	// Push appends a payload to a channel's FIFO list.
	Push(ctx context.Context, channel, payload string) error

	// BlockingPop removes and returns the oldest payload on the channel,
	// blocking until one is available or the context is cancelled. Channels
	// have at most one blocking consumer.
	BlockingPop(ctx context.Context, channel string) (string, error)

	// Publish broadcasts a payload to every subscriber of the channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe returns a stream of payloads published to the channel and a
	// cancel function that releases the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)
}
