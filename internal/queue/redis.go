package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// defaultPoolSize bounds the shared connection pool. Each session holds one
// connection in a blocking pop; producers share the rest.
const defaultPoolSize = 30

// Redis implements Queue on a Redis (or Valkey) instance.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the Redis instance at url (redis://...) and verifies
// it with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = defaultPoolSize
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Push appends the payload with RPUSH.
func (r *Redis) Push(ctx context.Context, channel, payload string) error {
	return r.rdb.RPush(ctx, channel, payload).Err()
}

// BlockingPop issues a BLPOP with no timeout; cancellation comes from the
// context.
func (r *Redis) BlockingPop(ctx context.Context, channel string) (string, error) {
	result, err := r.rdb.BLPop(ctx, 0, channel).Result()
	if err != nil {
		return "", err
	}
	// BLPOP returns [key, value].
	return result[1], nil
}

// Publish broadcasts on a pub/sub channel.
func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub subscription. The returned stream closes when the
// context is cancelled or the cancel function is called.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := r.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				out <- msg.Payload
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
