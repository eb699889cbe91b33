package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockethub/dispatcher/internal/protocol"
)

func TestEgress_ForwardsPayloadVerbatim(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	// The pump does not inspect payloads; anything on the channel goes to
	// the client byte for byte.
	payload := "not even json {{{"
	channel := protocol.OutgoingChannel("testhub", c.SessionID())
	require.NoError(t, env.q.Push(context.Background(), channel, payload))

	assert.Equal(t, payload, fc.nextText(t))
}

func TestEgress_PreservesQueueOrder(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	channel := protocol.OutgoingChannel("testhub", c.SessionID())
	for _, payload := range []string{"first", "second", "third"} {
		require.NoError(t, env.q.Push(context.Background(), channel, payload))
	}

	assert.Equal(t, "first", fc.nextText(t))
	assert.Equal(t, "second", fc.nextText(t))
	assert.Equal(t, "third", fc.nextText(t))
}

func TestEgress_SentinelEndsPumpSilently(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	channel := protocol.OutgoingChannel("testhub", c.SessionID())
	require.NoError(t, env.q.Push(context.Background(), channel, protocol.DisconnectSentinel))

	// The sentinel itself is never written to the client, and the pump is
	// gone: later payloads sit on the queue unforwarded.
	fc.expectNoFrame(t, 50*time.Millisecond)
	require.NoError(t, env.q.Push(context.Background(), channel, "after-sentinel"))
	fc.expectNoFrame(t, 50*time.Millisecond)
	assert.Equal(t, 1, env.q.Len(channel))
}
