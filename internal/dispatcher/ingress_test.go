package dispatcher

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockethub/dispatcher/internal/protocol"
)

func TestIngress_ParseFailure(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`}{`), false)

	frame := fc.nextFrame(t)
	assert.Nil(t, frame["rid"])
	assert.Equal(t, "confirm", frame["verb"])
	assert.Equal(t, false, frame["status"])
	assert.Equal(t, "invalid JSON received", frame["message"])
	fc.expectNoFrame(t, 50*time.Millisecond)
}

func TestIngress_NoRID(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"platform":"xmpp","verb":"send"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "no rid (request ID) specified", frame["message"])
	assert.Equal(t, false, frame["status"])
}

func TestIngress_NoPlatform(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":"1","platform":7,"verb":"send"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "1", frame["rid"])
	assert.Equal(t, "no platform specified", frame["message"])
}

func TestIngress_NoVerb(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":"1","platform":"xmpp"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "no verb (action) specified", frame["message"])
	assert.Equal(t, "xmpp", frame["platform"])
}

func TestIngress_UnknownPlatform(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":"1","platform":"matrix","verb":"send"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "unknown platform received: matrix", frame["message"])
	assert.Equal(t, false, frame["status"])
	fc.expectNoFrame(t, 50*time.Millisecond)
}

func TestIngress_UnseenRemotePlatformRejected(t *testing.T) {
	// xmpp is registered and loaded but its listener never answered a ping;
	// it must be rejected regardless of how valid the request is.
	env := newTestEnv(t)
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"1","platform":"xmpp","verb":"send","object":{"content":"hi"}}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "unknown platform received: xmpp", frame["message"])
	assert.Equal(t, 0, env.q.Len(protocol.IncomingChannel("testhub", "xmpp")))
}

func TestIngress_PlatformNotLoaded(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("irc") // known and live, but outside the allow-list
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":"1","platform":"irc","verb":"send"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "platform 'irc' not loaded", frame["message"])
}

func TestIngress_UnknownVerb(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("xmpp")
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"1","platform":"xmpp","verb":"fly"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "unknown verb received: fly", frame["message"])
}

func TestIngress_SessionIDReserved(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("xmpp")
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"1","platform":"xmpp","verb":"send","sessionId":"123"}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "cannot use name sessionId, reserved property", frame["message"])
}

func TestIngress_UnregisteredSession(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("xmpp")
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":2,"platform":"xmpp","verb":"send","object":{}}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, float64(2), frame["rid"])
	assert.Equal(t, "session not registered, cannot process verb", frame["message"])
}

func TestIngress_RegisterFlow(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	c.HandleMessage([]byte(`{"rid":"a","platform":"dispatcher","verb":"register","object":{"secret":"s3"}}`), false)

	confirm := fc.nextFrame(t)
	assert.Equal(t, "a", confirm["rid"])
	assert.Equal(t, "confirm", confirm["verb"])
	assert.Equal(t, true, confirm["status"])

	msg := fc.nextFrame(t)
	assert.Equal(t, "a", msg["rid"])
	assert.Equal(t, "register", msg["verb"])
	assert.Equal(t, true, msg["status"])
	assert.Equal(t, map[string]any{"secret": "s3"}, msg["object"])

	s, err := env.sm.Get(context.Background(), c.SessionID())
	require.NoError(t, err)
	assert.True(t, s.IsRegistered())
}

func TestIngress_BatchMixedGoodBad(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	batch := `[
		{"rid":"a","platform":"dispatcher","verb":"register","object":{}},
		{"rid":"b","platform":"xmpp"}
	]`
	c.HandleMessage([]byte(batch), false)

	confirm := fc.nextFrame(t)
	assert.Equal(t, "a", confirm["rid"])
	assert.Equal(t, "confirm", confirm["verb"])
	assert.Equal(t, true, confirm["status"])

	msg := fc.nextFrame(t)
	assert.Equal(t, "a", msg["rid"])
	assert.Equal(t, true, msg["status"])

	bad := fc.nextFrame(t)
	assert.Equal(t, "b", bad["rid"])
	assert.Equal(t, false, bad["status"])
	assert.Equal(t, "no verb (action) specified", bad["message"])
}

func TestIngress_RemoteDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("xmpp")
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"5","platform":"xmpp","verb":"send","object":{"content":"hello"},"target":{"id":"room1"}}`), false)

	confirm := fc.nextFrame(t)
	assert.Equal(t, "5", confirm["rid"])
	assert.Equal(t, "confirm", confirm["verb"])
	assert.Equal(t, true, confirm["status"])

	channel := protocol.IncomingChannel("testhub", "xmpp")
	payload, err := env.q.BlockingPop(context.Background(), channel)
	require.NoError(t, err)

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &forwarded))
	assert.Equal(t, "5", forwarded["rid"])
	assert.Equal(t, "send", forwarded["verb"])
	assert.Equal(t, strconv.FormatInt(c.SessionID(), 10), forwarded["sessionId"])
	assert.Equal(t, []any{map[string]any{"id": "room1"}}, forwarded["target"])
	assert.Equal(t, 0, env.q.Len(channel), "exactly one push")
}

func TestIngress_SchemaValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.markLive("xmpp")
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"9","platform":"xmpp","verb":"send","object":{"content":42},"target":{"id":"room1"}}`), false)

	frame := fc.nextFrame(t)
	assert.Equal(t, "9", frame["rid"])
	assert.Equal(t, "send", frame["verb"])
	assert.Equal(t, false, frame["status"])
	msg, _ := frame["message"].(string)
	assert.Contains(t, msg, "unable to validate json against schema:")
	assert.Equal(t, []any{map[string]any{"id": "room1"}}, frame["target"])

	fc.expectNoFrame(t, 50*time.Millisecond)
	assert.Equal(t, 0, env.q.Len(protocol.IncomingChannel("testhub", "xmpp")))
}

func TestIngress_LocalHandlerRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"r","platform":"test","verb":"echo","object":{"a":1,"b":"x"},"target":{"id":"t1"}}`), false)

	confirm := fc.nextFrame(t)
	assert.Equal(t, "confirm", confirm["verb"])

	msg := fc.nextFrame(t)
	assert.Equal(t, "r", msg["rid"])
	assert.Equal(t, "test", msg["platform"])
	assert.Equal(t, "echo", msg["verb"])
	assert.Equal(t, true, msg["status"])
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, msg["object"])
	assert.Equal(t, []any{map[string]any{"id": "t1"}}, msg["target"])
}

func TestIngress_LocalHandlerError(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()
	env.register(c)

	c.HandleMessage([]byte(`{"rid":"r","platform":"test","verb":"fail"}`), false)

	confirm := fc.nextFrame(t)
	assert.Equal(t, true, confirm["status"])

	errFrame := fc.nextFrame(t)
	assert.Equal(t, "r", errFrame["rid"])
	assert.Equal(t, "test", errFrame["platform"])
	assert.Equal(t, "fail", errFrame["verb"])
	assert.Equal(t, false, errFrame["status"])
	assert.Equal(t, "handler exploded", errFrame["message"])
}

func TestIngress_Idempotence(t *testing.T) {
	// The dispatcher holds no request-level dedup state: N submissions of
	// the same request produce N confirm/response pairs.
	env := newTestEnv(t)
	c, fc := env.connect()
	env.register(c)

	for i := 0; i < 3; i++ {
		c.HandleMessage([]byte(`{"rid":"same","platform":"test","verb":"echo","object":{}}`), false)
	}
	for i := 0; i < 3; i++ {
		confirm := fc.nextFrame(t)
		assert.Equal(t, "confirm", confirm["verb"])
		msg := fc.nextFrame(t)
		assert.Equal(t, "same", msg["rid"])
	}
}

func TestIngress_BinaryEcho(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	payload := []byte{0x01, 0x02, 0xff, 0x00}
	c.HandleMessage(payload, true)

	select {
	case echoed := <-fc.binary:
		assert.Equal(t, payload, echoed)
	case <-time.After(time.Second):
		t.Fatal("binary echo never arrived")
	}
}

func TestIngress_ShutdownDropsFrames(t *testing.T) {
	env := newTestEnv(t)
	c, fc := env.connect()

	env.d.Shutdown()
	c.HandleMessage([]byte(`{"rid":"a","platform":"dispatcher","verb":"register","object":{}}`), false)

	fc.expectNoFrame(t, 100*time.Millisecond)
}
