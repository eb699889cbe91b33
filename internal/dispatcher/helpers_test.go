package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sockethub/dispatcher/internal/config"
	"github.com/sockethub/dispatcher/internal/queue"
	"github.com/sockethub/dispatcher/internal/registry"
	"github.com/sockethub/dispatcher/internal/session"
)

// fakeConn records frames the dispatcher writes to the client.
type fakeConn struct {
	text   chan string
	binary chan []byte
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		text:   make(chan string, 64),
		binary: make(chan []byte, 16),
	}
}

func (f *fakeConn) WriteText(data []byte) error {
	f.text <- string(data)
	return nil
}

func (f *fakeConn) WriteBinary(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.binary <- buf
	return nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

// nextFrame waits for the next text frame and decodes it.
func (f *fakeConn) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case payload := <-f.text:
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &frame), "payload: %s", payload)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// nextText waits for the next raw text payload.
func (f *fakeConn) nextText(t *testing.T) string {
	t.Helper()
	select {
	case payload := <-f.text:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return ""
	}
}

// expectNoFrame asserts that no text frame arrives within the window.
func (f *fakeConn) expectNoFrame(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case payload := <-f.text:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(window):
	}
}

// sendSchema requires object.content to be a string.
var sendSchema = map[string]any{
	"type":     "object",
	"required": []any{"object"},
	"properties": map[string]any{
		"object": map[string]any{
			"type":     "object",
			"required": []any{"content"},
			"properties": map[string]any{
				"content": map[string]any{"type": "string"},
			},
		},
	},
}

type testEnv struct {
	t   *testing.T
	d   *Dispatcher
	q   *queue.Memory
	sm  *session.Manager
	reg *registry.Registry
	cfg *config.Config
}

// newTestEnv builds a dispatcher on the in-memory queue with a remote xmpp
// platform (verbs send, join), a remote irc platform outside the allow-list,
// and a local test platform with an echo verb.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore lets tests interpose on session resolution.
func newTestEnvWithStore(t *testing.T, wrap func(SessionStore) SessionStore) *testEnv {
	t.Helper()

	q := queue.NewMemory()
	log := zerolog.Nop()

	sm, err := session.NewManager(context.Background(), q, "testhub", log)
	require.NoError(t, err)

	reg := registry.New()
	xmpp, err := reg.Add("xmpp", false)
	require.NoError(t, err)
	require.NoError(t, xmpp.AddVerb("send", sendSchema, nil))
	require.NoError(t, xmpp.AddVerb("join", nil, nil))

	irc, err := reg.Add("irc", false)
	require.NoError(t, err)
	require.NoError(t, irc.AddVerb("send", nil, nil))

	local, err := reg.Add("test", true)
	require.NoError(t, err)
	require.NoError(t, local.AddVerb("echo", nil, echoHandler))
	require.NoError(t, local.AddVerb("fail", nil, failHandler))

	cfg := config.DefaultConfig()
	cfg.SockethubID = "testhub"
	cfg.Platforms = []string{"xmpp", "test"}
	cfg.ListenerIntervalTime = 25 * time.Millisecond
	cfg.ListenerIntervalCount = 3

	var store SessionStore = sm
	if wrap != nil {
		store = wrap(sm)
	}

	d, err := New(context.Background(), cfg, reg, q, store, log)
	require.NoError(t, err)
	d.destroyGrace = 30 * time.Millisecond
	t.Cleanup(d.Shutdown)

	return &testEnv{t: t, d: d, q: q, sm: sm, reg: reg, cfg: cfg}
}

func echoHandler(req map[string]any, sess registry.Session, respond registry.ResponseFunc) {
	respond(nil, req["object"])
}

func failHandler(req map[string]any, sess registry.Session, respond registry.ResponseFunc) {
	respond(errors.New("handler exploded"), nil)
}

// connect opens a connection and waits for it to go active.
func (e *testEnv) connect() (*Connection, *fakeConn) {
	e.t.Helper()
	fc := newFakeConn()
	c := e.d.Connect(fc)
	e.waitActive(c)
	return c, fc
}

func (e *testEnv) waitActive(c *Connection) {
	e.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ph := c.phase
		c.mu.Unlock()
		if ph == phaseActive {
			return
		}
		time.Sleep(time.Millisecond)
	}
	e.t.Fatal("connection never went active")
}

// markLive stamps a remote platform as having answered a ping.
func (e *testEnv) markLive(platform string) {
	e.t.Helper()
	p, ok := e.reg.Platform(platform)
	require.True(e.t, ok)
	p.MarkPingReceived(time.Now())
}

// register flips the connection's session registration gate directly.
func (e *testEnv) register(c *Connection) {
	e.t.Helper()
	s, err := e.sm.Get(context.Background(), c.SessionID())
	require.NoError(e.t, err)
	s.SetRegistered(true)
}
