package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

// wsConn adapts a gorilla connection to the dispatcher's Conn interface.
// The egress pump and the binary-echo path write from different goroutines,
// so writes are serialized with a mutex.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool

	stopPing chan struct{}
	once     sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn, stopPing: make(chan struct{})}
	go c.pingLoop()
	return c
}

func (c *wsConn) configureRead() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func (c *wsConn) extendRead() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// WriteText forwards an outbound payload as a text frame.
func (c *wsConn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// WriteBinary forwards an outbound payload as a binary frame.
func (c *wsConn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// Close shuts the websocket down.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.stopPing) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

// pingLoop keeps the connection alive through proxies.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
