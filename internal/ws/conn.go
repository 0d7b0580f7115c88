package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Conn wraps a websocket connection with a write lock and a liveness flag.
// gorilla permits one concurrent writer; every send in this package goes
// through Send or close helpers that hold the lock.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu    sync.Mutex
	alive bool

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, alive: true}
}

// Send marshals v as JSON and writes it to the peer.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// markAlive records pong traffic since the last sweep.
func (c *Conn) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// aliveAndReset reports whether the peer responded since the last sweep and
// clears the flag for the next interval.
func (c *Conn) aliveAndReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// ping sends a control ping frame.
func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with the given code and reason, then tears down
// the underlying connection. Safe to call more than once.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}
