package collab

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 64
)

// Client is one live collaboration connection. Its user identity is fixed at
// handshake time; its mutation room changes as the user navigates between
// schemes.
type Client struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	room   string
	closed bool
}

func newClient(conn *websocket.Conn, userID int64) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID returns the opaque connection identifier.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user the connection acts as.
func (c *Client) UserID() int64 {
	return c.userID
}

// Room returns the connection's current mutation room, or "" when it has not
// joined one.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(roomKey string) {
	c.mu.Lock()
	c.room = roomKey
	c.mu.Unlock()
}

// enqueue offers a message to the connection's write pump without blocking.
// A connection that cannot keep up drops messages rather than stalling the
// sender's event handler.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend marks the connection finished and closes its write channel. Held
// under the same lock as enqueue so no broadcast races the close.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump consumes inbound events until the transport closes, dispatching
// each one in arrival order.
func (c *Client) readPump(engine *Engine) {
	defer engine.detach(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				engine.logger.Debug("connection read failed",
					zap.String("connection_id", c.id),
					zap.Error(err))
			}
			return
		}
		engine.Dispatch(c, message)
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
