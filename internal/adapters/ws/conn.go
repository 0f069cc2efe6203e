// Package ws is the server-side websocket adapter for the room realtime
// protocol: it owns connections and pumps, and translates frames to calls
// into the realtime service.
package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

// roomConn pairs a websocket connection with its buffered send queue.
// It implements app.Sender.
type roomConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newRoomConn(conn *websocket.Conn) *roomConn {
	return &roomConn{
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (c *roomConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *roomConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
