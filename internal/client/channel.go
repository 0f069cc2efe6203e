// Package client is the client core of the study-room realtime session:
// the session channel, the presence reconciler, the chat log and the
// controller that wires them to a mounted room view.
package client

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/protocol"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Event is one decoded inbound frame, tagged with the epoch of the
// connection that produced it. Events whose epoch no longer matches the
// channel's live connection must be ignored by consumers.
type Event struct {
	Epoch    uint64
	Envelope protocol.Envelope
}

// SessionChannel is the transport surface the controller depends on.
// *Channel is the production implementation.
type SessionChannel interface {
	Open(ctx context.Context)
	State() ConnState
	Epoch() uint64
	Events() <-chan Event
	Send(kind string, payload any) bool
	Warnings() <-chan string
	Close()
}

const (
	sendQueueSize  = 32
	eventQueueSize = 64
	writeWait      = 5 * time.Second
)

// Channel owns exactly one live websocket connection per active session.
// Network failures never surface as errors to callers: they degrade to a
// state transition that callers observe via State.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn
	send  chan []byte
	epoch uint64
	done  bool

	events   chan Event
	warnings chan string
}

func NewChannel(wsURL string) *Channel {
	return &Channel{
		url:      wsURL,
		dialer:   websocket.DefaultDialer,
		state:    StateDisconnected,
		events:   make(chan Event, eventQueueSize),
		warnings: make(chan string, 8),
	}
}

// ResolveWSURL derives the realtime endpoint from the API base address,
// mapping http->ws and https->wss, with a fixed /ws path. A non-empty
// override wins.
func ResolveWSURL(apiBase, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return override, nil
	}
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host + "/ws", nil
}

// Open establishes the connection. It fails silently into the disconnected
// state on network error; callers observe State. Reopening after a link
// failure starts a fresh epoch.
func (c *Channel) Open(ctx context.Context) {
	c.mu.Lock()
	if c.done || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "client.channel").Str("url", c.url).Msg("dial failed")
		c.state = StateDisconnected
		return
	}

	c.conn = conn
	c.send = make(chan []byte, sendQueueSize)
	c.epoch++
	c.state = StateConnected

	go c.writePump(conn, c.send, c.epoch)
	go c.readPump(conn, c.epoch)
}

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch identifies the live connection. Zero means never connected.
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Channel) Events() <-chan Event { return c.events }

// Warnings carries soft, user-visible signals such as send-while-disconnected.
func (c *Channel) Warnings() <-chan string { return c.warnings }

// Send encodes and queues one intent frame, fire-and-forget. It reports
// whether the frame was queued; when not connected it no-ops with a
// warning instead of erroring.
func (c *Channel) Send(kind string, payload any) bool {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "client.channel").Str("type", kind).Msg("encode intent")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.send == nil {
		c.warn("not connected, intent dropped: " + kind)
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.warn("send queue full, intent dropped: " + kind)
		return false
	}
}

// Close tears the channel down for good: a best-effort leave is queued and
// the connection handed to the write pump, which closes it only after the
// queue drains, so the leave actually reaches the wire. The channel is left
// permanently disconnected; events already in flight keep their stale epoch
// and get dropped by consumers.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true

	if c.state == StateConnected && c.send != nil {
		if frame, err := protocol.Encode(protocol.TypeLeave, protocol.LeavePayload{}); err == nil {
			select {
			case c.send <- frame:
			default:
			}
		}
		close(c.send)
		c.send = nil
		c.conn = nil
		c.state = StateDisconnected
		return
	}
	c.closeConnLocked()
}

// closeConnLocked drops the live connection and transitions to
// disconnected. The pumps notice the closed conn and exit.
func (c *Channel) closeConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	c.state = StateDisconnected
}

// markLinkFailure transitions to disconnected if the failing connection is
// still the live one. A stale pump from a previous epoch must not clobber
// a newer connection's state.
func (c *Channel) markLinkFailure(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || c.epoch != epoch {
		return
	}
	c.closeConnLocked()
}

func (c *Channel) writePump(conn *websocket.Conn, send <-chan []byte, epoch uint64) {
	// Closing here, after the queue drains, is what lets Close flush the
	// final leave frame; it also unblocks the read pump.
	defer conn.Close()

	for data := range send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Warn().Err(err).Str("module", "client.channel").Msg("writePump set deadline")
			c.markLinkFailure(epoch)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("module", "client.channel").Msg("writePump write error")
			c.markLinkFailure(epoch)
			return
		}
	}
}

func (c *Channel) readPump(conn *websocket.Conn, epoch uint64) {
	defer c.markLinkFailure(epoch)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.channel").Msg("readPump closed")
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			// A protocol violation by the server must not take down
			// the client; drop the frame.
			log.Warn().Err(err).Str("module", "client.channel").Msg("dropping undecodable frame")
			continue
		}
		select {
		case c.events <- Event{Epoch: epoch, Envelope: env}:
		default:
			log.Warn().Str("module", "client.channel").Str("type", env.Type).Msg("event queue full, frame dropped")
		}
	}
}

func (c *Channel) warn(msg string) {
	log.Warn().Str("module", "client.channel").Msg(msg)
	select {
	case c.warnings <- msg:
	default:
	}
}
