// Package ws bridges the event bus to operator WebSocket connections.
// Each connection gets its own bus subscriber; slow consumers lose their
// oldest events at the bus rather than stalling the publisher.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending
	// a ping. The connection is closed if no pong arrives in time.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server sends a ping frame. Must be less
	// than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Clients only send close/pong
	// frames, so a small limit is sufficient.
	maxMessageSize = 512
)

// upgrader performs the HTTP to WebSocket protocol upgrade.
// CheckOrigin always returns true: the SSE feed is equally open, and
// origin validation is the reverse proxy's responsibility in production.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the JSON shape of one event on the WebSocket wire. It mirrors
// the SSE feed: type, originating service, JSON payload and timestamp.
type Frame struct {
	Type        string          `json:"type"`
	ServiceName string          `json:"service_name,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

func frameOf(ev events.Event) Frame {
	f := Frame{
		Type:        ev.Type,
		ServiceName: ev.ServiceName,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if ev.Data != "" {
		f.Data = json.RawMessage(ev.Data)
	}
	return f
}

// Client is a single connected operator. Each client runs two goroutines:
// readPump (detects disconnection, handles pong frames) and writePump
// (serialises outgoing frames onto the wire).
type Client struct {
	conn   *websocket.Conn
	bus    *events.Bus
	sub    *events.Subscriber
	logger *zap.Logger
}

// NewClient upgrades the HTTP connection and attaches a bus subscriber.
// Returns an error if the upgrade fails; the upgrader has already written
// the error response in that case.
func NewClient(bus *events.Bus, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		bus:    bus,
		sub:    bus.Subscribe(),
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}, nil
}

// Run sends the connection head frame and starts the pumps. It blocks
// until the connection closes; since the caller is an HTTP handler that
// has already completed the upgrade, blocking is fine.
func (c *Client) Run() {
	head := Frame{
		Type:      events.TypeConnection,
		Data:      json.RawMessage(`{"message":"Connected to event stream"}`),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(head); err != nil {
		c.bus.Unsubscribe(c.sub)
		_ = c.conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump detects client disconnection and keeps the read deadline fresh
// on pong frames. Application messages from the client are not expected;
// the protocol is server-push only.
func (c *Client) readPump() {
	defer func() {
		c.bus.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards bus events to the wire and sends periodic pings.
// It is the only goroutine writing to conn; gorilla/websocket connections
// are not safe for concurrent writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Unsubscribed. Send a close frame and exit.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frameOf(ev)); err != nil {
				c.logger.Warn("ws: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
