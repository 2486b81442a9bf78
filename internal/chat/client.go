package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum message size allowed from peer.

	sendBuffer    = 256
	inboundBuffer = 16
)

// Session identifies the connection a frame arrived on.
type Session struct {
	ConnID string
	UserID string
	HomeID string
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	UserID   string
	Username string
	HomeID   string

	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
	// Frames read from the socket, consumed in order by one dispatcher.
	inbound chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewClient builds a client for an authenticated connection. conn may be nil
// in tests that read the send buffer directly.
func NewClient(conn *websocket.Conn, userID, username, homeID string, perMinute int) *Client {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		HomeID:   homeID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		inbound:  make(chan []byte, inboundBuffer),
		limiter:  lim,
	}
}

func (c *Client) Session() Session {
	return Session{ConnID: c.ID, UserID: c.UserID, HomeID: c.HomeID}
}

// trySend queues data without blocking. It reports false when the buffer is
// full; a closed client silently discards.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the dispatcher.
func (c *Client) readPump(h *Handler) {
	defer func() {
		close(c.inbound)
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read", zap.String("conn", c.ID), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Pings are answered here so a long turn holding the dispatcher
		// cannot starve them.
		if f, err := ParseFrame(message); err == nil && f.Type == FramePing {
			h.metrics.Frames.WithLabelValues(FramePing, "inbound").Inc()
			h.hub.Send(c, pongFrame())
			continue
		}

		// The read loop must not block behind the dispatcher, or control
		// frames stop being read and the pong deadline expires.
		select {
		case c.inbound <- message:
		default:
			h.log.Warn("inbound backlog full, dropping frame", zap.String("conn", c.ID))
			h.hub.Send(c, errorFrame(busy))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection. Each
// frame is written as its own websocket message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
