package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/config"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"golang.org/x/time/rate"
)

// Client is one live connection. It belongs to exactly one authenticated
// user and holds the set of rooms it is attached to.
type Client struct {
	ID       string
	Identity domain.Identity
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Logger   zerolog.Logger

	config  config.WebSocketConfig
	limiter *rate.Limiter

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func NewClient(id string, identity domain.Identity, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, buf),
		Logger:   logger,
		config:   cfg,
		limiter:  rate.NewLimiter(limit, burst),
		rooms:    make(map[string]struct{}),
	}
}

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() string {
	return c.Identity.UserID
}

// Allow consumes one token from the connection's event budget.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// Rooms returns a snapshot of the attached rooms.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports whether the connection is attached to room.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// enqueue hands data to the write pump without blocking. It returns false
// when the buffer is full or the client is closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SendRaw queues an already encoded frame for this connection only.
func (c *Client) SendRaw(data []byte) bool {
	return c.enqueue(data)
}

// SendFrame encodes and queues a frame for this connection only.
func (c *Client) SendFrame(event, ackID string, data any) error {
	b, err := domain.EncodeFrame(event, ackID, data)
	if err != nil {
		return err
	}
	if !c.enqueue(b) {
		c.Logger.Warn().Str("event", event).Msg("send buffer full, frame dropped")
	}
	return nil
}

// ReadPump reads frames until the connection fails, handing each to
// handler. onClose runs once the loop exits.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		if onClose != nil {
			onClose(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump drains Send to the socket and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
