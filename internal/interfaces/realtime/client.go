package realtime

import (
	"sync"
	"time"

	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one websocket connection. The read loop runs on the upgrading
// goroutine; writes happen only in writeLoop.
type Client struct {
	id       string
	userID   uuid.UUID
	identity *auth.Identity
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	config   Config

	closeOnce sync.Once
	done      chan struct{}
	// loggedOut is set when the user logged out through this node, so the
	// presence entry is already gone when the loops exit
	mu        sync.Mutex
	loggedOut bool
}

func newClient(conn *websocket.Conn, identity *auth.Identity, cfg Config) *Client {
	return &Client{
		id:       uuid.NewString(),
		userID:   identity.UserID,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, cfg.SendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		config:   cfg,
		done:     make(chan struct{}),
	}
}

// enqueue hands a frame to the write loop without blocking. It reports
// false when the queue is full or the client is closed.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close asks the write loop to send a close frame and release the socket
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) markLoggedOut() {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
}

func (c *Client) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// readLoop reads frames until the connection fails or is closed. onPong
// runs for every pong so presence can be refreshed.
func (c *Client) readLoop(handle func([]byte), onPong func()) {
	defer c.close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		onPong()
		return c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(frame)
	}
}

// writeLoop drains the send queue and pings the peer. Queued frames left
// when the client closes are discarded.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
