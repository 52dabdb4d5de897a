package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

var errNotConnected = errors.New("not connected")

// WSClient manages a WebSocket connection to an exchange ticker stream.
type WSClient struct {
	url  string
	conn *websocket.Conn
	mu   sync.Mutex

	// Message handling
	msgCh chan []byte
	done  chan struct{}
	once  sync.Once

	// State
	connected atomic.Bool
	received  atomic.Int64
	dropped   atomic.Int64
}

// NewWSClient creates a new WebSocket client. bufferSize bounds the
// message channel; zero means 1000.
func NewWSClient(url string, bufferSize int) *WSClient {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &WSClient{
		url:   url,
		msgCh: make(chan []byte, bufferSize),
		done:  make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.conn = conn
	c.connected.Store(true)

	log.Info().Str("url", c.url).Msg("WebSocket connected")
	return nil
}

// Close closes the WebSocket connection. Safe to call more than once.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	c.connected.Store(false)

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected returns true if the client is connected.
func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

// Received returns the number of data messages read so far.
func (c *WSClient) Received() int64 {
	return c.received.Load()
}

// Dropped returns the number of messages discarded because the buffer was full.
func (c *WSClient) Dropped() int64 {
	return c.dropped.Load()
}

// Subscribe sends the exchange-specific subscribe payload as a text frame.
// An empty payload is a no-op for streams that push without subscribing.
func (c *WSClient) Subscribe(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing subscribe request: %w", err)
	}

	log.Info().
		Str("url", c.url).
		Int("bytes", len(payload)).
		Msg("Sent subscription request")

	return nil
}

// ReadMessages reads messages from the WebSocket and sends them to the channel.
// Returns when the connection is closed or an error occurs.
func (c *WSClient) ReadMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading message: %w", err)
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.received.Add(1)

		select {
		case c.msgCh <- message:
		default:
			// Log the first drop of every burst of 1000
			if n := c.dropped.Add(1); n%1000 == 1 {
				log.Warn().Str("url", c.url).Int64("dropped", n).Msg("Message channel full, discarding message")
			}
		}
	}
}

// Messages returns the channel for received messages.
func (c *WSClient) Messages() <-chan []byte {
	return c.msgCh
}

// Ping sends a ping to keep the connection alive.
func (c *WSClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// StartPingLoop sends periodic pings until ctx is done or the client closes.
func (c *WSClient) StartPingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("url", c.url).Msg("Ping failed")
			}
		}
	}
}
