package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lexhound/lexhound/internal/bus"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// maxBufferedSends bounds the resend buffer; beyond it the oldest
	// messages are dropped, newest speech is worth more than stale speech.
	maxBufferedSends = 64
)

// Client is a reconnecting WebSocket connection to the gateway. Sends while
// disconnected are buffered (heartbeats excepted) and flushed after the next
// successful reconnect.
type Client struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	buffered []*bus.Envelope
}

// Compile-time assertion that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Client for the gateway WebSocket URL, which must
// already include the client-id path segment.
func NewClient(url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("stt: gateway url must not be empty")
	}
	return &Client{url: url}, nil
}

// Run maintains the connection with exponential backoff until ctx is
// cancelled. After each successful dial the resend buffer is flushed before
// anything else happens.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("gateway connection failed, retrying",
				"url", c.url, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		c.setConn(conn)
		slog.Info("gateway connected", "url", c.url)
		c.flushBuffered(ctx)

		// Drain server frames (acks, errors) until the connection drops;
		// a dead read also detects half-open connections.
		c.readUntilClosed(ctx, conn)
		c.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("gateway connection lost, reconnecting", "url", c.url)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	return conn, err
}

func (c *Client) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := bus.Decode(data)
		if err != nil {
			continue
		}
		slog.Debug("gateway frame received", "type", env.Type)
	}
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes env to the gateway. While disconnected, transcriptions are
// buffered for resend; heartbeats are dropped since a stale heartbeat is
// worse than none.
func (c *Client) Send(ctx context.Context, env *bus.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.bufferForResend(env)
		return fmt.Errorf("stt: not connected")
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.bufferForResend(env)
		return fmt.Errorf("stt: send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) bufferForResend(env *bus.Envelope) {
	if env.Type == bus.TypeHeartbeat {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = append(c.buffered, env)
	if len(c.buffered) > maxBufferedSends {
		dropped := len(c.buffered) - maxBufferedSends
		c.buffered = c.buffered[dropped:]
		slog.Warn("resend buffer full, dropping oldest", "dropped", dropped)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// flushBuffered resends everything queued while disconnected, in order.
func (c *Client) flushBuffered(ctx context.Context) {
	c.mu.Lock()
	pending := c.buffered
	c.buffered = nil
	c.mu.Unlock()

	for _, env := range pending {
		if err := c.Send(ctx, env); err != nil {
			slog.Warn("buffered resend failed", "type", env.Type, "error", err)
			return
		}
	}
	if len(pending) > 0 {
		slog.Info("flushed buffered messages after reconnect", "count", len(pending))
	}
}
