// Package signalclient is the client side of the relay WebSocket channel.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/roomcall/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingBuffer = 64
)

var (
	ErrClosed     = errors.New("signaling connection closed")
	ErrBufferFull = errors.New("signaling send buffer full")
)

type Options struct {
	// Token is sent as ?token= for servers that require authentication.
	Token         string
	Header        http.Header
	LoggerFactory logging.LoggerFactory
}

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	incoming chan models.Envelope
	outgoing chan models.Envelope
	done     chan struct{}
	once     sync.Once
	log      logging.LeveledLogger
}

// Dial connects to serverURL (ws:// or wss://) and starts the pumps.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	c := &Client{
		conn:     conn,
		incoming: make(chan models.Envelope, 16),
		outgoing: make(chan models.Envelope, outgoingBuffer),
		done:     make(chan struct{}),
		log:      lf.NewLogger("signalclient"),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump reads envelopes until the connection ends, then closes Incoming.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warnf("read: %v", err)
			}
			return
		}
		env, err := models.ParseEnvelope(raw)
		if err != nil {
			c.log.Warnf("drop frame: %v", err)
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

// writePump writes envelopes to the connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warnf("write %s: %v", env.Event, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, e.g. a final leave.
func (c *Client) flush() {
	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues env for delivery to the relay. It never blocks: a full buffer
// drops env and returns ErrBufferFull.
func (c *Client) Send(env models.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- env:
		return nil
	default:
		c.log.Warnf("dropping %s to %q, send buffer full", env.Event, env.To)
		return ErrBufferFull
	}
}

// Incoming returns envelopes from the relay. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan models.Envelope {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection after flushing queued envelopes.
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}
