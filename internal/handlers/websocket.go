package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	resolveTimeout = 2 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Name string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       logging.LeveledLogger
}

// Send queues env for the write pump. A full buffer drops the message.
func (c *Client) Send(env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Errorf("failed to marshal %s for %s: %v", env.Event, c.ID, err)
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Warnf("dropping %s to peer %s, buffer full", env.Event, c.ID)
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// HandleSignaling upgrades to a WebSocket and serves one signaling connection.
// When the route carries a :room parameter the connection joins it right away.
func (h *Handler) HandleSignaling(c *gin.Context) {
	// Optional: Get display name from query param
	displayName := c.Query("name")
	roomIdentifier := c.Param("room")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Name: displayName,
		conn: conn,
		send: make(chan []byte, h.sendBuffer()),
		done: make(chan struct{}),
		log:  h.lf.NewLogger("ws"),
	}
	if userID := c.GetString(middleware.UserIDKey); userID != "" && client.Name == "" {
		client.Name = userID
	}

	h.relay.Connect(client.ID, client)
	h.log.Debugf("peer %s connected from %s", client.ID, c.Request.RemoteAddr)

	if roomIdentifier != "" {
		h.join(client, models.Join{Room: roomIdentifier, Name: client.Name})
	}

	// Start goroutines for reading and writing
	go h.writePump(client)
	go h.readPump(client)
}

func (h *Handler) sendBuffer() int {
	if h.cfg.SendBuffer > 0 {
		return h.cfg.SendBuffer
	}
	return 256
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.relay.Disconnect(c.ID)
		c.shutdown()
		c.conn.Close()
		h.log.Debugf("peer %s disconnected", c.ID)
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
				c.log.Warnf("websocket error from %s: %v", c.ID, err)
			}
			return
		}

		env, err := models.ParseEnvelope(message)
		if err != nil {
			c.log.Warnf("drop frame from %s: %v", c.ID, err)
			continue
		}
		h.dispatch(c, env)
	}
}

func (h *Handler) dispatch(c *Client, env models.Envelope) {
	switch {
	case env.Event == models.EventJoin:
		msg, err := models.Decode(env)
		if err != nil {
			c.log.Warnf("drop join from %s: %v", c.ID, err)
			return
		}
		h.join(c, msg.(models.Join))

	case env.Event == models.EventLeave:
		if err := h.relay.Leave(c.ID); err != nil {
			c.log.Debugf("leave from %s: %v", c.ID, err)
		}

	case models.IsRelayed(env.Event):
		room, ok := h.relay.RoomOf(c.ID)
		if !ok {
			c.log.Warnf("drop %s from %s: not in a room", env.Event, c.ID)
			return
		}
		// Relay errors are already logged
		_ = h.relay.Relay(c.ID, room, env)

	default:
		c.log.Warnf("drop %q from %s: not accepted from clients", env.Event, c.ID)
	}
}

func (h *Handler) join(c *Client, msg models.Join) {
	name := msg.Name
	if name == "" {
		name = c.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	room := h.resolveRoom(ctx, msg.Room)

	err := h.relay.Join(c.ID, room, name)
	if errors.Is(err, relay.ErrInvalidRoomName) {
		c.log.Warnf("drop join from %s: %v", c.ID, err)
		return
	}
	if err != nil {
		c.log.Errorf("join %s to %s: %v", c.ID, room, err)
	}
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warnf("failed to write to %s: %v", c.ID, err)
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
