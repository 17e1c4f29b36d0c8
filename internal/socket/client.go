package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slotter-org/alexus-backend/internal/logger"
)

type InboundMessage struct {
	Action  string `json:"action,omitempty"`  // "subscribe" | "unsubscribe"
	Channel string `json:"channel,omitempty"`
}

const (
	OutboundChanBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Client struct {
	ID       uuid.UUID
	Conn     *websocket.Conn
	Hub      *Hub
	Log      *logger.Logger
	Outbound chan Message

	// owner is the only channel prefix the client may subscribe to.
	owner     string
	cancelFn  context.CancelFunc
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, owner string, log *logger.Logger) *Client {
	id := uuid.New()
	return &Client{
		ID:       id,
		Conn:     conn,
		Hub:      hub,
		Log:      log.With("client", id),
		Outbound: make(chan Message, OutboundChanBuffer),
		owner:    owner,
	}
}

// Run pumps the connection until either side gives up. It returns once the
// client is closed and unsubscribed.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel
	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.close()

	c.Conn.SetReadLimit(1 << 16)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.Log.Debug("websocket read error, closing client", "error", err)
			return
		}

		var inbound InboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			c.Log.Debug("failed to unmarshal inbound message", "error", err, "raw", string(data))
			continue
		}

		switch inbound.Action {
		case "subscribe":
			if inbound.Channel == UserChannel(c.owner) {
				c.Hub.Subscribe(c, []string{inbound.Channel})
			} else {
				c.Log.Debug("subscription refused", "channel", inbound.Channel)
			}
		case "unsubscribe":
			if inbound.Channel != "" {
				c.Hub.UnsubscribeFromChannel(c, inbound.Channel)
			}
		default:
			c.Log.Debug("inbound WS message unhandled", "message", inbound)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.Outbound:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(msg); err != nil {
				c.Log.Warn("failed writing JSON", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Log.Debug("ping error, shutting down", "error", err)
				return
			}
		}
	}
}

// close is safe to call from both pumps. Outbound is never closed, so a
// concurrent broadcast cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.Log.Debug("closing client connection")
		c.Hub.Unsubscribe(c)
		if c.cancelFn != nil {
			c.cancelFn()
		}
		_ = c.Conn.Close()
	})
}
