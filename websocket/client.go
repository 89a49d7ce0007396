package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is a websocket connection attached to a Hub.
type Client struct {
	id     uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	format Format
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, format Format) *Client {
	return &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		format: format,
		send:   make(chan []byte, hub.sendBuffer),
	}
}

// enqueue queues a message without blocking. The caller holds the hub lock.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) messageType() int {
	if c.format == FormatMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// readPump listen for new commands being sent to the websocket
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("client %s: %v", c.id, err)
			}
			return
		}

		cmd, err := DecodeCommand(msg, messageType == websocket.BinaryMessage)
		if err != nil {
			c.hub.reply(c, Event{Event: EventError, Message: err.Error()})
			continue
		}
		c.hub.handle(c, cmd)
	}
}

// writePump drains the send queue onto the connection and keeps it alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(c.messageType(), msg); err != nil {
				c.hub.logger.Printf("client %s: %v", c.id, err)
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
