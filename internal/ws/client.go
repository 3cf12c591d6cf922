package ws

import (
	"sync"

	"log/slog"

	"github.com/gorilla/websocket"
)

// Client adapts a websocket connection to the Subscriber interface. A
// mutex serializes writes; gorilla connections allow one writer at a
// time and broadcasts may arrive from concurrent runs.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one text message. On failure the connection is closed and
// the error returned, which makes the hub drop this subscriber.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
