package ws

import (
	"sync"
	"time"
)

// Conn abstracts a websocket connection for testability. *websocket.Conn
// from gorilla/websocket satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TextMessage is the websocket opcode for text frames (RFC 6455 §11.8).
const TextMessage = 1

// Client wraps a connection with frame encoding and serialized writes.
type Client struct {
	ID   string
	conn Conn

	// WriteTimeout bounds each Send when positive. Set it before the
	// client is shared.
	WriteTimeout time.Duration

	mu sync.Mutex
}

// NewClient creates a new client wrapper.
func NewClient(id string, conn Conn) *Client {
	return &Client{
		ID:   id,
		conn: conn,
	}
}

// Send encodes and writes a frame.
func (c *Client) Send(f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return err
		}
	}

	return c.conn.WriteMessage(TextMessage, data)
}

// Receive reads the next raw message. Errors are transport errors; frame
// decoding is left to the caller so a bad frame never looks like a broken
// connection.
func (c *Client) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()

	return data, err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
