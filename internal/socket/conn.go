package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is the transport a Session writes to. Implementations must be safe
// for concurrent Send calls.
type Conn interface {
	Send(ctx context.Context, event string, data json.RawMessage) error
	Close(reason string) error
}

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("socket: connection closed")

// WSConn adapts a *websocket.Conn to Conn and reads inbound frames.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps ws. A zero writeTimeout means writes are bounded only by
// the caller's context.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

// Send writes one text frame.
func (c *WSConn) Send(ctx context.Context, event string, data json.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	b, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// Read blocks for the next frame. Binary frames and malformed JSON are
// reported as errors so the caller can decide whether to keep reading.
func (c *WSConn) Read(ctx context.Context) (Frame, error) {
	typ, b, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	if typ != websocket.MessageText {
		return Frame{}, ErrBadFrame
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil || f.Event == "" {
		return Frame{}, ErrBadFrame
	}
	return f, nil
}

// Close closes the websocket with a normal closure status. Repeated calls
// return nil.
func (c *WSConn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// IsClosedError reports whether err means the peer went away rather than a
// protocol fault.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrConnClosed)
}
