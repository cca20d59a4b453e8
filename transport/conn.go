// Package transport owns the persistent bidirectional connection that
// delivers message and presence events for an authenticated user session.
// One Manager instance is created per screen-scoped context and torn down
// with it; it is a dependency handed to the components that need live
// delivery, never ambient shared state.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// Conn is a single established transport connection. Implementations must
// be safe for one concurrent reader and one concurrent writer.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes transport connections. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketDialer dials the backend transport endpoint over WebSocket.
type WebSocketDialer struct{}

// Dial opens a WebSocket connection to endpoint.
func (WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn wraps a coder/websocket connection.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return data, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	return c.ws.CloseNow()
}

// authEndpoint appends the session credentials to the transport URL. The
// connection is authenticated by the user id and the public-key handle.
func authEndpoint(base, userID, keyHandle string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("transport: bad endpoint %q: %w", base, err)
	}
	q := u.Query()
	q.Set("user", userID)
	q.Set("key", keyHandle)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
