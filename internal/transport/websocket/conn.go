package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// Conn adapts a WebSocket to a byte stream. Every Write becomes one binary
// message; inbound binary messages are read back to back. Text messages are
// ignored.
//
// Read and Write may run on different goroutines, but not two of the same.
type Conn struct {
	conn   *websocket.Conn
	reader io.Reader
}

// Dial - opens a WebSocket to url.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	return &Conn{conn: conn}, nil
}

// NewConn wraps an established WebSocket.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

func (that *Conn) Read(p []byte) (int, error) {
	for {
		if that.reader == nil {
			messageType, reader, err := that.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, fmt.Errorf("failed to read message: %w", err)
			}

			if messageType != websocket.BinaryMessage {
				continue
			}

			that.reader = reader
		}

		n, err := that.reader.Read(p)
		if errors.Is(err, io.EOF) {
			that.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}

		return n, err
	}
}

func (that *Conn) Write(p []byte) (int, error) {
	if err := that.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("failed to write message: %w", err)
	}

	return len(p), nil
}

// Close sends a close frame when possible and tears the socket down.
func (that *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	// the peer may already be gone, closing the socket is what matters
	_ = that.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

	if err := that.conn.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}

	return nil
}
