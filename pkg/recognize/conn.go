package recognize

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// MessageType is the frame type of a transport message.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// StatusNormalClosure is the close code used for client-initiated closes.
const StatusNormalClosure = 1000

// readLimit bounds a single inbound message. Results with word timestamps and
// alternatives easily exceed the websocket default of 32 KiB.
const readLimit = 1 << 20

// Conn is an ordered, reliable, message-framed duplex channel.
//
// Read and Write may be called concurrently with each other. Read returns an
// error once the connection is closed, whichever side closed it.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, typ MessageType, data []byte) error

	// Close performs the closing handshake with the given status code.
	Close(code int, reason string) error

	// CloseNow tears the connection down without a handshake.
	CloseNow() error
}

// Dialer opens a [Conn]. The context carries the opening handshake deadline.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// WebSocketDialer dials the service with github.com/coder/websocket.
type WebSocketDialer struct {
	// HTTPClient is used for the opening handshake. nil means http.DefaultClient.
	HTTPClient *http.Client

	// CloseTimeout bounds the closing handshake. Zero means HandshakeTimeout.
	CloseTimeout time.Duration
}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	timeout := d.CloseTimeout
	if timeout <= 0 {
		timeout = HandshakeTimeout
	}
	return &wsConn{conn: conn, closeTimeout: timeout}, nil
}

// wsConn adapts *websocket.Conn to [Conn].
type wsConn struct {
	conn         *websocket.Conn
	closeTimeout time.Duration

	// abandoned is set once a closing handshake timed out; the library
	// finishes tearing the connection down in the background.
	abandoned atomic.Bool
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (c *wsConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	wt := websocket.MessageText
	if typ == MessageBinary {
		wt = websocket.MessageBinary
	}
	return c.conn.Write(ctx, wt, data)
}

// Close runs the closing handshake. When the peer does not answer within the
// close timeout, Close returns and the connection is torn down in the
// background.
func (c *wsConn) Close(code int, reason string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.conn.Close(websocket.StatusCode(code), reason)
	}()

	timer := time.NewTimer(c.closeTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		// CloseNow waits for the in-flight handshake.
		c.abandoned.Store(true)
		go func() { _ = c.conn.CloseNow() }()
		return fmt.Errorf("websocket close: %w", ErrHandshakeTimeout)
	}
}

func (c *wsConn) CloseNow() error {
	if c.abandoned.Load() {
		return nil
	}
	return c.conn.CloseNow()
}
