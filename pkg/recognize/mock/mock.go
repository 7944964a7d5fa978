// Package mock provides test doubles for the recognize package interfaces.
//
// Use Conn as a scripted transport: push inbound messages with Push or
// PushJSON, react to outbound frames with OnWrite, and inspect Writes and
// CloseCalls afterwards. Use Callback to record the events a session emits.
//
// Example:
//
//	conn := mock.NewConn()
//	conn.OnWrite = func(c *mock.Conn, f mock.Frame) {
//	    if f.Type == recognize.MessageBinary && len(f.Data) == 0 {
//	        c.PushJSON(`{"state":"listening"}`)
//	    }
//	}
//	cb := &mock.Callback{}
//	err := recognize.Recognize(ctx, "ws://test", audio, opts, cb,
//	    recognize.WithDialer(&mock.Dialer{Conn: conn}))
package mock

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// ErrClosed is returned by Conn.Read and Conn.Write once the conn is closed.
var ErrClosed = errors.New("mock: connection closed")

// Frame is one recorded or scripted message.
type Frame struct {
	Type recognize.MessageType
	Data []byte

	// Deadline is the deadline of the Write context; zero when it had none.
	Deadline time.Time
}

// CloseCall records a single invocation of Conn.Close.
type CloseCall struct {
	Code   int
	Reason string
}

// Conn is a mock implementation of recognize.Conn.
type Conn struct {
	// OnWrite, if set, is called after every successful Write, outside the
	// lock. It may call Push or Close.
	OnWrite func(c *Conn, f Frame)

	// WriteErr, if non-nil, is returned by every Write and nothing is recorded.
	WriteErr error

	// FailBinaryAfter, if positive, makes binary writes fail with ErrClosed
	// once that many binary frames were recorded.
	FailBinaryAfter int

	mu            sync.Mutex
	writes        []Frame
	closeCalls    []CloseCall
	closeNowCalls int

	inbound   chan Frame
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn returns an open Conn with room for 64 unread inbound messages.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan Frame, 64),
		closed:  make(chan struct{}),
	}
}

// Push queues an inbound message. It panics when the buffer is full, which
// always indicates a broken test.
func (c *Conn) Push(f Frame) {
	select {
	case c.inbound <- f:
	default:
		panic("mock: inbound buffer full")
	}
}

// PushJSON queues an inbound text message.
func (c *Conn) PushJSON(s string) {
	c.Push(Frame{Type: recognize.MessageText, Data: []byte(s)})
}

// Read returns queued messages first and ErrClosed once the conn is closed
// and drained.
func (c *Conn) Read(ctx context.Context) (recognize.MessageType, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.Type, f.Data, nil
	default:
	}
	select {
	case f := <-c.inbound:
		return f.Type, f.Data, nil
	case <-c.closed:
		return 0, nil, ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Write records a copy of data.
func (c *Conn) Write(ctx context.Context, typ recognize.MessageType, data []byte) error {
	if c.WriteErr != nil {
		return c.WriteErr
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	f := Frame{Type: typ, Data: slices.Clone(data)}
	f.Deadline, _ = ctx.Deadline()
	if f.Data == nil {
		f.Data = []byte{}
	}

	c.mu.Lock()
	if typ == recognize.MessageBinary && c.FailBinaryAfter > 0 && c.countBinary() >= c.FailBinaryAfter {
		c.mu.Unlock()
		return ErrClosed
	}
	c.writes = append(c.writes, f)
	hook := c.OnWrite
	c.mu.Unlock()

	if hook != nil {
		hook(c, f)
	}
	return nil
}

// countBinary must be called with c.mu held.
func (c *Conn) countBinary() int {
	n := 0
	for _, w := range c.writes {
		if w.Type == recognize.MessageBinary {
			n++
		}
	}
	return n
}

// Close records the call and closes the conn.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCalls = append(c.closeCalls, CloseCall{Code: code, Reason: reason})
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// CloseNow records the call and closes the conn.
func (c *Conn) CloseNow() error {
	c.mu.Lock()
	c.closeNowCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Writes returns a copy of all recorded frames in write order.
func (c *Conn) Writes() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

// Texts returns the recorded text frames as strings.
func (c *Conn) Texts() []string {
	var out []string
	for _, f := range c.Writes() {
		if f.Type == recognize.MessageText {
			out = append(out, string(f.Data))
		}
	}
	return out
}

// Binaries returns the recorded binary frames.
func (c *Conn) Binaries() [][]byte {
	var out [][]byte
	for _, f := range c.Writes() {
		if f.Type == recognize.MessageBinary {
			out = append(out, f.Data)
		}
	}
	return out
}

// CloseCalls returns a copy of all recorded Close calls.
func (c *Conn) CloseCalls() []CloseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.closeCalls)
}

// CloseNowCalls returns how often CloseNow was called.
func (c *Conn) CloseNowCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeNowCalls
}

// Ensure Conn implements recognize.Conn at compile time.
var _ recognize.Conn = (*Conn)(nil)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	URL    string
	Header http.Header
}

// Dialer is a mock implementation of recognize.Dialer.
type Dialer struct {
	// Conn is returned by Dial.
	Conn *Conn

	// Err, if non-nil, is returned by Dial instead of Conn.
	Err error

	// Block makes Dial wait for its context to end, simulating a handshake
	// that never finishes.
	Block bool

	mu    sync.Mutex
	calls []DialCall
}

// Dial records the call and returns Conn or Err.
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (recognize.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{URL: url, Header: header.Clone()})
	d.mu.Unlock()

	if d.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

// Calls returns a copy of all recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// Ensure Dialer implements recognize.Dialer at compile time.
var _ recognize.Dialer = (*Dialer)(nil)
