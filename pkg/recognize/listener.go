package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Option is a functional option for configuring a [Listener].
type Option func(*Listener)

// WithHeader sets the HTTP headers sent with the opening handshake, typically
// the authorization header.
func WithHeader(h http.Header) Option {
	return func(l *Listener) { l.header = h.Clone() }
}

// WithDialer replaces the default [WebSocketDialer]. Tests use it to inject a
// scripted connection.
func WithDialer(d Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

// WithLogger sets the logger used for the session. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.log = logger }
}

// WithHandshakeTimeout overrides [HandshakeTimeout] for the opening and the
// closing handshake. A dialer set with [WithDialer] bounds its own close.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.handshakeTimeout = d
		}
	}
}

// WithChunkInterval overrides [ChunkInterval].
func WithChunkInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.interval = d
		}
	}
}

// Stats summarises a finished session.
type Stats struct {
	BytesSent int64
	Chunks    int
	State     State
	Duration  time.Duration
}

// Listener runs one streaming recognition session. It owns the transport, the
// [Machine] and the [Pacer], and drives all three from a single event loop.
type Listener struct {
	endpoint         string
	header           http.Header
	dialer           Dialer
	log              *slog.Logger
	handshakeTimeout time.Duration
	interval         time.Duration

	machine *Machine
	pacer   *Pacer

	ran      atomic.Bool
	duration time.Duration
}

// NewListener prepares a session that streams audio to endpoint (a ws:// or
// wss:// URL) with the given recognition options and reports to cb.
func NewListener(endpoint string, audio io.Reader, opts Options, cb Callback, options ...Option) (*Listener, error) {
	if endpoint == "" {
		return nil, errors.New("recognize: endpoint must not be empty")
	}
	if audio == nil {
		return nil, errors.New("recognize: audio source must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	l := &Listener{
		endpoint:         endpoint,
		header:           http.Header{},
		log:              slog.Default(),
		handshakeTimeout: HandshakeTimeout,
		interval:         ChunkInterval,
	}
	for _, o := range options {
		o(l)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.dialer == nil {
		l.dialer = WebSocketDialer{CloseTimeout: l.handshakeTimeout}
	}

	m, err := NewMachine(cb, opts, l.log)
	if err != nil {
		return nil, err
	}
	m.SetCloseTimeout(l.handshakeTimeout)
	l.machine = m
	l.pacer = NewPacer(audio, ChunkSize)
	return l, nil
}

// Recognize runs a single session to completion. See [Listener.Run].
func Recognize(ctx context.Context, endpoint string, audio io.Reader, opts Options, cb Callback, options ...Option) error {
	l, err := NewListener(endpoint, audio, opts, cb, options...)
	if err != nil {
		return err
	}
	return l.Run(ctx)
}

// Run connects, streams the audio and blocks until the session reaches a
// terminal state. Every failure is reported through [Callback.OnError] and
// also returned; a completed session or an inactivity timeout returns nil.
// The transport is closed and all goroutines have exited when Run returns.
//
// Cancelling ctx aborts the session as a transport failure.
func (l *Listener) Run(ctx context.Context) error {
	if !l.ran.CompareAndSwap(false, true) {
		return ErrListenerUsed
	}
	start := time.Now()
	defer func() {
		l.duration = time.Since(start)
		l.log.Info("recognition session finished",
			"state", l.machine.State(),
			"bytes_sent", l.pacer.Offset(),
			"chunks", l.pacer.Chunks(),
			"duration", l.duration,
		)
	}()

	dialCtx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	conn, err := l.dialer.Dial(dialCtx, l.endpoint, l.header)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		if timedOut {
			err = fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		l.machine.TransportFailed("dial", err)
		return l.machine.Err()
	}
	return l.loop(ctx, conn)
}

// Stats returns the session summary. It is meaningful after Run returned.
func (l *Listener) Stats() Stats {
	return Stats{
		BytesSent: l.pacer.Offset(),
		Chunks:    l.pacer.Chunks(),
		State:     l.machine.State(),
		Duration:  l.duration,
	}
}

// inbound is one result of a transport read: a frame, or the error that ended
// the read loop. Both travel on the same channel to keep them ordered.
type inbound struct {
	typ  MessageType
	data []byte
	err  error
}

func (l *Listener) loop(ctx context.Context, conn Conn) error {
	readCtx, stopRead := context.WithCancel(context.Background())
	frames := make(chan inbound, 32)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			typ, data, err := conn.Read(readCtx)
			select {
			case frames <- inbound{typ: typ, data: data, err: err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = conn.CloseNow()
		stopRead()
		<-readerDone
	}()

	if err := l.machine.Open(ctx, conn); err != nil {
		return l.machine.Err()
	}

	send := func(ctx context.Context, frame []byte) error {
		return conn.Write(ctx, MessageBinary, frame)
	}

	// The first chunk goes out right away; the service buffers audio that
	// arrives before the listening acknowledgement.
	pace := time.NewTimer(0)
	defer pace.Stop()
	paceC := pace.C

	for !l.machine.State().Terminal() {
		select {
		case in := <-frames:
			if in.err != nil {
				l.machine.TransportClosed(in.err)
				continue
			}
			l.machine.HandleMessage(in.typ, in.data)

		case <-paceC:
			paceC = nil
			if !l.machine.CanSend() {
				continue
			}
			done, err := l.pacer.Tick(ctx, send)
			if err != nil {
				var srcErr *sourceError
				if errors.As(err, &srcErr) {
					l.machine.TransportFailed("audio", err)
				} else {
					l.machine.TransportFailed("send", err)
				}
				continue
			}
			if done {
				l.log.Debug("audio upload complete", "bytes_sent", l.pacer.Offset())
				continue
			}
			pace.Reset(l.interval)
			paceC = pace.C

		case <-ctx.Done():
			l.machine.TransportFailed("cancel", ctx.Err())
		}
	}
	return l.machine.Err()
}
