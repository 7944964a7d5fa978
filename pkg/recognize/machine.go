package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// State is a phase of the recognition protocol.
type State int

const (
	// StateConnecting is the initial state, before the transport is open.
	StateConnecting State = iota

	// StateAwaitingListening means the start message was sent and audio is
	// flowing, but the service has not acknowledged it yet.
	StateAwaitingListening

	// StateListening means the service acknowledged the start message.
	StateListening

	// StateClosing means the service finished the session and the transport
	// close was requested.
	StateClosing

	// StateClosed is the terminal state of a completed session.
	StateClosed

	// StateErrored is the terminal state of a session that ended with an
	// error or an inactivity timeout.
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingListening:
		return "awaiting-listening"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Machine interprets the inbound messages of one session and invokes the
// [Callback]. It is not safe for concurrent use; the [Listener] drives it from
// a single goroutine. A Machine serves exactly one session.
type Machine struct {
	cb    Callback
	start []byte
	log   *slog.Logger

	closeTimeout time.Duration

	conn           Conn
	state          State
	closeRequested bool
	err            error
}

// NewMachine returns a Machine in [StateConnecting]. A nil logger means
// slog.Default().
func NewMachine(cb Callback, opts Options, logger *slog.Logger) (*Machine, error) {
	if cb == nil {
		return nil, errors.New("recognize: callback must not be nil")
	}
	start, err := opts.startMessage()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{cb: cb, start: start, log: logger, closeTimeout: HandshakeTimeout}, nil
}

// SetCloseTimeout bounds the write of the close control message. d <= 0 keeps
// [HandshakeTimeout].
func (m *Machine) SetCloseTimeout(d time.Duration) {
	if d > 0 {
		m.closeTimeout = d
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Err returns the error passed to [Callback.OnError], if any.
func (m *Machine) Err() error { return m.err }

// CanSend reports whether audio frames may still be written.
func (m *Machine) CanSend() bool {
	return m.state == StateAwaitingListening || m.state == StateListening
}

// Open handles the transport-open event: it reports the connection and sends
// the start message. The caller starts the audio upload right after.
func (m *Machine) Open(ctx context.Context, conn Conn) error {
	if m.state != StateConnecting {
		return fmt.Errorf("recognize: open in state %s", m.state)
	}
	m.conn = conn
	m.state = StateAwaitingListening
	m.log.Debug("transport open, sending start message")
	m.cb.OnConnected()

	if err := conn.Write(ctx, MessageText, m.start); err != nil {
		m.TransportFailed("send", err)
		return err
	}
	return nil
}

// HandleMessage decodes an inbound frame and dispatches it. Binary frames and
// malformed or unrecognized messages are ignored.
func (m *Machine) HandleMessage(typ MessageType, data []byte) {
	if m.state.Terminal() {
		m.log.Debug("message after session end ignored", "state", m.state)
		return
	}
	if typ != MessageText {
		m.log.Debug("binary message ignored", "bytes", len(data))
		return
	}
	ev, err := DecodeEvent(data)
	if err != nil {
		m.log.Debug("malformed message ignored", "err", err)
		return
	}
	m.Handle(ev)
}

// Handle advances the state machine with a decoded event.
func (m *Machine) Handle(ev Event) {
	if m.state.Terminal() {
		return
	}
	switch ev := ev.(type) {
	case ErrorEvent:
		m.handleError(ev)
	case StateEvent:
		m.handleState(ev)
	case ResultsEvent:
		m.handleResults(ev)
	default:
		m.log.Debug("unrecognized message ignored")
	}
}

func (m *Machine) handleError(ev ErrorEvent) {
	m.log.Info("server error", "error", ev.Message, "state", m.state)
	m.state = StateErrored
	if strings.HasPrefix(ev.Message, InactivityPrefix) {
		m.cb.OnInactivityTimeout()
	} else {
		m.err = &ServerError{Message: ev.Message}
		m.cb.OnError(m.err)
	}
	m.requestClose()
}

func (m *Machine) handleState(ev StateEvent) {
	switch m.state {
	case StateAwaitingListening:
		m.state = StateListening
		m.log.Debug("service listening", "state_value", ev.State)
		m.cb.OnListening()
	case StateListening:
		m.state = StateClosing
		m.log.Debug("service finished, closing session")
		ctx, cancel := context.WithTimeout(context.Background(), m.closeTimeout)
		err := m.conn.Write(ctx, MessageText, closeMessage)
		cancel()
		if err != nil {
			m.log.Debug("send close message failed", "err", err)
		}
		m.cb.OnTranscriptionComplete()
		m.requestClose()
	default:
		m.log.Debug("state message ignored", "state", m.state)
	}
}

func (m *Machine) handleResults(ev ResultsEvent) {
	if m.state != StateListening {
		m.log.Debug("results before listening ack ignored", "state", m.state)
		return
	}
	if len(ev.Results) == 0 {
		m.log.Info("empty hypothesis")
		return
	}
	first := ev.Results[0]
	if len(first.Alternatives) == 0 {
		m.log.Debug("result without alternatives ignored", "result_index", ev.ResultIndex)
		return
	}
	if first.Final {
		m.cb.OnHypothesis(first.Alternatives[0].Transcript)
		return
	}
	m.cb.OnTranscription(transcripts(first.Alternatives))
}

// TransportClosed handles the transport-close event. err is the read error
// that revealed the close and may be nil.
func (m *Machine) TransportClosed(err error) {
	switch {
	case m.state.Terminal():
		return
	case m.state == StateClosing:
		m.state = StateClosed
		m.log.Debug("transport closed, session complete")
	default:
		cause := ErrUnexpectedClose
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrUnexpectedClose, err)
		}
		m.fail(&TransportError{Op: "read", Err: cause})
	}
}

// TransportFailed reports a failed transport operation such as a dial, a
// rejected send or a cancelled session.
func (m *Machine) TransportFailed(op string, err error) {
	switch {
	case m.state.Terminal():
		return
	case m.state == StateClosing:
		m.state = StateClosed
		m.log.Debug("transport failure while closing", "op", op, "err", err)
	default:
		m.fail(&TransportError{Op: op, Err: err})
	}
}

func (m *Machine) fail(err error) {
	m.log.Warn("session failed", "err", err, "state", m.state)
	m.state = StateErrored
	m.err = err
	m.cb.OnError(err)
}

// requestClose asks the transport to close with the normal closure code. It
// is a no-op after the first call.
func (m *Machine) requestClose() {
	if m.closeRequested || m.conn == nil {
		return
	}
	m.closeRequested = true
	if err := m.conn.Close(StatusNormalClosure, ""); err != nil {
		m.log.Debug("close handshake", "err", err)
	}
}
