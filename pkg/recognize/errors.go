package recognize

import "errors"

var (
	// ErrHandshakeTimeout is wrapped by a *TransportError when the opening
	// handshake did not finish within the handshake timeout.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrUnexpectedClose is wrapped by a *TransportError when the connection
	// closed before the session completed.
	ErrUnexpectedClose = errors.New("connection closed unexpectedly")

	// ErrListenerUsed is returned by [Listener.Run] on a second call.
	ErrListenerUsed = errors.New("recognize: listener already ran; create a new one per session")
)

// TransportError reports a connection-level failure.
type TransportError struct {
	// Op is the failed operation: "dial", "send", "read", "audio" or "cancel".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "recognize: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is an error message reported by the service.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "recognize: server error: " + e.Message
}
