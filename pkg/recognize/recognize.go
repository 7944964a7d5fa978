// Package recognize implements a streaming speech-recognition client for a
// WebSocket transcription service.
//
// A session is driven by a [Listener]. Once opened, the listener sends a JSON
// start message built from [Options], uploads the audio source as paced binary
// frames (see [Pacer]), and feeds every inbound message to a [Machine] which
// translates the service protocol into [Callback] invocations:
//
//	cb := &myCallback{}
//	err := recognize.Recognize(ctx, endpoint, audioFile, recognize.Options{
//	    ContentType:    "audio/flac",
//	    InterimResults: true,
//	}, cb, recognize.WithHeader(header))
//
// All callbacks of one session run on a single goroutine in the order the
// driving events were observed. Sessions are independent; run several
// listeners on separate goroutines to transcribe in parallel.
package recognize

import "time"

const (
	// ChunkSize is the maximum number of audio bytes sent per binary frame.
	ChunkSize = 1000

	// ChunkInterval is the delay between two consecutive audio frames.
	ChunkInterval = 10 * time.Millisecond

	// HandshakeTimeout bounds both the opening and the closing handshake.
	HandshakeTimeout = 6 * time.Second

	// InactivityPrefix marks a server error that reports an inactivity timeout
	// rather than a failure.
	InactivityPrefix = "No speech detected for"
)

// Callback receives the events of one recognition session.
//
// Every method is invoked from the listener's event loop goroutine, never
// concurrently. Implementations should return quickly; blocking delays the
// processing of later messages and the audio upload.
type Callback interface {
	// OnConnected is called once the transport is open.
	OnConnected()

	// OnListening is called when the service acknowledges the start message.
	OnListening()

	// OnTranscription is called with every alternative of an interim result.
	OnTranscription(transcripts []Transcript)

	// OnHypothesis is called with the top transcript of a final result.
	OnHypothesis(hypothesis string)

	// OnError is called at most once per session with a *ServerError or a
	// *TransportError.
	OnError(err error)

	// OnInactivityTimeout is called when the service stopped waiting for speech.
	OnInactivityTimeout()

	// OnTranscriptionComplete is called after the service returned its final
	// result and the session is being closed.
	OnTranscriptionComplete()
}

// DiscardHypothesis can be embedded in a Callback implementation that is not
// interested in final hypotheses.
type DiscardHypothesis struct{}

// OnHypothesis does nothing.
func (DiscardHypothesis) OnHypothesis(string) {}

// Transcript is one recognition alternative as delivered to
// [Callback.OnTranscription].
type Transcript struct {
	Transcript string `json:"transcript"`

	// Confidence is nil when the service did not report one.
	Confidence *float64 `json:"confidence,omitempty"`
}
