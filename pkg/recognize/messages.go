package recognize

import (
	"fmt"

	"github.com/goccy/go-json"
)

const (
	actionStart = "start"
	actionClose = "close"
)

// closeMessage is the JSON text of the close control message.
var closeMessage = []byte(`{"action":"close"}`)

// Event is a decoded inbound service message: one of [StateEvent],
// [ErrorEvent], [ResultsEvent] or [UnknownEvent].
type Event interface {
	event()
}

// StateEvent acknowledges the session state. The first one means the service
// is listening; the second one means it has finished the session.
type StateEvent struct {
	State string
}

// ErrorEvent carries a server-reported error message.
type ErrorEvent struct {
	Message string
}

// ResultsEvent carries recognition results.
type ResultsEvent struct {
	ResultIndex int
	Results     []RecognitionResult
}

// UnknownEvent is a message without any recognized discriminator key.
type UnknownEvent struct{}

func (StateEvent) event()   {}
func (ErrorEvent) event()   {}
func (ResultsEvent) event() {}
func (UnknownEvent) event() {}

// RecognitionResult is one entry of a results message.
type RecognitionResult struct {
	Alternatives []Alternative `json:"alternatives"`
	Final        bool          `json:"final"`
}

// Alternative is one candidate transcript of a [RecognitionResult].
type Alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// inboundMessage mirrors the union of all inbound message shapes.
type inboundMessage struct {
	Error         *string         `json:"error"`
	State         json.RawMessage `json:"state"`
	ResultIndex   int             `json:"result_index"`
	Results       json.RawMessage `json:"results"`
	SpeakerLabels json.RawMessage `json:"speaker_labels"`
}

// DecodeEvent decodes one inbound JSON text frame. Keys are checked in the
// order error, state, results/speaker_labels.
func DecodeEvent(data []byte) (Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("recognize: decode message: %w", err)
	}
	switch {
	case msg.Error != nil:
		return ErrorEvent{Message: *msg.Error}, nil
	case msg.State != nil:
		var state string
		// The state value is informational; a non-string value is still an ack.
		_ = json.Unmarshal(msg.State, &state)
		return StateEvent{State: state}, nil
	case msg.Results != nil || msg.SpeakerLabels != nil:
		ev := ResultsEvent{ResultIndex: msg.ResultIndex}
		if msg.Results != nil {
			if err := json.Unmarshal(msg.Results, &ev.Results); err != nil {
				return nil, fmt.Errorf("recognize: decode results: %w", err)
			}
		}
		if len(ev.Results) == 0 {
			ev.Results = nil
		}
		return ev, nil
	default:
		return UnknownEvent{}, nil
	}
}

// transcripts copies the alternatives into the callback payload shape.
func transcripts(alts []Alternative) []Transcript {
	out := make([]Transcript, 0, len(alts))
	for _, a := range alts {
		out = append(out, Transcript{Transcript: a.Transcript, Confidence: a.Confidence})
	}
	return out
}
