package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// Event kinds recorded by Callback.
const (
	KindConnected             = "connected"
	KindListening             = "listening"
	KindTranscription         = "transcription"
	KindHypothesis            = "hypothesis"
	KindError                 = "error"
	KindInactivityTimeout     = "inactivity_timeout"
	KindTranscriptionComplete = "transcription_complete"
)

// Event is one recorded callback invocation.
type Event struct {
	Kind        string
	Transcripts []recognize.Transcript
	Hypothesis  string
	Err         error
}

// Callback is a mock implementation of recognize.Callback that records every
// invocation in order.
type Callback struct {
	// OnEvent, if set, is called after each recorded event.
	OnEvent func(Event)

	mu     sync.Mutex
	events []Event
}

func (c *Callback) record(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	hook := c.OnEvent
	c.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (c *Callback) OnConnected() { c.record(Event{Kind: KindConnected}) }
func (c *Callback) OnListening() { c.record(Event{Kind: KindListening}) }

func (c *Callback) OnTranscription(transcripts []recognize.Transcript) {
	c.record(Event{Kind: KindTranscription, Transcripts: transcripts})
}

func (c *Callback) OnHypothesis(hypothesis string) {
	c.record(Event{Kind: KindHypothesis, Hypothesis: hypothesis})
}

func (c *Callback) OnError(err error) { c.record(Event{Kind: KindError, Err: err}) }
func (c *Callback) OnInactivityTimeout() { c.record(Event{Kind: KindInactivityTimeout}) }
func (c *Callback) OnTranscriptionComplete() { c.record(Event{Kind: KindTranscriptionComplete}) }

// Events returns a copy of all recorded events.
func (c *Callback) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// Kinds returns the kinds of all recorded events in order.
func (c *Callback) Kinds() []string {
	events := c.Events()
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Count returns how many events of the given kind were recorded.
func (c *Callback) Count(kind string) int {
	n := 0
	for _, ev := range c.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Ensure Callback implements recognize.Callback at compile time.
var _ recognize.Callback = (*Callback)(nil)
