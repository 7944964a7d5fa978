package recognize_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/speechsocket/pkg/recognize"
	"github.com/MrWong99/speechsocket/pkg/recognize/mock"
)

// newOpenMachine returns a machine that already handled the transport-open
// event on a fresh mock conn.
func newOpenMachine(t *testing.T) (*recognize.Machine, *mock.Conn, *mock.Callback) {
	t.Helper()
	cb := &mock.Callback{}
	m, err := recognize.NewMachine(cb, recognize.Options{InterimResults: true}, nil)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	conn := mock.NewConn()
	if err := m.Open(context.Background(), conn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m, conn, cb
}

// newListeningMachine returns a machine in StateListening.
func newListeningMachine(t *testing.T) (*recognize.Machine, *mock.Conn, *mock.Callback) {
	t.Helper()
	m, conn, cb := newOpenMachine(t)
	m.Handle(recognize.StateEvent{State: "listening"})
	if m.State() != recognize.StateListening {
		t.Fatalf("state = %v, want listening", m.State())
	}
	return m, conn, cb
}

func assertKinds(t *testing.T, cb *mock.Callback, want ...string) {
	t.Helper()
	got := cb.Kinds()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("callback events = %v, want %v", got, want)
	}
}

func TestNewMachine_NilCallback(t *testing.T) {
	if _, err := recognize.NewMachine(nil, recognize.Options{}, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestMachine_OpenSendsStartAndReportsConnected(t *testing.T) {
	m, conn, cb := newOpenMachine(t)

	if m.State() != recognize.StateAwaitingListening {
		t.Errorf("state = %v, want awaiting-listening", m.State())
	}
	assertKinds(t, cb, mock.KindConnected)

	texts := conn.Texts()
	if len(texts) != 1 || texts[0] != `{"action":"start","interim_results":true}` {
		t.Errorf("text frames = %v, want one start message", texts)
	}
	if !m.CanSend() {
		t.Error("CanSend should be true while awaiting the ack")
	}
}

func TestMachine_OpenTwiceFails(t *testing.T) {
	m, conn, _ := newOpenMachine(t)
	if err := m.Open(context.Background(), conn); err == nil {
		t.Fatal("second Open should fail")
	}
}

func TestMachine_OpenStartSendFailure(t *testing.T) {
	cb := &mock.Callback{}
	m, _ := recognize.NewMachine(cb, recognize.Options{}, nil)
	conn := mock.NewConn()
	conn.WriteErr = errors.New("broken pipe")

	if err := m.Open(context.Background(), conn); err == nil {
		t.Fatal("expected Open to fail")
	}
	if m.State() != recognize.StateErrored {
		t.Errorf("state = %v, want errored", m.State())
	}
	assertKinds(t, cb, mock.KindConnected, mock.KindError)

	var te *recognize.TransportError
	if !errors.As(m.Err(), &te) || te.Op != "send" {
		t.Errorf("Err = %v, want send TransportError", m.Err())
	}
}

func TestMachine_FirstStateEmitsListening(t *testing.T) {
	_, _, cb := newListeningMachine(t)
	assertKinds(t, cb, mock.KindConnected, mock.KindListening)
}

func TestMachine_SecondStateCompletesSession(t *testing.T) {
	m, conn, cb := newListeningMachine(t)

	m.Handle(recognize.StateEvent{State: "listening"})

	if m.State() != recognize.StateClosing {
		t.Fatalf("state = %v, want closing", m.State())
	}
	assertKinds(t, cb, mock.KindConnected, mock.KindListening, mock.KindTranscriptionComplete)

	texts := conn.Texts()
	if len(texts) != 2 || texts[1] != `{"action":"close"}` {
		t.Errorf("text frames = %v, want start then close", texts)
	}
	closes := conn.CloseCalls()
	if len(closes) != 1 || closes[0].Code != recognize.StatusNormalClosure {
		t.Errorf("close calls = %v, want exactly one with code 1000", closes)
	}
	if m.CanSend() {
		t.Error("CanSend should be false while closing")
	}

	m.TransportClosed(mock.ErrClosed)
	if m.State() != recognize.StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}
	if m.Err() != nil {
		t.Errorf("Err = %v, want nil", m.Err())
	}
}

func TestMachine_InterimResultDispatchesTranscription(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{"result_index":0,"results":[{"final":false,"alternatives":[{"transcript":"hi","confidence":0.9},{"transcript":"hey"}]}]}`))

	events := cb.Events()
	if cb.Count(mock.KindHypothesis) != 0 {
		t.Error("interim result must not emit a hypothesis")
	}
	last := events[len(events)-1]
	if last.Kind != mock.KindTranscription {
		t.Fatalf("last event = %s, want transcription", last.Kind)
	}
	if len(last.Transcripts) != 2 {
		t.Fatalf("transcripts = %v, want 2", last.Transcripts)
	}
	if last.Transcripts[0].Transcript != "hi" || last.Transcripts[0].Confidence == nil || *last.Transcripts[0].Confidence != 0.9 {
		t.Errorf("transcripts[0] = %+v, want hi/0.9", last.Transcripts[0])
	}
	if last.Transcripts[1].Transcript != "hey" || last.Transcripts[1].Confidence != nil {
		t.Errorf("transcripts[1] = %+v, want hey without confidence", last.Transcripts[1])
	}
}

func TestMachine_FinalResultDispatchesHypothesis(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{"results":[{"final":true,"alternatives":[{"transcript":"hello world"}]}]}`))

	if cb.Count(mock.KindTranscription) != 0 {
		t.Error("final result must not emit a transcription")
	}
	if cb.Count(mock.KindHypothesis) != 1 {
		t.Fatalf("hypothesis count = %d, want 1", cb.Count(mock.KindHypothesis))
	}
	events := cb.Events()
	if got := events[len(events)-1].Hypothesis; got != "hello world" {
		t.Errorf("hypothesis = %q, want %q", got, "hello world")
	}
}

func TestMachine_OnlyFirstResultDecidesFinality(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.Handle(recognize.ResultsEvent{Results: []recognize.RecognitionResult{
		{Final: false, Alternatives: []recognize.Alternative{{Transcript: "first"}}},
		{Final: true, Alternatives: []recognize.Alternative{{Transcript: "second"}}},
	}})

	if cb.Count(mock.KindHypothesis) != 0 || cb.Count(mock.KindTranscription) != 1 {
		t.Errorf("events = %v, want a single transcription", cb.Kinds())
	}
}

func TestMachine_EmptyResultsAreNoOps(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{"results":[],"result_index":0}`))
	m.Handle(recognize.ResultsEvent{Results: []recognize.RecognitionResult{{Final: true}}})

	assertKinds(t, cb, mock.KindConnected, mock.KindListening)
	if m.State() != recognize.StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
}

func TestMachine_ResultsBeforeListeningIgnored(t *testing.T) {
	m, _, cb := newOpenMachine(t)

	m.Handle(recognize.ResultsEvent{Results: []recognize.RecognitionResult{
		{Final: true, Alternatives: []recognize.Alternative{{Transcript: "early"}}},
	}})

	assertKinds(t, cb, mock.KindConnected)
}

func TestMachine_InactivityTimeout(t *testing.T) {
	m, conn, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{"error":"No speech detected for 5s"}`))

	if cb.Count(mock.KindInactivityTimeout) != 1 || cb.Count(mock.KindError) != 0 {
		t.Errorf("events = %v, want one inactivity timeout and no error", cb.Kinds())
	}
	if m.State() != recognize.StateErrored {
		t.Errorf("state = %v, want errored", m.State())
	}
	if m.Err() != nil {
		t.Errorf("Err = %v, want nil for inactivity", m.Err())
	}
	if n := len(conn.CloseCalls()); n != 1 {
		t.Errorf("close calls = %d, want 1", n)
	}
}

func TestMachine_ServerError(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{"error":"invalid model"}`))

	if cb.Count(mock.KindError) != 1 || cb.Count(mock.KindInactivityTimeout) != 0 {
		t.Fatalf("events = %v, want one error", cb.Kinds())
	}
	events := cb.Events()
	var se *recognize.ServerError
	if !errors.As(events[len(events)-1].Err, &se) || se.Message != "invalid model" {
		t.Errorf("error = %v, want ServerError(invalid model)", events[len(events)-1].Err)
	}
}

func TestMachine_ErrorWhileAwaitingAck(t *testing.T) {
	m, _, cb := newOpenMachine(t)
	m.Handle(recognize.ErrorEvent{Message: "unauthorized"})
	assertKinds(t, cb, mock.KindConnected, mock.KindError)
	if m.State() != recognize.StateErrored {
		t.Errorf("state = %v, want errored", m.State())
	}
}

func TestMachine_UnexpectedClose(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.TransportClosed(errors.New("EOF"))

	if m.State() != recognize.StateErrored {
		t.Fatalf("state = %v, want errored", m.State())
	}
	if !errors.Is(m.Err(), recognize.ErrUnexpectedClose) {
		t.Errorf("Err = %v, want ErrUnexpectedClose", m.Err())
	}
	assertKinds(t, cb, mock.KindConnected, mock.KindListening, mock.KindError)
}

func TestMachine_TransportFailedWhileClosingCompletes(t *testing.T) {
	m, _, cb := newListeningMachine(t)
	m.Handle(recognize.StateEvent{})

	m.TransportFailed("cancel", context.Canceled)

	if m.State() != recognize.StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}
	if cb.Count(mock.KindError) != 0 {
		t.Error("no error expected after completion")
	}
}

func TestMachine_CloseMessageDeadline(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		min     time.Duration
		max     time.Duration
	}{
		{name: "default", timeout: 0, min: 5 * time.Second, max: 7 * time.Second},
		{name: "configured", timeout: 200 * time.Millisecond, min: 0, max: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &mock.Callback{}
			m, err := recognize.NewMachine(cb, recognize.Options{}, nil)
			if err != nil {
				t.Fatalf("NewMachine: %v", err)
			}
			m.SetCloseTimeout(tt.timeout)
			conn := mock.NewConn()
			if err := m.Open(context.Background(), conn); err != nil {
				t.Fatalf("Open: %v", err)
			}
			m.Handle(recognize.StateEvent{})

			before := time.Now()
			m.Handle(recognize.StateEvent{})

			writes := conn.Writes()
			last := writes[len(writes)-1]
			if string(last.Data) != `{"action":"close"}` {
				t.Fatalf("last write = %q, want close message", last.Data)
			}
			if d := last.Deadline.Sub(before); d < tt.min || d > tt.max {
				t.Errorf("close deadline in %v, want between %v and %v", d, tt.min, tt.max)
			}
		})
	}
}

func TestMachine_ErrorWhileClosing(t *testing.T) {
	m, conn, cb := newListeningMachine(t)
	m.Handle(recognize.StateEvent{})
	m.Handle(recognize.ErrorEvent{Message: "invalid model"})

	if m.State() != recognize.StateErrored {
		t.Errorf("state = %v, want errored", m.State())
	}
	var serr *recognize.ServerError
	if !errors.As(m.Err(), &serr) || serr.Message != "invalid model" {
		t.Errorf("Err = %v, want ServerError(invalid model)", m.Err())
	}
	assertKinds(t, cb, mock.KindConnected, mock.KindListening, mock.KindTranscriptionComplete, mock.KindError)
	if n := len(conn.CloseCalls()); n != 1 {
		t.Errorf("close requested %d times, want 1", n)
	}
}

func TestMachine_NoCallbacksAfterTerminalState(t *testing.T) {
	terminals := map[string]func(m *recognize.Machine){
		"closed": func(m *recognize.Machine) {
			m.Handle(recognize.StateEvent{})
			m.TransportClosed(nil)
		},
		"errored": func(m *recognize.Machine) {
			m.Handle(recognize.ErrorEvent{Message: "invalid model"})
		},
		"inactivity": func(m *recognize.Machine) {
			m.Handle(recognize.ErrorEvent{Message: "No speech detected for 30s"})
		},
	}

	for name, terminate := range terminals {
		t.Run(name, func(t *testing.T) {
			m, conn, cb := newListeningMachine(t)
			terminate(m)
			if !m.State().Terminal() {
				t.Fatalf("state = %v, want terminal", m.State())
			}
			before := len(cb.Events())
			closesBefore := len(conn.CloseCalls())

			m.HandleMessage(recognize.MessageText, []byte(`{"state":"listening"}`))
			m.HandleMessage(recognize.MessageText, []byte(`{"state":"listening"}`))
			m.HandleMessage(recognize.MessageText, []byte(`{"error":"boom"}`))
			m.HandleMessage(recognize.MessageText, []byte(`{"error":"No speech detected for 5s"}`))
			m.HandleMessage(recognize.MessageText, []byte(`{"results":[{"final":true,"alternatives":[{"transcript":"late"}]}]}`))
			m.TransportClosed(errors.New("EOF"))
			m.TransportFailed("send", errors.New("closed"))

			if after := len(cb.Events()); after != before {
				t.Errorf("callbacks after terminal state: %v", cb.Kinds()[before:])
			}
			if after := len(conn.CloseCalls()); after != closesBefore {
				t.Errorf("close requested again after terminal state")
			}
		})
	}
}

func TestMachine_IgnoresMalformedAndBinaryMessages(t *testing.T) {
	m, _, cb := newListeningMachine(t)

	m.HandleMessage(recognize.MessageText, []byte(`{{{`))
	m.HandleMessage(recognize.MessageText, []byte(`{"something":"else"}`))
	m.HandleMessage(recognize.MessageBinary, []byte{1, 2, 3})

	assertKinds(t, cb, mock.KindConnected, mock.KindListening)
	if m.State() != recognize.StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
}

func TestState_String(t *testing.T) {
	want := map[recognize.State]string{
		recognize.StateConnecting:        "connecting",
		recognize.StateAwaitingListening: "awaiting-listening",
		recognize.StateListening:         "listening",
		recognize.StateClosing:           "closing",
		recognize.StateClosed:            "closed",
		recognize.StateErrored:           "errored",
		recognize.State(99):              "unknown",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), name)
		}
	}
}
