package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speechsocket/internal/observe"
	"github.com/MrWong99/speechsocket/internal/store"
	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// printer serialises transcript lines from concurrent sessions.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// recorder is the [recognize.Callback] of one batch session. It prints
// transcripts, counts events and collects final hypotheses. Callbacks arrive
// on the session's loop goroutine; the mutex guards reads after Run.
type recorder struct {
	ctx     context.Context
	source  string
	out     *printer
	metrics *observe.Metrics
	log     *slog.Logger

	mu         sync.Mutex
	hyps       []store.Hypothesis
	inactivity bool
}

var _ recognize.Callback = (*recorder)(nil)

func newRecorder(ctx context.Context, source string, out *printer, m *observe.Metrics) *recorder {
	return &recorder{
		ctx:     ctx,
		source:  source,
		out:     out,
		metrics: m,
		log:     observe.Logger(ctx).With("source", source),
	}
}

func (r *recorder) OnConnected() {
	r.metrics.RecordEvent(r.ctx, "connected")
	r.log.Debug("connected")
}

func (r *recorder) OnListening() {
	r.metrics.RecordEvent(r.ctx, "listening")
	r.log.Debug("service listening")
}

func (r *recorder) OnTranscription(ts []recognize.Transcript) {
	r.metrics.RecordEvent(r.ctx, "transcription")
	if len(ts) == 0 {
		return
	}
	r.out.printf("%s ~ %s\n", r.source, ts[0].Transcript)
}

func (r *recorder) OnHypothesis(h string) {
	r.metrics.RecordEvent(r.ctx, "hypothesis")
	h = strings.TrimSpace(h)

	r.mu.Lock()
	r.hyps = append(r.hyps, store.Hypothesis{
		Seq:        len(r.hyps),
		Transcript: h,
		ReceivedAt: time.Now(),
	})
	r.mu.Unlock()

	r.out.printf("%s: %s\n", r.source, h)
}

func (r *recorder) OnError(err error) {
	r.metrics.RecordEvent(r.ctx, "error")
	r.log.Error("recognition failed", "err", err)
}

func (r *recorder) OnInactivityTimeout() {
	r.metrics.RecordEvent(r.ctx, "inactivity_timeout")
	r.log.Warn("no speech detected, session closed by the service")

	r.mu.Lock()
	r.inactivity = true
	r.mu.Unlock()
}

func (r *recorder) OnTranscriptionComplete() {
	r.metrics.RecordEvent(r.ctx, "transcription_complete")
	r.log.Debug("transcription complete")
}

func (r *recorder) hypotheses() []store.Hypothesis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Hypothesis(nil), r.hyps...)
}

func (r *recorder) inactive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inactivity
}
