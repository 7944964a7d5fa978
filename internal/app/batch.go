package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechsocket/internal/observe"
	"github.com/MrWong99/speechsocket/internal/resilience"
	"github.com/MrWong99/speechsocket/internal/store"
	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// saveTimeout bounds persisting a session, which also happens after ctx was
// cancelled.
const saveTimeout = 10 * time.Second

// Result is the outcome of one source.
type Result struct {
	SessionID  uuid.UUID
	Source     string
	Outcome    string
	Err        error
	Hypotheses []store.Hypothesis
	Stats      recognize.Stats
}

// Transcribe runs one recognition session per source, at most
// batch.concurrency at a time. Sessions are independent: a failing source
// does not stop the others. Results are in source order; the returned error
// joins the errors of all failed sources.
func (a *App) Transcribe(ctx context.Context, sources []Source) ([]Result, error) {
	results := make([]Result, len(sources))

	var g errgroup.Group
	g.SetLimit(max(a.cfg.Batch.Concurrency, 1))
	for i, src := range sources {
		g.Go(func() error {
			results[i] = a.transcribe(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Source, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// transcribe runs the session for src inside a span, records metrics and
// persists the outcome.
func (a *App) transcribe(ctx context.Context, src Source) Result {
	res := Result{SessionID: uuid.New(), Source: src.Name}
	started := time.Now()

	ctx, span := observe.StartSessionSpan(ctx, res.SessionID.String(), src.Name)
	log := observe.Logger(ctx).With("session_id", res.SessionID, "source", src.Name)

	rec := newRecorder(ctx, src.Name, a.out, a.metrics)
	res.Err = a.breaker.Execute(ctx, func(ctx context.Context) error {
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(ctx, -1)

		audio, err := src.Open()
		if err != nil {
			return fmt.Errorf("open audio: %w", err)
		}
		defer audio.Close()

		opts := []recognize.Option{
			recognize.WithHeader(a.header),
			recognize.WithLogger(log),
			recognize.WithHandshakeTimeout(a.cfg.Service.HandshakeTimeout),
			recognize.WithDialer(a.dialer),
		}
		l, err := recognize.NewListener(a.cfg.Service.Endpoint, audio, a.cfg.Recognize, rec, opts...)
		if err != nil {
			return err
		}
		err = l.Run(ctx)
		res.Stats = l.Stats()
		return err
	})
	res.Hypotheses = rec.hypotheses()

	switch {
	case errors.Is(res.Err, resilience.ErrOpen):
		res.Outcome = observe.OutcomeRejected
	case res.Err != nil:
		res.Outcome = observe.OutcomeError
	case rec.inactive():
		res.Outcome = observe.OutcomeInactivity
	default:
		res.Outcome = observe.OutcomeCompleted
	}

	duration := time.Since(started)
	a.metrics.RecordSession(ctx, res.Outcome, duration)
	a.metrics.RecordUpload(ctx, res.Stats.BytesSent, res.Stats.Chunks)

	if res.Outcome != observe.OutcomeRejected {
		if err := a.save(ctx, res, started, duration); err != nil {
			log.Warn("failed to persist session", "err", err)
		}
	}

	observe.EndSessionSpan(span, res.Outcome, res.Err)
	log.Info("session done", "outcome", res.Outcome, "hypotheses", len(res.Hypotheses), "err", res.Err)
	return res
}

func (a *App) save(ctx context.Context, res Result, started time.Time, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	sess := store.Session{
		ID:        res.SessionID,
		Source:    res.Source,
		Outcome:   res.Outcome,
		StartedAt: started,
		Duration:  d,
		BytesSent: res.Stats.BytesSent,
	}
	if res.Err != nil {
		sess.Error = res.Err.Error()
	}
	return a.store.SaveHypotheses(ctx, sess, res.Hypotheses)
}
