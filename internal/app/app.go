// Package app wires the speechsocket subsystems into a batch transcriber.
//
// New builds the session store, the circuit breaker and the metrics from the
// config, Transcribe streams each audio source through its own recognition
// session, and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithStore, WithDialer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/MrWong99/speechsocket/internal/config"
	"github.com/MrWong99/speechsocket/internal/health"
	"github.com/MrWong99/speechsocket/internal/observe"
	"github.com/MrWong99/speechsocket/internal/resilience"
	"github.com/MrWong99/speechsocket/internal/store"
	"github.com/MrWong99/speechsocket/internal/store/postgres"
	"github.com/MrWong99/speechsocket/pkg/recognize"
)

// Source is one audio input of a batch.
type Source struct {
	// Name identifies the source in output, logs and the store.
	Name string

	// Open returns the audio stream. It is called once, when the session
	// for this source starts.
	Open func() (io.ReadCloser, error)
}

// FileSource reads audio from path. "-" reads standard input.
func FileSource(path string) Source {
	if path == "-" {
		return Source{Name: "stdin", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(os.Stdin), nil
		}}
	}
	return Source{Name: path, Open: func() (io.ReadCloser, error) {
		return os.Open(path)
	}}
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	store   store.Store
	metrics *observe.Metrics
	breaker *resilience.Breaker
	dialer  recognize.Dialer
	out     *printer
	header  http.Header

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config. The
// App closes it on Shutdown.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDialer replaces the WebSocket dialer of every session.
func WithDialer(d recognize.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOutput sets where transcripts are printed. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = &printer{w: w} }
}

// New creates an App from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.out == nil {
		a.out = &printer{w: os.Stdout}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.breaker = resilience.New(resilience.Config{
		Name:         "recognition-service",
		MaxFailures:  cfg.Batch.MaxFailures,
		ResetTimeout: cfg.Batch.ResetTimeout,
		IsFailure:    isServiceFailure,
	})

	if a.dialer == nil {
		a.dialer = recognize.WebSocketDialer{CloseTimeout: cfg.Service.HandshakeTimeout}
	}

	a.header = make(http.Header, len(cfg.Service.Headers))
	for k, v := range cfg.Service.Headers {
		a.header.Set(k, v)
	}
	return a, nil
}

// initStore connects the PostgreSQL store when a DSN is configured and falls
// back to an in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	switch {
	case a.store != nil:
	case a.cfg.Storage.PostgresDSN == "":
		slog.Info("storage.postgres_dsn is empty; hypotheses are kept in memory only")
		a.store = store.NewMemStore()
	default:
		s, err := postgres.NewStore(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})
	return nil
}

// isServiceFailure counts transport-level failures against the breaker.
// Server-side rejections of a single stream and cancellations do not mean
// the service is down.
func isServiceFailure(err error) bool {
	var te *recognize.TransportError
	return errors.As(err, &te) && te.Op != "cancel"
}

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// Checkers returns the readiness checks of the app.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "store", Check: a.store.Ping},
		{Name: "recognition-service", Check: a.breaker.Ready},
	}
}

// Shutdown runs the closers in order. If ctx expires first, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
