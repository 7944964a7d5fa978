// Package resilience guards the recognition service against being hammered
// while it is unreachable.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). The
// batch runner passes every session through it: once MaxFailures sessions in
// a row fail at the transport level, further sessions are rejected without
// dialing until ResetTimeout has passed and a probe session succeeds.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take the defaults noted below.
type Config struct {
	// Name labels log messages.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax successful probes close the breaker again. Default: 1.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Errors
	// it rejects are returned but treated as successes. nil counts every
	// non-nil error.
	IsFailure func(error) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Breaker implements the circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	log          *slog.Logger
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// New returns a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		log:          cfg.Logger.With("breaker", cfg.Name),
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open. A cancelled ctx is returned
// without calling fn and without touching the counters. A call that fails
// because ctx was cancelled proves nothing about the service: it leaves the
// counters and the state unchanged and frees its probe slot.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if probe && b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
		return err
	}
	if err != nil && b.isFailure(err) {
		b.recordFailure(probe)
	} else {
		b.recordSuccess(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
		b.log.Info("circuit breaker half-open")
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, ErrOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probe bool) {
	if probe {
		b.trip("circuit breaker re-opened by failed probe")
		return
	}
	if b.state != StateClosed {
		return
	}
	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.trip("circuit breaker opened")
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probe bool) {
	if !probe {
		if b.state == StateClosed {
			b.consecutiveFail = 0
		}
		return
	}
	b.probeSuccesses++
	if b.probeSuccesses >= b.halfOpenMax {
		b.state = StateClosed
		b.consecutiveFail = 0
		b.log.Info("circuit breaker closed")
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip(msg string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.log.Warn(msg, "consecutive_failures", b.consecutiveFail, "reset_timeout", b.resetTimeout)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports half-open; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Ready reports an error while the breaker is open. It backs the readiness
// probe.
func (b *Breaker) Ready(context.Context) error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	return nil
}
