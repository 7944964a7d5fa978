// Package store persists the outcome of recognition sessions and their final
// hypotheses.
//
// Two implementations exist: [MemStore] keeps everything in process memory
// and backs tests and runs without a database; package postgres stores
// sessions in PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: session not found")

// Session describes one finished recognition session.
type Session struct {
	ID        uuid.UUID
	Source    string
	Outcome   string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
	BytesSent int64
}

// Hypothesis is one final transcript in the order it was received.
type Hypothesis struct {
	Seq        int
	Transcript string
	Confidence *float64
	ReceivedAt time.Time
}

// Record is a session together with its hypotheses.
type Record struct {
	Session    Session
	Hypotheses []Hypothesis
}

// Store is implemented by all session stores. Implementations are safe for
// concurrent use.
type Store interface {
	// SaveHypotheses stores a finished session and its hypotheses
	// atomically. Saving the same session ID twice is an error.
	SaveHypotheses(ctx context.Context, s Session, hyps []Hypothesis) error

	// ListSession returns the session with the given ID, or [ErrNotFound].
	ListSession(ctx context.Context, id uuid.UUID) (Record, error)

	// Recent returns up to limit sessions, most recently started first.
	Recent(ctx context.Context, limit int) ([]Session, error)

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	// Close releases the resources of the store.
	Close()
}
