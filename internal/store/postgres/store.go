// Package postgres implements [store.Store] on PostgreSQL using a pgx
// connection pool.
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speechsocket/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [store.Store]. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// SaveHypotheses implements [store.Store]. The session row and all
// hypotheses are written in one transaction; hypotheses go through COPY.
func (s *Store) SaveHypotheses(ctx context.Context, sess store.Session, hyps []store.Hypothesis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const q = `
		INSERT INTO recognition_sessions
		    (id, source, outcome, error, started_at, duration_ns, bytes_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, q,
		sess.ID,
		sess.Source,
		sess.Outcome,
		sess.Error,
		sess.StartedAt,
		sess.Duration.Nanoseconds(),
		sess.BytesSent,
	); err != nil {
		return fmt.Errorf("postgres store: insert session: %w", err)
	}

	if len(hyps) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"hypotheses"},
			[]string{"session_id", "seq", "transcript", "confidence", "received_at"},
			pgx.CopyFromSlice(len(hyps), func(i int) ([]any, error) {
				h := hyps[i]
				return []any{sess.ID, h.Seq, h.Transcript, h.Confidence, h.ReceivedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres store: copy hypotheses: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// ListSession implements [store.Store].
func (s *Store) ListSession(ctx context.Context, id uuid.UUID) (store.Record, error) {
	const qs = `
		SELECT id, source, outcome, error, started_at, duration_ns, bytes_sent
		FROM   recognition_sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, qs, id)
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get session: %w", err)
	}
	sess, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get session: %w", err)
	}

	const qh = `
		SELECT seq, transcript, confidence, received_at
		FROM   hypotheses
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err = s.pool.Query(ctx, qh, id)
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get hypotheses: %w", err)
	}
	hyps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Hypothesis, error) {
		var h store.Hypothesis
		err := row.Scan(&h.Seq, &h.Transcript, &h.Confidence, &h.ReceivedAt)
		return h, err
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get hypotheses: %w", err)
	}
	return store.Record{Session: sess, Hypotheses: hyps}, nil
}

// Recent implements [store.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]store.Session, error) {
	q := `
		SELECT id, source, outcome, error, started_at, duration_ns, bytes_sent
		FROM   recognition_sessions
		ORDER  BY started_at DESC, id`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return sessions, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() {
	s.pool.Close()
}

func scanSession(row pgx.CollectableRow) (store.Session, error) {
	var (
		sess       store.Session
		durationNS int64
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Source,
		&sess.Outcome,
		&sess.Error,
		&sess.StartedAt,
		&durationNS,
		&sess.BytesSent,
	); err != nil {
		return store.Session{}, err
	}
	sess.Duration = time.Duration(durationNS)
	return sess, nil
}
