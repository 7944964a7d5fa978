package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS recognition_sessions (
    id           UUID         PRIMARY KEY,
    source       TEXT         NOT NULL,
    outcome      TEXT         NOT NULL,
    error        TEXT         NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ  NOT NULL,
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    bytes_sent   BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_recognition_sessions_started_at
    ON recognition_sessions (started_at DESC);

CREATE TABLE IF NOT EXISTS hypotheses (
    session_id   UUID              NOT NULL REFERENCES recognition_sessions (id) ON DELETE CASCADE,
    seq          INTEGER           NOT NULL,
    transcript   TEXT              NOT NULL,
    confidence   DOUBLE PRECISION,
    received_at  TIMESTAMPTZ       NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
