package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PoolConfig struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewPool opens a connection pool and checks it with a ping.
func NewPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS schedule_states (
	user_id                  TEXT             NOT NULL,
	card_id                  TEXT             NOT NULL,
	deck_id                  TEXT             NOT NULL DEFAULT '',
	state                    TEXT             NOT NULL,
	ease_factor              DOUBLE PRECISION NOT NULL,
	interval_days            DOUBLE PRECISION NOT NULL DEFAULT 0,
	learning_step            INTEGER          NOT NULL DEFAULT 0,
	review_count             INTEGER          NOT NULL DEFAULT 0,
	again_count              INTEGER          NOT NULL DEFAULT 0,
	hard_count               INTEGER          NOT NULL DEFAULT 0,
	good_count               INTEGER          NOT NULL DEFAULT 0,
	easy_count               INTEGER          NOT NULL DEFAULT 0,
	lapse_count              INTEGER          NOT NULL DEFAULT 0,
	last_reviewed_at         TIMESTAMPTZ,
	next_review_at           TIMESTAMPTZ,
	average_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	perceived_difficulty     DOUBLE PRECISION NOT NULL DEFAULT 5,
	pre_lapse_interval_days  DOUBLE PRECISION NOT NULL DEFAULT 0,
	response_samples         INTEGER          NOT NULL DEFAULT 0,
	version                  BIGINT           NOT NULL DEFAULT 1,
	PRIMARY KEY (user_id, card_id)
);

ALTER TABLE schedule_states ADD COLUMN IF NOT EXISTS response_samples INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS schedule_states_due_idx
	ON schedule_states (user_id, deck_id, next_review_at);

CREATE TABLE IF NOT EXISTS learning_profiles (
	user_id                TEXT PRIMARY KEY,
	learning_speed         TEXT             NOT NULL,
	mult_again             DOUBLE PRECISION NOT NULL,
	mult_hard              DOUBLE PRECISION NOT NULL,
	mult_good              DOUBLE PRECISION NOT NULL,
	mult_easy              DOUBLE PRECISION NOT NULL,
	optimal_session_length INTEGER          NOT NULL,
	daily_review_goal      INTEGER          NOT NULL,
	difficulty_preference  TEXT             NOT NULL,
	is_calibrated          BOOLEAN          NOT NULL DEFAULT FALSE,
	calibration_reviews    INTEGER          NOT NULL DEFAULT 0,
	last_calibration_date  TIMESTAMPTZ,
	version                BIGINT           NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS study_sessions (
	id                       TEXT PRIMARY KEY,
	user_id                  TEXT             NOT NULL,
	deck_id                  TEXT             NOT NULL DEFAULT '',
	again_count              INTEGER          NOT NULL DEFAULT 0,
	hard_count               INTEGER          NOT NULL DEFAULT 0,
	good_count               INTEGER          NOT NULL DEFAULT 0,
	easy_count               INTEGER          NOT NULL DEFAULT 0,
	average_accuracy         DOUBLE PRECISION NOT NULL DEFAULT 0,
	average_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	time_of_day              INTEGER          NOT NULL DEFAULT 0,
	session_quality          DOUBLE PRECISION NOT NULL DEFAULT 0,
	was_completed            BOOLEAN          NOT NULL DEFAULT FALSE,
	started_at               TIMESTAMPTZ      NOT NULL,
	ended_at                 TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS study_sessions_user_idx
	ON study_sessions (user_id, ended_at DESC);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
