// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

const scheduleColumns = `user_id, card_id, deck_id, state, ease_factor, interval_days, learning_step,
	review_count, again_count, hard_count, good_count, easy_count, lapse_count,
	last_reviewed_at, next_review_at, average_response_time_ms, perceived_difficulty,
	pre_lapse_interval_days, response_samples, version`

const profileColumns = `user_id, learning_speed, mult_again, mult_hard, mult_good, mult_easy,
	optimal_session_length, daily_review_goal, difficulty_preference, is_calibrated,
	calibration_reviews, last_calibration_date, version`

const sessionColumns = `id, user_id, deck_id, again_count, hard_count, good_count, easy_count,
	average_accuracy, average_response_time_ms, time_of_day, session_quality, was_completed,
	started_at, ended_at`

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	db     DBTX
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// New wraps a pool. The pool is closed by Close.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return newStore(pool, pool, logger)
}

// NewWithDB builds a store on any DBTX, e.g. a transaction. Close is a no-op.
func NewWithDB(db DBTX, logger *zap.Logger) *Store {
	return newStore(db, nil, logger)
}

func newStore(db DBTX, pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, pool: pool, logger: logger.Named("storage.postgres")}
}

func (s *Store) GetSchedule(ctx context.Context, userID, cardID string) (srs.ScheduleState, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedule_states WHERE user_id = $1 AND card_id = $2`

	st, err := scanSchedule(s.db.QueryRow(ctx, query, userID, cardID))
	if errors.Is(err, pgx.ErrNoRows) {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s/%s: %w", userID, cardID, storage.ErrNotFound)
	}
	if err != nil {
		return srs.ScheduleState{}, fmt.Errorf("get schedule: %w", err)
	}
	return st, nil
}

func (s *Store) SaveSchedule(ctx context.Context, st srs.ScheduleState) (srs.ScheduleState, error) {
	args := []any{
		st.UserID, st.CardID, st.DeckID, string(st.State), st.EaseFactor, st.IntervalDays, st.LearningStep,
		st.ReviewCount, st.AgainCount, st.HardCount, st.GoodCount, st.EasyCount, st.LapseCount,
		st.LastReviewedAt, st.NextReviewAt, st.AverageResponseTime, st.PerceivedDifficulty,
		st.PreLapseIntervalDays, st.ResponseSamples, st.Version,
	}

	var query string
	if st.Version == 0 {
		query = `
			INSERT INTO schedule_states (` + scheduleColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20::bigint + 1)
			ON CONFLICT (user_id, card_id) DO NOTHING`
	} else {
		query = `
			UPDATE schedule_states SET
				deck_id = $3, state = $4, ease_factor = $5, interval_days = $6, learning_step = $7,
				review_count = $8, again_count = $9, hard_count = $10, good_count = $11,
				easy_count = $12, lapse_count = $13, last_reviewed_at = $14, next_review_at = $15,
				average_response_time_ms = $16, perceived_difficulty = $17,
				pre_lapse_interval_days = $18, response_samples = $19, version = version + 1
			WHERE user_id = $1 AND card_id = $2 AND version = $20`
	}

	cmdTag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return srs.ScheduleState{}, fmt.Errorf("save schedule: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s/%s: %w", st.UserID, st.CardID, storage.ErrVersionConflict)
	}
	st.Version++
	return st, nil
}

func (s *Store) ListDue(ctx context.Context, userID, deckID string, now time.Time) ([]srs.ScheduleState, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedule_states
		WHERE user_id = $1 AND ($2 = '' OR deck_id = $2)
		  AND (next_review_at IS NULL OR next_review_at <= $3)
		ORDER BY card_id`
	return s.querySchedules(ctx, query, userID, deckID, now)
}

func (s *Store) ListSchedules(ctx context.Context, userID, deckID string) ([]srs.ScheduleState, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedule_states
		WHERE user_id = $1 AND ($2 = '' OR deck_id = $2)
		ORDER BY card_id`
	return s.querySchedules(ctx, query, userID, deckID)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]srs.ScheduleState, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := []srs.ScheduleState{}
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

func scanSchedule(row pgx.Row) (srs.ScheduleState, error) {
	var st srs.ScheduleState
	var state string
	err := row.Scan(
		&st.UserID, &st.CardID, &st.DeckID, &state, &st.EaseFactor, &st.IntervalDays, &st.LearningStep,
		&st.ReviewCount, &st.AgainCount, &st.HardCount, &st.GoodCount, &st.EasyCount, &st.LapseCount,
		&st.LastReviewedAt, &st.NextReviewAt, &st.AverageResponseTime, &st.PerceivedDifficulty,
		&st.PreLapseIntervalDays, &st.ResponseSamples, &st.Version,
	)
	st.State = srs.CardState(state)
	return st, err
}

func (s *Store) GetProfile(ctx context.Context, userID string) (srs.LearningProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM learning_profiles WHERE user_id = $1`

	p, err := scanProfile(s.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return srs.LearningProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p srs.LearningProfile) (srs.LearningProfile, error) {
	args := []any{
		p.UserID, string(p.LearningSpeed), p.Multipliers.Again, p.Multipliers.Hard, p.Multipliers.Good,
		p.Multipliers.Easy, p.OptimalSessionLength, p.DailyReviewGoal, string(p.DifficultyPreference),
		p.IsCalibrated, p.CalibrationReviews, p.LastCalibrationDate, p.Version,
	}

	var query string
	if p.Version == 0 {
		query = `
			INSERT INTO learning_profiles (` + profileColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::bigint + 1)
			ON CONFLICT (user_id) DO NOTHING`
	} else {
		query = `
			UPDATE learning_profiles SET
				learning_speed = $2, mult_again = $3, mult_hard = $4, mult_good = $5, mult_easy = $6,
				optimal_session_length = $7, daily_review_goal = $8, difficulty_preference = $9,
				is_calibrated = $10, calibration_reviews = $11, last_calibration_date = $12,
				version = version + 1
			WHERE user_id = $1 AND version = $13`
	}

	cmdTag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return srs.LearningProfile{}, fmt.Errorf("save profile: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", p.UserID, storage.ErrVersionConflict)
	}
	p.Version++
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]srs.LearningProfile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM learning_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := []srs.LearningProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (srs.LearningProfile, error) {
	var p srs.LearningProfile
	var speed, pref string
	err := row.Scan(
		&p.UserID, &speed, &p.Multipliers.Again, &p.Multipliers.Hard, &p.Multipliers.Good,
		&p.Multipliers.Easy, &p.OptimalSessionLength, &p.DailyReviewGoal, &pref,
		&p.IsCalibrated, &p.CalibrationReviews, &p.LastCalibrationDate, &p.Version,
	)
	p.LearningSpeed = srs.LearningSpeed(speed)
	p.DifficultyPreference = srs.DifficultyPreference(pref)
	return p, err
}

func (s *Store) AppendSession(ctx context.Context, r srs.SessionRecord) error {
	query := `
		INSERT INTO study_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.Exec(ctx, query,
		r.ID, r.UserID, r.DeckID, r.AgainCount, r.HardCount, r.GoodCount, r.EasyCount,
		r.AverageAccuracy, r.AverageResponseTime, r.TimeOfDay, r.SessionQuality, r.WasCompleted,
		r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]srs.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE user_id = $1
		ORDER BY ended_at DESC, id DESC
		LIMIT NULLIF($2, 0)`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	out := []srs.SessionRecord{}
	for rows.Next() {
		var r srs.SessionRecord
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.DeckID, &r.AgainCount, &r.HardCount, &r.GoodCount, &r.EasyCount,
			&r.AverageAccuracy, &r.AverageResponseTime, &r.TimeOfDay, &r.SessionQuality, &r.WasCompleted,
			&r.StartedAt, &r.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the pool if the store owns one.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
