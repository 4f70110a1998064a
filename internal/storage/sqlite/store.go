// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

// Store is a SQLite-backed storage.Store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database file at path, creating it and the schema
// when missing. Use ":memory:" for a throwaway database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger.Named("storage.sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("opened database", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS schedule_states (
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			deck_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			ease_factor REAL NOT NULL,
			interval_days REAL NOT NULL DEFAULT 0,
			learning_step INTEGER NOT NULL DEFAULT 0,
			review_count INTEGER NOT NULL DEFAULT 0,
			again_count INTEGER NOT NULL DEFAULT 0,
			hard_count INTEGER NOT NULL DEFAULT 0,
			good_count INTEGER NOT NULL DEFAULT 0,
			easy_count INTEGER NOT NULL DEFAULT 0,
			lapse_count INTEGER NOT NULL DEFAULT 0,
			last_reviewed_at TIMESTAMP,
			next_review_at TIMESTAMP,
			average_response_time_ms REAL NOT NULL DEFAULT 0,
			perceived_difficulty REAL NOT NULL DEFAULT 5,
			pre_lapse_interval_days REAL NOT NULL DEFAULT 0,
			response_samples INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, card_id)
		)`,
		`CREATE INDEX IF NOT EXISTS schedule_states_due_idx ON schedule_states (user_id, deck_id, next_review_at)`,
		`CREATE TABLE IF NOT EXISTS learning_profiles (
			user_id TEXT PRIMARY KEY,
			learning_speed TEXT NOT NULL,
			mult_again REAL NOT NULL,
			mult_hard REAL NOT NULL,
			mult_good REAL NOT NULL,
			mult_easy REAL NOT NULL,
			optimal_session_length INTEGER NOT NULL,
			daily_review_goal INTEGER NOT NULL,
			difficulty_preference TEXT NOT NULL,
			is_calibrated BOOLEAN NOT NULL DEFAULT false,
			calibration_reviews INTEGER NOT NULL DEFAULT 0,
			last_calibration_date TIMESTAMP,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS study_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			deck_id TEXT NOT NULL DEFAULT '',
			again_count INTEGER NOT NULL DEFAULT 0,
			hard_count INTEGER NOT NULL DEFAULT 0,
			good_count INTEGER NOT NULL DEFAULT 0,
			easy_count INTEGER NOT NULL DEFAULT 0,
			average_accuracy REAL NOT NULL DEFAULT 0,
			average_response_time_ms REAL NOT NULL DEFAULT 0,
			time_of_day INTEGER NOT NULL DEFAULT 0,
			session_quality REAL NOT NULL DEFAULT 0,
			was_completed BOOLEAN NOT NULL DEFAULT false,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS study_sessions_user_idx ON study_sessions (user_id, ended_at)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	// Databases created before response samples were tracked lack the column.
	var hasSamples int
	err := s.db.Get(&hasSamples,
		`SELECT COUNT(*) FROM pragma_table_info('schedule_states') WHERE name = 'response_samples'`)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if hasSamples == 0 {
		if _, err := s.db.Exec(`ALTER TABLE schedule_states ADD COLUMN response_samples INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add response_samples column: %w", err)
		}
	}
	return nil
}

// Timestamps are stored in UTC so that text comparison orders them.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) GetSchedule(ctx context.Context, userID, cardID string) (srs.ScheduleState, error) {
	var st srs.ScheduleState
	err := s.db.GetContext(ctx, &st,
		`SELECT * FROM schedule_states WHERE user_id = ? AND card_id = ?`, userID, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s/%s: %w", userID, cardID, storage.ErrNotFound)
	}
	if err != nil {
		return srs.ScheduleState{}, fmt.Errorf("failed to get schedule: %w", err)
	}
	return st, nil
}

func (s *Store) SaveSchedule(ctx context.Context, st srs.ScheduleState) (srs.ScheduleState, error) {
	row := st
	row.LastReviewedAt = utcPtr(st.LastReviewedAt)
	row.NextReviewAt = utcPtr(st.NextReviewAt)

	query := `
		UPDATE schedule_states SET
			deck_id = :deck_id, state = :state, ease_factor = :ease_factor,
			interval_days = :interval_days, learning_step = :learning_step,
			review_count = :review_count, again_count = :again_count, hard_count = :hard_count,
			good_count = :good_count, easy_count = :easy_count, lapse_count = :lapse_count,
			last_reviewed_at = :last_reviewed_at, next_review_at = :next_review_at,
			average_response_time_ms = :average_response_time_ms,
			perceived_difficulty = :perceived_difficulty,
			pre_lapse_interval_days = :pre_lapse_interval_days,
			response_samples = :response_samples,
			version = version + 1
		WHERE user_id = :user_id AND card_id = :card_id AND version = :version`
	if st.Version == 0 {
		query = `
			INSERT INTO schedule_states (
				user_id, card_id, deck_id, state, ease_factor, interval_days, learning_step,
				review_count, again_count, hard_count, good_count, easy_count, lapse_count,
				last_reviewed_at, next_review_at, average_response_time_ms, perceived_difficulty,
				pre_lapse_interval_days, response_samples, version
			) VALUES (
				:user_id, :card_id, :deck_id, :state, :ease_factor, :interval_days, :learning_step,
				:review_count, :again_count, :hard_count, :good_count, :easy_count, :lapse_count,
				:last_reviewed_at, :next_review_at, :average_response_time_ms, :perceived_difficulty,
				:pre_lapse_interval_days, :response_samples, 1
			) ON CONFLICT (user_id, card_id) DO NOTHING`
	}

	if err := s.execVersioned(ctx, query, row); err != nil {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s/%s: %w", st.UserID, st.CardID, err)
	}
	st.Version++
	return st, nil
}

// execVersioned runs a named statement and maps "no rows changed" to a
// version conflict.
func (s *Store) execVersioned(ctx context.Context, query string, arg any) error {
	res, err := s.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	if n == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, userID, deckID string, now time.Time) ([]srs.ScheduleState, error) {
	out := []srs.ScheduleState{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM schedule_states
		WHERE user_id = ? AND (? = '' OR deck_id = ?)
		  AND (next_review_at IS NULL OR next_review_at <= ?)
		ORDER BY card_id`, userID, deckID, deckID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	return out, nil
}

func (s *Store) ListSchedules(ctx context.Context, userID, deckID string) ([]srs.ScheduleState, error) {
	out := []srs.ScheduleState{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM schedule_states
		WHERE user_id = ? AND (? = '' OR deck_id = ?)
		ORDER BY card_id`, userID, deckID, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return out, nil
}

// profileRow flattens the multipliers for sqlx.
type profileRow struct {
	UserID               string     `db:"user_id"`
	LearningSpeed        string     `db:"learning_speed"`
	MultAgain            float64    `db:"mult_again"`
	MultHard             float64    `db:"mult_hard"`
	MultGood             float64    `db:"mult_good"`
	MultEasy             float64    `db:"mult_easy"`
	OptimalSessionLength int        `db:"optimal_session_length"`
	DailyReviewGoal      int        `db:"daily_review_goal"`
	DifficultyPreference string     `db:"difficulty_preference"`
	IsCalibrated         bool       `db:"is_calibrated"`
	CalibrationReviews   int        `db:"calibration_reviews"`
	LastCalibrationDate  *time.Time `db:"last_calibration_date"`
	Version              int64      `db:"version"`
}

func toProfileRow(p srs.LearningProfile) profileRow {
	return profileRow{
		UserID:               p.UserID,
		LearningSpeed:        string(p.LearningSpeed),
		MultAgain:            p.Multipliers.Again,
		MultHard:             p.Multipliers.Hard,
		MultGood:             p.Multipliers.Good,
		MultEasy:             p.Multipliers.Easy,
		OptimalSessionLength: p.OptimalSessionLength,
		DailyReviewGoal:      p.DailyReviewGoal,
		DifficultyPreference: string(p.DifficultyPreference),
		IsCalibrated:         p.IsCalibrated,
		CalibrationReviews:   p.CalibrationReviews,
		LastCalibrationDate:  utcPtr(p.LastCalibrationDate),
		Version:              p.Version,
	}
}

func (r profileRow) profile() srs.LearningProfile {
	return srs.LearningProfile{
		UserID:               r.UserID,
		LearningSpeed:        srs.LearningSpeed(r.LearningSpeed),
		Multipliers:          srs.Multipliers{Again: r.MultAgain, Hard: r.MultHard, Good: r.MultGood, Easy: r.MultEasy},
		OptimalSessionLength: r.OptimalSessionLength,
		DailyReviewGoal:      r.DailyReviewGoal,
		DifficultyPreference: srs.DifficultyPreference(r.DifficultyPreference),
		IsCalibrated:         r.IsCalibrated,
		CalibrationReviews:   r.CalibrationReviews,
		LastCalibrationDate:  r.LastCalibrationDate,
		Version:              r.Version,
	}
}

func (s *Store) GetProfile(ctx context.Context, userID string) (srs.LearningProfile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM learning_profiles WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return srs.LearningProfile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return row.profile(), nil
}

func (s *Store) SaveProfile(ctx context.Context, p srs.LearningProfile) (srs.LearningProfile, error) {
	query := `
		UPDATE learning_profiles SET
			learning_speed = :learning_speed, mult_again = :mult_again, mult_hard = :mult_hard,
			mult_good = :mult_good, mult_easy = :mult_easy,
			optimal_session_length = :optimal_session_length, daily_review_goal = :daily_review_goal,
			difficulty_preference = :difficulty_preference, is_calibrated = :is_calibrated,
			calibration_reviews = :calibration_reviews, last_calibration_date = :last_calibration_date,
			version = version + 1
		WHERE user_id = :user_id AND version = :version`
	if p.Version == 0 {
		query = `
			INSERT INTO learning_profiles (
				user_id, learning_speed, mult_again, mult_hard, mult_good, mult_easy,
				optimal_session_length, daily_review_goal, difficulty_preference, is_calibrated,
				calibration_reviews, last_calibration_date, version
			) VALUES (
				:user_id, :learning_speed, :mult_again, :mult_hard, :mult_good, :mult_easy,
				:optimal_session_length, :daily_review_goal, :difficulty_preference, :is_calibrated,
				:calibration_reviews, :last_calibration_date, 1
			) ON CONFLICT (user_id) DO NOTHING`
	}

	if err := s.execVersioned(ctx, query, toProfileRow(p)); err != nil {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", p.UserID, err)
	}
	p.Version++
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]srs.LearningProfile, error) {
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM learning_profiles ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	out := make([]srs.LearningProfile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.profile())
	}
	return out, nil
}

func (s *Store) AppendSession(ctx context.Context, r srs.SessionRecord) error {
	r.StartedAt = r.StartedAt.UTC()
	r.EndedAt = r.EndedAt.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO study_sessions (
			id, user_id, deck_id, again_count, hard_count, good_count, easy_count,
			average_accuracy, average_response_time_ms, time_of_day, session_quality,
			was_completed, started_at, ended_at
		) VALUES (
			:id, :user_id, :deck_id, :again_count, :hard_count, :good_count, :easy_count,
			:average_accuracy, :average_response_time_ms, :time_of_day, :session_quality,
			:was_completed, :started_at, :ended_at
		)`, r)
	if err != nil {
		return fmt.Errorf("failed to append session: %w", err)
	}
	return nil
}

func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]srs.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	out := []srs.SessionRecord{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM study_sessions
		WHERE user_id = ?
		ORDER BY ended_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
