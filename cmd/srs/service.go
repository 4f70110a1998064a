// Package main provides the adaptive spaced-repetition MCP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/export"
	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

// timeNow is replaced in tests.
var timeNow = time.Now

// maxAttempts bounds read-modify-write retries after a version conflict.
const maxAttempts = 3

// User-visible failures. Details go to the log, never to the client.
var (
	ErrLoadDueCards   = errors.New("could not load due cards")
	ErrSaveReview     = errors.New("could not save review")
	ErrLoadProfile    = errors.New("could not load profile")
	ErrSaveProfile    = errors.New("could not save profile")
	ErrRecordSession  = errors.New("could not record session")
	ErrExportSchedule = errors.New("could not export schedule")
	ErrMissingUser    = errors.New("user id is required")
	ErrMissingCard    = errors.New("card id is required")
)

// ReviewService wires the scheduling core to a store.
type ReviewService struct {
	Store      storage.Store
	Engine     *srs.Engine
	Queue      *srs.QueueBuilder
	Calibrator *srs.Calibrator
	Exporter   *export.Exporter
	ExportDir  string
	Logger     *zap.Logger

	// DefaultUser is served when a tool call names no user.
	DefaultUser string
}

// NewReviewService creates a service using cfg for every scheduling decision.
func NewReviewService(store storage.Store, cfg srs.Config, exportDir string, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		Store:       store,
		Engine:      srs.NewEngine(cfg),
		Queue:       srs.NewQueueBuilder(cfg, nil),
		Calibrator:  srs.NewCalibrator(cfg.Calibration),
		Exporter:    export.New(cfg),
		ExportDir:   exportDir,
		Logger:      logger.Named("service"),
		DefaultUser: "default",
	}
}

// ReviewResult is the outcome of SubmitReview. Score rates the card as it
// stood when the learner answered.
type ReviewResult struct {
	Previous srs.ScheduleState
	Updated  srs.ScheduleState
	Score    srs.Score
}

// retryOnConflict runs fn until it succeeds, fails with something other than
// a version conflict, or runs out of attempts.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
	}
	return err
}

// GetProfile returns the learner's profile, creating the default one on
// first access.
func (s *ReviewService) GetProfile(ctx context.Context, userID string) (srs.LearningProfile, error) {
	if userID == "" {
		return srs.LearningProfile{}, ErrMissingUser
	}
	p, err := s.Store.GetProfile(ctx, userID)
	if err == nil {
		return p.Normalize(), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Error("Error loading profile", zap.String("user_id", userID), zap.Error(err))
		return srs.LearningProfile{}, ErrLoadProfile
	}

	p, err = s.Store.SaveProfile(ctx, srs.DefaultProfile(userID))
	if errors.Is(err, storage.ErrVersionConflict) {
		// Someone else created it first.
		p, err = s.Store.GetProfile(ctx, userID)
	}
	if err != nil {
		s.Logger.Error("Error creating profile", zap.String("user_id", userID), zap.Error(err))
		return srs.LearningProfile{}, ErrLoadProfile
	}
	s.Logger.Info("Created default profile", zap.String("user_id", userID))
	return p, nil
}

// DueCards builds the learner's next session. maxCards <= 0 uses the
// profile's optimal session length.
func (s *ReviewService) DueCards(ctx context.Context, userID, deckID string, maxCards int, deckImportance float64) ([]srs.ScoredCard, srs.LearningProfile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, srs.LearningProfile{}, err
	}
	now := timeNow()

	due, err := s.Store.ListDue(ctx, userID, deckID, now)
	if err != nil {
		s.Logger.Error("Error listing due cards", zap.String("user_id", userID), zap.String("deck_id", deckID), zap.Error(err))
		return nil, profile, ErrLoadDueCards
	}

	var pool []srs.ScheduleState
	if profile.DifficultyPreference == srs.PreferConfidence {
		all, err := s.Store.ListSchedules(ctx, userID, deckID)
		if err != nil {
			s.Logger.Error("Error listing schedules", zap.String("user_id", userID), zap.Error(err))
			return nil, profile, ErrLoadDueCards
		}
		for _, st := range all {
			if !st.IsDue(now) {
				pool = append(pool, st)
			}
		}
	}

	if maxCards <= 0 {
		maxCards = profile.OptimalSessionLength
	}
	queue := s.Queue.Build(srs.QueueRequest{
		Due:            due,
		Reinforcement:  pool,
		Profile:        profile,
		DeckImportance: deckImportance,
		MaxCards:       maxCards,
		Now:            now,
	})
	s.Logger.Debug("Built review queue",
		zap.String("user_id", userID),
		zap.Int("due", len(due)),
		zap.Int("queued", len(queue)))
	return queue, profile, nil
}

// BalanceWorkload splits everything due today against the daily goal.
func (s *ReviewService) BalanceWorkload(ctx context.Context, userID, deckID string, deckImportance float64) (srs.Workload, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return srs.Workload{}, err
	}
	now := timeNow()
	due, err := s.Store.ListDue(ctx, userID, deckID, now)
	if err != nil {
		s.Logger.Error("Error listing due cards", zap.String("user_id", userID), zap.Error(err))
		return srs.Workload{}, ErrLoadDueCards
	}
	cards := s.Queue.Build(srs.QueueRequest{
		Due:            due,
		Profile:        profile,
		DeckImportance: deckImportance,
		Now:            now,
	})
	return srs.BalanceWorkload(cards, profile.DailyReviewGoal, now), nil
}

// loadSchedule returns the stored schedule or a fresh one for unseen cards.
func (s *ReviewService) loadSchedule(ctx context.Context, userID, cardID, deckID string) (srs.ScheduleState, error) {
	st, err := s.Store.GetSchedule(ctx, userID, cardID)
	if errors.Is(err, storage.ErrNotFound) {
		st = srs.NewScheduleState(userID, cardID, s.Engine.Config())
		st.DeckID = deckID
		return st, nil
	}
	return st, err
}

// SubmitReview applies a rating and persists the result. Concurrent reviews
// of the same card are retried against the fresh record.
func (s *ReviewService) SubmitReview(ctx context.Context, userID, cardID, deckID string, rating srs.Rating, responseTime time.Duration) (ReviewResult, error) {
	if cardID == "" {
		return ReviewResult{}, ErrMissingCard
	}
	if !rating.Valid() {
		return ReviewResult{}, fmt.Errorf("%w: %q", srs.ErrInvalidRating, rating)
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return ReviewResult{}, err
	}

	var res ReviewResult
	err = retryOnConflict(ctx, func() error {
		prev, err := s.loadSchedule(ctx, userID, cardID, deckID)
		if err != nil {
			return err
		}
		now := timeNow()
		next := s.Engine.Review(prev, rating, srs.ReviewOptions{
			Now:          now,
			ResponseTime: responseTime,
			Profile:      &profile,
		})
		saved, err := s.Store.SaveSchedule(ctx, next)
		if err != nil {
			return err
		}
		res = ReviewResult{
			Previous: prev,
			Updated:  saved,
			Score:    s.Queue.Scorer().ScoreCard(prev, 1, now),
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Error saving review",
			zap.String("user_id", userID),
			zap.String("card_id", cardID),
			zap.String("rating", string(rating)),
			zap.Error(err))
		return ReviewResult{}, ErrSaveReview
	}

	// The review itself is committed; a failed counter bump only delays
	// the next recalibration.
	if _, err := s.updateProfile(ctx, userID, func(p srs.LearningProfile) (srs.LearningProfile, error) {
		return p.RecordReview(), nil
	}); err != nil {
		s.Logger.Warn("Could not count review towards calibration", zap.String("user_id", userID), zap.Error(err))
	}

	s.Logger.Info("Review recorded",
		zap.String("user_id", userID),
		zap.String("card_id", cardID),
		zap.String("rating", string(rating)),
		zap.String("state", string(res.Updated.State)),
		zap.Float64("interval_days", res.Updated.IntervalDays))
	return res, nil
}

// Preview shows what each rating would do without saving anything.
func (s *ReviewService) Preview(ctx context.Context, userID, cardID string) (map[srs.Rating]srs.ScheduleState, error) {
	if cardID == "" {
		return nil, ErrMissingCard
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	st, err := s.loadSchedule(ctx, userID, cardID, "")
	if err != nil {
		s.Logger.Error("Error loading schedule", zap.String("user_id", userID), zap.String("card_id", cardID), zap.Error(err))
		return nil, ErrLoadDueCards
	}
	return s.Engine.Preview(st, srs.ReviewOptions{Now: timeNow(), Profile: &profile}), nil
}

// ForgetProbability estimates how likely the learner has forgotten a card.
func (s *ReviewService) ForgetProbability(ctx context.Context, userID, cardID string) (float64, error) {
	st, err := s.loadSchedule(ctx, userID, cardID, "")
	if err != nil {
		s.Logger.Error("Error loading schedule", zap.String("user_id", userID), zap.String("card_id", cardID), zap.Error(err))
		return 0, ErrLoadDueCards
	}
	return s.Queue.Scorer().Estimator().ForgetProbability(st, timeNow()), nil
}

// updateProfile applies fn to the latest profile, retrying on conflicts.
func (s *ReviewService) updateProfile(ctx context.Context, userID string, fn func(srs.LearningProfile) (srs.LearningProfile, error)) (srs.LearningProfile, error) {
	var out srs.LearningProfile
	err := retryOnConflict(ctx, func() error {
		p, err := s.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		p, err = fn(p)
		if err != nil {
			return err
		}
		out, err = s.Store.SaveProfile(ctx, p)
		return err
	})
	return out, err
}

// UpdateSettings applies a user-driven edit to the profile.
func (s *ReviewService) UpdateSettings(ctx context.Context, userID string, settings srs.ProfileSettings) (srs.LearningProfile, error) {
	p, err := s.updateProfile(ctx, userID, settings.Apply)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, srs.ErrInvalidSettings), errors.Is(err, ErrMissingUser):
		return srs.LearningProfile{}, err
	}
	s.Logger.Error("Error saving settings", zap.String("user_id", userID), zap.Error(err))
	return srs.LearningProfile{}, ErrSaveProfile
}

// Calibrate analyses the learner's history. With apply set, a conclusive
// result is written into the profile.
func (s *ReviewService) Calibrate(ctx context.Context, userID string, apply bool) (srs.CalibrationResult, srs.LearningProfile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return srs.CalibrationResult{}, srs.LearningProfile{}, err
	}
	cards, err := s.Store.ListSchedules(ctx, userID, "")
	if err != nil {
		s.Logger.Error("Error listing schedules", zap.String("user_id", userID), zap.Error(err))
		return srs.CalibrationResult{}, profile, ErrLoadProfile
	}
	sessions, err := s.Store.RecentSessions(ctx, userID, s.Engine.Config().Calibration.SessionWindow)
	if err != nil {
		s.Logger.Error("Error loading sessions", zap.String("user_id", userID), zap.Error(err))
		return srs.CalibrationResult{}, profile, ErrLoadProfile
	}

	res := s.Calibrator.Calibrate(cards, sessions)
	if !apply || res.NeedsMoreData {
		return res, profile, nil
	}
	profile, err = s.ApplyCalibration(ctx, userID, res)
	return res, profile, err
}

// ApplyCalibration writes a calibration result into the stored profile.
func (s *ReviewService) ApplyCalibration(ctx context.Context, userID string, res srs.CalibrationResult) (srs.LearningProfile, error) {
	p, err := s.updateProfile(ctx, userID, func(p srs.LearningProfile) (srs.LearningProfile, error) {
		return srs.ApplyCalibration(p, res, timeNow()), nil
	})
	if err != nil {
		s.Logger.Error("Error applying calibration", zap.String("user_id", userID), zap.Error(err))
		return srs.LearningProfile{}, ErrSaveProfile
	}
	s.Logger.Info("Profile calibrated",
		zap.String("user_id", userID),
		zap.String("learning_speed", string(p.LearningSpeed)),
		zap.Int("optimal_session_length", p.OptimalSessionLength))
	return p, nil
}

// RecordSession stores a finished study session.
func (s *ReviewService) RecordSession(ctx context.Context, in srs.SessionInput) (srs.SessionRecord, error) {
	if in.UserID == "" {
		return srs.SessionRecord{}, ErrMissingUser
	}
	if in.EndedAt.IsZero() {
		in.EndedAt = timeNow()
	}
	rec := srs.NewSessionRecord(in)
	if err := s.Store.AppendSession(ctx, rec); err != nil {
		s.Logger.Error("Error recording session", zap.String("user_id", in.UserID), zap.Error(err))
		return srs.SessionRecord{}, ErrRecordSession
	}
	s.Logger.Info("Session recorded",
		zap.String("user_id", rec.UserID),
		zap.String("session_id", rec.ID),
		zap.Int("cards", rec.CardsStudied()),
		zap.Float64("quality", rec.SessionQuality))
	return rec, nil
}

// exportPath joins name to dir and refuses anything that resolves outside dir.
func exportPath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("export name %q escapes %s", name, dir)
	}
	return path, nil
}

// ExportSchedule writes the learner's workbook into the export directory and
// returns its path.
func (s *ReviewService) ExportSchedule(ctx context.Context, userID, deckID string) (string, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	fail := func(msg string, err error) (string, error) {
		s.Logger.Error(msg, zap.String("user_id", userID), zap.Error(err))
		return "", ErrExportSchedule
	}

	schedules, err := s.Store.ListSchedules(ctx, userID, deckID)
	if err != nil {
		return fail("Error listing schedules", err)
	}
	sessions, err := s.Store.RecentSessions(ctx, userID, 0)
	if err != nil {
		return fail("Error loading sessions", err)
	}

	now := timeNow()
	if err := os.MkdirAll(s.ExportDir, 0755); err != nil {
		return fail("Error creating export directory", err)
	}
	path, err := exportPath(s.ExportDir, export.FileName(userID, now))
	if err != nil {
		return fail("Error resolving export path", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fail("Error creating export file", err)
	}
	defer f.Close()

	err = s.Exporter.Write(f, export.Snapshot{
		Profile:   profile,
		Schedules: schedules,
		Sessions:  sessions,
		Now:       now,
	})
	if err != nil {
		return fail("Error writing export", err)
	}
	if err := f.Close(); err != nil {
		return fail("Error closing export file", err)
	}
	s.Logger.Info("Schedule exported", zap.String("user_id", userID), zap.String("path", path), zap.Int("cards", len(schedules)))
	return path, nil
}
