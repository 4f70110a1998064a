// Package jobs runs periodic background work against the store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

// maxAttempts bounds retries when a profile is saved concurrently by a review.
const maxAttempts = 3

// Recalibrator periodically refreshes stale learner profiles.
type Recalibrator struct {
	store      storage.Store
	calibrator *srs.Calibrator
	window     int
	logger     *zap.Logger
	scheduler  *gocron.Scheduler
	now        func() time.Time
}

// Summary reports what one pass did.
type Summary struct {
	Checked      int
	Recalibrated int
	Skipped      int // stale but not enough history yet
	Failed       int
}

// NewRecalibrator creates a recalibrator using the calibration settings of cfg.
func NewRecalibrator(store storage.Store, cfg srs.Config, logger *zap.Logger) *Recalibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recalibrator{
		store:      store,
		calibrator: srs.NewCalibrator(cfg.Calibration),
		window:     cfg.Calibration.SessionWindow,
		logger:     logger.Named("jobs.recalibrate"),
		scheduler:  gocron.NewScheduler(time.UTC),
		now:        time.Now,
	}
}

// Start schedules RunOnce every interval in the background. A non-positive
// interval disables the job.
func (r *Recalibrator) Start(interval time.Duration) error {
	if interval <= 0 {
		r.logger.Info("Recalibration job disabled")
		return nil
	}
	_, err := r.scheduler.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Recalibration pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("error scheduling recalibration: %w", err)
	}
	r.scheduler.StartAsync()
	r.logger.Info("Recalibration job started", zap.Duration("interval", interval))
	return nil
}

// Stop terminates the scheduled job.
func (r *Recalibrator) Stop() {
	r.scheduler.Stop()
}

// RunOnce recalibrates every profile that NeedsRecalibration flags. A failure
// on one learner is logged and does not stop the pass.
func (r *Recalibrator) RunOnce(ctx context.Context) (Summary, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("error listing profiles: %w", err)
	}

	var sum Summary
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		if !r.calibrator.NeedsRecalibration(p, r.now()) {
			continue
		}
		updated, err := r.recalibrate(ctx, p)
		switch {
		case err != nil:
			sum.Failed++
			r.logger.Warn("Could not recalibrate profile", zap.String("user_id", p.UserID), zap.Error(err))
		case updated:
			sum.Recalibrated++
		default:
			sum.Skipped++
		}
	}
	r.logger.Debug("Recalibration pass finished",
		zap.Int("checked", sum.Checked),
		zap.Int("recalibrated", sum.Recalibrated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

func (r *Recalibrator) recalibrate(ctx context.Context, p srs.LearningProfile) (bool, error) {
	cards, err := r.store.ListSchedules(ctx, p.UserID, "")
	if err != nil {
		return false, fmt.Errorf("error listing schedules: %w", err)
	}
	sessions, err := r.store.RecentSessions(ctx, p.UserID, r.window)
	if err != nil {
		return false, fmt.Errorf("error loading sessions: %w", err)
	}

	res := r.calibrator.Calibrate(cards, sessions)
	if res.NeedsMoreData {
		return false, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err = r.store.SaveProfile(ctx, srs.ApplyCalibration(p, res, r.now()))
		if !errors.Is(err, storage.ErrVersionConflict) {
			break
		}
		// A review bumped the profile meanwhile; apply on top of the fresh copy.
		if p, err = r.store.GetProfile(ctx, p.UserID); err != nil {
			return false, fmt.Errorf("error reloading profile: %w", err)
		}
		err = storage.ErrVersionConflict
	}
	if err != nil {
		return false, fmt.Errorf("error saving profile: %w", err)
	}
	r.logger.Info("Profile recalibrated",
		zap.String("user_id", p.UserID),
		zap.String("learning_speed", string(res.LearningSpeed)),
		zap.Float64("confidence", res.Confidence))
	return true, nil
}
