package srs

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSettings is returned when a settings edit is out of range.
var ErrInvalidSettings = errors.New("invalid profile settings")

// LearningSpeed classifies how quickly a learner retains material.
type LearningSpeed string

const (
	SpeedSlow   LearningSpeed = "slow"
	SpeedMedium LearningSpeed = "medium"
	SpeedFast   LearningSpeed = "fast"
)

// DifficultyPreference changes how queues are assembled.
type DifficultyPreference string

const (
	PreferChallenge  DifficultyPreference = "challenge"  // harder cards surface sooner
	PreferBalanced   DifficultyPreference = "balanced"   // no adjustment
	PreferConfidence DifficultyPreference = "confidence" // mix in mastered cards
)

// Valid reports whether p is a known preference.
func (p DifficultyPreference) Valid() bool {
	switch p {
	case PreferChallenge, PreferBalanced, PreferConfidence:
		return true
	}
	return false
}

// Multipliers are the personalized per-rating interval multipliers.
type Multipliers struct {
	Again float64 `json:"again" db:"mult_again"`
	Hard  float64 `json:"hard" db:"mult_hard"`
	Good  float64 `json:"good" db:"mult_good"`
	Easy  float64 `json:"easy" db:"mult_easy"`
}

// DefaultMultipliers are used until a learner is calibrated.
func DefaultMultipliers() Multipliers {
	return Multipliers{Again: 1.0, Hard: 1.2, Good: 2.5, Easy: 3.5}
}

// LearningProfile is the per-learner tuning record.
type LearningProfile struct {
	UserID               string               `json:"user_id" db:"user_id"`
	LearningSpeed        LearningSpeed        `json:"learning_speed" db:"learning_speed"`
	Multipliers          Multipliers          `json:"personal_multipliers"`
	OptimalSessionLength int                  `json:"optimal_session_length" db:"optimal_session_length"`
	DailyReviewGoal      int                  `json:"daily_review_goal" db:"daily_review_goal"`
	DifficultyPreference DifficultyPreference `json:"difficulty_preference" db:"difficulty_preference"`
	IsCalibrated         bool                 `json:"is_calibrated" db:"is_calibrated"`
	CalibrationReviews   int                  `json:"calibration_reviews" db:"calibration_reviews"`
	LastCalibrationDate  *time.Time           `json:"last_calibration_date,omitempty" db:"last_calibration_date"`
	Version              int64                `json:"version" db:"version"`
}

// DefaultProfile is created on first access.
func DefaultProfile(userID string) LearningProfile {
	return LearningProfile{
		UserID:               userID,
		LearningSpeed:        SpeedMedium,
		Multipliers:          DefaultMultipliers(),
		OptimalSessionLength: 20,
		DailyReviewGoal:      20,
		DifficultyPreference: PreferBalanced,
	}
}

// ProfileSettings is a partial, user-driven edit. Nil fields are untouched.
type ProfileSettings struct {
	DailyReviewGoal      *int                  `json:"daily_review_goal,omitempty"`
	OptimalSessionLength *int                  `json:"optimal_session_length,omitempty"`
	DifficultyPreference *DifficultyPreference `json:"difficulty_preference,omitempty"`
}

// Apply validates the edit and returns the updated profile.
func (ps ProfileSettings) Apply(p LearningProfile) (LearningProfile, error) {
	if ps.DailyReviewGoal != nil {
		if *ps.DailyReviewGoal < 1 || *ps.DailyReviewGoal > 1000 {
			return p, fmt.Errorf("%w: daily review goal %d", ErrInvalidSettings, *ps.DailyReviewGoal)
		}
		p.DailyReviewGoal = *ps.DailyReviewGoal
	}
	if ps.OptimalSessionLength != nil {
		if *ps.OptimalSessionLength < 1 || *ps.OptimalSessionLength > 500 {
			return p, fmt.Errorf("%w: session length %d", ErrInvalidSettings, *ps.OptimalSessionLength)
		}
		p.OptimalSessionLength = *ps.OptimalSessionLength
	}
	if ps.DifficultyPreference != nil {
		if !ps.DifficultyPreference.Valid() {
			return p, fmt.Errorf("%w: difficulty preference %q", ErrInvalidSettings, *ps.DifficultyPreference)
		}
		p.DifficultyPreference = *ps.DifficultyPreference
	}
	return p, nil
}

// RecordReview counts a review towards the next recalibration.
func (p LearningProfile) RecordReview() LearningProfile {
	p.CalibrationReviews++
	return p
}

// Normalize fills zero values left by older stored records.
func (p LearningProfile) Normalize() LearningProfile {
	def := DefaultProfile(p.UserID)
	if p.LearningSpeed == "" {
		p.LearningSpeed = def.LearningSpeed
	}
	if p.Multipliers == (Multipliers{}) {
		p.Multipliers = def.Multipliers
	}
	if p.OptimalSessionLength <= 0 {
		p.OptimalSessionLength = def.OptimalSessionLength
	}
	if p.DailyReviewGoal <= 0 {
		p.DailyReviewGoal = def.DailyReviewGoal
	}
	if !p.DifficultyPreference.Valid() {
		p.DifficultyPreference = def.DifficultyPreference
	}
	return p
}
