package srs

import (
	"math"
	"time"
)

// CardState is the lifecycle phase of a card's schedule.
type CardState string

const (
	StateNew        CardState = "new"
	StateLearning   CardState = "learning"
	StateReview     CardState = "review"
	StateRelearning CardState = "relearning"
)

// States lists every lifecycle phase.
var States = []CardState{StateNew, StateLearning, StateReview, StateRelearning}

// Valid reports whether s is a known phase.
func (s CardState) Valid() bool {
	switch s {
	case StateNew, StateLearning, StateReview, StateRelearning:
		return true
	}
	return false
}

// ScheduleState is the per (user, card) scheduling record. It is mutated only
// by Engine.Review.
type ScheduleState struct {
	UserID string    `json:"user_id" db:"user_id"`
	CardID string    `json:"card_id" db:"card_id"`
	DeckID string    `json:"deck_id,omitempty" db:"deck_id"`
	State  CardState `json:"state" db:"state"`

	EaseFactor   float64 `json:"ease_factor" db:"ease_factor"`
	IntervalDays float64 `json:"interval_days" db:"interval_days"`
	LearningStep int     `json:"learning_step" db:"learning_step"`

	ReviewCount int `json:"review_count" db:"review_count"`
	AgainCount  int `json:"again_count" db:"again_count"`
	HardCount   int `json:"hard_count" db:"hard_count"`
	GoodCount   int `json:"good_count" db:"good_count"`
	EasyCount   int `json:"easy_count" db:"easy_count"`
	LapseCount  int `json:"lapse_count" db:"lapse_count"`

	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty" db:"last_reviewed_at"`
	NextReviewAt   *time.Time `json:"next_review_at,omitempty" db:"next_review_at"` // nil: eligible now

	AverageResponseTime  float64 `json:"average_response_time_ms" db:"average_response_time_ms"`
	ResponseSamples      int     `json:"response_samples" db:"response_samples"` // reviews that reported a response time
	PerceivedDifficulty  float64 `json:"perceived_difficulty" db:"perceived_difficulty"`
	PreLapseIntervalDays float64 `json:"pre_lapse_interval_days,omitempty" db:"pre_lapse_interval_days"`

	Version int64 `json:"version" db:"version"`
}

// NewScheduleState returns the record a card gets on its first review request.
func NewScheduleState(userID, cardID string, cfg Config) ScheduleState {
	return ScheduleState{
		UserID:              userID,
		CardID:              cardID,
		State:               StateNew,
		EaseFactor:          cfg.StartingEase,
		PerceivedDifficulty: cfg.Difficulty.Initial,
	}
}

// Normalize fills missing or corrupt fields with defaults so the transition
// logic never has to check for them. It returns a copy.
func (s ScheduleState) Normalize(cfg Config) ScheduleState {
	out := s.clone()
	if !out.State.Valid() {
		out.State = StateNew
	}
	if out.EaseFactor == 0 || !finite(out.EaseFactor) {
		out.EaseFactor = cfg.StartingEase
	}
	out.EaseFactor = cfg.clampEase(out.EaseFactor)

	if !finite(out.IntervalDays) || out.IntervalDays < 0 {
		out.IntervalDays = 0
	}
	if out.State == StateReview {
		out.IntervalDays = cfg.clampInterval(out.IntervalDays)
	}
	if !finite(out.PreLapseIntervalDays) || out.PreLapseIntervalDays < 0 {
		out.PreLapseIntervalDays = 0
	}

	if out.State == StateNew {
		out.LearningStep = 0
	}
	out.LearningStep = clampStep(out.LearningStep, len(cfg.stepsFor(out.State)))

	for _, c := range []*int{
		&out.ReviewCount, &out.AgainCount, &out.HardCount,
		&out.GoodCount, &out.EasyCount, &out.LapseCount,
	} {
		if *c < 0 {
			*c = 0
		}
	}
	if rated := out.AgainCount + out.HardCount + out.GoodCount + out.EasyCount; out.ReviewCount < rated {
		out.ReviewCount = rated
	}

	if !finite(out.AverageResponseTime) || out.AverageResponseTime < 0 {
		out.AverageResponseTime = 0
	}
	switch {
	case out.AverageResponseTime == 0:
		out.ResponseSamples = 0
	case out.ResponseSamples <= 0:
		// Records written before samples were counted averaged over every review.
		out.ResponseSamples = max(1, out.ReviewCount)
	case out.ResponseSamples > out.ReviewCount:
		out.ResponseSamples = out.ReviewCount
	}
	if out.PerceivedDifficulty == 0 || !finite(out.PerceivedDifficulty) {
		out.PerceivedDifficulty = cfg.Difficulty.Initial
	}
	out.PerceivedDifficulty = clampDifficulty(out.PerceivedDifficulty)
	return out
}

// IsNew reports whether the card has never been reviewed.
func (s ScheduleState) IsNew() bool {
	return s.ReviewCount == 0 || s.LastReviewedAt == nil
}

// IsMastered is the graduation predicate shared by scoring and queueing.
func (s ScheduleState) IsMastered(cfg Config) bool {
	m := cfg.Mastery
	return s.IntervalDays >= m.MinIntervalDays &&
		s.ReviewCount >= m.MinReviews &&
		s.EaseFactor >= m.MinEase &&
		s.LapseCount <= m.MaxLapses
}

// MasteryLevel discretizes progress into [0,1].
func (s ScheduleState) MasteryLevel(cfg Config) float64 {
	switch s.State {
	case StateNew:
		return 0
	case StateLearning, StateRelearning:
		return 0.3
	}
	switch {
	case s.IsMastered(cfg):
		return 1.0
	case s.IntervalDays < 7:
		return 0.5
	case s.IntervalDays < cfg.Mastery.MinIntervalDays:
		return 0.7
	default:
		return 0.8
	}
}

// IsDue reports whether the card is eligible at now.
func (s ScheduleState) IsDue(now time.Time) bool {
	return s.NextReviewAt == nil || !s.NextReviewAt.After(now)
}

// clone deep-copies the pointer fields.
func (s ScheduleState) clone() ScheduleState {
	out := s
	if s.LastReviewedAt != nil {
		t := *s.LastReviewedAt
		out.LastReviewedAt = &t
	}
	if s.NextReviewAt != nil {
		t := *s.NextReviewAt
		out.NextReviewAt = &t
	}
	return out
}

// stepsFor returns the active learning-step list for a phase.
func (c Config) stepsFor(state CardState) []float64 {
	if state == StateRelearning {
		return c.RelearningStepsMinutes
	}
	if state == StateReview {
		return nil
	}
	return c.LearningStepsMinutes
}

func clampStep(step, n int) int {
	if step < 0 || n == 0 {
		return 0
	}
	if step >= n {
		return n - 1
	}
	return step
}

func clampDifficulty(d float64) float64 {
	return math.Max(1, math.Min(10, d))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
