package main

import (
	"time"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

// DueCardsResponse represents the response structure for get_due_cards
type DueCardsResponse struct {
	Cards   []srs.ScoredCard    `json:"cards"`
	Count   int                 `json:"count"`
	Profile srs.LearningProfile `json:"profile"`
}

// ReviewResponse represents the response structure for submit_review
type ReviewResponse struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	Schedule          srs.ScheduleState `json:"schedule"`
	PreviousState     srs.CardState     `json:"previous_state"`
	NextReviewAt      *time.Time        `json:"next_review_at,omitempty"`
	IntervalDays      float64           `json:"interval_days"`
	ForgetProbability float64           `json:"forget_probability"`
}

// PreviewOutcome is one rating's projected result.
type PreviewOutcome struct {
	State        srs.CardState `json:"state"`
	IntervalDays float64       `json:"interval_days"`
	EaseFactor   float64       `json:"ease_factor"`
	NextReviewAt *time.Time    `json:"next_review_at,omitempty"`
}

// PreviewResponse represents the response structure for preview_review
type PreviewResponse struct {
	CardID            string                        `json:"card_id"`
	ForgetProbability float64                       `json:"forget_probability"`
	Outcomes          map[srs.Rating]PreviewOutcome `json:"outcomes"`
}

// WorkloadResponse represents the response structure for balance_workload
type WorkloadResponse struct {
	DailyGoal     int              `json:"daily_goal"`
	ReviewNow     []srs.ScoredCard `json:"review_now"`
	Deferred      []srs.ScoredCard `json:"deferred"`
	Carryover     []srs.ScoredCard `json:"carryover"`
	DeferredUntil time.Time        `json:"deferred_until"`
}

// ProfileResponse represents the response structure for profile tools
type ProfileResponse struct {
	Profile            srs.LearningProfile `json:"profile"`
	NeedsRecalibration bool                `json:"needs_recalibration"`
}

// CalibrationResponse represents the response structure for calibrate_profile
type CalibrationResponse struct {
	Result  srs.CalibrationResult `json:"result"`
	Applied bool                  `json:"applied"`
	Profile srs.LearningProfile   `json:"profile"`
}

// SessionResponse represents the response structure for record_session
type SessionResponse struct {
	Session srs.SessionRecord `json:"session"`
}

// ExportResponse represents the response structure for export_schedule
type ExportResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// ErrorResponse is returned as tool text when a call fails.
type ErrorResponse struct {
	Error string `json:"error"`
}
