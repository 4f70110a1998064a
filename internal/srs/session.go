package srs

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// targetSecondsPerCard is the pace that earns full pace credit.
const targetSecondsPerCard = 10.0

// SessionRecord summarises one study session. It is append-only.
type SessionRecord struct {
	ID                  string    `json:"id" db:"id"`
	UserID              string    `json:"user_id" db:"user_id"`
	DeckID              string    `json:"deck_id,omitempty" db:"deck_id"`
	AgainCount          int       `json:"again_count" db:"again_count"`
	HardCount           int       `json:"hard_count" db:"hard_count"`
	GoodCount           int       `json:"good_count" db:"good_count"`
	EasyCount           int       `json:"easy_count" db:"easy_count"`
	AverageAccuracy     float64   `json:"average_accuracy" db:"average_accuracy"`
	AverageResponseTime float64   `json:"average_response_time_ms" db:"average_response_time_ms"`
	TimeOfDay           int       `json:"time_of_day" db:"time_of_day"`
	SessionQuality      float64   `json:"session_quality" db:"session_quality"`
	WasCompleted        bool      `json:"was_completed" db:"was_completed"`
	StartedAt           time.Time `json:"started_at" db:"started_at"`
	EndedAt             time.Time `json:"ended_at" db:"ended_at"`
}

// SessionInput is what a client reports when a session ends.
type SessionInput struct {
	UserID              string
	DeckID              string
	Counts              map[Rating]int
	AverageResponseTime float64 // milliseconds
	WasCompleted        bool
	StartedAt           time.Time
	EndedAt             time.Time
}

// NewSessionRecord derives accuracy, time of day and quality from the input.
func NewSessionRecord(in SessionInput) SessionRecord {
	r := SessionRecord{
		ID:                  uuid.New().String(),
		UserID:              in.UserID,
		DeckID:              in.DeckID,
		AgainCount:          nonNegative(in.Counts[Again]),
		HardCount:           nonNegative(in.Counts[Hard]),
		GoodCount:           nonNegative(in.Counts[Good]),
		EasyCount:           nonNegative(in.Counts[Easy]),
		AverageResponseTime: math.Max(0, in.AverageResponseTime),
		WasCompleted:        in.WasCompleted,
		StartedAt:           in.StartedAt,
		EndedAt:             in.EndedAt,
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	if r.StartedAt.IsZero() || r.StartedAt.After(r.EndedAt) {
		r.StartedAt = r.EndedAt
	}
	r.TimeOfDay = r.StartedAt.Hour()
	if n := r.CardsStudied(); n > 0 {
		r.AverageAccuracy = float64(r.GoodCount+r.EasyCount) / float64(n)
	}
	r.SessionQuality = sessionQuality(r)
	return r
}

// CardsStudied is the total number of ratings in the session.
func (r SessionRecord) CardsStudied() int {
	return r.AgainCount + r.HardCount + r.GoodCount + r.EasyCount
}

// sessionQuality scores a session 0-100: 60% accuracy, 20% completion and
// 20% pace against targetSecondsPerCard.
func sessionQuality(r SessionRecord) float64 {
	if r.CardsStudied() == 0 {
		return 0
	}
	completion := 0.0
	if r.WasCompleted {
		completion = 1
	}
	pace := 1.0
	if secs := r.AverageResponseTime / 1000; secs > targetSecondsPerCard {
		pace = targetSecondsPerCard / secs
	}
	q := 100 * (0.6*r.AverageAccuracy + 0.2*completion + 0.2*pace)
	return math.Round(math.Max(0, math.Min(100, q))*10) / 10
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
