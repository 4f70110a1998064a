package srs

import (
	"math"
	"time"
)

// Score is the ranking breakdown for one card.
type Score struct {
	PriorityScore     float64 `json:"priority_score"`
	UrgencyScore      float64 `json:"urgency_score"`
	ImportanceScore   float64 `json:"importance_score"`
	IsOverdue         bool    `json:"is_overdue"`
	DaysOverdue       float64 `json:"days_overdue"`
	DaysUntilDue      float64 `json:"days_until_due"`
	ForgetProbability float64 `json:"forget_probability"`
}

const (
	overdueBoost       = 1.2
	proximityHorizon   = 14.0 // days
	masteryWeight      = 0.6
	lapseWeight        = 0.4
	lapseStep          = 0.2
	overdueUrgencyBase = 0.5
)

// Scorer combines urgency and importance into a single priority.
type Scorer struct {
	cfg       Config
	estimator Estimator
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, estimator: NewEstimator(cfg)}
}

// Estimator exposes the forgetting-curve estimator the scorer uses.
func (sc *Scorer) Estimator() Estimator {
	return sc.estimator
}

// ScoreCard estimates the forget probability and scores the card.
func (sc *Scorer) ScoreCard(s ScheduleState, deckImportance float64, now time.Time) Score {
	return sc.Score(s, sc.estimator.ForgetProbability(s, now), deckImportance, now)
}

// Score ranks a card given a precomputed forget probability.
func (sc *Scorer) Score(s ScheduleState, forgetProbability, deckImportance float64, now time.Time) Score {
	if !finite(forgetProbability) {
		forgetProbability = 1
	}
	forgetProbability = math.Max(0, math.Min(1, forgetProbability))
	if !finite(deckImportance) || deckImportance < 0 {
		deckImportance = 0
	}

	out := Score{ForgetProbability: forgetProbability}
	switch {
	case s.NextReviewAt == nil:
		out.UrgencyScore = 1
		out.IsOverdue = true
	case now.After(*s.NextReviewAt):
		out.IsOverdue = true
		out.DaysOverdue = now.Sub(*s.NextReviewAt).Hours() / 24
		// An overdue card never ranks below the not-yet-due blend for the
		// same forget probability.
		u := math.Max(overdueUrgencyBase+math.Log(out.DaysOverdue+1)/5, overdueUrgencyBase+0.5*forgetProbability)
		out.UrgencyScore = math.Min(1, u)
	default:
		out.DaysUntilDue = s.NextReviewAt.Sub(now).Hours() / 24
		proximity := math.Max(0, 1-out.DaysUntilDue/proximityHorizon)
		out.UrgencyScore = 0.5*proximity + 0.5*forgetProbability
	}

	mastery := s.MasteryLevel(sc.cfg)
	lapses := math.Min(1, float64(s.LapseCount)*lapseStep)
	out.ImportanceScore = ((1-mastery)*masteryWeight + lapses*lapseWeight) * deckImportance

	p := out.UrgencyScore * out.ImportanceScore
	if out.IsOverdue {
		p *= overdueBoost
	}
	out.PriorityScore = math.Max(0, math.Min(1, p))
	return out
}
