package srs

import (
	"math"
	"time"
)

// stabilityEpsilon keeps the curve's exponent finite.
const stabilityEpsilon = 1e-6

// Estimator computes the probability that a card has been forgotten.
type Estimator struct {
	BaseEase float64
}

// NewEstimator uses the configured starting ease as the base ease.
func NewEstimator(cfg Config) Estimator {
	return Estimator{BaseEase: cfg.StartingEase}
}

// Stability is the memory-strength estimate in days. It returns 0 for cards
// that have never been reviewed.
func (e Estimator) Stability(s ScheduleState) float64 {
	if s.IsNew() {
		return 0
	}
	base := e.BaseEase
	if base <= 0 || !finite(base) {
		base = 2.5
	}
	return s.IntervalDays * (s.EaseFactor / base) * math.Log(float64(s.ReviewCount)+1)
}

// ForgetProbability returns a value in [0,1]. Numerical trouble never escapes:
// unknown stability counts as fully forgotten and NaN results as 0.
func (e Estimator) ForgetProbability(s ScheduleState, now time.Time) float64 {
	if s.IsNew() {
		return 1.0
	}
	stability := e.Stability(s)
	if stability == 0 || !finite(stability) {
		return 1.0
	}
	elapsed := now.Sub(*s.LastReviewedAt).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	recall := math.Exp(-elapsed / math.Max(stability, stabilityEpsilon))
	p := 1 - recall
	if !finite(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}

// Retrievability is the complementary recall probability.
func (e Estimator) Retrievability(s ScheduleState, now time.Time) float64 {
	return 1 - e.ForgetProbability(s, now)
}
