package srs

import (
	"time"
)

// CalibrationResult is the outcome of analysing a learner's history. When
// NeedsMoreData is set the remaining fields carry the defaults.
type CalibrationResult struct {
	NeedsMoreData          bool          `json:"needs_more_data"`
	ReviewedCards          int           `json:"reviewed_cards"`
	RequiredCards          int           `json:"required_cards"`
	TotalReviews           int           `json:"total_reviews"`
	Accuracy               float64       `json:"accuracy"`
	AverageResponseMillis  float64       `json:"average_response_ms"`
	LearningSpeed          LearningSpeed `json:"learning_speed"`
	Confidence             float64       `json:"confidence"`
	RecommendedMultipliers Multipliers   `json:"recommended_multipliers"`
	OptimalSessionLength   int           `json:"optimal_session_length"`
	SessionsAnalyzed       int           `json:"sessions_analyzed"`
}

// speedMultipliers is the fixed recommendation table.
var speedMultipliers = map[LearningSpeed]Multipliers{
	SpeedFast:   {Again: 1.0, Hard: 1.3, Good: 2.8, Easy: 4.0},
	SpeedMedium: {Again: 1.0, Hard: 1.2, Good: 2.5, Easy: 3.5},
	SpeedSlow:   {Again: 1.0, Hard: 1.1, Good: 2.0, Easy: 3.0},
}

// MultipliersFor returns the recommended multipliers for a speed class.
func MultipliersFor(speed LearningSpeed) Multipliers {
	if m, ok := speedMultipliers[speed]; ok {
		return m
	}
	return DefaultMultipliers()
}

type sessionBucket struct {
	maxCards int // inclusive upper bound, 0 for unbounded
	length   int // representative session length
}

var sessionBuckets = []sessionBucket{
	{maxCards: 10, length: 10},
	{maxCards: 25, length: 20},
	{maxCards: 40, length: 30},
	{maxCards: 0, length: 45},
}

// Calibrator classifies learners from their review history.
type Calibrator struct {
	cfg CalibrationConfig
}

func NewCalibrator(cfg CalibrationConfig) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Calibrate analyses all of a learner's schedules and their recent sessions.
// It never fails; too little history yields NeedsMoreData.
func (c *Calibrator) Calibrate(cards []ScheduleState, sessions []SessionRecord) CalibrationResult {
	res := CalibrationResult{
		RequiredCards:          c.cfg.MinReviewedCards,
		LearningSpeed:          SpeedMedium,
		RecommendedMultipliers: DefaultMultipliers(),
		OptimalSessionLength:   c.cfg.DefaultSessionLength,
	}

	var successes int
	var rtSum float64
	var rtCards int
	for _, s := range cards {
		if s.ReviewCount <= 0 {
			continue
		}
		res.ReviewedCards++
		res.TotalReviews += s.ReviewCount
		successes += s.GoodCount + s.EasyCount
		if s.AverageResponseTime > 0 && finite(s.AverageResponseTime) {
			rtSum += s.AverageResponseTime
			rtCards++
		}
	}
	if res.TotalReviews > 0 {
		res.Accuracy = float64(successes) / float64(res.TotalReviews)
	}
	if rtCards > 0 {
		res.AverageResponseMillis = rtSum / float64(rtCards)
	}

	if res.ReviewedCards < c.cfg.MinReviewedCards {
		res.NeedsMoreData = true
		return res
	}

	res.LearningSpeed, res.Confidence = c.classify(res.Accuracy, res.AverageResponseMillis)
	res.RecommendedMultipliers = MultipliersFor(res.LearningSpeed)
	res.OptimalSessionLength, res.SessionsAnalyzed = c.optimalSessionLength(sessions)
	return res
}

func (c *Calibrator) classify(accuracy, responseMillis float64) (LearningSpeed, float64) {
	switch {
	case accuracy >= c.cfg.FastAccuracy && responseMillis < c.cfg.FastResponseMillis:
		return SpeedFast, 0.9
	case accuracy >= c.cfg.MediumAccuracy && responseMillis < c.cfg.MediumResponseMillis:
		return SpeedMedium, 0.85
	case accuracy >= c.cfg.FallbackAccuracy:
		return SpeedMedium, 0.7
	default:
		return SpeedSlow, 0.8
	}
}

// optimalSessionLength buckets the most recent sessions by size and picks the
// representative length of the most accurate bucket. Sessions are expected
// newest first.
func (c *Calibrator) optimalSessionLength(sessions []SessionRecord) (int, int) {
	if len(sessions) > c.cfg.SessionWindow {
		sessions = sessions[:c.cfg.SessionWindow]
	}
	sums := make([]float64, len(sessionBuckets))
	counts := make([]int, len(sessionBuckets))
	analyzed := 0
	for _, s := range sessions {
		n := s.CardsStudied()
		if n == 0 {
			continue
		}
		analyzed++
		for i, b := range sessionBuckets {
			if b.maxCards == 0 || n <= b.maxCards {
				sums[i] += s.AverageAccuracy
				counts[i]++
				break
			}
		}
	}

	best, bestAccuracy := c.cfg.DefaultSessionLength, -1.0
	for i, b := range sessionBuckets {
		if counts[i] < c.cfg.MinBucketSamples {
			continue
		}
		if avg := sums[i] / float64(counts[i]); avg > bestAccuracy {
			best, bestAccuracy = b.length, avg
		}
	}
	return best, analyzed
}

// ApplyCalibration writes a successful result into the profile. Results that
// need more data leave the profile untouched.
func ApplyCalibration(p LearningProfile, res CalibrationResult, now time.Time) LearningProfile {
	if res.NeedsMoreData {
		return p
	}
	p.LearningSpeed = res.LearningSpeed
	p.Multipliers = res.RecommendedMultipliers
	if res.OptimalSessionLength > 0 {
		p.OptimalSessionLength = res.OptimalSessionLength
	}
	p.IsCalibrated = true
	stamp := now
	p.LastCalibrationDate = &stamp
	p.CalibrationReviews = 0
	return p
}

// NeedsRecalibration reports whether the profile is stale.
func (c *Calibrator) NeedsRecalibration(p LearningProfile, now time.Time) bool {
	if !p.IsCalibrated || p.LastCalibrationDate == nil {
		return true
	}
	if p.CalibrationReviews > c.cfg.RecalibrateAfterReview {
		return true
	}
	return now.Sub(*p.LastCalibrationDate) > time.Duration(c.cfg.RecalibrateAfterDays)*24*time.Hour
}
