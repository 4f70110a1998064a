package srs

import (
	"time"
)

// ReviewOptions carries everything a review needs besides the state itself.
type ReviewOptions struct {
	Now          time.Time        // zero means time.Now()
	ResponseTime time.Duration    // zero means no sample
	Profile      *LearningProfile // nil falls back to the config multipliers
}

// reviewContext is what each transition cell sees.
type reviewContext struct {
	now  time.Time
	mult Multipliers // effective, already clamped
}

type transition func(s *ScheduleState, rc reviewContext)

// Engine maps (schedule state, rating) to the next schedule state.
type Engine struct {
	cfg   Config
	table map[CardState]map[Rating]transition
}

// NewEngine builds an engine with its dispatch table.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.table = map[CardState]map[Rating]transition{
		StateNew: {
			Again: e.learnAgain,
			Hard:  e.learnHard,
			Good:  e.learnGood,
			Easy:  e.learnEasy,
		},
		StateLearning: {
			Again: e.learnAgain,
			Hard:  e.learnHard,
			Good:  e.learnGood,
			Easy:  e.learnEasy,
		},
		StateReview: {
			Again: e.reviewAgain,
			Hard:  e.reviewHard,
			Good:  e.reviewGood,
			Easy:  e.reviewEasy,
		},
		StateRelearning: {
			Again: e.relearnAgain,
			Hard:  e.relearnHard,
			Good:  e.relearnGood,
			Easy:  e.relearnEasy,
		},
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Review applies one rating. The input is normalized first; an invalid rating
// returns the normalized input untouched.
func (e *Engine) Review(state ScheduleState, rating Rating, opts ReviewOptions) ScheduleState {
	s := state.Normalize(e.cfg)
	step, ok := e.table[s.State][rating]
	if !ok {
		return s
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	step(&s, reviewContext{now: now, mult: e.effectiveMultipliers(opts.Profile)})

	e.recordStats(&s, rating, now, opts.ResponseTime)
	e.driftDifficulty(&s, rating)
	e.enforceCooldown(&s, now)
	return s
}

// Preview returns the outcome of every rating without committing any.
func (e *Engine) Preview(state ScheduleState, opts ReviewOptions) map[Rating]ScheduleState {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	out := make(map[Rating]ScheduleState, len(Ratings))
	for _, r := range Ratings {
		out[r] = e.Review(state, r, opts)
	}
	return out
}

// --- new / learning ---

func (e *Engine) learnAgain(s *ScheduleState, rc reviewContext) {
	s.State = StateLearning
	s.LearningStep = 0
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty)
	e.scheduleStep(s, e.cfg.LearningStepsMinutes, rc.now)
}

func (e *Engine) learnHard(s *ScheduleState, rc reviewContext) {
	s.State = StateLearning
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty/2)
	e.scheduleStep(s, e.cfg.LearningStepsMinutes, rc.now)
}

func (e *Engine) learnGood(s *ScheduleState, rc reviewContext) {
	steps := e.cfg.LearningStepsMinutes
	next := s.LearningStep + 1
	if next >= len(steps) {
		e.graduate(s, e.cfg.InitialReviewIntervalDays, rc.now)
		return
	}
	s.State = StateLearning
	s.LearningStep = next
	e.scheduleStep(s, steps, rc.now)
}

func (e *Engine) learnEasy(s *ScheduleState, rc reviewContext) {
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor + e.cfg.EaseEasyBonus)
	e.graduate(s, e.cfg.EasyGraduatingIntervalDays, rc.now)
}

// --- review ---

func (e *Engine) reviewAgain(s *ScheduleState, rc reviewContext) {
	s.LapseCount++
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty)
	s.PreLapseIntervalDays = s.IntervalDays
	s.IntervalDays = maxFloat(e.cfg.MinIntervalDays, e.cfg.LapseIntervalDays*rc.mult.Again)
	s.State = StateRelearning
	s.LearningStep = 0
	e.scheduleStep(s, e.cfg.RelearningStepsMinutes, rc.now)
}

func (e *Engine) reviewHard(s *ScheduleState, rc reviewContext) {
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty/2)
	e.scheduleInterval(s, s.IntervalDays*rc.mult.Hard, rc.now)
}

func (e *Engine) reviewGood(s *ScheduleState, rc reviewContext) {
	factor := rc.mult.Good
	if e.cfg.GoodUsesEase {
		factor = e.cfg.Multipliers.Good.Clamp(s.EaseFactor * rc.mult.Good / e.cfg.GoodMultiplier)
	}
	e.scheduleInterval(s, s.IntervalDays*factor, rc.now)
}

func (e *Engine) reviewEasy(s *ScheduleState, rc reviewContext) {
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor + e.cfg.EaseEasyBonus)
	e.scheduleInterval(s, s.IntervalDays*rc.mult.Easy, rc.now)
}

// --- relearning ---

func (e *Engine) relearnAgain(s *ScheduleState, rc reviewContext) {
	s.LearningStep = 0
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty)
	e.scheduleStep(s, e.cfg.RelearningStepsMinutes, rc.now)
}

func (e *Engine) relearnHard(s *ScheduleState, rc reviewContext) {
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor - e.cfg.EaseHardPenalty/2)
	e.scheduleStep(s, e.cfg.RelearningStepsMinutes, rc.now)
}

func (e *Engine) relearnGood(s *ScheduleState, rc reviewContext) {
	steps := e.cfg.RelearningStepsMinutes
	next := s.LearningStep + 1
	if next >= len(steps) {
		e.graduate(s, e.regraduationInterval(s), rc.now)
		return
	}
	s.LearningStep = next
	e.scheduleStep(s, steps, rc.now)
}

func (e *Engine) relearnEasy(s *ScheduleState, rc reviewContext) {
	s.EaseFactor = e.cfg.clampEase(s.EaseFactor + e.cfg.EaseEasyBonus)
	interval := e.regraduationInterval(s) * rc.mult.Easy / rc.mult.Good
	e.graduate(s, maxFloat(interval, e.cfg.EasyGraduatingIntervalDays), rc.now)
}

// regraduationInterval resumes from a fraction of the pre-lapse interval
// rather than from scratch.
func (e *Engine) regraduationInterval(s *ScheduleState) float64 {
	return maxFloat(s.IntervalDays, s.PreLapseIntervalDays*e.cfg.RelearnIntervalFactor)
}

// --- shared helpers ---

func (e *Engine) graduate(s *ScheduleState, intervalDays float64, now time.Time) {
	s.State = StateReview
	s.LearningStep = 0
	e.scheduleInterval(s, intervalDays, now)
}

func (e *Engine) scheduleInterval(s *ScheduleState, intervalDays float64, now time.Time) {
	s.IntervalDays = e.cfg.clampInterval(intervalDays)
	next := now.Add(dayDuration(s.IntervalDays))
	s.NextReviewAt = &next
}

// scheduleStep schedules at the current step's minute offset. With an empty
// step list the cooldown floor alone decides the next review.
func (e *Engine) scheduleStep(s *ScheduleState, steps []float64, now time.Time) {
	s.LearningStep = clampStep(s.LearningStep, len(steps))
	var offset time.Duration
	if len(steps) > 0 {
		offset = minuteDuration(steps[s.LearningStep])
	}
	next := now.Add(offset)
	s.NextReviewAt = &next
}

func (e *Engine) enforceCooldown(s *ScheduleState, now time.Time) {
	floor := now.Add(e.cfg.cooldown())
	if s.NextReviewAt == nil || s.NextReviewAt.Before(floor) {
		s.NextReviewAt = &floor
	}
}

func (e *Engine) recordStats(s *ScheduleState, r Rating, now time.Time, responseTime time.Duration) {
	if responseTime > 0 {
		n := float64(s.ResponseSamples)
		sample := float64(responseTime) / float64(time.Millisecond)
		s.AverageResponseTime = (s.AverageResponseTime*n + sample) / (n + 1)
		s.ResponseSamples++
	}
	s.ReviewCount++
	switch r {
	case Again:
		s.AgainCount++
	case Hard:
		s.HardCount++
	case Good:
		s.GoodCount++
	case Easy:
		s.EasyCount++
	}
	reviewed := now
	s.LastReviewedAt = &reviewed
}

func (e *Engine) driftDifficulty(s *ScheduleState, r Rating) {
	d := e.cfg.Difficulty
	switch r {
	case Again:
		s.PerceivedDifficulty += d.Again
	case Hard:
		s.PerceivedDifficulty += d.Hard
	case Easy:
		s.PerceivedDifficulty += d.Easy
	}
	s.PerceivedDifficulty = clampDifficulty(s.PerceivedDifficulty)
}

// effectiveMultipliers picks the profile's multipliers when present and
// clamps every one of them to its configured range.
func (e *Engine) effectiveMultipliers(p *LearningProfile) Multipliers {
	m := Multipliers{
		Again: 1.0,
		Hard:  e.cfg.HardMultiplier,
		Good:  e.cfg.GoodMultiplier,
		Easy:  e.cfg.EasyMultiplier,
	}
	if p != nil {
		m = p.Normalize().Multipliers
	}
	b := e.cfg.Multipliers
	return Multipliers{
		Again: b.Again.Clamp(m.Again),
		Hard:  b.Hard.Clamp(m.Hard),
		Good:  b.Good.Clamp(m.Good),
		Easy:  b.Easy.Clamp(m.Easy),
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
