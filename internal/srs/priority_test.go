package srs

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestScore_Urgency(t *testing.T) {
	sc := NewScorer(DefaultConfig())

	t.Run("never scheduled", func(t *testing.T) {
		s := NewScheduleState("u1", "c1", DefaultConfig())
		got := sc.Score(s, 1, 1, testNow)
		assert.Equal(t, 1.0, got.UrgencyScore)
		assert.True(t, got.IsOverdue)
		// new card: importance 0.6, overdue boost 1.2
		assert.InDelta(t, 0.72, got.PriorityScore, 1e-9)
	})

	t.Run("overdue grows sub-linearly", func(t *testing.T) {
		s := reviewCard(10, 2.5)
		s.NextReviewAt = ptrTime(testNow.Add(-14 * 24 * time.Hour))
		got := sc.Score(s, 0, 1, testNow)
		assert.True(t, got.IsOverdue)
		assert.InDelta(t, 14, got.DaysOverdue, 1e-9)
		assert.InDelta(t, 1.0, got.UrgencyScore, 1e-9)

		s.NextReviewAt = ptrTime(testNow.Add(-24 * time.Hour))
		got = sc.Score(s, 0, 1, testNow)
		assert.InDelta(t, 0.5+0.1386294361, got.UrgencyScore, 1e-6)
	})

	t.Run("not yet due blends proximity and forgetting", func(t *testing.T) {
		s := reviewCard(10, 2.5)
		s.NextReviewAt = ptrTime(testNow.Add(7 * 24 * time.Hour))
		got := sc.Score(s, 0.4, 1, testNow)
		assert.False(t, got.IsOverdue)
		assert.InDelta(t, 7, got.DaysUntilDue, 1e-9)
		assert.InDelta(t, 0.5*0.5+0.5*0.4, got.UrgencyScore, 1e-9)
	})

	t.Run("far future only counts forgetting", func(t *testing.T) {
		s := reviewCard(10, 2.5)
		s.NextReviewAt = ptrTime(testNow.Add(60 * 24 * time.Hour))
		got := sc.Score(s, 0.2, 1, testNow)
		assert.InDelta(t, 0.1, got.UrgencyScore, 1e-9)
	})
}

func TestScore_Importance(t *testing.T) {
	cfg := DefaultConfig()
	sc := NewScorer(cfg)

	mastered := reviewCard(30, 2.5)
	assert.True(t, mastered.IsMastered(cfg))
	assert.InDelta(t, 0, sc.Score(mastered, 0.5, 1, testNow).ImportanceScore, 1e-9)

	lapsed := reviewCard(30, 2.5)
	lapsed.LapseCount = 2
	// mastered still (lapses <= 3): 0*0.6 + 0.4*0.4
	assert.InDelta(t, 0.16, sc.Score(lapsed, 0.5, 1, testNow).ImportanceScore, 1e-9)

	young := reviewCard(3, 2.5)
	// mastery 0.5
	assert.InDelta(t, 0.3, sc.Score(young, 0.5, 1, testNow).ImportanceScore, 1e-9)
	assert.InDelta(t, 0.15, sc.Score(young, 0.5, 0.5, testNow).ImportanceScore, 1e-9)
}

func TestMasteryLevel(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name  string
		state ScheduleState
		want  float64
	}{
		{"new", NewScheduleState("u1", "c1", cfg), 0},
		{"learning", learningCard(0), 0.3},
		{"relearning", relearningCard(), 0.3},
		{"young review", reviewCard(3, 2.5), 0.5},
		{"maturing review", reviewCard(10, 2.5), 0.7},
		{"long but low ease", reviewCard(20, 1.5), 0.8},
		{"mastered", reviewCard(20, 2.5), 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.MasteryLevel(cfg))
		})
	}
}

func TestPriorityProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	cfg := DefaultConfig()
	sc := NewScorer(cfg)

	properties.Property("overdue outranks its not-yet-due twin", prop.ForAll(
		func(interval, fp, deck, overdueDays, untilDays float64, lapses int) bool {
			base := reviewCard(interval, 2.5)
			base.LapseCount = lapses

			overdue := base.clone()
			overdue.NextReviewAt = ptrTime(testNow.Add(-time.Duration(overdueDays * 24 * float64(time.Hour))))
			pending := base.clone()
			pending.NextReviewAt = ptrTime(testNow.Add(time.Duration(untilDays * 24 * float64(time.Hour))))

			a := sc.Score(overdue, fp, deck, testNow)
			b := sc.Score(pending, fp, deck, testNow)
			if a.ImportanceScore == 0 {
				return true
			}
			return a.PriorityScore > b.PriorityScore
		},
		gen.Float64Range(1, 365),
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 1),
		gen.Float64Range(0.001, 60),
		gen.Float64Range(0.001, 60),
		gen.IntRange(0, 6),
	))

	properties.Property("scores stay within bounds", prop.ForAll(
		func(interval, fp, deck, offsetDays float64) bool {
			s := reviewCard(interval, 2.5)
			s.NextReviewAt = ptrTime(testNow.Add(time.Duration(offsetDays * 24 * float64(time.Hour))))
			got := sc.Score(s, fp, deck, testNow)
			return got.PriorityScore >= 0 && got.PriorityScore <= 1 &&
				got.UrgencyScore >= 0 && got.UrgencyScore <= 1
		},
		gen.Float64Range(0, 400),
		gen.Float64Range(-1, 2),
		gen.Float64Range(0, 3),
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}
