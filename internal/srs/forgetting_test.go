package srs

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestForgetProbability(t *testing.T) {
	est := NewEstimator(DefaultConfig())

	tests := []struct {
		name  string
		state func() ScheduleState
		want  float64
	}{
		{
			name:  "never reviewed",
			state: func() ScheduleState { return NewScheduleState("u1", "c1", DefaultConfig()) },
			want:  1,
		},
		{
			name: "reviewed count but no timestamp",
			state: func() ScheduleState {
				s := reviewCard(10, 2.5)
				s.LastReviewedAt = nil
				return s
			},
			want: 1,
		},
		{
			name: "zero stability",
			state: func() ScheduleState {
				s := learningCard(0)
				s.IntervalDays = 0
				return s
			},
			want: 1,
		},
		{
			name: "just reviewed",
			state: func() ScheduleState {
				s := reviewCard(10, 2.5)
				s.LastReviewedAt = ptrTime(testNow)
				return s
			},
			want: 0,
		},
		{
			name: "ten days after one review",
			state: func() ScheduleState {
				s := reviewCard(10, 2.5)
				s.ReviewCount = 1
				s.GoodCount = 0
				s.LastReviewedAt = ptrTime(testNow.Add(-10 * 24 * time.Hour))
				return s
			},
			// stability = 10 * (2.5/2.5) * ln(2)
			want: 1 - math.Exp(-10/(10*math.Log(2))),
		},
		{
			name: "infinite ease",
			state: func() ScheduleState {
				s := reviewCard(10, math.Inf(1))
				return s
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := est.ForgetProbability(tt.state(), testNow)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestForgetProbability_Monotonic(t *testing.T) {
	est := NewEstimator(DefaultConfig())
	s := reviewCard(10, 2.5)
	s.LastReviewedAt = ptrTime(testNow)

	prev := -1.0
	for day := 0; day <= 60; day += 5 {
		p := est.ForgetProbability(s, testNow.Add(time.Duration(day)*24*time.Hour))
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	assert.InDelta(t, 1-est.ForgetProbability(s, testNow.Add(48*time.Hour)), est.Retrievability(s, testNow.Add(48*time.Hour)), 1e-12)
}

func TestForgetCurveProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	est := NewEstimator(DefaultConfig())

	properties.Property("fresh reviews are remembered", prop.ForAll(
		func(interval, ease float64, reviews int, fraction float64) bool {
			s := reviewCard(interval, ease)
			s.ReviewCount = reviews
			s.GoodCount = reviews
			stability := est.Stability(s)
			elapsed := time.Duration(fraction * stability * 24 * float64(time.Hour))
			s.LastReviewedAt = ptrTime(testNow.Add(-elapsed))
			return est.ForgetProbability(s, testNow) < 1.0
		},
		gen.Float64Range(1, 365),
		gen.Float64Range(1.3, 3.5),
		gen.IntRange(1, 50),
		gen.Float64Range(0, 0.999),
	))

	properties.Property("new cards are unknown", prop.ForAll(
		func(interval float64) bool {
			s := reviewCard(interval, 2.5)
			s.ReviewCount = 0
			s.GoodCount = 0
			return est.ForgetProbability(s.Normalize(DefaultConfig()), testNow) == 1.0
		},
		gen.Float64Range(0, 365),
	))

	properties.TestingRun(t)
}
