package srs

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, SimpleConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min ease", func(c *Config) { c.MinEase = 0 }},
		{"starting ease below floor", func(c *Config) { c.StartingEase = 1.0 }},
		{"ceiling below start", func(c *Config) { c.MaxEase = 2.0 }},
		{"shrinking good multiplier", func(c *Config) { c.GoodMultiplier = 0.9 }},
		{"zero min interval", func(c *Config) { c.MinIntervalDays = 0 }},
		{"negative cooldown", func(c *Config) { c.MinNextReviewMinutes = -1 }},
		{"negative learning step", func(c *Config) { c.LearningStepsMinutes = []float64{1, -10} }},
		{"nan relearning step", func(c *Config) { c.RelearningStepsMinutes = []float64{math.NaN()} }},
		{"relearn factor above one", func(c *Config) { c.RelearnIntervalFactor = 1.5 }},
		{"unknown ordering", func(c *Config) { c.Ordering = "random" }},
		{"inverted bounds", func(c *Config) { c.Multipliers.Good = Bounds{Min: 3, Max: 2} }},
		{"zero calibration window", func(c *Config) { c.Calibration.SessionWindow = 0 }},
		{"zero short session", func(c *Config) { c.SessionSizes.Short = 0 }},
		{"long shorter than medium", func(c *Config) { c.SessionSizes.Long = 15 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestSessionSizesCards(t *testing.T) {
	sizes := DefaultConfig().SessionSizes
	for name, want := range map[string]int{"short": 10, "Medium": 20, " long ": 40} {
		got, err := sizes.Cards(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := sizes.Cards("huge")
	assert.ErrorIs(t, err, ErrInvalidSessionSize)
}

func TestBoundsClamp(t *testing.T) {
	b := Bounds{Min: 1, Max: 2}
	assert.Equal(t, 1.0, b.Clamp(0.5))
	assert.Equal(t, 1.5, b.Clamp(1.5))
	assert.Equal(t, 2.0, b.Clamp(7))
	assert.Equal(t, 1.0, b.Clamp(math.NaN()))
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in      string
		want    Rating
		wantErr bool
	}{
		{"again", Again, false},
		{" Hard ", Hard, false},
		{"GOOD", Good, false},
		{"4", Easy, false},
		{"1", Again, false},
		{"0", "", true},
		{"5", "", true},
		{"257", "", true},
		{"meh", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRating(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRating)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRatingScore(t *testing.T) {
	for i, r := range Ratings {
		assert.Equal(t, i+1, r.Score())
		back, err := RatingFromFSRS(gofsrs.Rating(r.Score()))
		require.NoError(t, err)
		assert.Equal(t, r, back)
	}
	assert.Equal(t, 0, Rating("nope").Score())
	assert.True(t, Good.Successful())
	assert.False(t, Hard.Successful())
}

func TestProfileSettingsApply(t *testing.T) {
	goal, length, bad := 50, 15, 0
	challenge := PreferChallenge
	unknown := DifficultyPreference("chaos")

	got, err := ProfileSettings{DailyReviewGoal: &goal, OptimalSessionLength: &length, DifficultyPreference: &challenge}.
		Apply(DefaultProfile("u1"))
	require.NoError(t, err)
	assert.Equal(t, 50, got.DailyReviewGoal)
	assert.Equal(t, 15, got.OptimalSessionLength)
	assert.Equal(t, PreferChallenge, got.DifficultyPreference)

	_, err = ProfileSettings{DailyReviewGoal: &bad}.Apply(DefaultProfile("u1"))
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = ProfileSettings{DifficultyPreference: &unknown}.Apply(DefaultProfile("u1"))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestProfileNormalize(t *testing.T) {
	got := LearningProfile{UserID: "u1", CalibrationReviews: 7}.Normalize()

	want := DefaultProfile("u1")
	want.CalibrationReviews = 7
	assert.Equal(t, want, got)
	assert.Equal(t, 8, got.RecordReview().CalibrationReviews)
}

func TestFromFSRSCard(t *testing.T) {
	cfg := DefaultConfig()
	last := testNow.Add(-3 * 24 * time.Hour)
	card := gofsrs.Card{
		Due:           testNow.Add(24 * time.Hour),
		Stability:     4.2,
		Difficulty:    6.5,
		ScheduledDays: 4,
		Reps:          3,
		Lapses:        1,
		State:         gofsrs.Review,
		LastReview:    last,
	}

	got := FromFSRSCard("u1", "c1", card, []gofsrs.Rating{gofsrs.Good, gofsrs.Again, gofsrs.Easy, gofsrs.Rating(9)}, cfg)

	assert.Equal(t, StateReview, got.State)
	assert.Equal(t, 4.0, got.IntervalDays)
	assert.Equal(t, 3, got.ReviewCount)
	assert.Equal(t, 1, got.LapseCount)
	assert.Equal(t, 6.5, got.PerceivedDifficulty)
	assert.Equal(t, cfg.StartingEase, got.EaseFactor)
	assert.Equal(t, 1, got.AgainCount)
	assert.Equal(t, 1, got.GoodCount)
	assert.Equal(t, 1, got.EasyCount)
	require.NotNil(t, got.LastReviewedAt)
	assert.True(t, got.LastReviewedAt.Equal(last))

	fresh := FromFSRSCard("u1", "c2", gofsrs.NewCard(), nil, cfg)
	assert.Equal(t, StateNew, fresh.State)
	assert.True(t, fresh.IsNew())
}
