package srs

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid scheduler config")

// ErrInvalidSessionSize is returned for a session size other than short,
// medium or long.
var ErrInvalidSessionSize = errors.New("invalid session size")

// Ordering selects how due cards are arranged in a queue.
type Ordering string

const (
	OrderingPriority Ordering = "priority" // highest priority score first
	OrderingShuffled Ordering = "shuffled" // uniform shuffle of the eligible set
)

// Bounds is a closed [Min, Max] range.
type Bounds struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

// Clamp limits v to the range. NaN maps to Min.
func (b Bounds) Clamp(v float64) float64 {
	if math.IsNaN(v) || v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// MultiplierBounds are the sane ranges interval multipliers are clamped to
// when they are applied.
type MultiplierBounds struct {
	Again Bounds `mapstructure:"again" json:"again"`
	Hard  Bounds `mapstructure:"hard" json:"hard"`
	Good  Bounds `mapstructure:"good" json:"good"`
	Easy  Bounds `mapstructure:"easy" json:"easy"`
}

// MasteryThresholds define the "mastered" predicate.
type MasteryThresholds struct {
	MinIntervalDays float64 `mapstructure:"min_interval_days" json:"min_interval_days"`
	MinReviews      int     `mapstructure:"min_reviews" json:"min_reviews"`
	MinEase         float64 `mapstructure:"min_ease" json:"min_ease"`
	MaxLapses       int     `mapstructure:"max_lapses" json:"max_lapses"`
}

// DifficultyDrift controls how perceived difficulty moves per rating.
type DifficultyDrift struct {
	Initial float64 `mapstructure:"initial" json:"initial"`
	Again   float64 `mapstructure:"again" json:"again"`
	Hard    float64 `mapstructure:"hard" json:"hard"`
	Easy    float64 `mapstructure:"easy" json:"easy"`
}

// SessionSizes are the preset session lengths offered to learners.
type SessionSizes struct {
	Short  int `mapstructure:"short" json:"short"`
	Medium int `mapstructure:"medium" json:"medium"`
	Long   int `mapstructure:"long" json:"long"`
}

// Cards returns the length of the named preset.
func (ss SessionSizes) Cards(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "short":
		return ss.Short, nil
	case "medium":
		return ss.Medium, nil
	case "long":
		return ss.Long, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSessionSize, name)
}

// CalibrationConfig holds the calibrator's thresholds.
type CalibrationConfig struct {
	MinReviewedCards       int     `mapstructure:"min_reviewed_cards" json:"min_reviewed_cards"`
	SessionWindow          int     `mapstructure:"session_window" json:"session_window"`
	MinBucketSamples       int     `mapstructure:"min_bucket_samples" json:"min_bucket_samples"`
	DefaultSessionLength   int     `mapstructure:"default_session_length" json:"default_session_length"`
	RecalibrateAfterReview int     `mapstructure:"recalibrate_after_reviews" json:"recalibrate_after_reviews"`
	RecalibrateAfterDays   int     `mapstructure:"recalibrate_after_days" json:"recalibrate_after_days"`
	FastAccuracy           float64 `mapstructure:"fast_accuracy" json:"fast_accuracy"`
	FastResponseMillis     float64 `mapstructure:"fast_response_ms" json:"fast_response_ms"`
	MediumAccuracy         float64 `mapstructure:"medium_accuracy" json:"medium_accuracy"`
	MediumResponseMillis   float64 `mapstructure:"medium_response_ms" json:"medium_response_ms"`
	FallbackAccuracy       float64 `mapstructure:"fallback_accuracy" json:"fallback_accuracy"`
}

// Config is the complete tunable surface of the scheduler. It is passed by
// value into every constructor; there is no package-level state.
type Config struct {
	StartingEase    float64 `mapstructure:"starting_ease" json:"starting_ease"`
	MinEase         float64 `mapstructure:"min_ease" json:"min_ease"`
	MaxEase         float64 `mapstructure:"max_ease" json:"max_ease"` // 0 disables the ceiling
	EaseHardPenalty float64 `mapstructure:"ease_hard_penalty" json:"ease_hard_penalty"`
	EaseEasyBonus   float64 `mapstructure:"ease_easy_bonus" json:"ease_easy_bonus"`

	HardMultiplier float64 `mapstructure:"hard_multiplier" json:"hard_multiplier"`
	GoodMultiplier float64 `mapstructure:"good_multiplier" json:"good_multiplier"`
	EasyMultiplier float64 `mapstructure:"easy_multiplier" json:"easy_multiplier"`
	GoodUsesEase   bool    `mapstructure:"good_uses_ease" json:"good_uses_ease"`

	MinIntervalDays      float64 `mapstructure:"min_interval_days" json:"min_interval_days"`
	MaxIntervalDays      float64 `mapstructure:"max_interval_days" json:"max_interval_days"`
	MinNextReviewMinutes float64 `mapstructure:"min_next_review_minutes" json:"min_next_review_minutes"`

	LearningStepsMinutes       []float64 `mapstructure:"learning_steps_minutes" json:"learning_steps_minutes"`
	RelearningStepsMinutes     []float64 `mapstructure:"relearning_steps_minutes" json:"relearning_steps_minutes"`
	InitialReviewIntervalDays  float64   `mapstructure:"initial_review_interval_days" json:"initial_review_interval_days"`
	EasyGraduatingIntervalDays float64   `mapstructure:"easy_graduating_interval_days" json:"easy_graduating_interval_days"`
	LapseIntervalDays          float64   `mapstructure:"lapse_interval_days" json:"lapse_interval_days"`
	RelearnIntervalFactor      float64   `mapstructure:"relearn_interval_factor" json:"relearn_interval_factor"`

	Multipliers  MultiplierBounds  `mapstructure:"multipliers" json:"multipliers"`
	Mastery      MasteryThresholds `mapstructure:"mastery" json:"mastery"`
	Difficulty   DifficultyDrift   `mapstructure:"difficulty" json:"difficulty"`
	Ordering     Ordering          `mapstructure:"ordering" json:"ordering"`
	SessionSizes SessionSizes      `mapstructure:"session_sizes" json:"session_sizes"`
	Calibration  CalibrationConfig `mapstructure:"calibration" json:"calibration"`
}

// DefaultConfig returns the per-user adaptive preset: ease ceiling, good
// reviews grow by the ease factor, and queues follow priority order.
func DefaultConfig() Config {
	return Config{
		StartingEase:    2.5,
		MinEase:         1.3,
		MaxEase:         3.5,
		EaseHardPenalty: 0.2,
		EaseEasyBonus:   0.15,

		HardMultiplier: 1.2,
		GoodMultiplier: 2.5,
		EasyMultiplier: 3.5,
		GoodUsesEase:   true,

		MinIntervalDays:      1,
		MaxIntervalDays:      365,
		MinNextReviewMinutes: 1,

		LearningStepsMinutes:       []float64{1, 10},
		RelearningStepsMinutes:     []float64{10},
		InitialReviewIntervalDays:  1,
		EasyGraduatingIntervalDays: 4,
		LapseIntervalDays:          1,
		RelearnIntervalFactor:      0.5,

		Multipliers: MultiplierBounds{
			Again: Bounds{Min: 0.1, Max: 1.0},
			Hard:  Bounds{Min: 1.0, Max: 2.0},
			Good:  Bounds{Min: 1.3, Max: 5.0},
			Easy:  Bounds{Min: 1.5, Max: 6.0},
		},
		Mastery: MasteryThresholds{
			MinIntervalDays: 14,
			MinReviews:      4,
			MinEase:         2.2,
			MaxLapses:       3,
		},
		Difficulty: DifficultyDrift{
			Initial: 5,
			Again:   1.0,
			Hard:    0.5,
			Easy:    -0.5,
		},
		Ordering:     OrderingPriority,
		SessionSizes: SessionSizes{Short: 10, Medium: 20, Long: 40},
		Calibration: CalibrationConfig{
			MinReviewedCards:       20,
			SessionWindow:          50,
			MinBucketSamples:       3,
			DefaultSessionLength:   20,
			RecalibrateAfterReview: 100,
			RecalibrateAfterDays:   30,
			FastAccuracy:           0.85,
			FastResponseMillis:     7000,
			MediumAccuracy:         0.75,
			MediumResponseMillis:   10000,
			FallbackAccuracy:       0.70,
		},
	}
}

// SimpleConfig returns the global fixed-parameter preset used by the live
// review path: no ease ceiling, fixed good multiplier, shuffled queues.
func SimpleConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxEase = 0
	cfg.GoodUsesEase = false
	cfg.Ordering = OrderingShuffled
	cfg.MaxIntervalDays = 36500
	cfg.LearningStepsMinutes = []float64{1, 10}
	cfg.RelearningStepsMinutes = []float64{10}
	return cfg
}

// Validate checks the config for values the engine cannot work with.
func (c Config) Validate() error {
	switch {
	case c.MinEase <= 0:
		return fmt.Errorf("%w: min_ease must be positive", ErrInvalidConfig)
	case c.StartingEase < c.MinEase:
		return fmt.Errorf("%w: starting_ease %.2f below min_ease %.2f", ErrInvalidConfig, c.StartingEase, c.MinEase)
	case c.MaxEase != 0 && c.MaxEase < c.StartingEase:
		return fmt.Errorf("%w: max_ease %.2f below starting_ease %.2f", ErrInvalidConfig, c.MaxEase, c.StartingEase)
	case c.EaseHardPenalty < 0 || c.EaseEasyBonus < 0:
		return fmt.Errorf("%w: ease steps must not be negative", ErrInvalidConfig)
	case c.HardMultiplier < 1 || c.GoodMultiplier <= 1 || c.EasyMultiplier <= 1:
		return fmt.Errorf("%w: interval multipliers must grow the interval", ErrInvalidConfig)
	case c.MinIntervalDays <= 0:
		return fmt.Errorf("%w: min_interval_days must be positive", ErrInvalidConfig)
	case c.MaxIntervalDays != 0 && c.MaxIntervalDays < c.MinIntervalDays:
		return fmt.Errorf("%w: max_interval_days below min_interval_days", ErrInvalidConfig)
	case c.MinNextReviewMinutes < 0:
		return fmt.Errorf("%w: min_next_review_minutes must not be negative", ErrInvalidConfig)
	case c.InitialReviewIntervalDays <= 0 || c.EasyGraduatingIntervalDays <= 0 || c.LapseIntervalDays <= 0:
		return fmt.Errorf("%w: graduation and lapse intervals must be positive", ErrInvalidConfig)
	case c.RelearnIntervalFactor < 0 || c.RelearnIntervalFactor > 1:
		return fmt.Errorf("%w: relearn_interval_factor must be within [0,1]", ErrInvalidConfig)
	case c.Ordering != OrderingPriority && c.Ordering != OrderingShuffled:
		return fmt.Errorf("%w: unknown ordering %q", ErrInvalidConfig, c.Ordering)
	}
	for _, steps := range [][]float64{c.LearningStepsMinutes, c.RelearningStepsMinutes} {
		for _, m := range steps {
			if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
				return fmt.Errorf("%w: learning steps must be positive minutes", ErrInvalidConfig)
			}
		}
	}
	for name, b := range map[string]Bounds{
		"again": c.Multipliers.Again, "hard": c.Multipliers.Hard,
		"good": c.Multipliers.Good, "easy": c.Multipliers.Easy,
	} {
		if b.Min <= 0 || b.Max < b.Min {
			return fmt.Errorf("%w: multiplier bounds for %s", ErrInvalidConfig, name)
		}
	}
	if c.Calibration.MinReviewedCards <= 0 || c.Calibration.SessionWindow <= 0 {
		return fmt.Errorf("%w: calibration windows must be positive", ErrInvalidConfig)
	}
	if ss := c.SessionSizes; ss.Short <= 0 || ss.Medium < ss.Short || ss.Long < ss.Medium {
		return fmt.Errorf("%w: session sizes must be positive and ascending", ErrInvalidConfig)
	}
	return nil
}

// cooldown is the minimum distance between a review and the next one.
func (c Config) cooldown() time.Duration {
	return minuteDuration(c.MinNextReviewMinutes)
}

// clampEase applies the [MinEase, MaxEase] range.
func (c Config) clampEase(e float64) float64 {
	if math.IsNaN(e) || e < c.MinEase {
		return c.MinEase
	}
	if c.MaxEase > 0 && e > c.MaxEase {
		return c.MaxEase
	}
	return e
}

// clampInterval applies the review-state interval floor and ceiling.
func (c Config) clampInterval(days float64) float64 {
	if math.IsNaN(days) || days < c.MinIntervalDays {
		return c.MinIntervalDays
	}
	if c.MaxIntervalDays > 0 && days > c.MaxIntervalDays {
		return c.MaxIntervalDays
	}
	return days
}

func minuteDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func dayDuration(d float64) time.Duration {
	return time.Duration(d * 24 * float64(time.Hour))
}
