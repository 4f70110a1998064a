package srs

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

const (
	challengeSlope      = 0.1
	confidenceShare     = 0.3
	deferMaxDaysOverdue = 3.0
	deferMaxUrgency     = 0.8
)

// ScoredCard pairs a schedule with its ranking.
type ScoredCard struct {
	State ScheduleState `json:"state"`
	Score Score         `json:"score"`
	// Reinforcement marks a mastered card mixed in for a confidence learner.
	Reinforcement bool `json:"reinforcement,omitempty"`
}

// QueueRequest is the input to QueueBuilder.Build.
type QueueRequest struct {
	Due            []ScheduleState // due or overdue candidates
	Reinforcement  []ScheduleState // not-yet-due cards eligible for confidence mixing
	Profile        LearningProfile
	DeckImportance float64
	MaxCards       int // 0 means no limit
	Now            time.Time
}

// QueueBuilder selects and orders the cards of a session.
type QueueBuilder struct {
	cfg    Config
	scorer *Scorer
	rng    *rand.Rand
}

// NewQueueBuilder returns a builder. rng drives the shuffled ordering and may
// be nil, in which case a time-seeded source is used.
func NewQueueBuilder(cfg Config, rng *rand.Rand) *QueueBuilder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &QueueBuilder{cfg: cfg, scorer: NewScorer(cfg), rng: rng}
}

// Scorer returns the scorer used by the builder.
func (qb *QueueBuilder) Scorer() *Scorer {
	return qb.scorer
}

// Build scores the candidates, applies the learner's difficulty preference
// and orders them according to the configured ordering.
func (qb *QueueBuilder) Build(req QueueRequest) []ScoredCard {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	importance := req.DeckImportance
	if importance == 0 {
		importance = 1
	}
	profile := req.Profile.Normalize()

	seen := make(map[string]bool, len(req.Due))
	cards := make([]ScoredCard, 0, len(req.Due))
	for _, raw := range req.Due {
		s := raw.Normalize(qb.cfg)
		if seen[s.CardID] || qb.inCooldown(s, now) {
			continue
		}
		seen[s.CardID] = true
		sc := ScoredCard{State: s, Score: qb.scorer.ScoreCard(s, importance, now)}
		if profile.DifficultyPreference == PreferChallenge {
			sc.Score.PriorityScore = challengeAdjust(sc.Score.PriorityScore, s.PerceivedDifficulty)
		}
		cards = append(cards, sc)
	}

	var extra []ScoredCard
	if profile.DifficultyPreference == PreferConfidence {
		extra = qb.reinforcements(req.Reinforcement, seen, importance, now, req.MaxCards, len(cards))
	}

	qb.order(cards)
	qb.order(extra)

	if req.MaxCards > 0 {
		keep := req.MaxCards - len(extra)
		if keep < 0 {
			keep = 0
		}
		if len(cards) > keep {
			cards = cards[:keep]
		}
	}
	out := append(cards, extra...)
	if req.MaxCards > 0 && len(out) > req.MaxCards {
		out = out[:req.MaxCards]
	}
	return out
}

// reinforcements picks up to 30% of the target size from mastered cards not
// already in the queue.
func (qb *QueueBuilder) reinforcements(pool []ScheduleState, seen map[string]bool, importance float64, now time.Time, maxCards, dueCount int) []ScoredCard {
	target := maxCards
	if target <= 0 {
		target = dueCount
	}
	limit := int(math.Floor(confidenceShare * float64(target)))
	if limit <= 0 {
		return nil
	}
	var out []ScoredCard
	for _, raw := range pool {
		if len(out) == limit {
			break
		}
		s := raw.Normalize(qb.cfg)
		if seen[s.CardID] || !s.IsMastered(qb.cfg) || qb.inCooldown(s, now) {
			continue
		}
		seen[s.CardID] = true
		out = append(out, ScoredCard{
			State:         s,
			Score:         qb.scorer.ScoreCard(s, importance, now),
			Reinforcement: true,
		})
	}
	return out
}

func (qb *QueueBuilder) order(cards []ScoredCard) {
	if qb.cfg.Ordering == OrderingShuffled {
		qb.rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
		return
	}
	SortByPriority(cards)
}

// inCooldown excludes cards reviewed within the cooldown window even when
// their NextReviewAt says they are due.
func (qb *QueueBuilder) inCooldown(s ScheduleState, now time.Time) bool {
	if s.LastReviewedAt == nil {
		return false
	}
	return now.Sub(*s.LastReviewedAt) < qb.cfg.cooldown()
}

func challengeAdjust(priority, difficulty float64) float64 {
	return math.Max(0, priority*(1+(difficulty-5)*challengeSlope))
}

// SortByPriority sorts descending by priority; ties break on CardID.
func SortByPriority(cards []ScoredCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Score.PriorityScore != cards[j].Score.PriorityScore {
			return cards[i].Score.PriorityScore > cards[j].Score.PriorityScore
		}
		return cards[i].State.CardID < cards[j].State.CardID
	})
}

// Workload is the result of BalanceWorkload.
type Workload struct {
	ReviewNow []ScoredCard `json:"review_now"`
	Deferred  []ScoredCard `json:"deferred"`
	// Carryover holds cards beyond the goal that are too overdue to defer.
	Carryover     []ScoredCard `json:"carryover"`
	DeferredUntil time.Time    `json:"deferred_until"`
}

// BalanceWorkload keeps the top dailyGoal cards for today and defers the
// rest to tomorrow unless they are critically overdue.
func BalanceWorkload(cards []ScoredCard, dailyGoal int, now time.Time) Workload {
	sorted := make([]ScoredCard, len(cards))
	copy(sorted, cards)
	SortByPriority(sorted)

	y, m, d := now.Date()
	w := Workload{DeferredUntil: time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())}
	if dailyGoal <= 0 || len(sorted) <= dailyGoal {
		w.ReviewNow = sorted
		return w
	}
	w.ReviewNow = sorted[:dailyGoal]
	for _, c := range sorted[dailyGoal:] {
		if Deferrable(c.Score) {
			w.Deferred = append(w.Deferred, c)
		} else {
			w.Carryover = append(w.Carryover, c)
		}
	}
	return w
}

// Deferrable reports whether a card may be pushed to tomorrow.
func Deferrable(s Score) bool {
	return s.DaysOverdue < deferMaxDaysOverdue && s.UrgencyScore < deferMaxUrgency
}
