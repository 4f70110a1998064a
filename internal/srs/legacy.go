package srs

import (
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

var fsrsStates = map[gofsrs.State]CardState{
	gofsrs.New:        StateNew,
	gofsrs.Learning:   StateLearning,
	gofsrs.Review:     StateReview,
	gofsrs.Relearning: StateRelearning,
}

// FromFSRSCard converts a card scheduled by go-fsrs into a schedule state.
// ratings is the card's review history; unknown ratings are skipped. FSRS has
// no ease factor, so the converted card starts at the configured ease.
func FromFSRSCard(userID, cardID string, card gofsrs.Card, ratings []gofsrs.Rating, cfg Config) ScheduleState {
	s := NewScheduleState(userID, cardID, cfg)
	if st, ok := fsrsStates[card.State]; ok {
		s.State = st
	}
	s.IntervalDays = float64(card.ScheduledDays)
	s.ReviewCount = int(card.Reps)
	s.LapseCount = int(card.Lapses)
	if card.Difficulty > 0 {
		s.PerceivedDifficulty = card.Difficulty
	}
	if !card.Due.IsZero() {
		due := card.Due
		s.NextReviewAt = &due
	}
	if !card.LastReview.IsZero() {
		last := card.LastReview
		s.LastReviewedAt = &last
	}
	for _, r := range ratings {
		rating, err := RatingFromFSRS(r)
		if err != nil {
			continue
		}
		switch rating {
		case Again:
			s.AgainCount++
		case Hard:
			s.HardCount++
		case Good:
			s.GoodCount++
		case Easy:
			s.EasyCount++
		}
	}
	return s.Normalize(cfg)
}
