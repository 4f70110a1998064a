// Package srs implements the adaptive spaced-repetition scheduler: the
// ease/interval state machine, the forgetting-curve estimate, priority
// scoring, queue building and learner-profile calibration.
//
// Everything in this package is pure. Persistence and transport live in
// internal/storage and cmd/srs.
package srs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

// ErrInvalidRating is returned by ParseRating for anything outside the
// four-element rating vocabulary.
var ErrInvalidRating = errors.New("invalid rating")

// Rating is the learner's self-assessment of a single review.
type Rating string

const (
	Again Rating = "again" // not recalled
	Hard  Rating = "hard"  // recalled with serious difficulty
	Good  Rating = "good"  // recalled
	Easy  Rating = "easy"  // recalled effortlessly
)

// Ratings lists the vocabulary in ascending order.
var Ratings = []Rating{Again, Hard, Good, Easy}

// Valid reports whether r is one of the four known ratings.
func (r Rating) Valid() bool {
	switch r {
	case Again, Hard, Good, Easy:
		return true
	}
	return false
}

// Successful reports whether the rating counts towards accuracy.
func (r Rating) Successful() bool {
	return r == Good || r == Easy
}

// Score returns the numeric 1-4 form used by go-fsrs (Again=1 ... Easy=4).
// Invalid ratings return 0.
func (r Rating) Score() int {
	switch r {
	case Again:
		return int(gofsrs.Again)
	case Hard:
		return int(gofsrs.Hard)
	case Good:
		return int(gofsrs.Good)
	case Easy:
		return int(gofsrs.Easy)
	}
	return 0
}

// RatingFromFSRS converts a go-fsrs rating.
func RatingFromFSRS(r gofsrs.Rating) (Rating, error) {
	switch r {
	case gofsrs.Again:
		return Again, nil
	case gofsrs.Hard:
		return Hard, nil
	case gofsrs.Good:
		return Good, nil
	case gofsrs.Easy:
		return Easy, nil
	}
	return "", fmt.Errorf("%w: fsrs rating %d", ErrInvalidRating, r)
}

// ParseRating accepts a rating name (case-insensitive) or its 1-4 score.
func ParseRating(s string) (Rating, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if n < int(gofsrs.Again) || n > int(gofsrs.Easy) {
			return "", fmt.Errorf("%w: %d", ErrInvalidRating, n)
		}
		return RatingFromFSRS(gofsrs.Rating(n))
	}
	r := Rating(v)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	return r, nil
}
