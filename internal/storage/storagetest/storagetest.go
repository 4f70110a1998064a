// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises a fresh, empty store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("schedule round trip", func(t *testing.T) { testScheduleRoundTrip(t, newStore(t)) })
	t.Run("schedule versions", func(t *testing.T) { testScheduleVersions(t, newStore(t)) })
	t.Run("list due", func(t *testing.T) { testListDue(t, newStore(t)) })
	t.Run("profiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

// timeEqual compares instants and ignores locations, which databases drop.
var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func reviewed(userID, cardID, deckID string, next time.Time) srs.ScheduleState {
	cfg := srs.DefaultConfig()
	s := srs.NewEngine(cfg).Review(srs.NewScheduleState(userID, cardID, cfg), srs.Easy, srs.ReviewOptions{
		Now:          next.Add(-4 * 24 * time.Hour),
		ResponseTime: 3 * time.Second,
	})
	s.DeckID = deckID
	s.NextReviewAt = &next
	return s
}

func testScheduleRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	in := reviewed("u1", "c1", "spanish", now)
	saved, err := store.SaveSchedule(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	got, err := store.GetSchedule(ctx, "u1", "c1")
	require.NoError(t, err)
	if diff := cmp.Diff(saved, got, timeEqual, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("schedule mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, got.ResponseSamples)

	_, err = store.GetSchedule(ctx, "u1", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testScheduleVersions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	first, err := store.SaveSchedule(ctx, reviewed("u1", "c1", "", now))
	require.NoError(t, err)

	_, err = store.SaveSchedule(ctx, reviewed("u1", "c1", "", now))
	assert.ErrorIs(t, err, storage.ErrVersionConflict, "second insert must conflict")

	first.ReviewCount++
	second, err := store.SaveSchedule(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)

	_, err = store.SaveSchedule(ctx, first)
	assert.ErrorIs(t, err, storage.ErrVersionConflict, "stale write must conflict")

	got, err := store.GetSchedule(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, second.ReviewCount, got.ReviewCount)
}

func testListDue(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	for i, c := range []struct {
		user, deck string
		offset     time.Duration
	}{
		{"u1", "spanish", -time.Hour},
		{"u1", "spanish", time.Hour},
		{"u1", "german", -time.Minute},
		{"u2", "spanish", -time.Hour},
	} {
		_, err := store.SaveSchedule(ctx, reviewed(c.user, fmt.Sprintf("c%d", i), c.deck, now.Add(c.offset)))
		require.NoError(t, err)
	}
	fresh := srs.NewScheduleState("u1", "c9", srs.DefaultConfig())
	fresh.DeckID = "spanish"
	_, err := store.SaveSchedule(ctx, fresh)
	require.NoError(t, err)

	ids := func(states []srs.ScheduleState) []string {
		out := []string{}
		for _, s := range states {
			out = append(out, s.CardID)
		}
		return out
	}

	due, err := store.ListDue(ctx, "u1", "spanish", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c9"}, ids(due))

	due, err = store.ListDue(ctx, "u1", "", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c2", "c9"}, ids(due))

	all, err := store.ListSchedules(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testProfiles(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	_, err := store.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	p, err := store.SaveProfile(ctx, srs.DefaultProfile("u1"))
	require.NoError(t, err)
	p = srs.ApplyCalibration(p, srs.CalibrationResult{
		LearningSpeed:          srs.SpeedFast,
		RecommendedMultipliers: srs.MultipliersFor(srs.SpeedFast),
		OptimalSessionLength:   30,
	}, now)
	p, err = store.SaveProfile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	if diff := cmp.Diff(p, got, timeEqual); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	_, err = store.SaveProfile(ctx, srs.DefaultProfile("u1"))
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	_, err = store.SaveProfile(ctx, srs.DefaultProfile("u0"))
	require.NoError(t, err)
	all, err := store.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "u0", all[0].UserID)
}

func testSessions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	defer store.Close()

	for i := 0; i < 4; i++ {
		start := now.Add(time.Duration(i) * time.Hour)
		r := srs.NewSessionRecord(srs.SessionInput{
			UserID:       "u1",
			Counts:       map[srs.Rating]int{srs.Good: i + 1},
			WasCompleted: true,
			StartedAt:    start,
			EndedAt:      start.Add(10 * time.Minute),
		})
		require.NoError(t, store.AppendSession(ctx, r))
	}

	got, err := store.RecentSessions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].GoodCount)
	assert.Equal(t, 3, got[1].GoodCount)

	none, err := store.RecentSessions(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
