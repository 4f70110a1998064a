package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/danieldreier/adaptive-srs/internal/srs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// mockTimeNow pins the service clock and returns a restore function.
func mockTimeNow(mockTime time.Time) func() {
	original := timeNow
	timeNow = func() time.Time {
		return mockTime
	}
	return func() {
		timeNow = original
	}
}

// setupTestService creates a service over a file store in a temp dir.
func setupTestService(t *testing.T) (*ReviewService, *storage.FileStorage) {
	t.Helper()
	dir := t.TempDir()
	fs := storage.NewFileStorage(filepath.Join(dir, "srs.json"), zaptest.NewLogger(t))
	require.NoError(t, fs.Load())
	svc := NewReviewService(fs, srs.DefaultConfig(), filepath.Join(dir, "exports"), zaptest.NewLogger(t))
	return svc, fs
}

func TestGetProfile_CreatesDefault(t *testing.T) {
	ctx := context.Background()
	svc, fs := setupTestService(t)

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, srs.SpeedMedium, p.LearningSpeed)
	assert.Equal(t, int64(1), p.Version)

	stored, err := fs.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, stored)

	_, err = svc.GetProfile(ctx, "")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestSubmitReview_NewCard(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)

	res, err := svc.SubmitReview(ctx, "u1", "c1", "spanish", srs.Good, 4*time.Second)
	require.NoError(t, err)

	assert.Equal(t, srs.StateNew, res.Previous.State)
	assert.Equal(t, srs.StateLearning, res.Updated.State)
	assert.Equal(t, "spanish", res.Updated.DeckID)
	assert.Equal(t, int64(1), res.Updated.Version)
	assert.InDelta(t, 4000, res.Updated.AverageResponseTime, 1e-9)
	require.NotNil(t, res.Updated.NextReviewAt)
	assert.Equal(t, testNow.Add(10*time.Minute), *res.Updated.NextReviewAt)

	p, err := fs.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CalibrationReviews)
}

func TestSubmitReview_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	_, err := svc.SubmitReview(ctx, "u1", "c1", "", srs.Rating("perfect"), 0)
	assert.ErrorIs(t, err, srs.ErrInvalidRating)

	_, err = svc.SubmitReview(ctx, "u1", "", "", srs.Good, 0)
	assert.ErrorIs(t, err, ErrMissingCard)
}

// conflictingStore fails the first n schedule saves with a version conflict.
type conflictingStore struct {
	storage.Store
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictingStore) SaveSchedule(ctx context.Context, st srs.ScheduleState) (srs.ScheduleState, error) {
	s.mu.Lock()
	s.saves++
	fail := s.saves <= s.conflicts
	s.mu.Unlock()
	if fail {
		return srs.ScheduleState{}, storage.ErrVersionConflict
	}
	return s.Store.SaveSchedule(ctx, st)
}

func TestSubmitReview_RetriesVersionConflicts(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()

	tests := []struct {
		name      string
		conflicts int
		wantErr   error
		wantSaves int
	}{
		{"one conflict", 1, nil, 2},
		{"attempts exhausted", maxAttempts, ErrSaveReview, maxAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fs := setupTestService(t)
			cs := &conflictingStore{Store: fs, conflicts: tt.conflicts}
			svc.Store = cs

			_, err := svc.SubmitReview(ctx, "u1", "c1", "", srs.Easy, 0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "could not save review", err.Error())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSaves, cs.saves)
		})
	}
}

func TestSubmitReview_ConcurrentReviewsAllLand(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)
	_, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitReview(ctx, "u1", "c1", "", srs.Good, 0)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := fs.GetSchedule(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReviewCount)
	assert.Equal(t, int64(2), got.Version)
}

// failingStore fails every read.
type failingStore struct {
	storage.Store
}

var errBoom = errors.New("disk on fire")

func (failingStore) ListDue(context.Context, string, string, time.Time) ([]srs.ScheduleState, error) {
	return nil, errBoom
}

func TestDueCards_HidesStorageErrors(t *testing.T) {
	ctx := context.Background()
	svc, fs := setupTestService(t)
	svc.Store = failingStore{Store: fs}

	_, _, err := svc.DueCards(ctx, "u1", "", 0, 1)
	assert.ErrorIs(t, err, ErrLoadDueCards)
	assert.NotContains(t, err.Error(), "disk on fire")
}

func TestSubmitReview_ScoresCardBeforeReview(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()

	card := srs.NewScheduleState("u1", "c1", cfg)
	card.State = srs.StateReview
	card.IntervalDays = 10
	card.ReviewCount = 3
	card.GoodCount = 3
	last := testNow.AddDate(0, 0, -10)
	due := testNow
	card.LastReviewedAt = &last
	card.NextReviewAt = &due
	seedSchedule(t, fs, card)

	res, err := svc.SubmitReview(ctx, "u1", "c1", "", srs.Good, 0)
	require.NoError(t, err)

	want := svc.Queue.Scorer().Estimator().ForgetProbability(res.Previous, testNow)
	assert.InDelta(t, want, res.Score.ForgetProbability, 1e-9)
	assert.Greater(t, res.Score.ForgetProbability, 0.0)
	assert.Less(t, res.Score.ForgetProbability, 1.0)

	// a second review straight after sees a freshly reviewed card
	defer mockTimeNow(testNow.Add(time.Minute))()
	res, err = svc.SubmitReview(ctx, "u1", "c1", "", srs.Good, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Score.ForgetProbability, 0.01)
}

func seedSchedule(t *testing.T, store storage.Store, s srs.ScheduleState) {
	t.Helper()
	_, err := store.SaveSchedule(context.Background(), s)
	require.NoError(t, err)
}

func TestDueCards_OrderAndCooldown(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()

	// reviewed a long time ago and overdue by a week
	overdue := srs.NewScheduleState("u1", "overdue", cfg)
	overdue.State = srs.StateReview
	overdue.IntervalDays = 3
	overdue.ReviewCount = 2
	overdue.GoodCount = 2
	last := testNow.AddDate(0, 0, -10)
	due := testNow.AddDate(0, 0, -7)
	overdue.LastReviewedAt = &last
	overdue.NextReviewAt = &due
	seedSchedule(t, fs, overdue)

	// fresh card, never reviewed
	seedSchedule(t, fs, srs.NewScheduleState("u1", "fresh", cfg))

	// due on paper but reviewed seconds ago
	recent := srs.NewScheduleState("u1", "recent", cfg)
	justNow := testNow.Add(-10 * time.Second)
	recent.LastReviewedAt = &justNow
	recent.NextReviewAt = &justNow
	recent.ReviewCount = 1
	seedSchedule(t, fs, recent)

	cards, profile, err := svc.DueCards(ctx, "u1", "", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.UserID)

	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.State.CardID
	}
	assert.ElementsMatch(t, []string{"overdue", "fresh"}, ids)
	for i := 1; i < len(cards); i++ {
		assert.GreaterOrEqual(t, cards[i-1].Score.PriorityScore, cards[i].Score.PriorityScore)
	}
}

func TestDueCards_ConfidenceMixesMasteredCards(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()

	pref := srs.PreferConfidence
	_, err := svc.UpdateSettings(ctx, "u1", srs.ProfileSettings{DifficultyPreference: &pref})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		seedSchedule(t, fs, srs.NewScheduleState("u1", fmt.Sprintf("new-%d", i), cfg))
	}
	for i := 0; i < 5; i++ {
		m := srs.NewScheduleState("u1", fmt.Sprintf("mastered-%d", i), cfg)
		m.State = srs.StateReview
		m.IntervalDays = 60
		m.EaseFactor = 2.8
		m.ReviewCount = 8
		m.GoodCount = 8
		last := testNow.AddDate(0, 0, -10)
		next := testNow.AddDate(0, 0, 50)
		m.LastReviewedAt = &last
		m.NextReviewAt = &next
		seedSchedule(t, fs, m)
	}

	cards, _, err := svc.DueCards(ctx, "u1", "", 10, 1)
	require.NoError(t, err)
	require.Len(t, cards, 10)

	reinforced := 0
	for _, c := range cards {
		if c.Reinforcement {
			reinforced++
		}
	}
	assert.Equal(t, 3, reinforced)
}

func TestBalanceWorkload_DailyGoal(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()

	goal := 5
	_, err := svc.UpdateSettings(ctx, "u1", srs.ProfileSettings{DailyReviewGoal: &goal})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		s := srs.NewScheduleState("u1", fmt.Sprintf("c%d", i), cfg)
		s.State = srs.StateReview
		s.IntervalDays = 5
		s.ReviewCount = 3
		s.GoodCount = 3
		last := testNow.AddDate(0, 0, -5)
		next := testNow.Add(-time.Hour)
		s.LastReviewedAt = &last
		s.NextReviewAt = &next
		seedSchedule(t, fs, s)
	}

	w, err := svc.BalanceWorkload(ctx, "u1", "", 1)
	require.NoError(t, err)
	assert.Len(t, w.ReviewNow, 5)
	assert.Equal(t, 3, len(w.Deferred)+len(w.Carryover))
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), w.DeferredUntil)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	goal := 50
	p, err := svc.UpdateSettings(ctx, "u1", srs.ProfileSettings{DailyReviewGoal: &goal})
	require.NoError(t, err)
	assert.Equal(t, 50, p.DailyReviewGoal)
	assert.Equal(t, int64(2), p.Version, "create plus update")

	bad := 0
	_, err = svc.UpdateSettings(ctx, "u1", srs.ProfileSettings{DailyReviewGoal: &bad})
	assert.ErrorIs(t, err, srs.ErrInvalidSettings)

	again, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, again.DailyReviewGoal, "rejected edits leave the profile untouched")
}

func TestCalibrate(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, _ := setupTestService(t)

	// not enough history: profile untouched even when applying
	res, p, err := svc.Calibrate(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, res.NeedsMoreData)
	assert.False(t, p.IsCalibrated)

	for i := 0; i < 20; i++ {
		_, err := svc.SubmitReview(ctx, "u1", fmt.Sprintf("c%d", i), "", srs.Easy, 3*time.Second)
		require.NoError(t, err)
	}

	res, p, err = svc.Calibrate(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, srs.SpeedFast, res.LearningSpeed)
	assert.False(t, p.IsCalibrated, "dry run")
	assert.Equal(t, 20, p.CalibrationReviews)

	res, p, err = svc.Calibrate(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, p.IsCalibrated)
	assert.Equal(t, res.RecommendedMultipliers, p.Multipliers)
	assert.Zero(t, p.CalibrationReviews)
	require.NotNil(t, p.LastCalibrationDate)
	assert.True(t, p.LastCalibrationDate.Equal(testNow))
}

func TestRecordSession(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)

	rec, err := svc.RecordSession(ctx, srs.SessionInput{
		UserID:       "u1",
		Counts:       map[srs.Rating]int{srs.Good: 9, srs.Again: 1},
		WasCompleted: true,
		StartedAt:    testNow.Add(-15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.CardsStudied())
	assert.InDelta(t, 0.9, rec.AverageAccuracy, 1e-9)
	assert.Equal(t, testNow, rec.EndedAt)

	got, err := fs.RecentSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)

	_, err = svc.RecordSession(ctx, srs.SessionInput{})
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestPreviewAndForgetProbability(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, fs := setupTestService(t)

	outcomes, err := svc.Preview(ctx, "u1", "unseen")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, srs.StateLearning, outcomes[srs.Again].State)
	assert.Equal(t, srs.StateReview, outcomes[srs.Easy].State)

	// previewing never persists anything
	_, err = fs.GetSchedule(ctx, "u1", "unseen")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fp, err := svc.ForgetProbability(ctx, "u1", "unseen")
	require.NoError(t, err)
	assert.Equal(t, 1.0, fp)
}

func TestExportSchedule(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, _ := setupTestService(t)

	_, err := svc.SubmitReview(ctx, "u1", "c1", "", srs.Good, 0)
	require.NoError(t, err)

	path, err := svc.ExportSchedule(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "srs-u1-20240301-120000.xlsx", filepath.Base(path))

	data, err := os.Open(path)
	require.NoError(t, err)
	defer data.Close()
	f, err := excelize.OpenReader(data)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Schedules")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[1][0])
}

func TestExportSchedule_UserIDStaysInExportDir(t *testing.T) {
	defer mockTimeNow(testNow)()
	ctx := context.Background()
	svc, _ := setupTestService(t)
	svc.ExportDir = filepath.Join(t.TempDir(), "a", "b", "exports")

	for _, userID := range []string{"../../../escaped", "../x", "nested/user"} {
		path, err := svc.ExportSchedule(ctx, userID, "")
		require.NoError(t, err, userID)

		assert.Equal(t, svc.ExportDir, filepath.Dir(path), "export for %q written outside export dir", userID)
		_, err = os.Stat(path)
		assert.NoError(t, err)
	}

	escaped, err := filepath.Glob(filepath.Join(filepath.Dir(svc.ExportDir), "*escaped*"))
	require.NoError(t, err)
	assert.Empty(t, escaped)
}

func TestExportPath(t *testing.T) {
	dir := t.TempDir()

	path, err := exportPath(dir, "srs-u1.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "srs-u1.xlsx"), path)

	for _, name := range []string{"../srs-u1.xlsx", "sub/srs-u1.xlsx", "", ".."} {
		_, err := exportPath(dir, name)
		assert.Error(t, err, name)
	}
}
