package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionRecord(t *testing.T) {
	start := time.Date(2024, 3, 1, 19, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		in           SessionInput
		wantAccuracy float64
		wantQuality  float64
		wantHour     int
	}{
		{
			name: "completed at a good pace",
			in: SessionInput{
				UserID:              "u1",
				Counts:              map[Rating]int{Again: 2, Hard: 3, Good: 10, Easy: 5},
				AverageResponseTime: 6000,
				WasCompleted:        true,
				StartedAt:           start,
				EndedAt:             start.Add(20 * time.Minute),
			},
			wantAccuracy: 0.75,
			wantQuality:  85,
			wantHour:     19,
		},
		{
			name: "abandoned and slow",
			in: SessionInput{
				UserID:              "u1",
				Counts:              map[Rating]int{Again: 5, Good: 5},
				AverageResponseTime: 20000,
				StartedAt:           start,
				EndedAt:             start.Add(5 * time.Minute),
			},
			wantAccuracy: 0.5,
			wantQuality:  40,
			wantHour:     19,
		},
		{
			name: "empty session",
			in: SessionInput{
				UserID:    "u1",
				StartedAt: start,
				EndedAt:   start,
			},
			wantHour: 19,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSessionRecord(tt.in)

			assert.NotEmpty(t, got.ID)
			assert.InDelta(t, tt.wantAccuracy, got.AverageAccuracy, 1e-9)
			assert.InDelta(t, tt.wantQuality, got.SessionQuality, 1e-9)
			assert.Equal(t, tt.wantHour, got.TimeOfDay)
		})
	}
}

func TestNewSessionRecord_SanitizesInput(t *testing.T) {
	end := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	got := NewSessionRecord(SessionInput{
		UserID:              "u1",
		Counts:              map[Rating]int{Again: -4, Good: 2},
		AverageResponseTime: -1,
		StartedAt:           end.Add(time.Hour),
		EndedAt:             end,
	})

	assert.Equal(t, 0, got.AgainCount)
	assert.Equal(t, 2, got.CardsStudied())
	assert.Equal(t, 0.0, got.AverageResponseTime)
	assert.Equal(t, end, got.StartedAt)
	assert.Equal(t, 8, got.TimeOfDay)
}
