package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

func toolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// callTool runs a handler with svc attached and decodes its JSON text into out.
func callTool(t *testing.T, svc *ReviewService, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}, out interface{}) {
	t.Helper()
	result, err := handler(withService(context.Background(), svc), toolRequest(name, args))
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text.Text), out), text.Text)
}

func TestHandleSubmitReview(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, _ := setupTestService(t)

	tests := []struct {
		name      string
		args      map[string]interface{}
		wantState srs.CardState
		wantErr   string
	}{
		{"name rating", map[string]interface{}{"card_id": "c1", "rating": "easy"}, srs.StateReview, ""},
		{"numeric rating", map[string]interface{}{"card_id": "c2", "rating": float64(1)}, srs.StateLearning, ""},
		{"rating out of range", map[string]interface{}{"card_id": "c3", "rating": float64(7)}, "", "invalid rating: 7"},
		{"unknown rating", map[string]interface{}{"card_id": "c3", "rating": "perfect"}, "", `invalid rating: "perfect"`},
		{"missing card", map[string]interface{}{"rating": "good"}, "", "Missing required parameter: card_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr != "" {
				var resp ErrorResponse
				callTool(t, svc, handleSubmitReview, "submit_review", tt.args, &resp)
				assert.Equal(t, tt.wantErr, resp.Error)
				return
			}
			var resp ReviewResponse
			callTool(t, svc, handleSubmitReview, "submit_review", tt.args, &resp)
			assert.True(t, resp.Success)
			assert.Equal(t, srs.StateNew, resp.PreviousState)
			assert.Equal(t, tt.wantState, resp.Schedule.State)
			assert.Equal(t, "default", resp.Schedule.UserID)
		})
	}
}

func TestHandleGetDueCards(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()
	for _, id := range []string{"a", "b", "c"} {
		s := srs.NewScheduleState("learner", id, cfg)
		s.DeckID = "spanish"
		seedSchedule(t, fs, s)
	}

	var resp DueCardsResponse
	callTool(t, svc, handleGetDueCards, "get_due_cards", map[string]interface{}{
		"user_id":   "learner",
		"deck_id":   "spanish",
		"max_cards": float64(2),
	}, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Cards, 2)
	assert.Equal(t, "learner", resp.Profile.UserID)

	var empty DueCardsResponse
	callTool(t, svc, handleGetDueCards, "get_due_cards", map[string]interface{}{"deck_id": "german"}, &empty)
	assert.NotNil(t, empty.Cards)
	assert.Zero(t, empty.Count)
}

func TestHandleGetDueCards_SessionSize(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, fs := setupTestService(t)
	cfg := srs.DefaultConfig()
	for i := 0; i < 25; i++ {
		seedSchedule(t, fs, srs.NewScheduleState("default", fmt.Sprintf("c%02d", i), cfg))
	}

	tests := []struct {
		name string
		args map[string]interface{}
		want int
	}{
		{"short", map[string]interface{}{"session_size": "short"}, 10},
		{"medium", map[string]interface{}{"session_size": "medium"}, 20},
		{"long caps at what is due", map[string]interface{}{"session_size": "long"}, 25},
		{"max cards wins", map[string]interface{}{"session_size": "long", "max_cards": float64(3)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp DueCardsResponse
			callTool(t, svc, handleGetDueCards, "get_due_cards", tt.args, &resp)
			assert.Equal(t, tt.want, resp.Count)
		})
	}

	var errResp ErrorResponse
	callTool(t, svc, handleGetDueCards, "get_due_cards", map[string]interface{}{"session_size": "huge"}, &errResp)
	assert.Equal(t, `invalid session size: "huge"`, errResp.Error)
}

func TestHandlePreviewReview(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, _ := setupTestService(t)

	var resp PreviewResponse
	callTool(t, svc, handlePreviewReview, "preview_review", map[string]interface{}{"card_id": "c1"}, &resp)
	require.Len(t, resp.Outcomes, 4)
	assert.Equal(t, 1.0, resp.ForgetProbability)
	assert.Equal(t, srs.StateReview, resp.Outcomes[srs.Easy].State)
	assert.Equal(t, 4.0, resp.Outcomes[srs.Easy].IntervalDays)
}

func TestHandleUpdateProfileSettings(t *testing.T) {
	svc, _ := setupTestService(t)

	var resp ProfileResponse
	callTool(t, svc, handleUpdateProfileSettings, "update_profile_settings", map[string]interface{}{
		"daily_review_goal":     float64(35),
		"difficulty_preference": "Challenge",
	}, &resp)
	assert.Equal(t, 35, resp.Profile.DailyReviewGoal)
	assert.Equal(t, srs.PreferChallenge, resp.Profile.DifficultyPreference)
	assert.True(t, resp.NeedsRecalibration)

	var bad ErrorResponse
	callTool(t, svc, handleUpdateProfileSettings, "update_profile_settings", map[string]interface{}{
		"difficulty_preference": "chaos",
	}, &bad)
	assert.Contains(t, bad.Error, "invalid profile settings")

	var none ErrorResponse
	callTool(t, svc, handleUpdateProfileSettings, "update_profile_settings", map[string]interface{}{}, &none)
	assert.Equal(t, "No settings to update", none.Error)
}

func TestHandleRecordSessionAndCalibrate(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, _ := setupTestService(t)

	var sess SessionResponse
	callTool(t, svc, handleRecordSession, "record_session", map[string]interface{}{
		"good_count":       float64(8),
		"again_count":      float64(2),
		"duration_minutes": float64(12),
		"completed":        true,
	}, &sess)
	assert.Equal(t, 10, sess.Session.CardsStudied())
	assert.True(t, sess.Session.WasCompleted)
	assert.Equal(t, testNow.Add(-12*time.Minute), sess.Session.StartedAt)

	var cal CalibrationResponse
	callTool(t, svc, handleCalibrateProfile, "calibrate_profile", map[string]interface{}{"apply": true}, &cal)
	assert.True(t, cal.Result.NeedsMoreData)
	assert.False(t, cal.Applied)
	assert.Equal(t, 20, cal.Result.RequiredCards)
}

func TestHandleBalanceWorkload(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, _ := setupTestService(t)

	var resp WorkloadResponse
	callTool(t, svc, handleBalanceWorkload, "balance_workload", nil, &resp)
	assert.Equal(t, 20, resp.DailyGoal)
	assert.NotNil(t, resp.ReviewNow)
	assert.Empty(t, resp.Deferred)
}

func TestHandleExportSchedule(t *testing.T) {
	defer mockTimeNow(testNow)()
	svc, _ := setupTestService(t)

	var resp ExportResponse
	callTool(t, svc, handleExportSchedule, "export_schedule", map[string]interface{}{"user_id": "u9"}, &resp)
	assert.True(t, resp.Success)
	assert.FileExists(t, resp.Path)
}

func TestHandlers_WithoutService(t *testing.T) {
	result, err := handleGetProfile(context.Background(), toolRequest("get_profile", nil))
	require.NoError(t, err)
	text := result.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "service not available")
}

func TestNewServer_RegistersTools(t *testing.T) {
	svc, _ := setupTestService(t)
	s := newServer(svc)
	ctx := context.Background()

	s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`))
	resp := s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	names := make([]string, 0, len(decoded.Result.Tools))
	for _, tool := range decoded.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_due_cards", "submit_review", "preview_review", "balance_workload",
		"get_profile", "update_profile_settings", "calibrate_profile",
		"record_session", "export_schedule",
	}, names)

	// a tool call through the server reaches the service
	resp = s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_profile","arguments":{"user_id":"via-server"}}}`))
	raw, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "via-server")
}
