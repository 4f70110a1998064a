package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

type serviceKey struct{}

// withService attaches the service to a tool call context.
func withService(ctx context.Context, s *ReviewService) context.Context {
	return context.WithValue(ctx, serviceKey{}, s)
}

func serviceFrom(ctx context.Context) (*ReviewService, bool) {
	s, ok := ctx.Value(serviceKey{}).(*ReviewService)
	return s, ok && s != nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func errorResult(msg string) (*mcp.CallToolResult, error) {
	return jsonResult(ErrorResponse{Error: msg})
}

// userError is the message a client sees for err. Validation problems are
// reported as-is; anything else was already mapped to a generic sentinel.
func userError(err error) string {
	for _, known := range []error{
		srs.ErrInvalidRating, srs.ErrInvalidSettings, srs.ErrInvalidSessionSize,
		ErrMissingUser, ErrMissingCard,
		ErrLoadDueCards, ErrSaveReview, ErrLoadProfile, ErrSaveProfile,
		ErrRecordSession, ErrExportSchedule,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}

func stringArg(request mcp.CallToolRequest, name string) string {
	v, _ := request.Params.Arguments[name].(string)
	return strings.TrimSpace(v)
}

func numberArg(request mcp.CallToolRequest, name string) (float64, bool) {
	switch v := request.Params.Arguments[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func boolArg(request mcp.CallToolRequest, name string) bool {
	v, _ := request.Params.Arguments[name].(bool)
	return v
}

func userArg(request mcp.CallToolRequest, s *ReviewService) string {
	if u := stringArg(request, "user_id"); u != "" {
		return u
	}
	return s.DefaultUser
}

func importanceArg(request mcp.CallToolRequest) float64 {
	if v, ok := numberArg(request, "deck_importance"); ok && v > 0 {
		return v
	}
	return 1
}

// ratingArg accepts a rating name or its 1-4 score.
func ratingArg(request mcp.CallToolRequest) (srs.Rating, error) {
	switch v := request.Params.Arguments["rating"].(type) {
	case string:
		return srs.ParseRating(v)
	case float64:
		if v != float64(int(v)) {
			return "", fmt.Errorf("%w: %v", srs.ErrInvalidRating, v)
		}
		return srs.ParseRating(strconv.Itoa(int(v)))
	case nil:
		return "", fmt.Errorf("%w: missing", srs.ErrInvalidRating)
	}
	return "", fmt.Errorf("%w: unsupported type", srs.ErrInvalidRating)
}

// handleGetDueCards returns the learner's next session in queue order.
func handleGetDueCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	maxCards, hasMax := numberArg(request, "max_cards")
	if size := stringArg(request, "session_size"); size != "" && !hasMax {
		n, err := s.Engine.Config().SessionSizes.Cards(size)
		if err != nil {
			return errorResult(userError(err))
		}
		maxCards = float64(n)
	}

	cards, profile, err := s.DueCards(ctx, userArg(request, s), stringArg(request, "deck_id"), int(maxCards), importanceArg(request))
	if err != nil {
		return errorResult(userError(err))
	}
	if cards == nil {
		cards = []srs.ScoredCard{}
	}
	return jsonResult(DueCardsResponse{Cards: cards, Count: len(cards), Profile: profile})
}

// handleSubmitReview applies one rating to a card.
func handleSubmitReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	cardID := stringArg(request, "card_id")
	if cardID == "" {
		return errorResult("Missing required parameter: card_id")
	}
	rating, err := ratingArg(request)
	if err != nil {
		return errorResult(err.Error())
	}
	var responseTime time.Duration
	if ms, ok := numberArg(request, "response_time_ms"); ok && ms > 0 {
		responseTime = time.Duration(ms * float64(time.Millisecond))
	}

	res, err := s.SubmitReview(ctx, userArg(request, s), cardID, stringArg(request, "deck_id"), rating, responseTime)
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(ReviewResponse{
		Success:           true,
		Message:           "Review submitted successfully for card " + cardID,
		Schedule:          res.Updated,
		PreviousState:     res.Previous.State,
		NextReviewAt:      res.Updated.NextReviewAt,
		IntervalDays:      res.Updated.IntervalDays,
		ForgetProbability: res.Score.ForgetProbability,
	})
}

// handlePreviewReview shows the outcome of every rating without saving.
func handlePreviewReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	cardID := stringArg(request, "card_id")
	if cardID == "" {
		return errorResult("Missing required parameter: card_id")
	}
	userID := userArg(request, s)

	outcomes, err := s.Preview(ctx, userID, cardID)
	if err != nil {
		return errorResult(userError(err))
	}
	fp, err := s.ForgetProbability(ctx, userID, cardID)
	if err != nil {
		return errorResult(userError(err))
	}

	resp := PreviewResponse{CardID: cardID, ForgetProbability: fp, Outcomes: make(map[srs.Rating]PreviewOutcome, len(outcomes))}
	for r, st := range outcomes {
		resp.Outcomes[r] = PreviewOutcome{
			State:        st.State,
			IntervalDays: st.IntervalDays,
			EaseFactor:   st.EaseFactor,
			NextReviewAt: st.NextReviewAt,
		}
	}
	return jsonResult(resp)
}

// handleBalanceWorkload splits today's due cards against the daily goal.
func handleBalanceWorkload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	userID := userArg(request, s)
	w, err := s.BalanceWorkload(ctx, userID, stringArg(request, "deck_id"), importanceArg(request))
	if err != nil {
		return errorResult(userError(err))
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(WorkloadResponse{
		DailyGoal:     profile.DailyReviewGoal,
		ReviewNow:     nonNil(w.ReviewNow),
		Deferred:      nonNil(w.Deferred),
		Carryover:     nonNil(w.Carryover),
		DeferredUntil: w.DeferredUntil,
	})
}

func nonNil(cards []srs.ScoredCard) []srs.ScoredCard {
	if cards == nil {
		return []srs.ScoredCard{}
	}
	return cards
}

func (s *ReviewService) profileResponse(p srs.LearningProfile) ProfileResponse {
	return ProfileResponse{Profile: p, NeedsRecalibration: s.Calibrator.NeedsRecalibration(p, timeNow())}
}

// handleGetProfile returns the learner's profile, creating it if needed.
func handleGetProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	p, err := s.GetProfile(ctx, userArg(request, s))
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(s.profileResponse(p))
}

// handleUpdateProfileSettings edits the user-controlled profile fields.
func handleUpdateProfileSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}

	var settings srs.ProfileSettings
	if v, ok := numberArg(request, "daily_review_goal"); ok {
		n := int(v)
		settings.DailyReviewGoal = &n
	}
	if v, ok := numberArg(request, "optimal_session_length"); ok {
		n := int(v)
		settings.OptimalSessionLength = &n
	}
	if v := stringArg(request, "difficulty_preference"); v != "" {
		pref := srs.DifficultyPreference(strings.ToLower(v))
		settings.DifficultyPreference = &pref
	}
	if settings == (srs.ProfileSettings{}) {
		return errorResult("No settings to update")
	}

	p, err := s.UpdateSettings(ctx, userArg(request, s), settings)
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(s.profileResponse(p))
}

// handleCalibrateProfile analyses review history and optionally applies it.
func handleCalibrateProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	apply := boolArg(request, "apply")
	res, p, err := s.Calibrate(ctx, userArg(request, s), apply)
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(CalibrationResponse{Result: res, Applied: apply && !res.NeedsMoreData, Profile: p})
}

// handleRecordSession stores a finished study session.
func handleRecordSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}

	in := srs.SessionInput{
		UserID:       userArg(request, s),
		DeckID:       stringArg(request, "deck_id"),
		Counts:       make(map[srs.Rating]int, len(srs.Ratings)),
		WasCompleted: boolArg(request, "completed"),
	}
	for _, r := range srs.Ratings {
		if v, ok := numberArg(request, string(r)+"_count"); ok {
			in.Counts[r] = int(v)
		}
	}
	if ms, ok := numberArg(request, "average_response_time_ms"); ok {
		in.AverageResponseTime = ms
	}
	if mins, ok := numberArg(request, "duration_minutes"); ok && mins > 0 {
		in.EndedAt = timeNow()
		in.StartedAt = in.EndedAt.Add(-time.Duration(mins * float64(time.Minute)))
	}

	rec, err := s.RecordSession(ctx, in)
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(SessionResponse{Session: rec})
}

// handleExportSchedule writes the learner's data to an Excel workbook.
func handleExportSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("service not available")
	}
	path, err := s.ExportSchedule(ctx, userArg(request, s), stringArg(request, "deck_id"))
	if err != nil {
		return errorResult(userError(err))
	}
	return jsonResult(ExportResponse{Success: true, Path: path})
}
