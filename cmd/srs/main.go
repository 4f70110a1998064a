package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/config"
	"github.com/danieldreier/adaptive-srs/internal/jobs"
	"github.com/danieldreier/adaptive-srs/internal/storage"
	"github.com/danieldreier/adaptive-srs/internal/storage/postgres"
	"github.com/danieldreier/adaptive-srs/internal/storage/sqlite"
)

const srsServerInfo = `
This server schedules flashcard reviews with an adaptive spaced-repetition
algorithm. Card content lives with the client; the server only tracks when
each card should be reviewed next and how well the learner is doing.

Typical study loop:

1. Call get_due_cards to fetch the next session in priority order.
2. Show the front of a card, let the learner answer, then reveal the back.
3. Rate the recall and call submit_review:
   * again: not recalled at all
   * hard: recalled with serious difficulty
   * good: recalled
   * easy: recalled immediately
   Pass response_time_ms when you measured how long the answer took.
4. When the learner stops, call record_session with the per-rating counts.

Use preview_review to explain what each rating would do, balance_workload
when the backlog is larger than the daily goal, and calibrate_profile once
the learner has reviewed at least 20 cards.
`

func main() {
	configDir := flag.String("config", "./config", "Directory containing config.yaml")
	filePath := flag.String("file", "", "Path to the data file (overrides storage.path)")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *filePath != "" {
		cfg.Storage.Path = *filePath
	}

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Error opening storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer store.Close()

	recalibrator := jobs.NewRecalibrator(store, cfg.SRS, logger)
	if err := recalibrator.Start(cfg.Jobs.RecalibrationInterval); err != nil {
		logger.Fatal("Error starting recalibration job", zap.Error(err))
	}
	defer recalibrator.Stop()

	svc := NewReviewService(store, cfg.SRS, cfg.Jobs.ExportDir, logger)
	svc.DefaultUser = cfg.UserID

	s := newServer(svc)
	logger.Info("Serving MCP over stdio",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("ordering", string(cfg.SRS.Ordering)),
		zap.String("user_id", cfg.UserID))
	if err := server.ServeStdio(s); err != nil {
		logger.Error("Error serving MCP server", zap.Error(err))
	}
}

// openStore connects the backend selected by storage.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.URL, postgres.PoolConfig{
			MaxConns:        cfg.Storage.MaxConnections,
			MaxConnLifetime: cfg.Storage.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool, logger), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.Storage.Path, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		fs := storage.NewFileStorage(cfg.Storage.Path, logger,
			storage.WithLegacyUser(cfg.Storage.LegacyUser),
			storage.WithSchedulerConfig(cfg.SRS))
		if err := fs.Load(); err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// newServer registers every tool against svc.
func newServer(svc *ReviewService) *server.MCPServer {
	s := server.NewMCPServer(
		"Adaptive SRS",
		"1.0.0",
		server.WithInstructions(srsServerInfo),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	userParam := mcp.WithString("user_id",
		mcp.Description("Learner ID; defaults to the configured user"),
	)
	deckParam := mcp.WithString("deck_id",
		mcp.Description("Restrict to one deck; omit for all decks"),
	)
	importanceParam := mcp.WithNumber("deck_importance",
		mcp.Description("Deck importance weight, default 1"),
	)

	getDueCardsTool := mcp.NewTool("get_due_cards",
		mcp.WithDescription(
			"Get the cards to review next, most urgent first. "+
				"Each card carries its schedule and a score breakdown (priority, urgency, forget probability). "+
				"Show only the front of a card until the learner has answered.",
		),
		userParam,
		deckParam,
		importanceParam,
		mcp.WithNumber("max_cards",
			mcp.Description("Maximum cards to return; defaults to the learner's optimal session length"),
		),
		mcp.WithString("session_size",
			mcp.Description("short, medium or long; ignored when max_cards is given"),
		),
	)

	submitReviewTool := mcp.NewTool("submit_review",
		mcp.WithDescription(
			"Record how well the learner recalled a card and schedule its next review. "+
				"Learners who answered wrong should only get again or hard.",
		),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card being reviewed"),
		),
		mcp.WithString("rating",
			mcp.Required(),
			mcp.Description("again, hard, good or easy (or 1-4)"),
		),
		mcp.WithNumber("response_time_ms",
			mcp.Description("How long the learner took to answer, in milliseconds"),
		),
		userParam,
		mcp.WithString("deck_id",
			mcp.Description("Deck of the card; only used the first time a card is reviewed"),
		),
	)

	previewReviewTool := mcp.NewTool("preview_review",
		mcp.WithDescription("Show the next interval each rating would produce, without saving anything."),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card"),
		),
		userParam,
	)

	balanceWorkloadTool := mcp.NewTool("balance_workload",
		mcp.WithDescription(
			"Split today's due cards into those to review now (up to the daily goal), "+
				"those safe to defer until tomorrow, and overdue ones that should not wait.",
		),
		userParam,
		deckParam,
		importanceParam,
	)

	getProfileTool := mcp.NewTool("get_profile",
		mcp.WithDescription("Get the learner's profile: learning speed, interval multipliers, goals and calibration status."),
		userParam,
	)

	updateProfileSettingsTool := mcp.NewTool("update_profile_settings",
		mcp.WithDescription("Change the learner's daily goal, session length or difficulty preference."),
		userParam,
		mcp.WithNumber("daily_review_goal",
			mcp.Description("Cards per day, 1-1000"),
		),
		mcp.WithNumber("optimal_session_length",
			mcp.Description("Cards per session, 1-500"),
		),
		mcp.WithString("difficulty_preference",
			mcp.Description("challenge, balanced or confidence"),
		),
	)

	calibrateProfileTool := mcp.NewTool("calibrate_profile",
		mcp.WithDescription(
			"Analyse the learner's review history to classify their learning speed and recommend interval multipliers. "+
				"Needs at least 20 reviewed cards.",
		),
		userParam,
		mcp.WithBoolean("apply",
			mcp.Description("Write the recommendation into the profile"),
		),
	)

	recordSessionTool := mcp.NewTool("record_session",
		mcp.WithDescription("Record a finished study session so session length can be tuned."),
		userParam,
		deckParam,
		mcp.WithNumber("again_count", mcp.Description("Cards rated again")),
		mcp.WithNumber("hard_count", mcp.Description("Cards rated hard")),
		mcp.WithNumber("good_count", mcp.Description("Cards rated good")),
		mcp.WithNumber("easy_count", mcp.Description("Cards rated easy")),
		mcp.WithNumber("average_response_time_ms", mcp.Description("Mean answer time in milliseconds")),
		mcp.WithNumber("duration_minutes", mcp.Description("Session length in minutes")),
		mcp.WithBoolean("completed", mcp.Description("Whether the learner finished the queue")),
	)

	exportScheduleTool := mcp.NewTool("export_schedule",
		mcp.WithDescription("Export the learner's schedules, profile and sessions to an Excel workbook and return its path."),
		userParam,
		deckParam,
	)

	tools := []struct {
		tool    mcp.Tool
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	}{
		{getDueCardsTool, handleGetDueCards},
		{submitReviewTool, handleSubmitReview},
		{previewReviewTool, handlePreviewReview},
		{balanceWorkloadTool, handleBalanceWorkload},
		{getProfileTool, handleGetProfile},
		{updateProfileSettingsTool, handleUpdateProfileSettings},
		{calibrateProfileTool, handleCalibrateProfile},
		{recordSessionTool, handleRecordSession},
		{exportScheduleTool, handleExportSchedule},
	}
	for _, t := range tools {
		handler := t.handler
		s.AddTool(t.tool, func(reqCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler(withService(reqCtx, svc), request)
		})
	}
	return s
}
