// Package export renders a learner's scheduling data as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

const (
	SheetSchedules = "Schedules"
	SheetProfile   = "Profile"
	SheetSessions  = "Sessions"
)

var scheduleHeader = []interface{}{
	"Card ID", "Deck", "State", "Ease", "Interval (days)", "Step",
	"Reviews", "Again", "Hard", "Good", "Easy", "Lapses",
	"Last Reviewed", "Next Review", "Avg Response (ms)", "Difficulty",
	"Forget Probability", "Priority", "Overdue (days)", "Mastery",
}

var sessionHeader = []interface{}{
	"Session ID", "Deck", "Started", "Ended", "Cards", "Again", "Hard", "Good", "Easy",
	"Accuracy", "Avg Response (ms)", "Hour", "Quality", "Completed",
}

// Snapshot is everything exported for one learner.
type Snapshot struct {
	Profile        srs.LearningProfile
	Schedules      []srs.ScheduleState
	Sessions       []srs.SessionRecord
	DeckImportance float64
	Now            time.Time
}

// Exporter writes snapshots using the scheduler config for scoring columns.
type Exporter struct {
	cfg    srs.Config
	scorer *srs.Scorer
}

func New(cfg srs.Config) *Exporter {
	return &Exporter{cfg: cfg, scorer: srs.NewScorer(cfg)}
}

// FileName is the suggested name for a user's export. The user ID is
// escaped so the result is always a single path element.
func FileName(userID string, now time.Time) string {
	return fmt.Sprintf("srs-%s-%s.xlsx", url.PathEscape(userID), now.UTC().Format("20060102-150405"))
}

// Write renders the snapshot as an .xlsx document into w.
func (e *Exporter) Write(w io.Writer, snap Snapshot) error {
	if snap.Now.IsZero() {
		snap.Now = time.Now()
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSchedules); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetProfile, SheetSessions} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.writeSchedules(f, snap, header); err != nil {
		return err
	}
	if err := writeProfile(f, snap.Profile, header); err != nil {
		return err
	}
	if err := writeSessions(f, snap.Sessions, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) writeSchedules(f *excelize.File, snap Snapshot, header int) error {
	importance := snap.DeckImportance
	if importance <= 0 {
		importance = 1
	}
	rows := make([][]interface{}, 0, len(snap.Schedules)+1)
	rows = append(rows, scheduleHeader)
	for _, s := range snap.Schedules {
		sc := e.scorer.ScoreCard(s, importance, snap.Now)
		rows = append(rows, []interface{}{
			s.CardID, s.DeckID, string(s.State), s.EaseFactor, s.IntervalDays, s.LearningStep,
			s.ReviewCount, s.AgainCount, s.HardCount, s.GoodCount, s.EasyCount, s.LapseCount,
			formatTime(s.LastReviewedAt), formatTime(s.NextReviewAt),
			s.AverageResponseTime, s.PerceivedDifficulty,
			sc.ForgetProbability, sc.PriorityScore, sc.DaysOverdue, s.MasteryLevel(e.cfg),
		})
	}
	if err := writeRows(f, SheetSchedules, rows); err != nil {
		return err
	}
	return styleHeader(f, SheetSchedules, len(scheduleHeader), header)
}

func writeProfile(f *excelize.File, p srs.LearningProfile, header int) error {
	rows := [][]interface{}{
		{"Field", "Value"},
		{"User ID", p.UserID},
		{"Learning Speed", string(p.LearningSpeed)},
		{"Again Multiplier", p.Multipliers.Again},
		{"Hard Multiplier", p.Multipliers.Hard},
		{"Good Multiplier", p.Multipliers.Good},
		{"Easy Multiplier", p.Multipliers.Easy},
		{"Optimal Session Length", p.OptimalSessionLength},
		{"Daily Review Goal", p.DailyReviewGoal},
		{"Difficulty Preference", string(p.DifficultyPreference)},
		{"Calibrated", p.IsCalibrated},
		{"Reviews Since Calibration", p.CalibrationReviews},
		{"Last Calibration", formatTime(p.LastCalibrationDate)},
	}
	if err := writeRows(f, SheetProfile, rows); err != nil {
		return err
	}
	return styleHeader(f, SheetProfile, 2, header)
}

func writeSessions(f *excelize.File, sessions []srs.SessionRecord, header int) error {
	rows := make([][]interface{}, 0, len(sessions)+1)
	rows = append(rows, sessionHeader)
	for _, r := range sessions {
		rows = append(rows, []interface{}{
			r.ID, r.DeckID, formatTime(&r.StartedAt), formatTime(&r.EndedAt), r.CardsStudied(),
			r.AgainCount, r.HardCount, r.GoodCount, r.EasyCount,
			r.AverageAccuracy, r.AverageResponseTime, r.TimeOfDay, r.SessionQuality, r.WasCompleted,
		})
	}
	if err := writeRows(f, SheetSessions, rows); err != nil {
		return err
	}
	return styleHeader(f, SheetSessions, len(sessionHeader), header)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}

func styleHeader(f *excelize.File, sheet string, cols, style int) error {
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header of %s: %w", sheet, err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
