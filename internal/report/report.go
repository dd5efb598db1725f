// Package report exports a user's quest progress as an Excel workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/content"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

// Sheet names in the exported workbook.
const (
	SheetAttempts = "Attempts"
	SheetSteps    = "Steps"
)

var (
	attemptHeader = []any{"Quest ID", "Quest", "Status", "Difficulty", "XP Earned", "XP Cap", "Completion %", "Current Step", "Started At", "Completed At", "Notes"}
	stepHeader    = []any{"Quest ID", "Step #", "Step ID", "Title", "XP", "Status", "Activities Done", "Activities Total", "Completed At"}
)

// Exporter builds progress workbooks from the quest stores.
type Exporter struct {
	catalog  quest.Catalog
	attempts quest.AttemptStore
}

func NewExporter(catalog quest.Catalog, attempts quest.AttemptStore) *Exporter {
	return &Exporter{catalog: catalog, attempts: attempts}
}

// WriteProgress writes an xlsx workbook with one row per attempt and one row
// per step on each attempt's assigned track.
func (e *Exporter) WriteProgress(ctx context.Context, w io.Writer, userID string) error {
	attempts, err := e.attempts.ListAttempts(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing attempts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetAttempts); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSteps); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}
	for sheet, header := range map[string][]any{SheetAttempts: attemptHeader, SheetSteps: stepHeader} {
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return fmt.Errorf("styling header: %w", err)
		}
	}

	attemptRow, stepRow := 2, 2
	for _, a := range attempts {
		title := a.QuestID
		if q, err := e.catalog.GetQuest(ctx, a.QuestID); err == nil {
			title = q.Title
		} else if !quest.IsNotFound(err) {
			return fmt.Errorf("getting quest %s: %w", a.QuestID, err)
		}

		steps, err := e.catalog.ListSteps(ctx, a.QuestID)
		if err != nil {
			return fmt.Errorf("listing steps for %s: %w", a.QuestID, err)
		}
		progress, err := e.attempts.ListStepProgress(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("listing step progress for %s: %w", a.ID, err)
		}
		byStep := make(map[string]quest.StepProgress, len(progress))
		for _, p := range progress {
			byStep[p.StepID] = p
		}

		var xpCap int
		for _, st := range steps {
			if st.DifficultyVariant != a.AssignedDifficulty {
				continue
			}
			xpCap += st.ExperiencePoints

			status := quest.StepNotStarted
			var done int
			var completedAt any
			if p, ok := byStep[st.ID]; ok {
				status = p.Status
				done = len(p.CompletedActivityIDs)
				completedAt = timeCell(p.CompletedAt)
			}
			row := []any{a.QuestID, st.StepNumber, st.ID, st.Title, st.ExperiencePoints, string(status), done, content.CountActivities(st.Content), completedAt}
			if err := setRow(f, SheetSteps, stepRow, row); err != nil {
				return err
			}
			stepRow++
		}

		started := timeCell(&a.StartedAt)
		row := []any{a.QuestID, title, string(a.Status), a.AssignedDifficulty.String(), a.TotalExperienceEarned, xpCap, a.CompletionPercentage, a.CurrentStepID, started, timeCell(a.CompletedAt), a.Notes}
		if err := setRow(f, SheetAttempts, attemptRow, row); err != nil {
			return err
		}
		attemptRow++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

// timeCell formats t as RFC 3339 UTC, or nil for unset times.
func timeCell(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
