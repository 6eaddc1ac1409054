package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"

	"github.com/mattjoyce/workbench/internal/action"
)

const historyRows = 8

// formatRecord renders one archived action as a single line.
func formatRecord(r action.Record, theme Theme) string {
	ts := theme.Dim.Render(r.CreatedAt.Local().Format("15:04:05"))
	status := theme.ActionStatus(r.Status).Render(fmt.Sprintf("%-9s", r.Status))

	took := ""
	if r.FinishedAt != nil {
		took = units.HumanDuration(r.FinishedAt.Sub(r.CreatedAt))
	}

	line := fmt.Sprintf("%s %s %-8s %-20s %s", ts, status, r.Name, r.WorkspaceID, took)
	if r.Error != "" {
		msg := r.Error
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		line += " " + theme.StatusFailed.Render(msg)
	}
	return line
}

// renderHistory lists the newest archived actions first.
func renderHistory(history []action.Record, theme Theme, width int) string {
	innerWidth := width - 4

	if len(history) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ACTION HISTORY"),
			theme.Dim.Render("  No finished actions"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i := len(history) - 1; i >= 0 && len(lines) < historyRows; i-- {
		lines = append(lines, formatRecord(history[i], theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("ACTION HISTORY"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
