package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workbench/internal/events"
)

const maxEventLog = 50

// pushEvent prepends e to the log, keeping it newest first and bounded.
func pushEvent(log []events.Event, e events.Event) []events.Event {
	log = append([]events.Event{e}, log...)
	if len(log) > maxEventLog {
		log = log[:maxEventLog]
	}
	return log
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	typeStyle := theme.Dim
	switch e.Kind {
	case events.KindActions:
		typeStyle = theme.StatusRunning
	case events.KindWorkspaces:
		typeStyle = theme.Highlight
	}
	kind := typeStyle.Render(fmt.Sprintf("%-10s", e.Kind))

	return strings.TrimRight(fmt.Sprintf("%s #%-5d %s %s", ts, e.ID, kind, describeEvent(e)), " ")
}

func describeEvent(e events.Event) string {
	var parts []string
	if e.WorkspaceID != "" {
		parts = append(parts, e.WorkspaceID)
	}
	if e.ActionID != "" {
		id := e.ActionID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	return strings.Join(parts, " ")
}
