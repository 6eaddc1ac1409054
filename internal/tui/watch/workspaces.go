package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/workspace"
)

func workspaceColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 24},
		{Title: "Status", Width: 10},
		{Title: "Provider", Width: 12},
		{Title: "IDE", Width: 10},
		{Title: "Action", Width: 10},
		{Title: "Source", Width: 40},
	}
}

func newWorkspaceTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns(workspaceColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(theme.TableStyles())
	return t
}

// activeByWorkspace indexes pending actions by workspace ID.
func activeByWorkspace(active []action.Record) map[string]action.Record {
	out := make(map[string]action.Record, len(active))
	for _, r := range active {
		out[r.WorkspaceID] = r
	}
	return out
}

// workspaceRows renders one table row per workspace. busy is the frame
// drawn next to a pending action.
func workspaceRows(list []workspace.Workspace, active map[string]action.Record, busy string) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, w := range list {
		status := string(w.Status)
		if status == "" {
			status = "-"
		}
		provider := "-"
		if w.Provider != nil && w.Provider.Name != "" {
			provider = w.Provider.Name
		}
		current := ""
		if r, ok := active[w.ID]; ok {
			current = busy + " " + string(r.Name)
		}
		rows = append(rows, table.Row{w.ID, status, provider, w.IDE.Name, current, w.Source.String()})
	}
	return rows
}

func renderWorkspaces(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKSPACES"),
			theme.Dim.Render("  No workspaces yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKSPACES"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
