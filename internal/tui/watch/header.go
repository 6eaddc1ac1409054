package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Workspaces    int
	ActiveActions int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, ticker Ticker, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	uptime := "-"
	if health.UptimeSeconds > 0 {
		uptime = units.HumanDuration(time.Duration(health.UptimeSeconds) * time.Second)
	}

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		lastEventStr = units.HumanDuration(now.Sub(activity.LastEvent())) + " ago"
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" WORKBENCH WATCH %s", tickerStr)

	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Workspaces: %d  Active: %d",
		statusIcon, statusText,
		uptime,
		health.Workspaces,
		health.ActiveActions,
	)

	activityLine := fmt.Sprintf(" Last change: %s %s",
		lastEventStr,
		activity.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}
