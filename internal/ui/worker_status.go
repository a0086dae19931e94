package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"coddy/internal/ralph"
)

// staleAfter marks a running status as stale when the worker has not
// refreshed it for this long.
const staleAfter = 10 * time.Minute

// RenderWorkerStatus renders the worker box. A nil status means no worker
// has written a status file yet.
func RenderWorkerStatus(st *ralph.Status, now time.Time) string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render("Worker"))
	b.WriteString("\n\n")

	if st == nil {
		b.WriteString(Styles.Empty.Render("No worker status file."))
		return Styles.Box.Render(b.String())
	}

	state := st.State
	if st.State != ralph.StateStopped && !st.UpdatedAt.IsZero() && now.Sub(st.UpdatedAt) > staleAfter {
		state += " (stale)"
	}
	fmt.Fprintf(&b, "State: %s\n", stateStyle(st.State).Render(state))
	if st.PID != 0 {
		fmt.Fprintf(&b, "PID: %d\n", st.PID)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Uptime: %s\n", formatDuration(now.Sub(st.StartedAt)))
	}

	if cur := st.Current; cur != nil {
		b.WriteString("\n")
		if cur.PullRequest != 0 {
			fmt.Fprintf(&b, "Reviewing: %s pull request #%d\n", cur.Repo, cur.PullRequest)
		} else {
			fmt.Fprintf(&b, "Working on: %s#%d\n", cur.Repo, cur.Number)
		}
		if cur.Title != "" {
			b.WriteString(Styles.Normal.Render(truncate(cur.Title, maxTitleWidth)))
			b.WriteString("\n")
		}
		if cur.Branch != "" {
			fmt.Fprintf(&b, "Branch: %s\n", cur.Branch)
		}
		if st.MaxIterations > 0 {
			fmt.Fprintf(&b, "Iteration: %d/%d\n", st.Iteration, st.MaxIterations)
		}
	}

	b.WriteString("\n")
	t := st.Tallies
	fmt.Fprintf(&b, "Done: %d  Clarify: %d  Exhausted: %d  Failed: %d  Closed: %d",
		t.Succeeded, t.Clarifications, t.Exhausted, t.Failed, t.Closed)

	if last := st.Last; last != nil {
		b.WriteString("\n\n")
		b.WriteString(Styles.Muted.Render("Last: " + ralph.FormatResult(last)))
	}

	return Styles.Box.Render(b.String())
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case ralph.StateRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	case ralph.StateStopped:
		return Styles.Error
	default:
		return Styles.Muted
	}
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
