package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"coddy/internal/store"
)

const maxTitleWidth = 48

// SortRecords orders records the way the worker picks them: by issue
// number, then repository.
func SortRecords(issues []*store.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Number != issues[j].Number {
			return issues[i].Number < issues[j].Number
		}
		return issues[i].Repo < issues[j].Repo
	})
}

// CountByStatus tallies records per status.
func CountByStatus(issues []*store.Issue) map[store.Status]int {
	counts := make(map[store.Status]int)
	for _, is := range issues {
		counts[is.Status]++
	}
	return counts
}

// RenderRecords renders the record table. now is used for the "updated"
// column.
func RenderRecords(issues []*store.Issue, now time.Time) string {
	if len(issues) == 0 {
		return Styles.Empty.Render("No tracked issues.")
	}
	sorted := append([]*store.Issue(nil), issues...)
	SortRecords(sorted)

	rows := make([][]string, 0, len(sorted))
	for _, is := range sorted {
		rows = append(rows, []string{
			is.Repo,
			"#" + strconv.Itoa(is.Number),
			is.Status.String(),
			truncate(is.Title, maxTitleWidth),
			Ago(now, is.UpdatedAt),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHighlight))).
		Headers("REPO", "ISSUE", "STATUS", "TITLE", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			if col == 2 && row >= 0 && row < len(sorted) {
				return StatusStyle(sorted[row].Status).Padding(0, 1)
			}
			return Styles.Cell
		})
	return t.String()
}

// RenderCounts renders a one-line status summary, e.g.
// "queued 2 · in_progress 1 · done 4".
func RenderCounts(issues []*store.Issue) string {
	counts := CountByStatus(issues)
	var parts []string
	for _, s := range []store.Status{
		store.StatusPendingPlan,
		store.StatusWaitingConfirmation,
		store.StatusQueued,
		store.StatusInProgress,
		store.StatusDone,
		store.StatusFailed,
		store.StatusClosed,
	} {
		if n := counts[s]; n > 0 {
			parts = append(parts, StatusStyle(s).Render(fmt.Sprintf("%s %d", s, n)))
		}
	}
	if len(parts) == 0 {
		return Styles.Muted.Render("no records")
	}
	return strings.Join(parts, Styles.Muted.Render(" · "))
}

// Ago formats the time elapsed since t in a compact form ("42s", "5m", "3h", "2d").
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, width int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
