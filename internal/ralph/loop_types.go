package ralph

import (
	"fmt"
	"strings"
	"time"
)

// RunSummary holds aggregate results of a worker drain.
type RunSummary struct {
	Tallies
	Iterations int
	Duration   time.Duration
}

// Add folds one loop result into the summary.
func (s *RunSummary) Add(res *Result) {
	s.Tallies.Add(res.Outcome)
	s.Iterations += res.Iterations
}

// formatDuration formats a duration in a human-readable way (e.g., "2m34s", "1h12m").
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatResult renders a one-line loop result, e.g.
// `acme/widgets#42 → success after 3 iteration(s) (1m5s) https://...`.
func FormatResult(res *Result) string {
	line := fmt.Sprintf("%s#%d → %s after %d iteration(s) (%s)",
		res.Repo, res.Number, res.Outcome, res.Iterations, formatDuration(res.Duration))
	if res.URL != "" {
		line += " " + res.URL
	}
	return line
}

// FormatSummary formats the end-of-drain summary.
func FormatSummary(summary *RunSummary, remaining int) string {
	lines := make([]string, 0, 8)
	lines = append(lines, "Worker drain complete:")

	if summary.Succeeded > 0 {
		lines = append(lines, fmt.Sprintf("  ✓ %d pull request(s) opened", summary.Succeeded))
	}
	if summary.Clarifications > 0 {
		lines = append(lines, fmt.Sprintf("  ? %d clarification(s) requested", summary.Clarifications))
	}
	if summary.Exhausted > 0 {
		lines = append(lines, fmt.Sprintf("  ⏱ %d out of iterations", summary.Exhausted))
	}
	if summary.Failed > 0 {
		lines = append(lines, fmt.Sprintf("  ✗ %d failure(s)", summary.Failed))
	}
	if summary.Closed > 0 {
		lines = append(lines, fmt.Sprintf("  ⊘ %d closed while running", summary.Closed))
	}
	if remaining > 0 {
		lines = append(lines, fmt.Sprintf("  ○ %d still queued", remaining))
	}
	if summary.Total() == 0 {
		lines = append(lines, "  nothing queued")
	}

	lines = append(lines, fmt.Sprintf("  Duration: %s", formatDuration(summary.Duration)))
	return strings.Join(lines, "\n")
}
