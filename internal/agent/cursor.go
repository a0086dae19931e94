package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"coddy/internal/logging"
)

const (
	defaultCursorCommand = "agent"
	defaultPlanTimeout   = 2 * time.Minute
)

// CursorConfig configures the Cursor CLI agent.
type CursorConfig struct {
	Command      string
	WorkDir      string
	Model        string
	OutputFormat string
	APIKey       string
	Timeout      time.Duration
	PlanTimeout  time.Duration
	UsePTY       bool
}

// CursorCLI drives the Cursor "agent" CLI in headless mode. Implementation
// runs communicate through the task and report files described by Files.
type CursorCLI struct {
	cfg     CursorConfig
	logger  *slog.Logger
	runOpts []Option
	now     func() time.Time
}

var _ Agent = (*CursorCLI)(nil)

// NewCursorCLI builds a CursorCLI. opts are passed to every Run call.
func NewCursorCLI(cfg CursorConfig, logger *slog.Logger, opts ...Option) *CursorCLI {
	if cfg.Command == "" {
		cfg.Command = defaultCursorCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = defaultPlanTimeout
	}
	return &CursorCLI{cfg: cfg, logger: logging.OrDiscard(logger), runOpts: opts, now: time.Now}
}

func (c *CursorCLI) args(prompt string) []string {
	args := []string{"-p", "--force"}
	if c.cfg.OutputFormat != "" {
		args = append(args, "--output-format", c.cfg.OutputFormat)
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	return append(args, prompt)
}

func (c *CursorCLI) run(ctx context.Context, prompt string, timeout time.Duration, extra ...Option) (*RunResult, error) {
	opts := []Option{WithTimeout(timeout), WithPTY(c.cfg.UsePTY)}
	if c.cfg.APIKey != "" {
		opts = append(opts, WithEnv("CURSOR_API_KEY="+c.cfg.APIKey))
	}
	opts = append(opts, c.runOpts...)
	opts = append(opts, extra...)
	return Run(ctx, c.cfg.WorkDir, c.cfg.Command, c.args(prompt), opts...)
}

// GeneratePlan asks the agent for a short plan in the issue's language.
func (c *CursorCLI) GeneratePlan(ctx context.Context, task Task, language string) (string, error) {
	res, err := c.run(ctx, planPrompt(task, language), c.cfg.PlanTimeout)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("generate plan for #%d: %w", task.Number, ErrTimeout)
	}
	plan := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 {
		return "", fmt.Errorf("generate plan for #%d: agent exited with code %d: %s", task.Number, res.ExitCode, tail(res.Stderr, 5))
	}
	if plan == "" {
		return "", fmt.Errorf("generate plan for #%d: agent returned an empty plan", task.Number)
	}
	return plan, nil
}

func planPrompt(task Task, language string) string {
	var b strings.Builder
	b.WriteString("You are a planner. The user created an issue. Output ONLY a short implementation plan ")
	b.WriteString("(bullet points, no code). Use the same language as the issue")
	if language != "" {
		fmt.Fprintf(&b, " (%s)", language)
	}
	b.WriteString(". ")
	fmt.Fprintf(&b, "Issue title: %q\n\nBody:\n", task.Title)
	if strings.TrimSpace(task.Body) == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(task.Body)
	}
	if len(task.Comments) > 0 {
		b.WriteString("\n\nComments:\n")
		for _, cm := range task.Comments {
			fmt.Fprintf(&b, "- %s: %s\n", cm.Author, cm.Body)
		}
	}
	b.WriteString("\n\nOutput only the plan, nothing else.")
	return b.String()
}

// EvaluateSufficiency applies CheckSufficiency.
func (c *CursorCLI) EvaluateSufficiency(_ context.Context, task Task) (Sufficiency, error) {
	return CheckSufficiency(task), nil
}

// RunIteration writes the task file, runs the agent once and inspects the
// report and task files for completion or clarification.
func (c *CursorCLI) RunIteration(ctx context.Context, task Task) (Report, error) {
	files := Files{RepoDir: c.cfg.WorkDir, Number: task.Number}
	if err := files.WriteTask(task); err != nil {
		return Report{}, err
	}

	logFile, err := os.OpenFile(files.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Report{}, fmt.Errorf("open agent log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "[%s] Issue #%d | iteration %d/%d | command=%s timeout=%s\n",
		c.now().UTC().Format(time.RFC3339), task.Number, task.Iteration, task.MaxIterations, c.cfg.Command, c.cfg.Timeout)
	fmt.Fprintf(logFile, "Task file: %s\nReport file: %s\n", files.TaskPath(), files.ReportPath())

	prompt := fmt.Sprintf(
		"Read and execute the task described in %s (YAML). "+
			"If data is insufficient, add the key 'agent_clarification' to that YAML with your question and stop. "+
			"Otherwise implement and write the PR description to %s (YAML with key 'body').",
		files.TaskPath(), files.ReportPath(),
	)
	res, err := c.run(ctx, prompt, c.cfg.Timeout, WithStdoutWriter(logFile))
	if err != nil {
		fmt.Fprintf(logFile, "Error: %v\n", err)
		return Report{}, err
	}
	fmt.Fprintf(logFile, "Exit code: %d (%s)\n", res.ExitCode, res.Duration.Truncate(time.Second))
	if res.Stderr != "" {
		_, _ = io.WriteString(logFile, res.Stderr)
	}

	report := Report{Body: files.ReadReport(), Clarification: files.ReadClarification()}
	if report.Completed() || report.NeedsClarification() {
		return report, nil
	}
	if res.TimedOut {
		fmt.Fprintf(logFile, "Timed out after %s\n", c.cfg.Timeout)
		return Report{}, fmt.Errorf("iteration %d of #%d: %w", task.Iteration, task.Number, ErrTimeout)
	}
	if res.ExitCode != 0 {
		return Report{}, fmt.Errorf("iteration %d of #%d: agent exited with code %d", task.Iteration, task.Number, res.ExitCode)
	}
	c.logger.Debug("agent produced no signal", "issue", task.Number, "iteration", task.Iteration)
	return Report{}, nil
}

// ProcessReviewItem writes the review task, runs the agent once in the
// checkout and returns the reply it wrote, if any.
func (c *CursorCLI) ProcessReviewItem(ctx context.Context, item ReviewItem) (string, error) {
	files := ReviewFiles{RepoDir: c.cfg.WorkDir, PRNumber: item.PRNumber, CommentID: item.CommentID}
	if err := files.WriteTask(item); err != nil {
		return "", err
	}
	logFile, err := os.OpenFile(files.LogPath(item.IssueNumber), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open agent log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "[%s] PR #%d | review comment %d | %s:%s\n",
		c.now().UTC().Format(time.RFC3339), item.PRNumber, item.CommentID, item.Path, LineDisplay(item.Line))

	prompt := fmt.Sprintf(
		"Read and execute the review task in %s (YAML). "+
			"Address the current item only: apply code changes and/or write your reply to %s (YAML with key 'body'). Then stop.",
		files.TaskPath(), files.ReplyRelPath(),
	)
	res, err := c.run(ctx, prompt, c.cfg.Timeout, WithStdoutWriter(logFile))
	if err != nil {
		fmt.Fprintf(logFile, "Error: %v\n", err)
		return "", err
	}
	fmt.Fprintf(logFile, "Exit code: %d (%s)\n", res.ExitCode, res.Duration.Truncate(time.Second))
	if reply := files.ReadReply(); reply != "" {
		return reply, nil
	}
	if res.TimedOut {
		return "", fmt.Errorf("review comment %d on PR #%d: %w", item.CommentID, item.PRNumber, ErrTimeout)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("review comment %d on PR #%d: agent exited with code %d", item.CommentID, item.PRNumber, res.ExitCode)
	}
	return "", nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
