package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkspaceDir is the directory, relative to the repository checkout, where
// task and report files are exchanged with the agent.
const WorkspaceDir = ".coddy"

// Files locates the handoff files for one issue inside a checkout.
type Files struct {
	RepoDir string
	Number  int
}

// TaskPath is the task description the agent reads.
func (f Files) TaskPath() string {
	return filepath.Join(f.RepoDir, WorkspaceDir, "task-"+strconv.Itoa(f.Number)+".yaml")
}

// ReportPath is where the agent writes the pull request description.
func (f Files) ReportPath() string {
	return filepath.Join(f.RepoDir, f.ReportRelPath())
}

// ReportRelPath is ReportPath relative to the checkout, as handed to the agent.
func (f Files) ReportRelPath() string {
	return filepath.Join(WorkspaceDir, "pr-"+strconv.Itoa(f.Number)+".yaml")
}

// LogPath collects the output of every agent run for the issue.
func (f Files) LogPath() string {
	return filepath.Join(f.RepoDir, WorkspaceDir, "task-"+strconv.Itoa(f.Number)+".log")
}

// taskFile is the YAML schema of the task file. The agent adds
// AgentClarification when it cannot proceed.
type taskFile struct {
	Number             int       `yaml:"number"`
	Title              string    `yaml:"title"`
	Body               string    `yaml:"body"`
	Comments           []Comment `yaml:"comments"`
	ReportPath         string    `yaml:"report_path"`
	Instructions       string    `yaml:"instructions"`
	AgentClarification string    `yaml:"agent_clarification,omitempty"`
}

type reportFile struct {
	Body string `yaml:"body"`
}

func instructions(f Files) string {
	var b strings.Builder
	b.WriteString("Follow project rules (.cursor/rules, docs).\n\n")
	b.WriteString("If the task description and comments do NOT contain enough information to implement ")
	b.WriteString("(e.g. missing acceptance criteria, unclear scope), do NOT implement. Instead add ")
	b.WriteString("the key 'agent_clarification' to this task YAML with your specific question(s). ")
	b.WriteString("Then stop.\n\n")
	b.WriteString("If the task IS clear enough: implement it, run final verification (linter, tests), ")
	b.WriteString("fix and repeat until all pass. As the last step, write the PR description to ")
	fmt.Fprintf(&b, "%s with a 'body' key (markdown). Include: What was done; ", f.ReportRelPath())
	fmt.Fprintf(&b, "How to test; Reference to issue #%d. Write the report file only after ", f.Number)
	b.WriteString("all other work and checks are complete.")
	return b.String()
}

// WriteTask writes the task file, replacing any previous one, and removes a
// stale report so only this run's output is observed.
func (f Files) WriteTask(task Task) error {
	if err := os.MkdirAll(filepath.Join(f.RepoDir, WorkspaceDir), 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.Remove(f.ReportPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale report: %w", err)
	}
	body := task.Body
	if strings.TrimSpace(body) == "" {
		body = "(no description)"
	}
	data, err := yaml.Marshal(taskFile{
		Number:       f.Number,
		Title:        task.Title,
		Body:         body,
		Comments:     task.Comments,
		ReportPath:   f.ReportRelPath(),
		Instructions: instructions(f),
	})
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := os.WriteFile(f.TaskPath(), data, 0o644); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	return nil
}

// ReadClarification returns the agent_clarification the agent added to the
// task file, or "" when absent or unreadable.
func (f Files) ReadClarification() string {
	data, err := os.ReadFile(f.TaskPath())
	if err != nil {
		return ""
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return ""
	}
	return strings.TrimSpace(tf.AgentClarification)
}

// ReadReport returns the report body, or "" when absent or unreadable.
func (f Files) ReadReport() string {
	data, err := os.ReadFile(f.ReportPath())
	if err != nil {
		return ""
	}
	var rf reportFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return ""
	}
	return strings.TrimSpace(rf.Body)
}

// ReviewFiles locates the handoff files for one review comment.
type ReviewFiles struct {
	RepoDir   string
	PRNumber  int
	CommentID int64
}

// TaskPath is the review task the agent reads.
func (f ReviewFiles) TaskPath() string {
	return filepath.Join(f.RepoDir, WorkspaceDir, "review-"+strconv.Itoa(f.PRNumber)+".yaml")
}

// ReplyPath is where the agent writes its answer to the reviewer.
func (f ReviewFiles) ReplyPath() string {
	return filepath.Join(f.RepoDir, f.ReplyRelPath())
}

// ReplyRelPath is ReplyPath relative to the checkout.
func (f ReviewFiles) ReplyRelPath() string {
	return filepath.Join(WorkspaceDir, "review-reply-"+strconv.Itoa(f.PRNumber)+"-"+strconv.FormatInt(f.CommentID, 10)+".yaml")
}

// LogPath shares the issue log so one file tells the whole story.
func (f ReviewFiles) LogPath(issueNumber int) string {
	return Files{RepoDir: f.RepoDir, Number: issueNumber}.LogPath()
}

type reviewTaskFile struct {
	PRNumber     int           `yaml:"pr_number"`
	IssueNumber  int           `yaml:"issue_number"`
	Current      reviewCurrent `yaml:"current"`
	ReplyPath    string        `yaml:"reply_path"`
	Instructions string        `yaml:"instructions"`
}

type reviewCurrent struct {
	Path        string `yaml:"path,omitempty"`
	Line        int    `yaml:"line,omitempty"`
	LineDisplay string `yaml:"line_display"`
	Author      string `yaml:"author"`
	Body        string `yaml:"body"`
}

// LineDisplay renders a review line number, "?" for file-level comments.
func LineDisplay(line int) string {
	if line <= 0 {
		return "?"
	}
	return strconv.Itoa(line)
}

// WriteTask writes the review task file and removes a stale reply.
func (f ReviewFiles) WriteTask(item ReviewItem) error {
	if err := os.MkdirAll(filepath.Join(f.RepoDir, WorkspaceDir), 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.Remove(f.ReplyPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale reply: %w", err)
	}
	line := LineDisplay(item.Line)
	data, err := yaml.Marshal(reviewTaskFile{
		PRNumber:    item.PRNumber,
		IssueNumber: item.IssueNumber,
		Current: reviewCurrent{
			Path:        item.Path,
			Line:        item.Line,
			LineDisplay: line,
			Author:      item.Author,
			Body:        item.Body,
		},
		ReplyPath: f.ReplyRelPath(),
		Instructions: fmt.Sprintf("Either apply a code change to address this comment and run linter/tests, "+
			"or only reply: write your reply to %s as YAML with key 'body'. You may do both. Then stop.", f.ReplyRelPath()),
	})
	if err != nil {
		return fmt.Errorf("marshal review task: %w", err)
	}
	if err := os.WriteFile(f.TaskPath(), data, 0o644); err != nil {
		return fmt.Errorf("write review task: %w", err)
	}
	return nil
}

// ReadReply returns the agent's reply. A reply file that is not a YAML
// mapping is taken verbatim.
func (f ReviewFiles) ReadReply() string {
	data, err := os.ReadFile(f.ReplyPath())
	if err != nil {
		return ""
	}
	var rf reportFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(rf.Body)
}
