package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one entry of an issue's append-only conversation log.
type Message struct {
	Author    string    `yaml:"author" json:"author"`
	Content   string    `yaml:"content" json:"content"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// CommentID is the platform comment id, zero for synthesized entries.
	CommentID int64 `yaml:"comment_id,omitempty" json:"comment_id,omitempty"`
	// Revision counts edits of the same comment, starting at zero.
	Revision  int        `yaml:"revision,omitempty" json:"revision,omitempty"`
	DeletedAt *time.Time `yaml:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// Issue is the durable record of one tracked issue. Its YAML form is the only
// contract between the observer and the worker.
type Issue struct {
	Repo        string `yaml:"repo" json:"repo"`
	Number      int    `yaml:"issue_number" json:"issue_number"`
	Status      Status `yaml:"status" json:"status"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Author      string `yaml:"author" json:"author"`
	AssignedTo  string `yaml:"assigned_to,omitempty" json:"assigned_to,omitempty"`

	CreatedAt    time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `yaml:"updated_at" json:"updated_at"`
	AssignedAt   *time.Time `yaml:"assigned_at,omitempty" json:"assigned_at,omitempty"`
	PlanPostedAt *time.Time `yaml:"plan_posted_at,omitempty" json:"plan_posted_at,omitempty"`
	EnqueuedAt   *time.Time `yaml:"enqueued_at,omitempty" json:"enqueued_at,omitempty"`

	Messages []Message `yaml:"messages" json:"messages"`
}

// NewIssue returns a pending_plan record assigned at now. The first message
// mirrors the issue title and description.
func NewIssue(repo string, number int, title, description, author, assignee string, now time.Time) *Issue {
	now = now.UTC()
	assigned := now
	return &Issue{
		Repo:        repo,
		Number:      number,
		Status:      StatusPendingPlan,
		Title:       title,
		Description: description,
		Author:      author,
		AssignedTo:  assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
		AssignedAt:  &assigned,
		Messages: []Message{{
			Author:    author,
			Content:   FirstMessage(title, description),
			Timestamp: now,
		}},
	}
}

// FirstMessage renders the title/description pair stored as messages[0].
func FirstMessage(title, description string) string {
	if strings.TrimSpace(description) == "" {
		return title
	}
	return title + "\n\n" + description
}

// Key identifies the record in logs, e.g. "acme/widgets#42".
func (i *Issue) Key() string {
	return fmt.Sprintf("%s#%d", i.Repo, i.Number)
}

// SetStatus moves the record to status to, stamping the timestamp that
// belongs to the new state. Closing an already closed record is a no-op.
func (i *Issue) SetStatus(to Status, now time.Time) error {
	if i.Status == to && to == StatusClosed {
		return nil
	}
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%s: %s -> %s: %w", i.Key(), i.Status, to, ErrInvalidTransition)
	}
	now = now.UTC()
	switch to {
	case StatusWaitingConfirmation:
		i.PlanPostedAt = &now
	case StatusQueued:
		i.EnqueuedAt = &now
	}
	i.Status = to
	i.UpdatedAt = now
	return nil
}

// Assign records a (re-)assignment to the tracked actor. Status is untouched.
func (i *Issue) Assign(assignee string, now time.Time) {
	now = now.UTC()
	i.AssignedTo = assignee
	i.AssignedAt = &now
	i.UpdatedAt = now
}

// Unassign clears the assignment so the idle scheduler stops considering
// the record.
func (i *Issue) Unassign(now time.Time) {
	i.AssignedTo = ""
	i.AssignedAt = nil
	i.UpdatedAt = now.UTC()
}

// AppendMessage adds m to the log and bumps UpdatedAt.
func (i *Issue) AppendMessage(m Message) {
	m.Timestamp = m.Timestamp.UTC()
	i.Messages = append(i.Messages, m)
	if m.Timestamp.After(i.UpdatedAt) {
		i.UpdatedAt = m.Timestamp
	}
}

// HasComment reports whether a platform comment id is already logged.
func (i *Issue) HasComment(id int64) bool {
	if id == 0 {
		return false
	}
	for _, m := range i.Messages {
		if m.CommentID == id {
			return true
		}
	}
	return false
}

// LatestRevision returns the highest revision logged for a comment id, or -1.
func (i *Issue) LatestRevision(id int64) int {
	rev := -1
	for _, m := range i.Messages {
		if m.CommentID == id && m.Revision > rev {
			rev = m.Revision
		}
	}
	return rev
}

// MarkCommentDeleted soft-deletes every entry of a comment. It reports
// whether anything changed.
func (i *Issue) MarkCommentDeleted(id int64, now time.Time) bool {
	changed := false
	now = now.UTC()
	for idx := range i.Messages {
		m := &i.Messages[idx]
		if m.CommentID != id || m.DeletedAt != nil {
			continue
		}
		at := now
		m.DeletedAt = &at
		changed = true
	}
	if changed {
		i.UpdatedAt = now
	}
	return changed
}

// VisibleMessages returns the log without soft-deleted entries, keeping only
// the newest revision of each edited comment.
func (i *Issue) VisibleMessages() []Message {
	latest := make(map[int64]int)
	for _, m := range i.Messages {
		if m.CommentID != 0 && m.Revision >= latest[m.CommentID] {
			latest[m.CommentID] = m.Revision
		}
	}
	out := make([]Message, 0, len(i.Messages))
	for _, m := range i.Messages {
		if m.DeletedAt != nil {
			continue
		}
		if m.CommentID != 0 && m.Revision != latest[m.CommentID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Validate checks the record invariants enforced on every read and write.
func (i *Issue) Validate() error {
	var errs []error
	if _, _, err := SplitRepo(i.Repo); err != nil {
		errs = append(errs, err)
	}
	if i.Number <= 0 {
		errs = append(errs, fmt.Errorf("issue_number must be positive, got %d", i.Number))
	}
	if !i.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", i.Status))
	}
	if i.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at is required"))
	}
	return errors.Join(errs...)
}

// SplitRepo splits "owner/name" into its parts.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo %q is not in owner/name form", repo)
	}
	for _, p := range parts {
		if p == "." || p == ".." || strings.ContainsAny(p, `\:`) {
			return "", "", fmt.Errorf("repo %q contains an invalid path segment", repo)
		}
	}
	return parts[0], parts[1], nil
}
