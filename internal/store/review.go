package store

import (
	"fmt"
	"time"
)

// ReviewStatus is the processing state of a review comment.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending"
	ReviewDone    ReviewStatus = "done"
	ReviewFailed  ReviewStatus = "failed"
	// ReviewSkipped marks comments on pull requests that were no longer
	// open when the worker got to them.
	ReviewSkipped ReviewStatus = "skipped"
)

// ReviewComment is a line comment left on one of coddy's pull requests,
// queued for the worker to address.
type ReviewComment struct {
	Repo        string       `yaml:"repo" json:"repo"`
	PRNumber    int          `yaml:"pr_number" json:"pr_number"`
	IssueNumber int          `yaml:"issue_number,omitempty" json:"issue_number,omitempty"`
	CommentID   int64        `yaml:"comment_id" json:"comment_id"`
	Author      string       `yaml:"author" json:"author"`
	Body        string       `yaml:"body" json:"body"`
	Path        string       `yaml:"path,omitempty" json:"path,omitempty"`
	Line        int          `yaml:"line,omitempty" json:"line,omitempty"`
	Status      ReviewStatus `yaml:"status" json:"status"`
	// Detail explains a failed or skipped comment.
	Detail    string    `yaml:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Key identifies the comment in logs.
func (r *ReviewComment) Key() string {
	return fmt.Sprintf("%s!%d/%d", r.Repo, r.PRNumber, r.CommentID)
}

// Validate checks the review record.
func (r *ReviewComment) Validate() error {
	if _, _, err := SplitRepo(r.Repo); err != nil {
		return err
	}
	if r.PRNumber <= 0 {
		return fmt.Errorf("pr_number must be positive, got %d", r.PRNumber)
	}
	if r.CommentID <= 0 {
		return fmt.Errorf("comment_id must be positive, got %d", r.CommentID)
	}
	switch r.Status {
	case ReviewPending, ReviewDone, ReviewFailed, ReviewSkipped:
		return nil
	default:
		return ParseEnumError("ReviewStatus", string(r.Status))
	}
}
