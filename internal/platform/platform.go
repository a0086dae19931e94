// Package platform defines the git hosting capabilities coddy consumes.
// Each consumer depends only on the narrow interface it needs.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the platform cannot be reached because
// credentials are missing. Callers treat it as "try again later".
var ErrUnavailable = errors.New("platform unavailable: no credentials configured")

// Labels applied to issues as work progresses.
const (
	LabelStuck      = "stuck"
	LabelInProgress = "in progress"
	LabelReview     = "review"
)

// Issue is the platform view of an issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	Author    string
	State     string
	Assignees []string
	Labels    []string
}

// Comment is a single issue comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequest is an opened pull request. State, Head and Base are filled
// by GetPullRequest.
type PullRequest struct {
	Number int
	URL    string
	State  string
	Head   string
	Base   string
}

// IssueReader fetches issue content.
type IssueReader interface {
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	GetComments(ctx context.Context, repo string, number int) ([]Comment, error)
}

// Commenter posts comments.
type Commenter interface {
	PostComment(ctx context.Context, repo string, number int, body string) (*Comment, error)
}

// Labeler replaces issue labels.
type Labeler interface {
	SetLabels(ctx context.Context, repo string, number int, labels []string) error
}

// AssigneeLister lists issue assignees.
type AssigneeLister interface {
	ListAssignees(ctx context.Context, repo string, number int) ([]string, error)
}

// PullRequester opens pull requests.
type PullRequester interface {
	CreatePullRequest(ctx context.Context, repo string, pr NewPullRequest) (*PullRequest, error)
	DefaultBranch(ctx context.Context, repo string) (string, error)
}

// ReviewReplier answers pull request review comments.
type ReviewReplier interface {
	GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	ReplyToReviewComment(ctx context.Context, repo string, number int, commentID int64, body string) error
}

// Platform is the full adapter surface.
type Platform interface {
	IssueReader
	Commenter
	Labeler
	AssigneeLister
	PullRequester
	ReviewReplier
}
