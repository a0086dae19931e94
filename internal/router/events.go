package router

import "time"

// Event is a normalized platform event.
type Event interface {
	event()
}

// CommentAction distinguishes comment lifecycle events.
type CommentAction string

const (
	CommentCreated CommentAction = "created"
	CommentEdited  CommentAction = "edited"
	CommentDeleted CommentAction = "deleted"
)

// AssignmentEvent reports the current assignees of an issue after an
// assign or unassign.
type AssignmentEvent struct {
	Repo      string
	Number    int
	Title     string
	Body      string
	Author    string
	Assignees []string
}

// CommentEvent reports a comment being created, edited or deleted.
type CommentEvent struct {
	Repo      string
	Number    int
	CommentID int64
	Author    string
	Body      string
	Action    CommentAction
	At        time.Time
}

// ClosureEvent reports an issue being closed.
type ClosureEvent struct {
	Repo   string
	Number int
}

// IssueEditedEvent reports a title or description change.
type IssueEditedEvent struct {
	Repo   string
	Number int
	Title  string
	Body   string
}

// MergeEvent reports a pull request being closed, merged or not.
type MergeEvent struct {
	Repo     string
	PRNumber int
	Merged   bool
	Branch   string
	Base     string
}

// ReviewCommentEvent reports a new line comment on a pull request review.
type ReviewCommentEvent struct {
	Repo      string
	PRNumber  int
	CommentID int64
	Author    string
	Body      string
	Path      string
	Line      int
	At        time.Time
}

func (AssignmentEvent) event()    {}
func (CommentEvent) event()       {}
func (ClosureEvent) event()       {}
func (IssueEditedEvent) event()   {}
func (MergeEvent) event()         {}
func (ReviewCommentEvent) event() {}
