package webhook

import (
	"github.com/google/go-github/v68/github"

	"coddy/internal/router"
)

// Translate converts a parsed go-github webhook payload into router events.
// Payloads coddy does not act on translate to nothing.
func Translate(raw any) []router.Event {
	switch e := raw.(type) {
	case *github.IssuesEvent:
		return translateIssues(e)
	case *github.IssueCommentEvent:
		return translateComment(e)
	case *github.PullRequestEvent:
		return translatePullRequest(e)
	case *github.PullRequestReviewCommentEvent:
		return translateReviewComment(e)
	}
	return nil
}

func translateIssues(e *github.IssuesEvent) []router.Event {
	is := e.GetIssue()
	repo := e.GetRepo().GetFullName()
	switch e.GetAction() {
	case "assigned", "unassigned", "opened":
		if e.GetAction() == "opened" && len(is.Assignees) == 0 {
			return nil
		}
		assignees := make([]string, 0, len(is.Assignees))
		for _, u := range is.Assignees {
			assignees = append(assignees, u.GetLogin())
		}
		return []router.Event{router.AssignmentEvent{
			Repo:      repo,
			Number:    is.GetNumber(),
			Title:     is.GetTitle(),
			Body:      is.GetBody(),
			Author:    is.GetUser().GetLogin(),
			Assignees: assignees,
		}}
	case "closed":
		return []router.Event{router.ClosureEvent{Repo: repo, Number: is.GetNumber()}}
	case "edited":
		return []router.Event{router.IssueEditedEvent{
			Repo:   repo,
			Number: is.GetNumber(),
			Title:  is.GetTitle(),
			Body:   is.GetBody(),
		}}
	}
	return nil
}

func translateComment(e *github.IssueCommentEvent) []router.Event {
	if e.GetIssue().IsPullRequest() {
		return nil
	}
	var action router.CommentAction
	switch e.GetAction() {
	case "created":
		action = router.CommentCreated
	case "edited":
		action = router.CommentEdited
	case "deleted":
		action = router.CommentDeleted
	default:
		return nil
	}
	c := e.GetComment()
	at := c.GetUpdatedAt().Time
	if at.IsZero() {
		at = c.GetCreatedAt().Time
	}
	return []router.Event{router.CommentEvent{
		Repo:      e.GetRepo().GetFullName(),
		Number:    e.GetIssue().GetNumber(),
		CommentID: c.GetID(),
		Author:    c.GetUser().GetLogin(),
		Body:      c.GetBody(),
		Action:    action,
		At:        at.UTC(),
	}}
}

func translatePullRequest(e *github.PullRequestEvent) []router.Event {
	if e.GetAction() != "closed" {
		return nil
	}
	pr := e.GetPullRequest()
	return []router.Event{router.MergeEvent{
		Repo:     e.GetRepo().GetFullName(),
		PRNumber: pr.GetNumber(),
		Merged:   pr.GetMerged(),
		Branch:   pr.GetHead().GetRef(),
		Base:     pr.GetBase().GetRef(),
	}}
}

func translateReviewComment(e *github.PullRequestReviewCommentEvent) []router.Event {
	if e.GetAction() != "created" {
		return nil
	}
	c := e.GetComment()
	line := c.GetLine()
	if line == 0 {
		line = c.GetOriginalLine()
	}
	return []router.Event{router.ReviewCommentEvent{
		Repo:      e.GetRepo().GetFullName(),
		PRNumber:  e.GetPullRequest().GetNumber(),
		CommentID: c.GetID(),
		Author:    c.GetUser().GetLogin(),
		Body:      c.GetBody(),
		Path:      c.GetPath(),
		Line:      line,
		At:        c.GetCreatedAt().Time.UTC(),
	}}
}
