// Package router applies platform events to issue records. Every handler
// re-reads the record, decides on its current status and writes it back, so
// redelivered or out-of-order events are harmless.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"coddy/internal/affirm"
	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/logging"
	"coddy/internal/planner"
	"coddy/internal/platform"
	"coddy/internal/store"
)

// Planner is the immediate-plan hook run after an assignment.
type Planner interface {
	Plan(ctx context.Context, repo string, number int) (planner.Result, error)
}

// MergeHandler is invoked after a pull request merge has been recorded.
type MergeHandler func(ctx context.Context, ev MergeEvent) error

// Router dispatches events to the record store.
type Router struct {
	Store        store.Store
	PullRequests store.PullRequestStore
	Platform     platform.Commenter
	Matcher      *affirm.Matcher
	Clock        clock.Clock

	// Reviews, when set together with PullRequests, queues review comments
	// on coddy's open pull requests for the worker.
	Reviews store.ReviewStore

	// BotLogin is the tracked actor: assignments to it create records and
	// its own comments are ignored.
	BotLogin string
	// Planner, when set, plans right after an assignment.
	Planner  Planner
	OnMerged MergeHandler
	// Mu, when set, is held while a record is read and written. It is
	// shared with the planner so observer-side transitions never
	// interleave. The immediate plan and OnMerged run after it is released.
	Mu     sync.Locker
	Logger *slog.Logger
}

func (r *Router) logger() *slog.Logger { return logging.OrDiscard(r.Logger) }

// followUp is work an event triggers once its record transition is done.
type followUp func(ctx context.Context) error

// Handle applies one event. Events that match no record are no-ops.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	next, err := r.apply(ctx, ev)
	if err != nil || next == nil {
		return err
	}
	return next(ctx)
}

func (r *Router) apply(ctx context.Context, ev Event) (followUp, error) {
	if r.Mu != nil {
		r.Mu.Lock()
		defer r.Mu.Unlock()
	}
	switch e := ev.(type) {
	case AssignmentEvent:
		return r.handleAssignment(ctx, e)
	case CommentEvent:
		return nil, r.handleComment(ctx, e)
	case ClosureEvent:
		return nil, r.handleClosure(ctx, e)
	case IssueEditedEvent:
		return nil, r.handleEdited(ctx, e)
	case MergeEvent:
		return r.handleMerge(ctx, e)
	case ReviewCommentEvent:
		return nil, r.handleReviewComment(ctx, e)
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// IsBot reports whether login is the tracked actor, ignoring case, a
// leading "@" and the "[bot]" suffix of app accounts.
func (r *Router) IsBot(login string) bool {
	norm := func(s string) string {
		s = strings.TrimPrefix(strings.TrimSpace(s), "@")
		return strings.TrimSuffix(strings.ToLower(s), "[bot]")
	}
	return r.BotLogin != "" && norm(login) == norm(r.BotLogin)
}

func (r *Router) tracked(assignees []string) bool {
	for _, a := range assignees {
		if r.IsBot(a) {
			return true
		}
	}
	return false
}

func (r *Router) handleAssignment(ctx context.Context, e AssignmentEvent) (followUp, error) {
	log := r.logger().With("repo", e.Repo, "issue", e.Number)
	tracked := r.tracked(e.Assignees)
	now := r.Clock.Now()

	rec, err := r.Store.Load(ctx, e.Repo, e.Number)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !tracked {
			return nil, nil
		}
		rec = store.NewIssue(e.Repo, e.Number, e.Title, e.Body, e.Author, r.BotLogin, now)
		err = r.Store.Create(ctx, rec)
		if err == nil {
			log.Info("tracking issue", "status", rec.Status)
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}
		// Lost a creation race: fall through to a refresh.
		fallthrough
	case err == nil:
		rec, err = store.Update(ctx, r.Store, e.Repo, e.Number, func(is *store.Issue) (bool, error) {
			if tracked {
				is.Assign(r.BotLogin, now)
				return true, nil
			}
			if is.AssignedAt == nil && is.AssignedTo == "" {
				return false, nil
			}
			is.Unassign(now)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if tracked {
			log.Info("assignment refreshed", "status", rec.Status)
		} else {
			log.Info("unassigned", "status", rec.Status)
		}
	default:
		return nil, err
	}

	if !tracked || r.Planner == nil || rec.Status != store.StatusPendingPlan {
		return nil, nil
	}
	return func(ctx context.Context) error {
		if _, err := r.Planner.Plan(ctx, e.Repo, e.Number); err != nil {
			if !errors.Is(err, planner.ErrPlanDeferred) {
				return err
			}
			log.Debug("immediate plan deferred to scheduler", "error", err)
		}
		return nil
	}, nil
}

func (r *Router) handleComment(ctx context.Context, e CommentEvent) error {
	if r.IsBot(e.Author) {
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = r.Clock.Now()
	}

	var confirmed bool
	var lang string
	rec, err := store.Update(ctx, r.Store, e.Repo, e.Number, func(is *store.Issue) (bool, error) {
		switch e.Action {
		case CommentEdited:
			return appendRevision(is, e, at), nil
		case CommentDeleted:
			return is.MarkCommentDeleted(e.CommentID, at), nil
		}

		if is.HasComment(e.CommentID) {
			return false, nil
		}
		is.AppendMessage(store.Message{Author: e.Author, Content: e.Body, Timestamp: at, CommentID: e.CommentID})
		if is.Status == store.StatusWaitingConfirmation && r.Matcher.IsAffirmative(e.Body) {
			now := r.Clock.Now()
			if err := is.SetStatus(store.StatusQueued, now); err != nil {
				return false, err
			}
			lang = agent.DetectLanguage(is.Title + "\n" + is.Description)
			is.AppendMessage(store.Message{Author: r.BotLogin, Content: WorkStartedMessage(lang), Timestamp: now})
			confirmed = true
		}
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if confirmed {
		r.logger().Info("plan confirmed, queued", "repo", e.Repo, "issue", e.Number, "by", e.Author)
		if _, err := r.Platform.PostComment(ctx, e.Repo, e.Number, WorkStartedMessage(lang)); err != nil {
			r.logger().Warn("failed to post acknowledgement", "repo", e.Repo, "issue", e.Number, "error", err)
		}
	} else {
		r.logger().Debug("comment recorded", "repo", e.Repo, "issue", e.Number, "action", e.Action, "status", rec.Status)
	}
	return nil
}

// appendRevision logs an edit as a new message sharing the comment id.
func appendRevision(is *store.Issue, e CommentEvent, at time.Time) bool {
	rev := is.LatestRevision(e.CommentID)
	if rev >= 0 {
		for _, m := range is.Messages {
			if m.CommentID == e.CommentID && m.Revision == rev && m.Content == e.Body {
				return false
			}
		}
	}
	is.AppendMessage(store.Message{Author: e.Author, Content: e.Body, Timestamp: at, CommentID: e.CommentID, Revision: rev + 1})
	return true
}

func (r *Router) handleClosure(ctx context.Context, e ClosureEvent) error {
	var from store.Status
	_, err := store.Update(ctx, r.Store, e.Repo, e.Number, func(is *store.Issue) (bool, error) {
		from = is.Status
		if is.Status == store.StatusClosed {
			return false, nil
		}
		return true, is.SetStatus(store.StatusClosed, r.Clock.Now())
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if from != store.StatusClosed {
		r.logger().Info("issue closed", "repo", e.Repo, "issue", e.Number, "from", from)
	}
	return nil
}

func (r *Router) handleEdited(ctx context.Context, e IssueEditedEvent) error {
	_, err := store.Update(ctx, r.Store, e.Repo, e.Number, func(is *store.Issue) (bool, error) {
		if is.Title == e.Title && is.Description == e.Body {
			return false, nil
		}
		is.Title = e.Title
		is.Description = e.Body
		is.UpdatedAt = r.Clock.Now()
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (r *Router) handleMerge(ctx context.Context, e MergeEvent) (followUp, error) {
	if r.PullRequests != nil {
		if err := r.recordPullRequest(ctx, e); err != nil {
			return nil, err
		}
	}
	if !e.Merged || r.OnMerged == nil {
		return nil, nil
	}
	return func(ctx context.Context) error { return r.OnMerged(ctx, e) }, nil
}

func (r *Router) recordPullRequest(ctx context.Context, e MergeEvent) error {
	now := r.Clock.Now()
	pr, err := r.PullRequests.LoadPullRequest(ctx, e.Repo, e.PRNumber)
	if errors.Is(err, store.ErrNotFound) {
		pr = &store.PullRequest{Repo: e.Repo, Number: e.PRNumber, Branch: e.Branch, CreatedAt: now}
	} else if err != nil {
		return err
	}
	pr.Status = store.PRStatusClosed
	if e.Merged {
		pr.Status = store.PRStatusMerged
	}
	pr.UpdatedAt = now
	if err := r.PullRequests.SavePullRequest(ctx, pr); err != nil {
		return err
	}
	r.logger().Info("pull request finished", "repo", e.Repo, "pr", e.PRNumber, "status", pr.Status)
	return nil
}

func (r *Router) handleReviewComment(ctx context.Context, e ReviewCommentEvent) error {
	if r.Reviews == nil || r.PullRequests == nil || r.IsBot(e.Author) {
		return nil
	}
	log := r.logger().With("repo", e.Repo, "pr", e.PRNumber, "comment", e.CommentID)
	pr, err := r.PullRequests.LoadPullRequest(ctx, e.Repo, e.PRNumber)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("review comment on untracked pull request ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if pr.Status != store.PRStatusOpen {
		log.Debug("review comment on finished pull request ignored", "status", pr.Status)
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = r.Clock.Now()
	}
	rc := &store.ReviewComment{
		Repo:        e.Repo,
		PRNumber:    e.PRNumber,
		IssueNumber: pr.IssueNumber,
		CommentID:   e.CommentID,
		Author:      e.Author,
		Body:        e.Body,
		Path:        e.Path,
		Line:        e.Line,
		Status:      store.ReviewPending,
		CreatedAt:   at,
		UpdatedAt:   r.Clock.Now(),
	}
	err = r.Reviews.CreateReview(ctx, rc)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("review comment queued", "path", e.Path, "line", e.Line)
	return nil
}

// WorkStartedMessage is posted when a plan is confirmed.
func WorkStartedMessage(language string) string {
	if language == agent.LanguageRussian {
		return "Работа над задачей началась. Реализация появится в пулл-реквесте."
	}
	return "Work on this task has started. The implementation will appear in a pull request."
}
