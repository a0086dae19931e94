package ralph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/git"
	"coddy/internal/logging"
	"coddy/internal/platform"
	"coddy/internal/store"
)

// ReviewObserver receives review progress. Implementations must not block.
type ReviewObserver interface {
	OnReviewStart(rc *store.ReviewComment, branch string)
	OnReviewEnd(rc *store.ReviewComment)
}

// ReviewProcessor addresses queued review comments one at a time on the
// pull request's head branch: the agent edits and replies, the processor
// commits, pushes and posts the reply in the comment thread.
type ReviewProcessor struct {
	Reviews  store.ReviewStore
	Platform platform.ReviewReplier
	Agent    agent.Reviewer
	Git      git.Runner
	Clock    clock.Clock

	// DefaultBranch is checked out again afterwards. Empty means the pull
	// request's base.
	DefaultBranch string
	CommitEnabled bool

	Observer ReviewObserver
	Logger   *slog.Logger
	Tracer   oteltrace.Tracer
}

func (p *ReviewProcessor) logger() *slog.Logger { return logging.OrDiscard(p.Logger) }

func (p *ReviewProcessor) tracer() oteltrace.Tracer {
	if p.Tracer == nil {
		return noop.NewTracerProvider().Tracer("coddy/ralph")
	}
	return p.Tracer
}

// ProcessNext handles the oldest pending review comment and records its
// outcome. It reports false when nothing is pending. A cancelled ctx leaves
// the comment pending.
func (p *ReviewProcessor) ProcessNext(ctx context.Context) (bool, error) {
	pending, err := p.Reviews.PendingReviews(ctx)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}
	rc := pending[0]

	ctx, span := p.tracer().Start(ctx, "ralph.review", oteltrace.WithAttributes(
		attribute.String("coddy.repo", rc.Repo),
		attribute.Int("coddy.pr", rc.PRNumber),
		attribute.Int64("coddy.review_comment", rc.CommentID),
	))
	defer span.End()

	status, detail := p.process(ctx, rc)
	if err := ctx.Err(); err != nil {
		return true, err
	}
	span.SetAttributes(attribute.String("coddy.review_status", string(status)))
	rc.Status = status
	rc.Detail = detail
	rc.UpdatedAt = p.Clock.Now()
	if err := p.Reviews.SaveReview(ctx, rc); err != nil {
		return true, fmt.Errorf("record review %s: %w", rc.Key(), err)
	}
	return true, nil
}

func (p *ReviewProcessor) process(ctx context.Context, rc *store.ReviewComment) (store.ReviewStatus, string) {
	log := p.logger().With("repo", rc.Repo, "pr", rc.PRNumber, "comment", rc.CommentID)

	pr, err := p.Platform.GetPullRequest(ctx, rc.Repo, rc.PRNumber)
	if err != nil {
		log.Warn("failed to get pull request", "error", err)
		return store.ReviewFailed, "get pull request: " + err.Error()
	}
	if pr.State != "open" {
		log.Info("pull request not open, review comment skipped", "state", pr.State)
		return store.ReviewSkipped, "pull request is " + pr.State
	}

	home := p.DefaultBranch
	if home == "" {
		home = pr.Base
	}
	if err := p.Git.CreateBranch(ctx, pr.Head, pr.Base); err != nil {
		log.Warn("failed to check out pull request branch", "branch", pr.Head, "error", err)
		return store.ReviewFailed, "checkout " + pr.Head + ": " + err.Error()
	}
	if p.Observer != nil {
		p.Observer.OnReviewStart(rc, pr.Head)
		defer p.Observer.OnReviewEnd(rc)
	}
	defer func() {
		if home == "" {
			return
		}
		if err := p.Git.CheckoutDefault(context.WithoutCancel(ctx), home); err != nil {
			log.Warn("checkout default branch failed", "branch", home, "error", err)
		}
	}()

	issue := rc.IssueNumber
	if issue == 0 {
		if n, ok := git.IssueNumber(pr.Head); ok {
			issue = n
		} else {
			issue = rc.PRNumber
		}
	}
	log.Info("addressing review comment", "branch", pr.Head, "path", rc.Path, "line", rc.Line)
	reply, err := p.Agent.ProcessReviewItem(ctx, agent.ReviewItem{
		Repo:        rc.Repo,
		PRNumber:    rc.PRNumber,
		IssueNumber: issue,
		CommentID:   rc.CommentID,
		Author:      rc.Author,
		Body:        rc.Body,
		Path:        rc.Path,
		Line:        rc.Line,
	})
	if err != nil {
		log.Warn("agent failed on review comment", "error", err)
		return store.ReviewFailed, "agent: " + err.Error()
	}

	if p.CommitEnabled {
		msg := fmt.Sprintf("#%d Address review: %s:%s", issue, rc.Path, agent.LineDisplay(rc.Line))
		if err := p.Git.CommitAndPush(ctx, pr.Head, msg); err != nil {
			log.Error("push failed", "branch", pr.Head, "error", err)
			return store.ReviewFailed, "push: " + err.Error()
		}
	}

	if reply = strings.TrimSpace(reply); reply != "" {
		if err := p.Platform.ReplyToReviewComment(ctx, rc.Repo, rc.PRNumber, rc.CommentID, reply); err != nil {
			log.Warn("failed to reply to review comment", "error", err)
		}
	}
	log.Info("review comment addressed", "replied", reply != "")
	return store.ReviewDone, ""
}
