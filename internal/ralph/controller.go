package ralph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/git"
	"coddy/internal/logging"
	"coddy/internal/platform"
	"coddy/internal/store"
)

// DefaultMaxIterations bounds the agent loop when MaxIterations is unset.
const DefaultMaxIterations = 10

// Platform is what the loop needs from the hosting platform.
type Platform interface {
	platform.IssueReader
	platform.Commenter
	platform.Labeler
	platform.PullRequester
}

// Observer receives loop progress. Implementations must not block.
type Observer interface {
	OnLoopStart(is *store.Issue, branch string)
	OnIterationStart(is *store.Issue, iteration, limit int)
	OnLoopEnd(res *Result)
}

// Result describes one finished loop.
type Result struct {
	Repo        string        `json:"repo"`
	Number      int           `json:"issue_number"`
	Outcome     Outcome       `json:"outcome"`
	Iterations  int           `json:"iterations"`
	Branch      string        `json:"branch,omitempty"`
	PullRequest int           `json:"pr_number,omitempty"`
	URL         string        `json:"pr_url,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Controller drives one in_progress issue through the agent loop.
type Controller struct {
	Store store.Store
	// PullRequests, when set, receives a record for each opened PR.
	PullRequests store.PullRequestStore
	Platform     Platform
	Agent        agent.Executor
	Git          git.Runner
	Clock        clock.Clock

	MaxIterations int
	// DefaultBranch overrides the repository default branch.
	DefaultBranch string
	// CommitEnabled commits and pushes the agent's work before opening the
	// pull request. Leave it off when the agent pushes by itself.
	CommitEnabled bool

	Observer Observer
	Logger   *slog.Logger
	Tracer   oteltrace.Tracer
}

func (c *Controller) logger() *slog.Logger { return logging.OrDiscard(c.Logger) }

func (c *Controller) tracer() oteltrace.Tracer {
	if c.Tracer == nil {
		return noop.NewTracerProvider().Tracer("coddy/ralph")
	}
	return c.Tracer
}

func (c *Controller) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

// TaskFromIssue builds the agent task from a record: title and description
// plus the visible conversation after the opening message.
func TaskFromIssue(is *store.Issue) agent.Task {
	task := agent.Task{
		Repo:     is.Repo,
		Number:   is.Number,
		Title:    is.Title,
		Body:     is.Description,
		Language: agent.DetectLanguage(is.Title + "\n" + is.Description),
	}
	msgs := is.VisibleMessages()
	if len(msgs) > 0 {
		msgs = msgs[1:]
	}
	for _, m := range msgs {
		task.Comments = append(task.Comments, agent.Comment{Author: m.Author, Body: m.Content})
	}
	return task
}

// loop carries per-run state.
type loop struct {
	res  *Result
	task agent.Task
	base string
	log  *slog.Logger
}

// Run executes the loop for is, which must be in_progress. It returns an
// error only when the record store fails; every other failure ends in a
// failed record and a comment on the issue.
func (c *Controller) Run(ctx context.Context, is *store.Issue) (*Result, error) {
	start := c.Clock.Now()
	ctx, span := c.tracer().Start(ctx, "ralph.loop", oteltrace.WithAttributes(
		attribute.String("coddy.repo", is.Repo),
		attribute.Int("coddy.issue", is.Number),
		attribute.Int("coddy.max_iterations", c.maxIterations()),
	))
	defer span.End()

	l := &loop{
		res:  &Result{Repo: is.Repo, Number: is.Number},
		task: TaskFromIssue(is),
		log:  c.logger().With("repo", is.Repo, "issue", is.Number),
	}
	err := c.run(ctx, is, l)
	l.res.Duration = c.Clock.Now().Sub(start)

	span.SetAttributes(
		attribute.String("coddy.outcome", l.res.Outcome.String()),
		attribute.Int("coddy.iterations", l.res.Iterations),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return l.res, err
	}
	if c.Observer != nil {
		c.Observer.OnLoopEnd(l.res)
	}
	l.log.Info("ralph loop finished", "outcome", l.res.Outcome, "iterations", l.res.Iterations, "duration", formatDuration(l.res.Duration))
	return l.res, nil
}

func (c *Controller) run(ctx context.Context, is *store.Issue, l *loop) error {
	suff, err := c.Agent.EvaluateSufficiency(ctx, l.task)
	if err != nil {
		l.log.Warn("sufficiency check failed, using heuristic", "error", err)
		suff = agent.CheckSufficiency(l.task)
	}
	if !suff.Sufficient {
		l.log.Info("issue lacks information, asking for clarification")
		return c.fail(ctx, l, OutcomeClarification, suff.Clarification, platform.LabelStuck)
	}

	l.base = c.baseBranch(ctx, is.Repo)
	branch := git.BranchName(is.Number, is.Title)
	l.res.Branch = branch
	l.task.Branch = branch
	if err := c.Git.CreateBranch(ctx, branch, l.base); err != nil {
		l.log.Error("create branch failed", "branch", branch, "error", err)
		return c.fail(ctx, l, OutcomeFailure, branchFailedMessage(l.task.Language, branch, err), "")
	}
	c.label(ctx, l, platform.LabelInProgress)
	if c.Observer != nil {
		c.Observer.OnLoopStart(is, branch)
	}

	limit := c.maxIterations()
	l.task.MaxIterations = limit
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			l.log.Warn("loop interrupted, leaving issue in progress", "iteration", i)
			return err
		}
		rec, err := c.Store.Load(ctx, is.Repo, is.Number)
		if err != nil {
			return err
		}
		if rec.Status == store.StatusClosed {
			l.log.Info("issue closed, stopping", "iteration", i)
			l.res.Outcome = OutcomeClosed
			c.checkoutDefault(ctx, l)
			return nil
		}

		// Comments and edits made while the loop runs reach the next
		// iteration.
		l.task = TaskFromIssue(rec)
		l.task.Branch = branch
		l.task.Iteration = i
		l.task.MaxIterations = limit
		l.res.Iterations = i
		if c.Observer != nil {
			c.Observer.OnIterationStart(rec, i, limit)
		}
		rep, err := c.iterate(ctx, l.task)
		if err != nil {
			l.log.Warn("iteration failed", "iteration", i, "timeout", errors.Is(err, agent.ErrTimeout), "error", err)
			continue
		}
		if rep.NeedsClarification() {
			l.log.Info("agent asked for clarification", "iteration", i)
			err := c.fail(ctx, l, OutcomeClarification, rep.Clarification, platform.LabelStuck)
			c.checkoutDefault(ctx, l)
			return err
		}
		if rep.Completed() {
			return c.complete(ctx, is, l, rep.Body)
		}
		l.log.Debug("iteration produced no result", "iteration", i)
	}

	l.log.Warn("iteration budget exhausted", "iterations", limit)
	err = c.fail(ctx, l, OutcomeExhausted, exhaustedMessage(l.task.Language, limit), "")
	c.checkoutDefault(ctx, l)
	return err
}

func (c *Controller) iterate(ctx context.Context, task agent.Task) (agent.Report, error) {
	ctx, span := c.tracer().Start(ctx, "ralph.iteration", oteltrace.WithAttributes(
		attribute.Int("coddy.iteration", task.Iteration),
	))
	defer span.End()

	rep, err := c.Agent.RunIteration(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Bool("coddy.completed", rep.Completed()),
		attribute.Bool("coddy.clarification", rep.NeedsClarification()),
	)
	return rep, err
}

func (c *Controller) complete(ctx context.Context, is *store.Issue, l *loop, body string) error {
	lang := l.task.Language
	branch := l.res.Branch
	if c.CommitEnabled {
		msg := fmt.Sprintf("#%d %s", is.Number, is.Title)
		if err := c.Git.CommitAndPush(ctx, branch, msg); err != nil {
			l.log.Error("push failed", "branch", branch, "error", err)
			err := c.fail(ctx, l, OutcomeFailure, pushFailedMessage(lang, branch, err), "")
			c.checkoutDefault(ctx, l)
			return err
		}
	}

	pr, err := c.Platform.CreatePullRequest(ctx, is.Repo, platform.NewPullRequest{
		Title: is.Title,
		Body:  prBody(body, is.Number),
		Head:  branch,
		Base:  l.base,
	})
	if err != nil {
		l.log.Error("create pull request failed", "branch", branch, "error", err)
		err := c.fail(ctx, l, OutcomeFailure, prFailedMessage(lang, err), "")
		c.checkoutDefault(ctx, l)
		return err
	}
	l.res.PullRequest = pr.Number
	l.res.URL = pr.URL

	now := c.Clock.Now()
	if c.PullRequests != nil {
		rec := &store.PullRequest{
			Repo:        is.Repo,
			Number:      pr.Number,
			IssueNumber: is.Number,
			Branch:      branch,
			URL:         pr.URL,
			Status:      store.PRStatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.PullRequests.SavePullRequest(ctx, rec); err != nil {
			return fmt.Errorf("record pull request: %w", err)
		}
	}

	l.res.Outcome = OutcomeSuccess
	c.post(ctx, l, prCreatedMessage(lang, pr.URL))
	c.label(ctx, l, platform.LabelReview)
	if err := c.finish(ctx, l, store.StatusDone); err != nil {
		return err
	}
	l.log.Info("pull request opened", "pr", pr.Number, "url", pr.URL)
	c.checkoutDefault(ctx, l)
	return nil
}

// fail posts message, applies label when non-empty and marks the record
// failed.
func (c *Controller) fail(ctx context.Context, l *loop, outcome Outcome, message, label string) error {
	l.res.Outcome = outcome
	l.res.Detail = message
	c.post(ctx, l, message)
	if label != "" {
		c.label(ctx, l, label)
	}
	return c.finish(ctx, l, store.StatusFailed)
}

// finish writes a terminal status unless the issue was closed meanwhile.
func (c *Controller) finish(ctx context.Context, l *loop, to store.Status) error {
	_, err := store.Update(ctx, c.Store, l.res.Repo, l.res.Number, func(is *store.Issue) (bool, error) {
		if is.Status == store.StatusClosed {
			l.log.Info("issue closed meanwhile, keeping closed", "wanted", to)
			return false, nil
		}
		return true, is.SetStatus(to, c.Clock.Now())
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", to, err)
	}
	return nil
}

func (c *Controller) post(ctx context.Context, l *loop, body string) {
	if _, err := c.Platform.PostComment(ctx, l.res.Repo, l.res.Number, body); err != nil {
		l.log.Warn("failed to post comment", "error", err)
	}
}

// label replaces coddy's own progress label, keeping any others.
func (c *Controller) label(ctx context.Context, l *loop, label string) {
	var labels []string
	if is, err := c.Platform.GetIssue(ctx, l.res.Repo, l.res.Number); err == nil {
		for _, existing := range is.Labels {
			switch existing {
			case platform.LabelStuck, platform.LabelInProgress, platform.LabelReview:
			default:
				labels = append(labels, existing)
			}
		}
	}
	labels = append(labels, label)
	if err := c.Platform.SetLabels(ctx, l.res.Repo, l.res.Number, labels); err != nil {
		l.log.Warn("failed to set labels", "label", label, "error", err)
	}
}

func (c *Controller) baseBranch(ctx context.Context, repo string) string {
	if c.DefaultBranch != "" {
		return c.DefaultBranch
	}
	b, err := c.Platform.DefaultBranch(ctx, repo)
	if err != nil || b == "" {
		c.logger().Warn("default branch unknown, assuming main", "repo", repo, "error", err)
		return "main"
	}
	return b
}

func (c *Controller) checkoutDefault(ctx context.Context, l *loop) {
	if l.base == "" {
		return
	}
	if err := c.Git.CheckoutDefault(ctx, l.base); err != nil {
		l.log.Warn("checkout default branch failed", "branch", l.base, "error", err)
	}
}
