// Package planner generates an implementation plan for a pending issue,
// posts it for confirmation and moves the record to waiting_confirmation.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/logging"
	"coddy/internal/platform"
	"coddy/internal/store"
)

// ErrPlanDeferred wraps every failure that leaves the record in
// pending_plan for a later attempt.
var ErrPlanDeferred = errors.New("plan deferred")

// Platform is the subset of the platform the planner needs.
type Platform interface {
	platform.IssueReader
	platform.Commenter
}

// Planner runs the plan step for one record at a time.
type Planner struct {
	Store    store.Store
	Platform Platform
	Agent    agent.Planner
	Clock    clock.Clock
	// BotLogin is recorded as the author of the plan message.
	BotLogin string
	// Mu, when set, is held around record reads and writes but not while
	// the agent generates the plan.
	Mu     sync.Locker
	Logger *slog.Logger
	Tracer oteltrace.Tracer
}

// Result describes a completed Plan call.
type Result struct {
	Posted  bool
	Skipped bool // record was no longer pending_plan
}

func (p *Planner) logger() *slog.Logger { return logging.OrDiscard(p.Logger) }

func (p *Planner) lock() func() {
	if p.Mu == nil {
		return func() {}
	}
	p.Mu.Lock()
	return p.Mu.Unlock
}

func (p *Planner) tracer() oteltrace.Tracer {
	if p.Tracer == nil {
		return noop.NewTracerProvider().Tracer("coddy/planner")
	}
	return p.Tracer
}

// Plan generates and posts a plan for repo#number. Collaborator failures
// return an error wrapping ErrPlanDeferred and leave the record untouched.
func (p *Planner) Plan(ctx context.Context, repo string, number int) (Result, error) {
	ctx, span := p.tracer().Start(ctx, "planner.plan", oteltrace.WithAttributes(
		attribute.String("coddy.repo", repo),
		attribute.Int("coddy.issue", number),
	))
	defer span.End()

	res, err := p.plan(ctx, repo, number)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("coddy.plan.posted", res.Posted))
	return res, err
}

func (p *Planner) plan(ctx context.Context, repo string, number int) (Result, error) {
	log := p.logger().With("repo", repo, "issue", number)

	unlock := p.lock()
	rec, err := p.Store.Load(ctx, repo, number)
	unlock()
	if err != nil {
		return Result{}, err
	}
	if rec.Status != store.StatusPendingPlan {
		log.Debug("plan skipped", "status", rec.Status)
		return Result{Skipped: true}, nil
	}

	task, err := p.fetchTask(ctx, repo, number)
	if err != nil {
		return Result{}, p.deferred(log, "fetch issue", err)
	}
	lang := agent.DetectLanguage(task.Title + "\n" + task.Body)
	task.Language = lang

	plan, err := p.Agent.GeneratePlan(ctx, task, lang)
	if err != nil {
		return Result{}, p.deferred(log, "generate plan", err)
	}

	// Closure or another planner may have won while the agent was running.
	unlock = p.lock()
	defer unlock()
	rec, err = p.Store.Load(ctx, repo, number)
	if err != nil {
		return Result{}, err
	}
	if rec.Status != store.StatusPendingPlan {
		log.Info("record changed during planning, not posting", "status", rec.Status)
		return Result{Skipped: true}, nil
	}

	message := FormatPlan(plan, lang)
	if _, err := p.Platform.PostComment(ctx, repo, number, message); err != nil {
		return Result{}, p.deferred(log, "post plan", err)
	}

	_, err = store.Update(ctx, p.Store, repo, number, func(is *store.Issue) (bool, error) {
		if is.Status != store.StatusPendingPlan {
			return false, nil
		}
		now := p.Clock.Now()
		is.AppendMessage(store.Message{Author: p.botAuthor(), Content: message, Timestamp: now})
		return true, is.SetStatus(store.StatusWaitingConfirmation, now)
	})
	if err != nil {
		return Result{}, fmt.Errorf("record plan for %s#%d: %w", repo, number, err)
	}
	log.Info("plan posted, waiting for confirmation", "language", lang)
	return Result{Posted: true}, nil
}

func (p *Planner) fetchTask(ctx context.Context, repo string, number int) (agent.Task, error) {
	is, err := p.Platform.GetIssue(ctx, repo, number)
	if err != nil {
		return agent.Task{}, err
	}
	comments, err := p.Platform.GetComments(ctx, repo, number)
	if err != nil {
		return agent.Task{}, err
	}
	task := agent.Task{Repo: repo, Number: number, Title: is.Title, Body: is.Body}
	for _, c := range comments {
		task.Comments = append(task.Comments, agent.Comment{Author: c.Author, Body: c.Body})
	}
	return task, nil
}

func (p *Planner) botAuthor() string {
	if p.BotLogin == "" {
		return "coddy"
	}
	return p.BotLogin
}

func (p *Planner) deferred(log *slog.Logger, step string, err error) error {
	if errors.Is(err, platform.ErrUnavailable) {
		log.Info("planner unavailable, will retry", "step", step)
	} else {
		log.Warn("planning failed, will retry", "step", step, "error", err)
	}
	return fmt.Errorf("%s: %w: %w", step, ErrPlanDeferred, err)
}

// FormatPlan renders the plan comment with the confirmation prompt.
func FormatPlan(plan, language string) string {
	if language == agent.LanguageRussian {
		return "## План\n\n" + plan + "\n\n---\nПодходит такой подход? Ответьте **да** / **начинай** / **подходит**, чтобы начать реализацию."
	}
	return "## Plan\n\n" + plan + "\n\n---\nDoes this approach work for you? Reply with **yes** / **go ahead** / **looks good** to start implementation."
}
