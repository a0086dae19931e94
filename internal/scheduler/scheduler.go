// Package scheduler runs the idle-assignment timer of the observer: a
// pending_plan record whose assignment has been idle long enough gets a plan.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"coddy/internal/clock"
	"coddy/internal/logging"
	"coddy/internal/planner"
	"coddy/internal/store"
)

const (
	DefaultIdle     = 10 * time.Minute
	DefaultInterval = 30 * time.Second
)

// Planner plans one record.
type Planner interface {
	Plan(ctx context.Context, repo string, number int) (planner.Result, error)
}

// Scheduler invokes the planner for at most one idle record per tick.
type Scheduler struct {
	Store    store.Store
	Planner  Planner
	Clock    clock.Clock
	Idle     time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

func (s *Scheduler) logger() *slog.Logger { return logging.OrDiscard(s.Logger) }

func (s *Scheduler) idle() time.Duration {
	if s.Idle > 0 {
		return s.Idle
	}
	return DefaultIdle
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

// Eligible returns the pending_plan records idle for at least the threshold,
// ordered by issue number then repo.
func (s *Scheduler) Eligible(ctx context.Context) ([]*store.Issue, error) {
	pending, err := s.Store.ListByStatus(ctx, store.StatusPendingPlan)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	var out []*store.Issue
	for _, is := range pending {
		if is.AssignedAt == nil || now.Sub(*is.AssignedAt) < s.idle() {
			continue
		}
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].Repo < out[j].Repo
	})
	return out, nil
}

// Tick plans the first eligible record. It reports whether the planner ran.
// A deferred plan is logged and leaves the record for the next tick. The
// planner serialises its own record transitions, so webhook events are
// applied while the agent is generating.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	eligible, err := s.Eligible(ctx)
	if err != nil {
		return false, err
	}
	if len(eligible) == 0 {
		return false, nil
	}
	is := eligible[0]
	log := s.logger().With("repo", is.Repo, "issue", is.Number)
	log.Info("assignment idle, planning", "assigned_at", is.AssignedAt, "waiting", len(eligible))

	if _, err := s.Planner.Plan(ctx, is.Repo, is.Number); err != nil {
		if errors.Is(err, planner.ErrPlanDeferred) {
			log.Warn("plan deferred", "error", err)
			return true, nil
		}
		return true, err
	}
	return true, nil
}

// Run ticks until ctx is cancelled. Tick errors are logged and do not stop
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	t := s.Clock.NewTicker(s.interval())
	defer t.Stop()
	s.logger().Info("scheduler started", "idle", s.idle(), "interval", s.interval())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger().Error("scheduler tick failed", "error", err)
			}
		}
	}
}
