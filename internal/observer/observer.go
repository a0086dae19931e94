// Package observer runs the event-side process: the webhook server and the
// idle scheduler, sharing one lock so record transitions never interleave.
package observer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"coddy/internal/git"
	"coddy/internal/logging"
	"coddy/internal/router"
)

// ErrRestart is returned by Run after a merged pull request updated the
// checkout. The supervisor is expected to start the observer again.
var ErrRestart = errors.New("observer restart requested")

// Service is a long-running component stopped by cancelling ctx.
type Service interface {
	Run(ctx context.Context) error
}

// DefaultRetryInterval is how often a deferred pull is retried.
const DefaultRetryInterval = 30 * time.Second

// Observer supervises the webhook server and scheduler.
type Observer struct {
	Server    Service
	Scheduler Service
	// Git, when set, pulls the default branch after a merge into it.
	Git           git.Runner
	DefaultBranch string
	// Busy, when set, reports whether the worker is mid-loop in the shared
	// checkout. Pulls are deferred until it returns false.
	Busy          func() bool
	RetryInterval time.Duration
	Logger        *slog.Logger

	restart chan struct{}

	mu      sync.Mutex
	pending string
}

// New returns an Observer; use it instead of a literal so OnMerged can
// signal a restart.
func New(server, scheduler Service, g git.Runner, defaultBranch string, logger *slog.Logger) *Observer {
	return &Observer{
		Server:        server,
		Scheduler:     scheduler,
		Git:           g,
		DefaultBranch: defaultBranch,
		Logger:        logger,
		restart:       make(chan struct{}, 1),
	}
}

func (o *Observer) logger() *slog.Logger { return logging.OrDiscard(o.Logger) }

func (o *Observer) defaultBranch() string {
	if o.DefaultBranch != "" {
		return o.DefaultBranch
	}
	return "main"
}

// OnMerged is the router's merge hook: pull the default branch and ask for
// a restart. Merges into other branches are ignored. While the worker is
// busy the pull is deferred. A failed pull is logged and does not restart.
func (o *Observer) OnMerged(ctx context.Context, ev router.MergeEvent) error {
	if o.Git == nil {
		return nil
	}
	branch := o.defaultBranch()
	log := o.logger().With("repo", ev.Repo, "pr", ev.PRNumber, "branch", branch)
	if ev.Base != "" && ev.Base != branch {
		log.Debug("merge into non-default branch ignored", "base", ev.Base)
		return nil
	}
	if o.busy() {
		o.mu.Lock()
		o.pending = branch
		o.mu.Unlock()
		log.Info("worker busy, pull deferred")
		return nil
	}
	o.pull(ctx, branch)
	return nil
}

func (o *Observer) busy() bool { return o.Busy != nil && o.Busy() }

// retryPending runs a deferred pull once the worker is idle. It reports
// whether a pull was attempted.
func (o *Observer) retryPending(ctx context.Context) bool {
	o.mu.Lock()
	branch := o.pending
	if branch == "" || o.busy() {
		o.mu.Unlock()
		return false
	}
	o.pending = ""
	o.mu.Unlock()
	o.pull(ctx, branch)
	return true
}

func (o *Observer) pull(ctx context.Context, branch string) {
	log := o.logger().With("branch", branch)
	if err := o.Git.Pull(ctx, branch); err != nil {
		log.Error("pull after merge failed", "error", err)
		return
	}
	log.Info("pulled merged changes, restart requested")
	select {
	case o.restart <- struct{}{}:
	default:
	}
}

// Run starts all services and blocks until ctx is cancelled, a service
// fails or a restart is requested.
func (o *Observer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if o.Server != nil {
		g.Go(func() error { return o.Server.Run(gctx) })
	}
	if o.Scheduler != nil {
		g.Go(func() error { return o.Scheduler.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-o.restart:
			return ErrRestart
		}
	})
	if o.Busy != nil && o.Git != nil {
		g.Go(func() error { return o.retryLoop(gctx) })
	}

	o.logger().Info("observer started")
	err := g.Wait()
	if errors.Is(err, ErrRestart) {
		return ErrRestart
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (o *Observer) retryLoop(ctx context.Context) error {
	interval := o.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			o.retryPending(ctx)
		}
	}
}
