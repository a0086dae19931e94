package ralph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"coddy/internal/logging"
	"coddy/internal/store"
)

// DefaultPollInterval is how often the worker re-checks the queue when no
// file event arrives.
const DefaultPollInterval = 30 * time.Second

// Worker takes issues off the queue one at a time and runs the loop for
// each.
type Worker struct {
	Picker     *Picker
	Controller *Controller
	// Reviews, when set, addresses pending review comments before the next
	// queued issue is picked.
	Reviews *ReviewProcessor
	// WatchDir is the record directory watched for changes. Empty disables
	// the watcher and the worker polls only.
	WatchDir     string
	PollInterval time.Duration
	// Status, when set, receives the worker state after every change.
	Status *StatusWriter
	Logger *slog.Logger

	runID   string
	status  Status
	summary RunSummary
}

var (
	_ Observer       = (*Worker)(nil)
	_ ReviewObserver = (*Worker)(nil)
)

func (w *Worker) logger() *slog.Logger { return logging.OrDiscard(w.Logger) }

func (w *Worker) init() {
	if w.runID != "" {
		return
	}
	w.runID = uuid.NewString()
	now := w.Controller.Clock.Now()
	w.status = Status{State: StateIdle, RunID: w.runID, PID: os.Getpid(), StartedAt: now, UpdatedAt: now}
	if w.Controller.Observer == nil {
		w.Controller.Observer = w
	}
	if w.Reviews != nil && w.Reviews.Observer == nil {
		w.Reviews.Observer = w
	}
}

// Summary returns the tallies accumulated so far.
func (w *Worker) Summary() RunSummary { return w.summary }

// RunOnce claims and works one queued issue. It returns nil, nil when the
// queue is empty.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	w.init()
	is, err := w.Picker.Next(ctx)
	if err != nil || is == nil {
		return nil, err
	}
	return w.Controller.Run(ctx, is)
}

// Drain works pending review comments and queued issues until none is left
// or ctx is done. Review comments go first.
func (w *Worker) Drain(ctx context.Context) (*RunSummary, error) {
	w.init()
	start := w.Controller.Clock.Now()
	var drained RunSummary
	for ctx.Err() == nil {
		if w.Reviews != nil {
			did, err := w.Reviews.ProcessNext(ctx)
			if err != nil {
				return &drained, err
			}
			if did {
				continue
			}
		}
		res, err := w.RunOnce(ctx)
		if err != nil {
			return &drained, err
		}
		if res == nil {
			break
		}
		drained.Add(res)
		w.summary.Add(res)
	}
	drained.Duration = w.Controller.Clock.Now().Sub(start)
	return &drained, ctx.Err()
}

// Reclaim requeues issues a previous worker process left in_progress.
func (w *Worker) Reclaim(ctx context.Context) error {
	w.init()
	reclaimed, err := w.Picker.Reclaim(ctx)
	if len(reclaimed) > 0 {
		w.logger().Info("interrupted issues requeued", "count", len(reclaimed))
	}
	return err
}

// Run reclaims interrupted issues, drains the queue, then waits for a record change or the poll
// interval, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Reclaim(ctx); err != nil {
		return err
	}
	log := w.logger()
	wake := make(chan struct{}, 1)

	if w.WatchDir != "" {
		rw, err := newRecordWatcher(w.WatchDir, log)
		if err != nil {
			log.Warn("record watcher unavailable, polling only", "dir", w.WatchDir, "error", err)
		} else {
			go rw.run(ctx, wake)
		}
	}

	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := w.Controller.Clock.NewTicker(interval)
	defer ticker.Stop()
	defer w.writeState(StateStopped)

	log.Info("worker started", "run_id", w.runID, "poll", interval, "watch", w.WatchDir)
	for {
		if _, err := w.Drain(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			log.Error("worker drain failed", "error", err)
		}
		w.writeState(StateIdle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (w *Worker) OnLoopStart(is *store.Issue, branch string) {
	w.status.State = StateRunning
	w.status.Current = &CurrentIssue{Repo: is.Repo, Number: is.Number, Title: is.Title, Branch: branch}
	w.status.Iteration = 0
	w.flush()
}

func (w *Worker) OnIterationStart(is *store.Issue, iteration, limit int) {
	w.status.State = StateRunning
	if w.status.Current == nil {
		w.status.Current = &CurrentIssue{Repo: is.Repo, Number: is.Number, Title: is.Title}
	}
	w.status.Iteration = iteration
	w.status.MaxIterations = limit
	w.flush()
}

func (w *Worker) OnLoopEnd(res *Result) {
	w.status.Tallies.Add(res.Outcome)
	w.status.Last = res
	w.status.Current = nil
	w.status.Iteration = 0
	w.flush()
}

func (w *Worker) OnReviewStart(rc *store.ReviewComment, branch string) {
	w.status.State = StateRunning
	w.status.Current = &CurrentIssue{
		Repo:        rc.Repo,
		Number:      rc.IssueNumber,
		Title:       fmt.Sprintf("review comment %d", rc.CommentID),
		Branch:      branch,
		PullRequest: rc.PRNumber,
	}
	w.status.Iteration = 0
	w.status.MaxIterations = 0
	w.flush()
}

func (w *Worker) OnReviewEnd(*store.ReviewComment) {
	w.status.Current = nil
	w.flush()
}

func (w *Worker) writeState(state string) {
	w.status.State = state
	if state != StateRunning {
		w.status.Current = nil
	}
	w.flush()
}

func (w *Worker) flush() {
	if w.Status == nil {
		return
	}
	w.status.UpdatedAt = w.Controller.Clock.Now()
	if err := w.Status.Write(w.status); err != nil {
		w.logger().Warn("failed to write worker status", "path", w.Status.Path(), "error", err)
	}
}
