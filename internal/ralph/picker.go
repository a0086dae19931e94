package ralph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"coddy/internal/clock"
	"coddy/internal/logging"
	"coddy/internal/store"
)

// Picker takes the next confirmed issue off the queue.
type Picker struct {
	Store  store.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Queued returns the queued records in dispatch order: issue number
// ascending, repo as tie-break.
func (p *Picker) Queued(ctx context.Context) ([]*store.Issue, error) {
	queued, err := p.Store.ListByStatus(ctx, store.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Number != queued[j].Number {
			return queued[i].Number < queued[j].Number
		}
		return queued[i].Repo < queued[j].Repo
	})
	return queued, nil
}

// Next claims the first queued record by moving it to in_progress and
// returns it. A candidate that changed status since it was listed is
// skipped. Returns nil when nothing is queued.
func (p *Picker) Next(ctx context.Context) (*store.Issue, error) {
	queued, err := p.Queued(ctx)
	if err != nil {
		return nil, err
	}
	for _, cand := range queued {
		claimed := false
		rec, err := store.Update(ctx, p.Store, cand.Repo, cand.Number, func(is *store.Issue) (bool, error) {
			if is.Status != store.StatusQueued {
				return false, nil
			}
			claimed = true
			return true, is.SetStatus(store.StatusInProgress, p.Clock.Now())
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", cand.Key(), err)
		}
		if claimed {
			logging.OrDiscard(p.Logger).Info("picked issue", "repo", rec.Repo, "issue", rec.Number, "queued", len(queued))
			return rec, nil
		}
	}
	return nil, nil
}

// Reclaim moves records left in_progress by a worker that stopped mid-loop
// back to the queue and returns them. Only one worker runs per data
// directory, so at startup no in_progress record has a live owner.
func (p *Picker) Reclaim(ctx context.Context) ([]*store.Issue, error) {
	stranded, err := p.Store.ListByStatus(ctx, store.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list in progress: %w", err)
	}
	var out []*store.Issue
	for _, cand := range stranded {
		moved := false
		rec, err := store.Update(ctx, p.Store, cand.Repo, cand.Number, func(is *store.Issue) (bool, error) {
			if is.Status != store.StatusInProgress {
				return false, nil
			}
			moved = true
			return true, is.SetStatus(store.StatusQueued, p.Clock.Now())
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("reclaim %s: %w", cand.Key(), err)
		}
		if moved {
			logging.OrDiscard(p.Logger).Warn("requeued interrupted issue", "repo", rec.Repo, "issue", rec.Number)
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns how many records are waiting in the queue.
func (p *Picker) Count(ctx context.Context) (int, error) {
	queued, err := p.Store.ListByStatus(ctx, store.StatusQueued)
	if err != nil {
		return 0, err
	}
	return len(queued), nil
}
