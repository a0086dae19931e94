package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coddy/internal/planner"
	"coddy/internal/store"
	"coddy/internal/testutil"
)

type key struct {
	repo   string
	number int
}

type fakePlanner struct {
	mu    sync.Mutex
	calls []key
	err   error
}

func (p *fakePlanner) Plan(_ context.Context, repo string, number int) (planner.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, key{repo, number})
	return planner.Result{Posted: p.err == nil}, p.err
}

func (p *fakePlanner) Calls() []key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]key(nil), p.calls...)
}

func TestTick_IdleThreshold(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}
	testutil.SeedIssue(t, s, "acme/widgets", 42, store.StatusPendingPlan, testutil.T0)
	sch := &Scheduler{Store: s, Planner: p, Clock: clk}

	clk.Set(testutil.T0.Add(9 * time.Minute))
	ran, err := sch.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, p.Calls())

	clk.Set(testutil.T0.Add(11 * time.Minute))
	ran, err = sch.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []key{{"acme/widgets", 42}}, p.Calls())
}

func TestTick_ExactThresholdIsEligible(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}
	testutil.SeedIssue(t, s, "acme/widgets", 1, store.StatusPendingPlan, testutil.T0)

	clk.Set(testutil.T0.Add(DefaultIdle))
	ran, err := (&Scheduler{Store: s, Planner: p, Clock: clk}).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestTick_OnePerTickLowestNumberFirst(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}
	testutil.SeedIssue(t, s, "zeta/repo", 7, store.StatusPendingPlan, testutil.T0)
	testutil.SeedIssue(t, s, "acme/widgets", 9, store.StatusPendingPlan, testutil.T0)
	testutil.SeedIssue(t, s, "acme/widgets", 7, store.StatusPendingPlan, testutil.T0)
	clk.Set(testutil.T0.Add(time.Hour))

	sch := &Scheduler{Store: s, Planner: p, Clock: clk}
	_, err := sch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []key{{"acme/widgets", 7}}, p.Calls())
}

func TestTick_SkipsIneligible(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}

	unassigned := testutil.SeedIssue(t, s, "acme/widgets", 1, store.StatusPendingPlan, testutil.T0)
	unassigned.Unassign(testutil.T0)
	require.NoError(t, s.Save(context.Background(), unassigned))
	testutil.SeedIssue(t, s, "acme/widgets", 2, store.StatusWaitingConfirmation, testutil.T0)
	testutil.SeedIssue(t, s, "acme/widgets", 3, store.StatusQueued, testutil.T0)
	clk.Set(testutil.T0.Add(time.Hour))

	ran, err := (&Scheduler{Store: s, Planner: p, Clock: clk}).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, p.Calls())
}

func TestTick_CustomIdle(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}
	testutil.SeedIssue(t, s, "acme/widgets", 1, store.StatusPendingPlan, testutil.T0)
	clk.Set(testutil.T0.Add(2 * time.Minute))

	ran, err := (&Scheduler{Store: s, Planner: p, Clock: clk, Idle: time.Minute}).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestTick_DeferredIsNotAnError(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{err: planner.ErrPlanDeferred}
	testutil.SeedIssue(t, s, "acme/widgets", 1, store.StatusPendingPlan, testutil.T0)
	clk.Set(testutil.T0.Add(time.Hour))

	sch := &Scheduler{Store: s, Planner: p, Clock: clk}
	ran, err := sch.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	p.err = errors.New("store broken")
	_, err = sch.Tick(context.Background())
	require.Error(t, err)
}

func TestRun_TicksOnInterval(t *testing.T) {
	s := testutil.NewStore(t)
	clk := testutil.NewClock()
	p := &fakePlanner{}
	testutil.SeedIssue(t, s, "acme/widgets", 1, store.StatusPendingPlan, testutil.T0.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sch := &Scheduler{Store: s, Planner: p, Clock: clk}
	go func() { done <- sch.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Advance(DefaultInterval)
		return len(p.Calls()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
