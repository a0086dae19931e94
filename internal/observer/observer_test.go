package observer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coddy/internal/router"
	"coddy/internal/testutil"
)

type blockingService struct {
	started chan struct{}
	err     error
}

func newBlocking() *blockingService { return &blockingService{started: make(chan struct{})} }

func (s *blockingService) Run(ctx context.Context) error {
	close(s.started)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv, sch := newBlocking(), newBlocking()
	o := New(srv, sch, nil, "main", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-srv.started
	<-sch.started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("observer did not stop")
	}
}

func TestRun_ServiceFailure(t *testing.T) {
	srv := newBlocking()
	srv.err = errors.New("address already in use")
	o := New(srv, newBlocking(), nil, "main", nil)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestOnMerged_PullsAndRestarts(t *testing.T) {
	g := &testutil.FakeGit{}
	o := New(newBlocking(), newBlocking(), g, "develop", nil)

	require.NoError(t, o.OnMerged(context.Background(), router.MergeEvent{Repo: "acme/widgets", PRNumber: 12, Merged: true, Base: "develop"}))
	assert.Equal(t, []string{"pull develop"}, g.Recorded())

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrRestart)
}

func TestOnMerged_IgnoresOtherBases(t *testing.T) {
	g := &testutil.FakeGit{}
	o := New(nil, nil, g, "", nil)

	require.NoError(t, o.OnMerged(context.Background(), router.MergeEvent{Repo: "acme/widgets", PRNumber: 12, Merged: true, Base: "release/1.x"}))
	assert.Empty(t, g.Recorded())
	assert.Empty(t, o.restart)
}

func TestOnMerged_FailedPullDoesNotRestart(t *testing.T) {
	g := &testutil.FakeGit{PullErr: errors.New("conflict")}
	o := New(nil, nil, g, "", nil)

	require.NoError(t, o.OnMerged(context.Background(), router.MergeEvent{Repo: "acme/widgets", PRNumber: 12, Merged: true}))
	assert.Equal(t, []string{"pull main"}, g.Recorded())
	assert.Empty(t, o.restart)
}

func TestOnMerged_DeferredWhileWorkerBusy(t *testing.T) {
	g := &testutil.FakeGit{}
	var busy atomic.Bool
	busy.Store(true)
	o := New(nil, nil, g, "main", nil)
	o.Busy = busy.Load
	ctx := context.Background()

	require.NoError(t, o.OnMerged(ctx, router.MergeEvent{Repo: "acme/widgets", PRNumber: 12, Merged: true, Base: "main"}))
	assert.Empty(t, g.Recorded(), "no pull under a running loop")
	assert.False(t, o.retryPending(ctx))
	assert.Empty(t, o.restart)

	busy.Store(false)
	assert.True(t, o.retryPending(ctx))
	assert.Equal(t, []string{"pull main"}, g.Recorded())
	assert.Len(t, o.restart, 1)
	assert.False(t, o.retryPending(ctx), "pending pull is consumed")
}

func TestRun_RetriesDeferredPull(t *testing.T) {
	g := &testutil.FakeGit{}
	var busy atomic.Bool
	busy.Store(true)
	o := New(newBlocking(), newBlocking(), g, "main", nil)
	o.Busy = busy.Load
	o.RetryInterval = 10 * time.Millisecond

	require.NoError(t, o.OnMerged(context.Background(), router.MergeEvent{Repo: "acme/widgets", PRNumber: 3, Merged: true}))
	busy.Store(false)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRestart)
	case <-time.After(5 * time.Second):
		t.Fatal("deferred pull never ran")
	}
	assert.Equal(t, []string{"pull main"}, g.Recorded())
}
