package ralph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coddy/internal/agent"
	"coddy/internal/platform"
	"coddy/internal/store"
	"coddy/internal/testutil"
)

func (f *fixture) reviews() *ReviewProcessor {
	return &ReviewProcessor{
		Reviews:       f.store,
		Platform:      f.platform,
		Agent:         f.agent,
		Git:           f.git,
		Clock:         f.clock,
		CommitEnabled: true,
	}
}

func (f *fixture) queueReview(t *testing.T, pr int, id int64, issue int) *store.ReviewComment {
	t.Helper()
	rc := &store.ReviewComment{
		Repo: repo, PRNumber: pr, IssueNumber: issue, CommentID: id, Author: "bob",
		Body: "Rename this.", Path: "retry.go", Line: 14, Status: store.ReviewPending,
		CreatedAt: testutil.T0, UpdatedAt: testutil.T0,
	}
	require.NoError(t, f.store.CreateReview(context.Background(), rc))
	return rc
}

func (f *fixture) reviewStatus(t *testing.T) []*store.ReviewComment {
	t.Helper()
	pending, err := f.store.PendingReviews(context.Background())
	require.NoError(t, err)
	return pending
}

func TestReviewProcessor_AddressesComment(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "open", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 0)
	f.agent.Reply = "  Renamed to retryUpload.  "

	did, err := f.reviews().ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, did)

	require.Len(t, f.agent.ReviewItems, 1)
	item := f.agent.ReviewItems[0]
	assert.Equal(t, agent.ReviewItem{
		Repo: repo, PRNumber: 101, IssueNumber: 42, CommentID: 555, Author: "bob",
		Body: "Rename this.", Path: "retry.go", Line: 14,
	}, item)

	assert.Equal(t, []string{"create 42-add-retries from main", "push 42-add-retries", "checkout main"}, f.git.Recorded())
	assert.Equal(t, []string{"#42 Address review: retry.go:14"}, f.git.Commits)
	assert.Equal(t, []string{"Renamed to retryUpload."}, f.platform.RepliesTo(555))
	assert.Empty(t, f.reviewStatus(t))

	did, err = f.reviews().ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, did)
}

func TestReviewProcessor_NoReplyNoCommit(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "open", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 42)
	p := f.reviews()
	p.CommitEnabled = false

	_, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"create 42-add-retries from main", "checkout main"}, f.git.Recorded())
	assert.Empty(t, f.platform.Replies)
}

func TestReviewProcessor_SkipsClosedPullRequest(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "closed", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 42)

	did, err := f.reviews().ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, did)
	assert.Empty(t, f.git.Recorded())
	assert.Empty(t, f.agent.ReviewItems)
	assert.Empty(t, f.reviewStatus(t), "skipped comment leaves the queue")
}

func TestReviewProcessor_AgentFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "open", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 42)
	f.agent.ReviewErr = errors.New("agent crashed")

	did, err := f.reviews().ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, []string{"create 42-add-retries from main", "checkout main"}, f.git.Recorded())
	assert.Empty(t, f.platform.Replies)
	assert.Empty(t, f.reviewStatus(t))
}

func TestReviewProcessor_CancelledStaysPending(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "open", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 42)
	ctx, cancel := context.WithCancel(context.Background())
	f.agent.ReviewErr = context.Canceled
	p := f.reviews()
	p.Agent = cancelOnReview{agent: f.agent, cancel: cancel}

	_, err := p.ProcessNext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.reviewStatus(t), 1)
}

type cancelOnReview struct {
	agent  agent.Reviewer
	cancel context.CancelFunc
}

func (c cancelOnReview) ProcessReviewItem(ctx context.Context, item agent.ReviewItem) (string, error) {
	c.cancel()
	return c.agent.ProcessReviewItem(ctx, item)
}

func TestWorker_DrainHandlesReviewsFirst(t *testing.T) {
	f := newFixture(t)
	f.platform.AddPullRequest(repo, platform.PullRequest{Number: 101, State: "open", Head: "42-add-retries", Base: "main"})
	f.queueReview(t, 101, 555, 42)
	testutil.SeedIssue(t, f.store, repo, 7, store.StatusQueued, testutil.T0)
	f.agent.Reports = []agent.Report{{Body: "done"}}
	f.agent.Reply = "Done."

	w, dataDir := newWorker(t, f)
	w.Reviews = f.reviews()
	sum, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	calls := f.git.Recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, "create 42-add-retries from main", calls[0])
	assert.Equal(t, []string{"Done."}, f.platform.RepliesTo(555))
	assert.Equal(t, store.StatusDone, testutil.MustLoad(t, f.store, repo, 7).Status)

	st, err := ReadStatus(dataDir)
	require.NoError(t, err)
	assert.False(t, st.Busy())
}
