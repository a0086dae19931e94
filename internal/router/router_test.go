package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coddy/internal/affirm"
	"coddy/internal/clock"
	"coddy/internal/planner"
	"coddy/internal/store"
	"coddy/internal/testutil"
)

const repo = "acme/widgets"

type recordingPlanner struct {
	calls []int
	err   error
}

func (p *recordingPlanner) Plan(_ context.Context, _ string, number int) (planner.Result, error) {
	p.calls = append(p.calls, number)
	return planner.Result{}, p.err
}

type fixture struct {
	store    *store.FileStore
	platform *testutil.FakePlatform
	clock    *clock.FakeClock
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewStore(t),
		platform: testutil.NewFakePlatform(),
		clock:    testutil.NewClock(),
	}
	f.router = &Router{
		Store:        f.store,
		PullRequests: f.store,
		Reviews:      f.store,
		Platform:     f.platform,
		Matcher:      affirm.New(nil),
		Clock:        f.clock,
		BotLogin:     "coddy-bot",
	}
	return f
}

func (f *fixture) handle(t *testing.T, ev Event) {
	t.Helper()
	require.NoError(t, f.router.Handle(context.Background(), ev))
}

func assign(number int, assignees ...string) AssignmentEvent {
	return AssignmentEvent{Repo: repo, Number: number, Title: "Add retries", Body: "Retry failed uploads.", Author: "alice", Assignees: assignees}
}

func comment(number int, id int64, author, body string) CommentEvent {
	return CommentEvent{Repo: repo, Number: number, CommentID: id, Author: author, Body: body, Action: CommentCreated}
}

func TestAssignment_CreatesPendingPlanRecord(t *testing.T) {
	f := newFixture(t)
	f.handle(t, assign(42, "bob", "coddy-bot"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusPendingPlan, rec.Status)
	require.NotNil(t, rec.AssignedAt)
	assert.True(t, rec.AssignedAt.Equal(testutil.T0))
	assert.Equal(t, "coddy-bot", rec.AssignedTo)
	assert.Equal(t, "Add retries\n\nRetry failed uploads.", rec.Messages[0].Content)
}

func TestAssignment_IgnoresOtherAssignees(t *testing.T) {
	f := newFixture(t)
	f.handle(t, assign(42, "bob"))

	_, err := f.store.Load(context.Background(), repo, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssignment_RefreshKeepsStatus(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.clock.Advance(time.Hour)
	f.handle(t, assign(42, "coddy-bot"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusWaitingConfirmation, rec.Status)
	assert.True(t, rec.AssignedAt.Equal(testutil.T0.Add(time.Hour)))
}

func TestAssignment_UnassignClearsTimer(t *testing.T) {
	f := newFixture(t)
	f.handle(t, assign(42, "coddy-bot"))
	f.handle(t, assign(42, "bob"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Nil(t, rec.AssignedAt)
	assert.Empty(t, rec.AssignedTo)
	assert.Equal(t, store.StatusPendingPlan, rec.Status)
}

func TestAssignment_BotLoginMatchingIsLenient(t *testing.T) {
	f := newFixture(t)
	f.handle(t, assign(42, "Coddy-Bot[bot]"))
	assert.Equal(t, store.StatusPendingPlan, testutil.MustLoad(t, f.store, repo, 42).Status)
}

func TestAssignment_ImmediatePlan(t *testing.T) {
	f := newFixture(t)
	p := &recordingPlanner{}
	f.router.Planner = p

	f.handle(t, assign(42, "coddy-bot"))
	assert.Equal(t, []int{42}, p.calls)

	// A deferred plan is not an error for the event source.
	p.err = planner.ErrPlanDeferred
	f.handle(t, assign(43, "coddy-bot"))
	assert.Equal(t, []int{42, 43}, p.calls)

	p.err = errors.New("disk full")
	require.Error(t, f.router.Handle(context.Background(), assign(44, "coddy-bot")))
}

func TestComment_AffirmativeQueues(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.clock.Advance(5 * time.Minute)
	f.handle(t, comment(42, 1001, "alice", "да"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusQueued, rec.Status)
	require.NotNil(t, rec.EnqueuedAt)
	assert.True(t, rec.EnqueuedAt.Equal(testutil.T0.Add(5*time.Minute)))
	assert.Equal(t, []string{WorkStartedMessage("en")}, f.platform.PostedBodies(repo, 42))

	require.Len(t, rec.Messages, 3)
	assert.Equal(t, "да", rec.Messages[1].Content)
	assert.Equal(t, int64(1001), rec.Messages[1].CommentID)
	assert.Equal(t, "coddy-bot", rec.Messages[2].Author)
}

func TestComment_NonAffirmativeKeepsWaiting(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.handle(t, comment(42, 1, "alice", "maybe later"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusWaitingConfirmation, rec.Status)
	assert.Len(t, rec.Messages, 2)
	assert.Empty(t, f.platform.PostedBodies(repo, 42))

	// Still eligible for a later confirmation.
	f.handle(t, comment(42, 2, "alice", "ok"))
	assert.Equal(t, store.StatusQueued, testutil.MustLoad(t, f.store, repo, 42).Status)
}

func TestComment_AffirmativeOutsideConfirmationOnlyAppends(t *testing.T) {
	for _, st := range []store.Status{store.StatusPendingPlan, store.StatusInProgress, store.StatusFailed} {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture(t)
			testutil.SeedIssue(t, f.store, repo, 42, st, testutil.T0)
			f.handle(t, comment(42, 1, "alice", "yes"))

			rec := testutil.MustLoad(t, f.store, repo, 42)
			assert.Equal(t, st, rec.Status)
			assert.Len(t, rec.Messages, 2)
		})
	}
}

func TestComment_ConfirmationIsAtMostOnce(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.handle(t, comment(42, 1, "alice", "yes"))
	first := testutil.MustLoad(t, f.store, repo, 42).EnqueuedAt

	f.clock.Advance(time.Minute)
	f.handle(t, comment(42, 2, "bob", "go ahead"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusQueued, rec.Status)
	assert.True(t, rec.EnqueuedAt.Equal(*first))
	assert.Len(t, f.platform.PostedBodies(repo, 42), 1)
}

func TestComment_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	ev := comment(42, 7, "alice", "yes")
	f.handle(t, ev)
	f.handle(t, ev)

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusQueued, rec.Status)
	// Original message, the comment, the acknowledgement: nothing duplicated.
	assert.Len(t, rec.Messages, 3)
	assert.Len(t, f.platform.PostedBodies(repo, 42), 1)
}

func TestComment_OwnCommentsIgnored(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.handle(t, comment(42, 1, "coddy-bot", "yes"))

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusWaitingConfirmation, rec.Status)
	assert.Len(t, rec.Messages, 1)
}

func TestComment_UnknownRecordIsNoop(t *testing.T) {
	f := newFixture(t)
	f.handle(t, comment(404, 1, "alice", "yes"))
}

func TestComment_AcknowledgementFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.platform.PostErr = errors.New("rate limited")
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.handle(t, comment(42, 1, "alice", "lgtm"))
	assert.Equal(t, store.StatusQueued, testutil.MustLoad(t, f.store, repo, 42).Status)
}

func TestComment_EditAndDelete(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusWaitingConfirmation, testutil.T0)

	f.handle(t, comment(42, 5, "alice", "maybe"))
	edit := comment(42, 5, "alice", "maybe tomorrow")
	edit.Action = CommentEdited
	f.handle(t, edit)
	f.handle(t, edit) // same content again: no new revision

	del := comment(42, 5, "alice", "")
	del.Action = CommentDeleted
	f.handle(t, del)

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, store.StatusWaitingConfirmation, rec.Status)
	require.Len(t, rec.Messages, 3)
	assert.Equal(t, 1, rec.Messages[2].Revision)
	assert.NotNil(t, rec.Messages[1].DeletedAt)
	assert.NotNil(t, rec.Messages[2].DeletedAt)
	assert.Len(t, rec.VisibleMessages(), 1)
}

func TestClosure_WinsFromAnyStatus(t *testing.T) {
	for _, st := range store.Statuses {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture(t)
			testutil.SeedIssue(t, f.store, repo, 42, st, testutil.T0)
			f.handle(t, ClosureEvent{Repo: repo, Number: 42})
			assert.Equal(t, store.StatusClosed, testutil.MustLoad(t, f.store, repo, 42).Status)
		})
	}
}

func TestClosure_UnknownRecordIsNoop(t *testing.T) {
	f := newFixture(t)
	f.handle(t, ClosureEvent{Repo: repo, Number: 1})
	_, err := f.store.Load(context.Background(), repo, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIssueEdited_UpdatesFields(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 42, store.StatusQueued, testutil.T0)
	f.handle(t, IssueEditedEvent{Repo: repo, Number: 42, Title: "New title", Body: "New body"})

	rec := testutil.MustLoad(t, f.store, repo, 42)
	assert.Equal(t, "New title", rec.Title)
	assert.Equal(t, "New body", rec.Description)
	assert.Equal(t, store.StatusQueued, rec.Status)
}

func TestMerge_RecordsPullRequestAndNotifies(t *testing.T) {
	f := newFixture(t)
	var merged []int
	f.router.OnMerged = func(_ context.Context, ev MergeEvent) error {
		merged = append(merged, ev.PRNumber)
		return nil
	}

	f.handle(t, MergeEvent{Repo: repo, PRNumber: 12, Merged: false, Branch: "42-x"})
	assert.Empty(t, merged)
	pr, err := f.store.LoadPullRequest(context.Background(), repo, 12)
	require.NoError(t, err)
	assert.Equal(t, store.PRStatusClosed, pr.Status)

	f.handle(t, MergeEvent{Repo: repo, PRNumber: 13, Merged: true})
	assert.Equal(t, []int{13}, merged)
	pr, err = f.store.LoadPullRequest(context.Background(), repo, 13)
	require.NoError(t, err)
	assert.Equal(t, store.PRStatusMerged, pr.Status)
}

func TestMerge_DoesNotTouchIssues(t *testing.T) {
	f := newFixture(t)
	testutil.SeedIssue(t, f.store, repo, 13, store.StatusInProgress, testutil.T0)
	f.handle(t, MergeEvent{Repo: repo, PRNumber: 13, Merged: true})
	assert.Equal(t, store.StatusInProgress, testutil.MustLoad(t, f.store, repo, 13).Status)
}

func reviewComment(pr int, id int64, author string) ReviewCommentEvent {
	return ReviewCommentEvent{Repo: repo, PRNumber: pr, CommentID: id, Author: author, Body: "Rename this.", Path: "retry.go", Line: 14}
}

func TestReviewComment_QueuedForOpenPullRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SavePullRequest(ctx, &store.PullRequest{Repo: repo, Number: 31, IssueNumber: 5, Status: store.PRStatusOpen, CreatedAt: testutil.T0, UpdatedAt: testutil.T0}))
	require.NoError(t, f.store.SavePullRequest(ctx, &store.PullRequest{Repo: repo, Number: 32, IssueNumber: 6, Status: store.PRStatusMerged, CreatedAt: testutil.T0, UpdatedAt: testutil.T0}))

	f.handle(t, reviewComment(31, 555, "bob"))
	f.handle(t, reviewComment(31, 555, "bob"))
	f.handle(t, reviewComment(31, 556, "coddy-bot"))
	f.handle(t, reviewComment(32, 557, "bob"))
	f.handle(t, reviewComment(99, 558, "bob"))

	pending, err := f.store.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	rc := pending[0]
	assert.Equal(t, int64(555), rc.CommentID)
	assert.Equal(t, 5, rc.IssueNumber)
	assert.Equal(t, "retry.go", rc.Path)
	assert.Equal(t, 14, rc.Line)
	assert.Equal(t, store.ReviewPending, rc.Status)
	assert.True(t, rc.CreatedAt.Equal(testutil.T0))
}
