package ralph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/platform"
	"coddy/internal/store"
	"coddy/internal/testutil"
)

const repo = "acme/widgets"

type fixture struct {
	store    *store.FileStore
	platform *testutil.FakePlatform
	agent    *testutil.FakeAgent
	git      *testutil.FakeGit
	clock    *clock.FakeClock
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewStore(t),
		platform: testutil.NewFakePlatform(),
		agent:    &testutil.FakeAgent{},
		git:      &testutil.FakeGit{},
		clock:    testutil.NewClock(),
	}
	f.ctrl = &Controller{
		Store:        f.store,
		PullRequests: f.store,
		Platform:     f.platform,
		Agent:        f.agent,
		Git:          f.git,
		Clock:        f.clock,
	}
	return f
}

func (f *fixture) seed(t *testing.T, number int) *store.Issue {
	t.Helper()
	return testutil.SeedIssue(t, f.store, repo, number, store.StatusInProgress, testutil.T0)
}

func (f *fixture) closeIssue(t *testing.T, number int) {
	t.Helper()
	_, err := store.Update(context.Background(), f.store, repo, number, func(is *store.Issue) (bool, error) {
		return true, is.SetStatus(store.StatusClosed, f.clock.Now())
	})
	require.NoError(t, err)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{}, {Body: "Added retries."}}

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "42-issue-42", res.Branch)
	assert.Equal(t, 101, res.PullRequest)

	assert.Equal(t, store.StatusDone, testutil.MustLoad(t, f.store, repo, 42).Status)
	assert.Equal(t, []string{"create 42-issue-42 from main", "checkout main"}, f.git.Recorded())
	assert.Equal(t, []string{platform.LabelReview}, f.platform.LabelsOf(repo, 42))
	assert.Equal(t, []string{"Pull request opened: https://example.test/pull/101"}, f.platform.PostedBodies(repo, 42))

	require.Len(t, f.platform.PullReqs, 1)
	pr := f.platform.PullReqs[0]
	assert.Equal(t, "42-issue-42", pr.Head)
	assert.Equal(t, "main", pr.Base)
	assert.Contains(t, pr.Body, "Added retries.")
	assert.Contains(t, pr.Body, "Closes #42")

	rec, err := f.store.LoadPullRequest(context.Background(), repo, 101)
	require.NoError(t, err)
	assert.Equal(t, 42, rec.IssueNumber)
	assert.Equal(t, store.PRStatusOpen, rec.Status)

	require.Len(t, f.agent.Iterations, 2)
	assert.Equal(t, "42-issue-42", f.agent.Iterations[1].Branch)
	assert.Equal(t, 2, f.agent.Iterations[1].Iteration)
	assert.Equal(t, DefaultMaxIterations, f.agent.Iterations[1].MaxIterations)
}

func TestRun_ClarificationAtIterationThree(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{}, {}, {Clarification: "Which storage backend?"}}

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, f.agent.IterationCount())

	assert.Equal(t, store.StatusFailed, testutil.MustLoad(t, f.store, repo, 42).Status)
	assert.Equal(t, []string{"Which storage backend?"}, f.platform.PostedBodies(repo, 42))
	assert.Equal(t, []string{platform.LabelStuck}, f.platform.LabelsOf(repo, 42))
	assert.Empty(t, f.platform.PullReqs)
	assert.Equal(t, "checkout main", f.git.Recorded()[len(f.git.Recorded())-1])
}

func TestRun_ClosedMidLoop(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.OnIteration = func(i int) {
		if i == 2 {
			f.closeIssue(t, 42)
		}
	}

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, 2, f.agent.IterationCount())
	assert.Equal(t, store.StatusClosed, testutil.MustLoad(t, f.store, repo, 42).Status)
	assert.Empty(t, f.platform.PostedBodies(repo, 42))
}

func TestRun_CommentsDuringLoopReachNextIteration(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{}, {Body: "done"}}
	f.agent.OnIteration = func(i int) {
		if i != 1 {
			return
		}
		_, err := store.Update(context.Background(), f.store, repo, 42, func(is *store.Issue) (bool, error) {
			is.AppendMessage(store.Message{Author: "alice", Content: "Use the v2 endpoint.", Timestamp: f.clock.Now(), CommentID: 900})
			is.Description = "Make it work with v2."
			return true, nil
		})
		require.NoError(t, err)
	}

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	require.Len(t, f.agent.Iterations, 2)
	assert.NotContains(t, f.agent.Iterations[0].Comments, agent.Comment{Author: "alice", Body: "Use the v2 endpoint."})
	second := f.agent.Iterations[1]
	assert.Contains(t, second.Comments, agent.Comment{Author: "alice", Body: "Use the v2 endpoint."})
	assert.Equal(t, "Make it work with v2.", second.Body)
	assert.Equal(t, "42-issue-42", second.Branch)
	assert.Equal(t, 2, second.Iteration)
	assert.Equal(t, DefaultMaxIterations, second.MaxIterations)
}

func TestRun_ClosedBeforeFinishStaysClosed(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{Body: "done"}}
	f.agent.OnIteration = func(int) { f.closeIssue(t, 42) }

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, store.StatusClosed, testutil.MustLoad(t, f.store, repo, 42).Status)
}

func TestRun_BudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.ctrl.MaxIterations = 3
	is := f.seed(t, 42)

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, 3, f.agent.IterationCount())
	assert.Equal(t, store.StatusFailed, testutil.MustLoad(t, f.store, repo, 42).Status)
	assert.Equal(t, []string{exhaustedMessage(agent.LanguageEnglish, 3)}, f.platform.PostedBodies(repo, 42))
}

func TestRun_IterationErrorsCountAgainstBudget(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Errs = []error{errors.New("exit status 1"), agent.ErrTimeout}
	f.agent.Reports = []agent.Report{{}, {}, {Body: "third time lucky"}}

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Iterations)

	f2 := newFixture(t)
	f2.ctrl.MaxIterations = 2
	is2 := f2.seed(t, 7)
	f2.agent.Errs = []error{agent.ErrTimeout, agent.ErrTimeout}
	res, err = f2.ctrl.Run(context.Background(), is2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
}

func TestRun_InsufficientInformation(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Insufficient = "Please describe the expected behaviour."

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Zero(t, res.Iterations)
	assert.Empty(t, f.git.Recorded())
	assert.Zero(t, f.agent.IterationCount())
	assert.Equal(t, store.StatusFailed, testutil.MustLoad(t, f.store, repo, 42).Status)
	assert.Equal(t, []string{"Please describe the expected behaviour."}, f.platform.PostedBodies(repo, 42))
	assert.Equal(t, []string{platform.LabelStuck}, f.platform.LabelsOf(repo, 42))
}

func TestRun_BranchFailure(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.git.CreateErr = errors.New("remote rejected")

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Zero(t, f.agent.IterationCount())
	assert.Equal(t, store.StatusFailed, testutil.MustLoad(t, f.store, repo, 42).Status)
	posted := f.platform.PostedBodies(repo, 42)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "Could not create branch `42-issue-42`")
}

func TestRun_PullRequestFailure(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{Body: "done"}}
	f.platform.PRErr = errors.New("422 validation failed")

	res, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, store.StatusFailed, testutil.MustLoad(t, f.store, repo, 42).Status)
	posted := f.platform.PostedBodies(repo, 42)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "Could not open a pull request")
	assert.Equal(t, "checkout main", f.git.Recorded()[len(f.git.Recorded())-1])
}

func TestRun_CommitAndPush(t *testing.T) {
	f := newFixture(t)
	f.ctrl.CommitEnabled = true
	f.ctrl.DefaultBranch = "develop"
	is := f.seed(t, 42)
	f.agent.Reports = []agent.Report{{Body: "done"}}

	_, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, []string{"create 42-issue-42 from develop", "push 42-issue-42", "checkout develop"}, f.git.Recorded())
}

func TestRun_KeepsForeignLabels(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	f.platform.AddIssue(repo, platform.Issue{Number: 42, Title: "Issue 42", Labels: []string{"bug", platform.LabelStuck}})
	f.agent.Reports = []agent.Report{{Body: "done"}}

	_, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", platform.LabelReview}, f.platform.LabelsOf(repo, 42))
}

func TestRun_CancelledLeavesInProgress(t *testing.T) {
	f := newFixture(t)
	is := f.seed(t, 42)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.Run(ctx, is)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, store.StatusInProgress, testutil.MustLoad(t, f.store, repo, 42).Status)
}

func TestRun_RussianMessages(t *testing.T) {
	f := newFixture(t)
	f.ctrl.MaxIterations = 1
	is := store.NewIssue(repo, 5, "Добавить повторы", "Повторять неудачные загрузки до трёх раз.", "alice", "coddy-bot", testutil.T0)
	is.Status = store.StatusInProgress
	require.NoError(t, f.store.Create(context.Background(), is))

	_, err := f.ctrl.Run(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, []string{exhaustedMessage(agent.LanguageRussian, 1)}, f.platform.PostedBodies(repo, 5))
	assert.Equal(t, agent.LanguageRussian, f.agent.Iterations[0].Language)
}

func TestTaskFromIssue(t *testing.T) {
	is := store.NewIssue(repo, 1, "Title", "Body text", "alice", "coddy-bot", testutil.T0)
	is.AppendMessage(store.Message{Author: "coddy-bot", Content: "## Plan", Timestamp: testutil.T0})
	is.AppendMessage(store.Message{Author: "bob", Content: "old", Timestamp: testutil.T0, CommentID: 9})
	is.AppendMessage(store.Message{Author: "bob", Content: "new", Timestamp: testutil.T0, CommentID: 9, Revision: 1})
	is.AppendMessage(store.Message{Author: "eve", Content: "spam", Timestamp: testutil.T0, CommentID: 10})
	is.MarkCommentDeleted(10, testutil.T0)

	task := TaskFromIssue(is)
	assert.Equal(t, "Title", task.Title)
	assert.Equal(t, "Body text", task.Body)
	assert.Equal(t, []agent.Comment{
		{Author: "coddy-bot", Body: "## Plan"},
		{Author: "bob", Body: "new"},
	}, task.Comments)
}
