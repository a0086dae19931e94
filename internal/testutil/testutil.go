// Package testutil provides in-memory collaborators and fixtures shared by
// coddy's package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/platform"
	"coddy/internal/store"
)

// T0 is the reference instant used by tests.
var T0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// NewStore returns a FileStore in a per-test temp directory.
func NewStore(t *testing.T) *store.FileStore {
	t.Helper()
	return store.NewFileStore(t.TempDir(), nil)
}

// NewClock returns a fake clock at T0.
func NewClock() *clock.FakeClock { return clock.Fake(T0) }

// SeedIssue creates a record in status st.
func SeedIssue(t *testing.T, s store.Store, repo string, number int, st store.Status, assignedAt time.Time) *store.Issue {
	t.Helper()
	is := store.NewIssue(repo, number, fmt.Sprintf("Issue %d", number), "A description that is long enough to work on.", "alice", "coddy-bot", assignedAt)
	is.Status = st
	if err := s.Create(context.Background(), is); err != nil {
		t.Fatalf("seed %s#%d: %v", repo, number, err)
	}
	return is
}

// MustLoad loads a record or fails the test.
func MustLoad(t *testing.T, s store.Store, repo string, number int) *store.Issue {
	t.Helper()
	is, err := s.Load(context.Background(), repo, number)
	if err != nil {
		t.Fatalf("load %s#%d: %v", repo, number, err)
	}
	return is
}

// PostedComment is a comment recorded by FakePlatform.
type PostedComment struct {
	Repo   string
	Number int
	Body   string
}

// FakePlatform is an in-memory platform.Platform.
type FakePlatform struct {
	mu sync.Mutex

	Issues      map[string]*platform.Issue
	Comments    map[string][]platform.Comment
	Posted      []PostedComment
	Labels      map[string][]string
	PullReqs    []platform.NewPullRequest
	Branch      string
	Unavailable bool
	// Opened are pull requests returned by GetPullRequest.
	Opened  map[string]*platform.PullRequest
	Replies []PostedReply

	GetIssueErr error
	PostErr     error
	LabelErr    error
	PRErr       error
	ReplyErr    error

	nextID int64
}

// PostedReply records a review thread reply.
type PostedReply struct {
	Repo      string
	PRNumber  int
	CommentID int64
	Body      string
}

var _ platform.Platform = (*FakePlatform)(nil)

// NewFakePlatform returns an empty FakePlatform with default branch "main".
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		Issues:   map[string]*platform.Issue{},
		Comments: map[string][]platform.Comment{},
		Labels:   map[string][]string{},
		Opened:   map[string]*platform.PullRequest{},
		Branch:   "main",
	}
}

// AddPullRequest registers a pull request for GetPullRequest.
func (f *FakePlatform) AddPullRequest(repo string, pr platform.PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened[key(repo, pr.Number)] = &pr
}

// RepliesTo returns the bodies of replies posted to a review comment.
func (f *FakePlatform) RepliesTo(commentID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.Replies {
		if r.CommentID == commentID {
			out = append(out, r.Body)
		}
	}
	return out
}

func key(repo string, number int) string { return fmt.Sprintf("%s#%d", repo, number) }

// AddIssue registers an issue.
func (f *FakePlatform) AddIssue(repo string, is platform.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Issues[key(repo, is.Number)] = &is
}

// PostedBodies returns the bodies of comments posted on repo#number.
func (f *FakePlatform) PostedBodies(repo string, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.Posted {
		if p.Repo == repo && p.Number == number {
			out = append(out, p.Body)
		}
	}
	return out
}

// LabelsOf returns the current labels of repo#number.
func (f *FakePlatform) LabelsOf(repo string, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Labels[key(repo, number)]
}

func (f *FakePlatform) check() error {
	if f.Unavailable {
		return platform.ErrUnavailable
	}
	return nil
}

func (f *FakePlatform) GetIssue(_ context.Context, repo string, number int) (*platform.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.GetIssueErr != nil {
		return nil, f.GetIssueErr
	}
	is, ok := f.Issues[key(repo, number)]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", key(repo, number))
	}
	cp := *is
	return &cp, nil
}

func (f *FakePlatform) GetComments(_ context.Context, repo string, number int) ([]platform.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	return append([]platform.Comment(nil), f.Comments[key(repo, number)]...), nil
}

func (f *FakePlatform) PostComment(_ context.Context, repo string, number int, body string) (*platform.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.PostErr != nil {
		return nil, f.PostErr
	}
	f.nextID++
	f.Posted = append(f.Posted, PostedComment{Repo: repo, Number: number, Body: body})
	return &platform.Comment{ID: f.nextID, Author: "coddy-bot", Body: body}, nil
}

func (f *FakePlatform) SetLabels(_ context.Context, repo string, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.LabelErr != nil {
		return f.LabelErr
	}
	f.Labels[key(repo, number)] = append([]string(nil), labels...)
	return nil
}

func (f *FakePlatform) ListAssignees(ctx context.Context, repo string, number int) ([]string, error) {
	is, err := f.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	return is.Assignees, nil
}

func (f *FakePlatform) CreatePullRequest(_ context.Context, _ string, pr platform.NewPullRequest) (*platform.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.PRErr != nil {
		return nil, f.PRErr
	}
	f.PullReqs = append(f.PullReqs, pr)
	n := 100 + len(f.PullReqs)
	return &platform.PullRequest{Number: n, URL: fmt.Sprintf("https://example.test/pull/%d", n)}, nil
}

func (f *FakePlatform) DefaultBranch(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}
	return f.Branch, nil
}

func (f *FakePlatform) GetPullRequest(_ context.Context, repo string, number int) (*platform.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	pr, ok := f.Opened[key(repo, number)]
	if !ok {
		return nil, fmt.Errorf("pull request %s not found", key(repo, number))
	}
	cp := *pr
	return &cp, nil
}

func (f *FakePlatform) ReplyToReviewComment(_ context.Context, repo string, number int, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.ReplyErr != nil {
		return f.ReplyErr
	}
	f.Replies = append(f.Replies, PostedReply{Repo: repo, PRNumber: number, CommentID: commentID, Body: body})
	return nil
}

// FakeAgent is a scripted agent.Agent.
type FakeAgent struct {
	mu sync.Mutex

	Plan    string
	PlanErr error
	// OnPlan runs before GeneratePlan returns, outside the agent's lock.
	OnPlan func()
	// Insufficient, when set, is returned as the clarification of the
	// sufficiency check.
	Insufficient string
	// Reports and Errs are consumed one per iteration; past the end the
	// agent returns an empty report.
	Reports []agent.Report
	Errs    []error
	// OnIteration runs before each iteration returns.
	OnIteration func(iteration int)
	// Reply and ReviewErr answer every review item.
	Reply     string
	ReviewErr error

	PlanCalls   int
	Iterations  []agent.Task
	Languages   []string
	ReviewItems []agent.ReviewItem
}

var _ agent.Agent = (*FakeAgent)(nil)

func (a *FakeAgent) GeneratePlan(_ context.Context, _ agent.Task, language string) (string, error) {
	if a.OnPlan != nil {
		a.OnPlan()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PlanCalls++
	a.Languages = append(a.Languages, language)
	if a.PlanErr != nil {
		return "", a.PlanErr
	}
	if a.Plan == "" {
		return "1. Do the thing", nil
	}
	return a.Plan, nil
}

func (a *FakeAgent) EvaluateSufficiency(context.Context, agent.Task) (agent.Sufficiency, error) {
	if a.Insufficient != "" {
		return agent.Sufficiency{Clarification: a.Insufficient}, nil
	}
	return agent.Sufficiency{Sufficient: true}, nil
}

func (a *FakeAgent) RunIteration(_ context.Context, task agent.Task) (agent.Report, error) {
	a.mu.Lock()
	idx := len(a.Iterations)
	a.Iterations = append(a.Iterations, task)
	hook := a.OnIteration
	var rep agent.Report
	var err error
	if idx < len(a.Reports) {
		rep = a.Reports[idx]
	}
	if idx < len(a.Errs) {
		err = a.Errs[idx]
	}
	a.mu.Unlock()

	if hook != nil {
		hook(task.Iteration)
	}
	return rep, err
}

func (a *FakeAgent) ProcessReviewItem(_ context.Context, item agent.ReviewItem) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ReviewItems = append(a.ReviewItems, item)
	return a.Reply, a.ReviewErr
}

// IterationCount returns how many iterations ran.
func (a *FakeAgent) IterationCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Iterations)
}

// FakeGit records git operations.
type FakeGit struct {
	mu        sync.Mutex
	Calls     []string
	Commits   []string
	CreateErr error
	PullErr   error
	PushErr   error
}

func (g *FakeGit) record(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, s)
}

func (g *FakeGit) CreateBranch(_ context.Context, name, base string) error {
	g.record("create " + name + " from " + base)
	return g.CreateErr
}

func (g *FakeGit) CheckoutDefault(_ context.Context, base string) error {
	g.record("checkout " + base)
	return nil
}

func (g *FakeGit) CommitAndPush(_ context.Context, branch, message string) error {
	g.record("push " + branch)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Commits = append(g.Commits, message)
	return g.PushErr
}

func (g *FakeGit) Pull(_ context.Context, branch string) error {
	g.record("pull " + branch)
	return g.PullErr
}

// Recorded returns a copy of the recorded calls.
func (g *FakeGit) Recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Calls...)
}
