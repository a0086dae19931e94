// Package git runs the repository operations the worker needs around an
// agent run: branch creation, committing, pushing and returning to the
// default branch.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"coddy/internal/logging"
)

// Runner is the git collaborator used by the worker and observer.
type Runner interface {
	CreateBranch(ctx context.Context, name, base string) error
	CheckoutDefault(ctx context.Context, base string) error
	CommitAndPush(ctx context.Context, branch, message string) error
	Pull(ctx context.Context, branch string) error
}

// CommandFunc executes git with args in dir and returns combined output.
type CommandFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Exec implements Runner with the git binary.
type Exec struct {
	Dir         string
	Remote      string
	AuthorName  string
	AuthorEmail string
	// Exclude lists pathspecs never staged by CommitAndPush.
	Exclude []string
	// Command defaults to running the git binary.
	Command CommandFunc
	Logger  *slog.Logger
}

var _ Runner = (*Exec)(nil)

func (g *Exec) git(ctx context.Context, args ...string) (string, error) {
	run := g.Command
	if run == nil {
		run = runGit
	}
	out, err := run(ctx, g.Dir, args...)
	return strings.TrimSpace(string(out)), err
}

func (g *Exec) remote() string {
	if g.Remote == "" {
		return "origin"
	}
	return g.Remote
}

func (g *Exec) logger() *slog.Logger { return logging.OrDiscard(g.Logger) }

// CreateBranch checks out name, creating it from the freshest base available.
// An existing local branch is reused so retries continue previous work.
func (g *Exec) CreateBranch(ctx context.Context, name, base string) error {
	if _, err := g.git(ctx, "fetch", g.remote()); err != nil {
		g.logger().Warn("git fetch failed, using local refs", "error", err)
	}
	if _, err := g.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		_, err := g.git(ctx, "checkout", name)
		return err
	}
	start := base
	if _, err := g.git(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/"+g.remote()+"/"+name); err == nil {
		start = g.remote() + "/" + name
	} else if _, err := g.git(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/"+g.remote()+"/"+base); err == nil {
		start = g.remote() + "/" + base
	}
	_, err := g.git(ctx, "checkout", "-b", name, start)
	return err
}

// CheckoutDefault switches back to base.
func (g *Exec) CheckoutDefault(ctx context.Context, base string) error {
	_, err := g.git(ctx, "checkout", base)
	return err
}

// CommitAndPush stages everything except Exclude, commits when anything is
// staged and pushes branch.
func (g *Exec) CommitAndPush(ctx context.Context, branch, message string) error {
	add := []string{"add", "-A", "--", "."}
	for _, ex := range g.Exclude {
		add = append(add, ":!"+ex)
	}
	if _, err := g.git(ctx, add...); err != nil {
		return err
	}
	staged, err := g.git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return err
	}
	if staged != "" {
		args := []string{}
		if g.AuthorName != "" {
			args = append(args, "-c", "user.name="+g.AuthorName)
		}
		if g.AuthorEmail != "" {
			args = append(args, "-c", "user.email="+g.AuthorEmail)
		}
		args = append(args, "commit", "-m", message)
		if _, err := g.git(ctx, args...); err != nil {
			return err
		}
	}
	_, err = g.git(ctx, "push", "-u", g.remote(), branch)
	return err
}

// Pull fast-forwards branch from the remote.
func (g *Exec) Pull(ctx context.Context, branch string) error {
	_, err := g.git(ctx, "pull", "--ff-only", g.remote(), branch)
	return err
}

const maxSlugLen = 100

var (
	slugSeparators = regexp.MustCompile(`[\s._]+`)
	slugInvalid    = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes     = regexp.MustCompile(`-{2,}`)
)

// Slugify turns an issue title into a branch-safe fragment: lower case,
// [a-z0-9-] only, no leading, trailing or repeated dashes, at most 100
// characters.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugSeparators.ReplaceAllString(s, "-")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

var branchIssue = regexp.MustCompile(`^(\d+)(?:-|$)`)

// IssueNumber extracts the issue number from a branch made by BranchName.
func IssueNumber(branch string) (int, bool) {
	m := branchIssue.FindStringSubmatch(branch)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// BranchName returns "<number>-<slug>", or just the number when the title has
// nothing usable.
func BranchName(number int, title string) string {
	slug := Slugify(title)
	if slug == "" {
		return strconv.Itoa(number)
	}
	return strconv.Itoa(number) + "-" + slug
}
