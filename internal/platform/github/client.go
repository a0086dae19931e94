// Package github implements the platform interfaces on top of the GitHub
// REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v68/github"

	"coddy/internal/logging"
	"coddy/internal/platform"
	"coddy/internal/store"
)

const perPage = 100

// Options configures New.
type Options struct {
	Token string
	// APIURL selects a GitHub Enterprise endpoint, e.g.
	// https://ghe.example.com/api/v3/. Empty means api.github.com.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to GitHub. A Client built without a token answers every call
// with platform.ErrUnavailable.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
}

var _ platform.Platform = (*Client)(nil)

// New builds a Client.
func New(opts Options) (*Client, error) {
	c := &Client{logger: logging.OrDiscard(opts.Logger)}
	if opts.Token == "" {
		return c, nil
	}
	gh := gogithub.NewClient(opts.HTTPClient).WithAuthToken(opts.Token)
	if opts.APIURL != "" && !strings.HasPrefix(opts.APIURL, "https://api.github.com") {
		var err error
		gh, err = gh.WithEnterpriseURLs(opts.APIURL, opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("github api url: %w", err)
		}
	}
	c.gh = gh
	return c, nil
}

// Available reports whether the client has credentials.
func (c *Client) Available() bool { return c.gh != nil }

func (c *Client) split(repo string) (string, string, error) {
	if c.gh == nil {
		return "", "", platform.ErrUnavailable
	}
	return store.SplitRepo(repo)
}

// GetIssue fetches an issue.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*platform.Issue, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return nil, err
	}
	is, _, err := c.gh.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get issue %s#%d: %w", repo, number, err)
	}
	return convertIssue(is), nil
}

// GetComments fetches every comment on an issue, oldest first.
func (c *Client) GetComments(ctx context.Context, repo string, number int) ([]platform.Comment, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return nil, err
	}
	opts := &gogithub.IssueListCommentsOptions{
		Sort:        gogithub.Ptr("created"),
		Direction:   gogithub.Ptr("asc"),
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	var out []platform.Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments %s#%d: %w", repo, number, err)
		}
		for _, cm := range page {
			out = append(out, convertComment(cm))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostComment adds a comment to an issue.
func (c *Client) PostComment(ctx context.Context, repo string, number int, body string) (*platform.Comment, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return nil, err
	}
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{Body: gogithub.Ptr(body)})
	if err != nil {
		return nil, fmt.Errorf("post comment %s#%d: %w", repo, number, err)
	}
	out := convertComment(cm)
	c.logger.Debug("posted comment", "repo", repo, "issue", number, "comment_id", out.ID)
	return &out, nil
}

// SetLabels replaces all labels on an issue.
func (c *Client) SetLabels(ctx context.Context, repo string, number int, labels []string) error {
	owner, name, err := c.split(repo)
	if err != nil {
		return err
	}
	if _, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, labels); err != nil {
		return fmt.Errorf("set labels %s#%d: %w", repo, number, err)
	}
	return nil
}

// ListAssignees returns the logins assigned to an issue.
func (c *Client) ListAssignees(ctx context.Context, repo string, number int) ([]string, error) {
	is, err := c.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	return is.Assignees, nil
}

// CreatePullRequest opens a pull request. An existing pull request for the
// same head is returned instead of failing.
func (c *Client) CreatePullRequest(ctx context.Context, repo string, req platform.NewPullRequest) (*platform.PullRequest, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, name, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(req.Title),
		Head:  gogithub.Ptr(req.Head),
		Base:  gogithub.Ptr(req.Base),
		Body:  gogithub.Ptr(req.Body),
	})
	if err != nil {
		if existing, ok := c.findOpenPR(ctx, owner, name, req.Head, err); ok {
			return existing, nil
		}
		return nil, fmt.Errorf("create pull request %s %s->%s: %w", repo, req.Head, req.Base, err)
	}
	return &platform.PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (c *Client) findOpenPR(ctx context.Context, owner, name, head string, cause error) (*platform.PullRequest, bool) {
	var ghErr *gogithub.ErrorResponse
	if !errors.As(cause, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return nil, false
	}
	prs, _, err := c.gh.PullRequests.List(ctx, owner, name, &gogithub.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + head,
	})
	if err != nil || len(prs) == 0 {
		return nil, false
	}
	return &platform.PullRequest{Number: prs[0].GetNumber(), URL: prs[0].GetHTMLURL()}, true
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return "", err
	}
	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", repo, err)
	}
	return r.GetDefaultBranch(), nil
}

// GetPullRequest fetches a pull request with its state and branches.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (*platform.PullRequest, error) {
	owner, name, err := c.split(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s#%d: %w", repo, number, err)
	}
	return &platform.PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		State:  pr.GetState(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
	}, nil
}

// ReplyToReviewComment answers in the thread of a review comment.
func (c *Client) ReplyToReviewComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	owner, name, err := c.split(repo)
	if err != nil {
		return err
	}
	if _, _, err := c.gh.PullRequests.CreateCommentInReplyTo(ctx, owner, name, number, body, commentID); err != nil {
		return fmt.Errorf("reply to review comment %d on %s#%d: %w", commentID, repo, number, err)
	}
	return nil
}

func convertIssue(is *gogithub.Issue) *platform.Issue {
	out := &platform.Issue{
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		Author: is.GetUser().GetLogin(),
		State:  is.GetState(),
	}
	for _, a := range is.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	for _, l := range is.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func convertComment(cm *gogithub.IssueComment) platform.Comment {
	return platform.Comment{
		ID:        cm.GetID(),
		Author:    cm.GetUser().GetLogin(),
		Body:      cm.GetBody(),
		CreatedAt: cm.GetCreatedAt().Time,
		UpdatedAt: cm.GetUpdatedAt().Time,
	}
}
