// Package store persists issue records as one YAML file per issue. The files
// are the only state shared by the observer and worker processes.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is the issue record persistence contract.
type Store interface {
	// Create persists a new record, failing with ErrAlreadyExists.
	Create(ctx context.Context, issue *Issue) error
	// Load returns the record or ErrNotFound.
	Load(ctx context.Context, repo string, number int) (*Issue, error)
	// Save atomically replaces the record.
	Save(ctx context.Context, issue *Issue) error
	// ListByStatus returns every record currently in status, unordered.
	ListByStatus(ctx context.Context, status Status) ([]*Issue, error)
}

// PullRequestStore persists pull request records.
type PullRequestStore interface {
	LoadPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	SavePullRequest(ctx context.Context, pr *PullRequest) error
}

// ReviewStore persists review comments waiting for the worker.
type ReviewStore interface {
	// CreateReview persists a new comment, failing with ErrAlreadyExists
	// when the comment is already known.
	CreateReview(ctx context.Context, rc *ReviewComment) error
	SaveReview(ctx context.Context, rc *ReviewComment) error
	// PendingReviews returns pending comments oldest first.
	PendingReviews(ctx context.Context) ([]*ReviewComment, error)
}

// UpdateFunc mutates a freshly loaded record. It returns false when nothing
// changed and the record should not be written.
type UpdateFunc func(issue *Issue) (changed bool, err error)

// Update re-reads a record, applies fn and saves the result. Every status
// transition goes through Update so decisions are made on current state.
func Update(ctx context.Context, s Store, repo string, number int, fn UpdateFunc) (*Issue, error) {
	issue, err := s.Load(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	changed, err := fn(issue)
	if err != nil {
		return issue, err
	}
	if !changed {
		return issue, nil
	}
	if err := s.Save(ctx, issue); err != nil {
		return issue, fmt.Errorf("save %s: %w", issue.Key(), err)
	}
	return issue, nil
}
