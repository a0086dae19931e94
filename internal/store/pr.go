package store

import (
	"fmt"
	"time"
)

// PRStatus is the state of a pull request opened for an issue.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// PullRequest links a pull request to the issue it implements.
type PullRequest struct {
	Repo        string    `yaml:"repo" json:"repo"`
	Number      int       `yaml:"pr_number" json:"pr_number"`
	IssueNumber int       `yaml:"issue_number,omitempty" json:"issue_number,omitempty"`
	Branch      string    `yaml:"branch,omitempty" json:"branch,omitempty"`
	URL         string    `yaml:"url,omitempty" json:"url,omitempty"`
	Status      PRStatus  `yaml:"status" json:"status"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// Validate checks the pull request record.
func (p *PullRequest) Validate() error {
	if _, _, err := SplitRepo(p.Repo); err != nil {
		return err
	}
	if p.Number <= 0 {
		return fmt.Errorf("pr_number must be positive, got %d", p.Number)
	}
	switch p.Status {
	case PRStatusOpen, PRStatusMerged, PRStatusClosed:
		return nil
	default:
		return ParseEnumError("PRStatus", string(p.Status))
	}
}
