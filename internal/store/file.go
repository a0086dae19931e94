package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"coddy/internal/logging"
)

const (
	issuesDir = "issues"
	prsDir    = "prs"
	reviewDir = "reviews"
	recordExt = ".yaml"
)

// FileStore keeps records under root:
//
//	<root>/issues/<owner>/<name>/<number>.yaml
//	<root>/prs/<owner>/<name>/<number>.yaml
//	<root>/reviews/<owner>/<name>/<pr>-<comment id>.yaml
//
// Writes go through a temp file in the destination directory, so readers in
// another process see either the old or the new record, never a torn one.
type FileStore struct {
	root   string
	logger *slog.Logger
}

var (
	_ Store            = (*FileStore)(nil)
	_ PullRequestStore = (*FileStore)(nil)
	_ ReviewStore      = (*FileStore)(nil)
)

// NewFileStore returns a store rooted at root. The directory is created
// lazily on first write.
func NewFileStore(root string, logger *slog.Logger) *FileStore {
	return &FileStore{root: root, logger: logging.OrDiscard(logger)}
}

// Root returns the data directory.
func (s *FileStore) Root() string { return s.root }

// IssuesDir is the directory tree watched by the worker.
func (s *FileStore) IssuesDir() string { return filepath.Join(s.root, issuesDir) }

func (s *FileStore) recordPath(kind, repo string, number int) (string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	if number <= 0 {
		return "", fmt.Errorf("number must be positive, got %d", number)
	}
	return filepath.Join(s.root, kind, owner, name, strconv.Itoa(number)+recordExt), nil
}

// Create writes a new record. The temp file is hard-linked into place so two
// concurrent creators cannot both succeed.
func (s *FileStore) Create(ctx context.Context, issue *Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("create %s: %w", issue.Key(), err)
	}
	path, err := s.recordPath(issuesDir, issue.Repo, issue.Number)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", issue.Key(), err)
	}
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create %s: %w", issue.Key(), ErrAlreadyExists)
		}
		return fmt.Errorf("link record: %w", err)
	}
	return nil
}

// Load reads a record.
func (s *FileStore) Load(ctx context.Context, repo string, number int) (*Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.recordPath(issuesDir, repo, number)
	if err != nil {
		return nil, err
	}
	issue, err := readIssue(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s#%d: %w", repo, number, ErrNotFound)
		}
		return nil, err
	}
	return issue, nil
}

// Save atomically replaces a record. The last writer wins.
func (s *FileStore) Save(ctx context.Context, issue *Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", issue.Key(), err)
	}
	path, err := s.recordPath(issuesDir, issue.Repo, issue.Number)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", issue.Key(), err)
	}
	return replaceFile(path, data)
}

// ListByStatus scans every record. Files that cannot be parsed are logged
// and skipped so one bad record does not stall the whole lifecycle.
func (s *FileStore) ListByStatus(ctx context.Context, status Status) ([]*Issue, error) {
	var out []*Issue
	err := s.walk(ctx, func(issue *Issue) {
		if issue.Status == status {
			out = append(out, issue)
		}
	})
	return out, err
}

// List returns every record regardless of status.
func (s *FileStore) List(ctx context.Context) ([]*Issue, error) {
	var out []*Issue
	err := s.walk(ctx, func(issue *Issue) { out = append(out, issue) })
	return out, err
}

func (s *FileStore) walk(ctx context.Context, visit func(*Issue)) error {
	root := s.IssuesDir()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isRecordFile(d.Name()) {
			return nil
		}
		issue, err := readIssue(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "path", path, "error", err)
			return nil
		}
		visit(issue)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	return nil
}

// LoadPullRequest reads a pull request record.
func (s *FileStore) LoadPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.recordPath(prsDir, repo, number)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load pr %s#%d: %w", repo, number, ErrNotFound)
		}
		return nil, fmt.Errorf("read pr record: %w", err)
	}
	var pr PullRequest
	if err := yaml.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := pr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pr record %s: %w", path, err)
	}
	return &pr, nil
}

// SavePullRequest atomically writes a pull request record.
func (s *FileStore) SavePullRequest(ctx context.Context, pr *PullRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pr.Validate(); err != nil {
		return fmt.Errorf("save pr: %w", err)
	}
	path, err := s.recordPath(prsDir, pr.Repo, pr.Number)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshal pr: %w", err)
	}
	return replaceFile(path, data)
}

func (s *FileStore) reviewPath(rc *ReviewComment) (string, error) {
	owner, name, err := SplitRepo(rc.Repo)
	if err != nil {
		return "", err
	}
	file := strconv.Itoa(rc.PRNumber) + "-" + strconv.FormatInt(rc.CommentID, 10) + recordExt
	return filepath.Join(s.root, reviewDir, owner, name, file), nil
}

func (s *FileStore) encodeReview(ctx context.Context, rc *ReviewComment) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if err := rc.Validate(); err != nil {
		return "", nil, fmt.Errorf("review %s: %w", rc.Key(), err)
	}
	path, err := s.reviewPath(rc)
	if err != nil {
		return "", nil, err
	}
	data, err := yaml.Marshal(rc)
	if err != nil {
		return "", nil, fmt.Errorf("marshal review: %w", err)
	}
	return path, data, nil
}

// CreateReview writes a new review record, refusing duplicates the same way
// Create does.
func (s *FileStore) CreateReview(ctx context.Context, rc *ReviewComment) error {
	path, data, err := s.encodeReview(ctx, rc)
	if err != nil {
		return err
	}
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create review %s: %w", rc.Key(), ErrAlreadyExists)
		}
		return fmt.Errorf("link review: %w", err)
	}
	return nil
}

// SaveReview atomically replaces a review record.
func (s *FileStore) SaveReview(ctx context.Context, rc *ReviewComment) error {
	path, data, err := s.encodeReview(ctx, rc)
	if err != nil {
		return err
	}
	return replaceFile(path, data)
}

// PendingReviews scans the review records. Unreadable files are logged and
// skipped.
func (s *FileStore) PendingReviews(ctx context.Context) ([]*ReviewComment, error) {
	root := filepath.Join(s.root, reviewDir)
	var out []*ReviewComment
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isRecordFile(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rc ReviewComment
		if err := yaml.Unmarshal(data, &rc); err != nil {
			s.logger.Warn("skipping unreadable review", "path", path, "error", err)
			return nil
		}
		if err := rc.Validate(); err != nil {
			s.logger.Warn("skipping invalid review", "path", path, "error", err)
			return nil
		}
		if rc.Status == ReviewPending {
			out = append(out, &rc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan reviews: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CommentID < out[j].CommentID
	})
	return out, nil
}

func isRecordFile(name string) bool {
	return strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, ".")
}

func readIssue(path string) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := yaml.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := issue.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", path, err)
	}
	return &issue, nil
}

// writeTemp writes data to a fresh hidden file in dir and returns its path.
func writeTemp(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create record directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

func replaceFile(path string, data []byte) error {
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
