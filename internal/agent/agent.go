// Package agent defines the AI agent collaborator and its implementations:
// a Cursor CLI driver that exchanges YAML files with the agent, and a stub
// used for dry runs.
package agent

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrTimeout is returned when an agent run exceeds its deadline.
var ErrTimeout = errors.New("agent timed out")

// Comment is one entry of the conversation handed to the agent.
type Comment struct {
	Author string `yaml:"author"`
	Body   string `yaml:"body"`
}

// Task is the context of a single agent invocation.
type Task struct {
	Repo     string
	Number   int
	Title    string
	Body     string
	Comments []Comment
	Branch   string
	Language string

	Iteration     int
	MaxIterations int
}

// Report is what the controller observes after an iteration. Body marks
// completion and becomes the pull request description; Clarification means
// the agent needs human input. Both empty means keep iterating.
type Report struct {
	Body          string
	Clarification string
}

// Completed reports whether the agent produced a completion payload.
func (r Report) Completed() bool { return strings.TrimSpace(r.Body) != "" }

// NeedsClarification reports whether the agent asked a question.
func (r Report) NeedsClarification() bool { return strings.TrimSpace(r.Clarification) != "" }

// Sufficiency is the outcome of the pre-flight information check.
type Sufficiency struct {
	Sufficient    bool
	Clarification string
}

// Planner generates implementation plans.
type Planner interface {
	GeneratePlan(ctx context.Context, task Task, language string) (string, error)
}

// Executor runs implementation iterations.
type Executor interface {
	EvaluateSufficiency(ctx context.Context, task Task) (Sufficiency, error)
	RunIteration(ctx context.Context, task Task) (Report, error)
}

// ReviewItem is one review comment handed to the agent on the pull
// request's head branch.
type ReviewItem struct {
	Repo        string
	PRNumber    int
	IssueNumber int
	CommentID   int64
	Author      string
	Body        string
	Path        string
	Line        int
}

// Reviewer addresses review comments. The agent may change the checkout;
// the returned reply, when non-empty, is posted in the comment thread.
type Reviewer interface {
	ProcessReviewItem(ctx context.Context, item ReviewItem) (string, error)
}

// Agent is the full collaborator surface.
type Agent interface {
	Planner
	Executor
	Reviewer
}

// Languages understood by DetectLanguage.
const (
	LanguageEnglish = "en"
	LanguageRussian = "ru"
)

// DetectLanguage guesses the language of text from its letters: Cyrillic
// majority means Russian, anything else English.
func DetectLanguage(text string) string {
	var cyr, lat int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case unicode.Is(unicode.Latin, r):
			lat++
		}
	}
	if cyr > lat {
		return LanguageRussian
	}
	return LanguageEnglish
}

// MinBodyLength is the shortest issue body considered workable.
const MinBodyLength = 20

// CheckSufficiency is the shared heuristic: an issue needs a body of at least
// MinBodyLength characters.
func CheckSufficiency(task Task) Sufficiency {
	if len([]rune(strings.TrimSpace(task.Body))) >= MinBodyLength {
		return Sufficiency{Sufficient: true}
	}
	lang := task.Language
	if lang == "" {
		lang = DetectLanguage(task.Title + " " + task.Body)
	}
	if lang == LanguageRussian {
		return Sufficiency{Clarification: "Пожалуйста, добавьте подробностей: что нужно реализовать и каковы критерии приёмки."}
	}
	return Sufficiency{Clarification: "Please add more details: what should be implemented and acceptance criteria."}
}
