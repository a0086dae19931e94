package agent

import (
	"context"
	"fmt"
)

// Stub is a deterministic agent for dry runs: it plans from the title and
// reports completion on the first iteration without touching the checkout.
type Stub struct{}

var _ Agent = Stub{}

// GeneratePlan returns a fixed three-step plan.
func (Stub) GeneratePlan(_ context.Context, task Task, language string) (string, error) {
	if language == LanguageRussian {
		return fmt.Sprintf("1. Разобрать задачу «%s»\n2. Реализовать изменения\n3. Добавить тесты", task.Title), nil
	}
	return fmt.Sprintf("1. Analyze %q\n2. Implement the change\n3. Add tests", task.Title), nil
}

// EvaluateSufficiency applies CheckSufficiency.
func (Stub) EvaluateSufficiency(_ context.Context, task Task) (Sufficiency, error) {
	return CheckSufficiency(task), nil
}

// RunIteration reports completion immediately.
func (Stub) RunIteration(_ context.Context, task Task) (Report, error) {
	return Report{Body: fmt.Sprintf("Dry run for #%d: %s\n\nNo changes were made.", task.Number, task.Title)}, nil
}

// ProcessReviewItem acknowledges the comment without changing anything.
func (Stub) ProcessReviewItem(_ context.Context, item ReviewItem) (string, error) {
	return fmt.Sprintf("Dry run: noted the comment on %s:%s. No changes were made.", item.Path, LineDisplay(item.Line)), nil
}
