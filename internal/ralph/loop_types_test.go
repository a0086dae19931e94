package ralph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{2*time.Minute + 34*time.Second, "2m34s"},
		{time.Hour + 12*time.Minute + 5*time.Second, "1h12m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestFormatSummary(t *testing.T) {
	s := &RunSummary{Duration: 90 * time.Second}
	s.Add(&Result{Outcome: OutcomeSuccess, Iterations: 2})
	s.Add(&Result{Outcome: OutcomeExhausted, Iterations: 10})

	out := FormatSummary(s, 3)
	assert.Contains(t, out, "✓ 1 pull request(s) opened")
	assert.Contains(t, out, "⏱ 1 out of iterations")
	assert.Contains(t, out, "○ 3 still queued")
	assert.Contains(t, out, "Duration: 1m30s")
	assert.NotContains(t, out, "nothing queued")
	assert.Equal(t, 12, s.Iterations)

	assert.Contains(t, FormatSummary(&RunSummary{}, 0), "nothing queued")
}

func TestFormatResult(t *testing.T) {
	res := &Result{Repo: "acme/widgets", Number: 42, Outcome: OutcomeSuccess, Iterations: 3, Duration: 65 * time.Second, URL: "https://example.test/pull/7"}
	assert.Equal(t, "acme/widgets#42 → success after 3 iteration(s) (1m5s) https://example.test/pull/7", FormatResult(res))
}

func TestOutcomeJSON(t *testing.T) {
	for o := range outcomeNames {
		data, err := json.Marshal(o)
		require.NoError(t, err)
		var got Outcome
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, o, got)
	}
	var o Outcome
	require.Error(t, json.Unmarshal([]byte(`"bogus"`), &o))
}
