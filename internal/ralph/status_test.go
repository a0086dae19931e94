package ralph

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewStatusWriter(dir)

	_, err := ReadStatus(dir)
	require.True(t, errors.Is(err, fs.ErrNotExist))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := Status{
		State:         StateRunning,
		RunID:         "run-1",
		Current:       &CurrentIssue{Repo: "acme/widgets", Number: 42, Title: "Add retries", Branch: "42-add-retries"},
		Iteration:     3,
		MaxIterations: 10,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	st.Tallies.Add(OutcomeSuccess)
	st.Tallies.Add(OutcomeClosed)
	require.NoError(t, w.Write(st))

	got, err := ReadStatus(dir)
	require.NoError(t, err)
	assert.Equal(t, st, *got)
	assert.Equal(t, 2, got.Tallies.Total())

	require.NoError(t, w.Clear())
	require.NoError(t, w.Clear())
	_, err = ReadStatus(dir)
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestStatus_Busy(t *testing.T) {
	var missing *Status
	assert.False(t, missing.Busy())
	assert.False(t, (&Status{State: StateIdle}).Busy())
	assert.False(t, (&Status{State: StateRunning}).Busy())
	assert.True(t, (&Status{State: StateRunning, Current: &CurrentIssue{Repo: repo, Number: 4}}).Busy())
}
