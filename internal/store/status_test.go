package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseStatus(t *testing.T) {
	for _, st := range Statuses {
		got, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStatus("stuck")
	require.Error(t, err)
}

func TestStatus_YAMLAndJSONUseNames(t *testing.T) {
	out, err := yaml.Marshal(struct {
		S Status `yaml:"s"`
	}{StatusWaitingConfirmation})
	require.NoError(t, err)
	assert.Equal(t, "s: waiting_confirmation\n", string(out))

	js, err := json.Marshal(StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, `"in_progress"`, string(js))

	_, err = yaml.Marshal(struct{ S Status }{StatusUnknown})
	require.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPlan, StatusWaitingConfirmation, true},
		{StatusPendingPlan, StatusQueued, false},
		{StatusWaitingConfirmation, StatusQueued, true},
		{StatusQueued, StatusInProgress, true},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusQueued, true},
		{StatusInProgress, StatusPendingPlan, false},
		{StatusFailed, StatusQueued, true},
		{StatusDone, StatusQueued, false},
		{StatusClosed, StatusQueued, false},
		{StatusClosed, StatusClosed, false},
		{StatusUnknown, StatusPendingPlan, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	for _, st := range Statuses {
		if st == StatusClosed {
			continue
		}
		assert.True(t, CanTransition(st, StatusClosed), "closure from %s", st)
	}
}

func TestIssue_SetStatusStampsTimestamps(t *testing.T) {
	issue := NewIssue("acme/widgets", 1, "t", "d", "alice", "bot", t0)

	require.NoError(t, issue.SetStatus(StatusWaitingConfirmation, t0.Add(time.Minute)))
	require.NotNil(t, issue.PlanPostedAt)
	assert.Equal(t, t0.Add(time.Minute), *issue.PlanPostedAt)

	require.NoError(t, issue.SetStatus(StatusQueued, t0.Add(2*time.Minute)))
	require.NotNil(t, issue.EnqueuedAt)
	assert.Equal(t, t0.Add(2*time.Minute), issue.UpdatedAt)

	err := issue.SetStatus(StatusDone, t0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusQueued, issue.Status)

	require.NoError(t, issue.SetStatus(StatusClosed, t0.Add(3*time.Minute)))
	require.NoError(t, issue.SetStatus(StatusClosed, t0.Add(4*time.Minute)))
}

func TestIssue_CommentRevisionsAndDeletes(t *testing.T) {
	issue := NewIssue("acme/widgets", 1, "t", "", "alice", "bot", t0)
	issue.AppendMessage(Message{Author: "bob", Content: "first", Timestamp: t0, CommentID: 11})
	issue.AppendMessage(Message{Author: "bob", Content: "first (edited)", Timestamp: t0, CommentID: 11, Revision: 1})
	issue.AppendMessage(Message{Author: "carol", Content: "noise", Timestamp: t0, CommentID: 12})

	assert.True(t, issue.HasComment(11))
	assert.False(t, issue.HasComment(0))
	assert.Equal(t, 1, issue.LatestRevision(11))
	assert.Equal(t, -1, issue.LatestRevision(99))

	assert.True(t, issue.MarkCommentDeleted(12, t0))
	assert.False(t, issue.MarkCommentDeleted(12, t0))

	visible := issue.VisibleMessages()
	require.Len(t, visible, 2)
	assert.Equal(t, "first (edited)", visible[1].Content)
	// The log itself is append-only.
	assert.Len(t, issue.Messages, 4)
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := SplitRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	for _, bad := range []string{"", "acme", "acme/", "/widgets", "a/b/c", "../etc", "acme/.."} {
		_, _, err := SplitRepo(bad)
		assert.Error(t, err, bad)
	}
}
