package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStatusTransitions(t *testing.T) {
	assert.True(t, SyncStatusPending.CanTransitionTo(SyncStatusSynced))
	assert.True(t, SyncStatusPending.CanTransitionTo(SyncStatusFailed))
	// queued retry keeps the row pending
	assert.True(t, SyncStatusPending.CanTransitionTo(SyncStatusPending))

	assert.False(t, SyncStatusSynced.CanTransitionTo(SyncStatusFailed))
	assert.False(t, SyncStatusSynced.CanTransitionTo(SyncStatusPending))
	assert.False(t, SyncStatusFailed.CanTransitionTo(SyncStatusSynced))
	assert.False(t, SyncStatusPending.CanTransitionTo(SyncStatus("done")))
}

func TestApplySyncOutcome(t *testing.T) {
	a := PlanChangeAudit{SyncStatus: SyncStatusPending}
	require.NoError(t, a.ApplySyncOutcome(SyncStatusSynced, ""))
	assert.Equal(t, SyncStatusSynced, a.SyncStatus)

	// settled rows reject further patches
	err := a.ApplySyncOutcome(SyncStatusFailed, "late failure")
	require.Error(t, err)
	assert.Equal(t, SyncStatusSynced, a.SyncStatus)
	assert.Empty(t, a.SyncError)
}
