package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetermineSyncType(t *testing.T) {
	const current = int64(500)

	testCases := []struct {
		name              string
		companionRevision int64
		expected          SyncType
	}{
		{name: "equal revisions are up to date", companionRevision: current, expected: SyncUpToDate},
		{name: "gap of one is incremental", companionRevision: current - 1, expected: SyncIncremental},
		{name: "gap at the threshold is incremental", companionRevision: current - IncrementalThreshold, expected: SyncIncremental},
		{name: "gap past the threshold is full", companionRevision: current - IncrementalThreshold - 1, expected: SyncFull},
		{name: "fresh companion at zero is full", companionRevision: 0, expected: SyncFull},
		{name: "companion ahead of local is full", companionRevision: current + 5, expected: SyncFull},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, DetermineSyncType(testCase.companionRevision, current))
		})
	}
}

func TestDetermineSyncTypeBothAtZero(t *testing.T) {
	assert.Equal(t, SyncUpToDate, DetermineSyncType(0, 0))
}

func TestSyncTypeString(t *testing.T) {
	assert.Equal(t, "up-to-date", SyncUpToDate.String())
	assert.Equal(t, "incremental", SyncIncremental.String())
	assert.Equal(t, "full", SyncFull.String())
	assert.Equal(t, "unknown", SyncType(42).String())
}
