// Package sync implements the replication protocol between the primary
// device and its companion: sync-type planning, conflict gating for
// companion-originated edits, debounced batch collection, and the outbound
// publisher.
package sync

// IncrementalThreshold is the largest revision gap served by a delta
// transfer. Larger gaps fall back to a full sync, bounding the cost of a
// catch-up at the price of a full resend after long offline periods.
const IncrementalThreshold = 100

// SyncType is the strategy chosen for one companion sync.
type SyncType int

const (
	// SyncUpToDate means the companion already has the latest revision.
	SyncUpToDate SyncType = iota
	// SyncIncremental sends only changed alarms and deleted ids.
	SyncIncremental
	// SyncFull sends the entire current alarm set.
	SyncFull
)

// String returns a human-readable representation of the sync type.
func (t SyncType) String() string {
	switch t {
	case SyncUpToDate:
		return "up-to-date"
	case SyncIncremental:
		return "incremental"
	case SyncFull:
		return "full"
	default:
		return "unknown"
	}
}

// DetermineSyncType maps the companion's last-known revision and the local
// current revision to a sync strategy:
//
//   - equal → up to date
//   - companion ahead of local (anomaly, e.g. local data reset) → full
//   - gap of 1..IncrementalThreshold → incremental
//   - larger gap → full
func DetermineSyncType(companionRevision, currentRevision int64) SyncType {
	switch {
	case companionRevision == currentRevision:
		return SyncUpToDate
	case companionRevision > currentRevision:
		return SyncFull
	case currentRevision-companionRevision <= IncrementalThreshold:
		return SyncIncremental
	default:
		return SyncFull
	}
}
