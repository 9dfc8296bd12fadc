package alarms

// Domain event names, used as dispatcher topics.
const (
	EventAlarmCreated      = "alarm:created"
	EventAlarmUpdated      = "alarm:updated"
	EventAlarmDeleted      = "alarm:deleted"
	EventAlarmScheduled    = "alarm:scheduled"
	EventAlarmCancelled    = "alarm:cancelled"
	EventAlarmFired        = "alarm:fired"
	EventAlarmDismissed    = "alarm:dismissed"
	EventAlarmSnoozed      = "alarm:snoozed"
	EventAlarmsBatchUpdate = "alarms:batch:updated"
	EventAlarmsSyncNeeded  = "alarms:sync:needed"
)

// CancelReason enumerates why a scheduled alarm was cancelled.
type CancelReason string

const (
	CancelReasonDisabled CancelReason = "DISABLED"
	CancelReasonDeleted  CancelReason = "DELETED"
	CancelReasonUpdated  CancelReason = "UPDATED"
	CancelReasonExpired  CancelReason = "EXPIRED"
)

// SyncReason enumerates why an explicit sync was requested.
type SyncReason string

const (
	SyncReasonBatchComplete SyncReason = "BATCH_COMPLETE"
	SyncReasonInitialize    SyncReason = "INITIALIZE"
	SyncReasonReconnect     SyncReason = "RECONNECT"
	SyncReasonForceSync     SyncReason = "FORCE_SYNC"
)

// AlarmSnapshot is a minimal copy of an alarm's scheduling-relevant fields,
// captured before a mutation for change comparison.
type AlarmSnapshot struct {
	ID          int64  `json:"id"`
	Enabled     bool   `json:"enabled"`
	NextTrigger *int64 `json:"nextTrigger"`
	Revision    int64  `json:"revision"`
}

// SnapshotOf builds a snapshot from a stored record.
func SnapshotOf(alarm Alarm) AlarmSnapshot {
	return AlarmSnapshot{
		ID:          alarm.ID,
		Enabled:     alarm.Enabled,
		NextTrigger: alarm.NextTrigger,
		Revision:    alarm.Revision,
	}
}

// AlarmCreated is emitted when a new alarm is created.
type AlarmCreated struct {
	Alarm    Alarm `json:"alarm"`
	Revision int64 `json:"revision"`
}

// AlarmUpdated is emitted when an existing alarm is mutated in place.
type AlarmUpdated struct {
	Alarm    Alarm          `json:"alarm"`
	Previous *AlarmSnapshot `json:"previous"`
	Revision int64          `json:"revision"`
}

// AlarmDeleted is emitted when an alarm is deleted.
type AlarmDeleted struct {
	ID       int64   `json:"id"`
	Label    *string `json:"label"`
	Revision int64   `json:"revision"`
}

// AlarmScheduled is emitted when an alarm should be registered with the
// native scheduling collaborator.
type AlarmScheduled struct {
	ID        int64       `json:"id"`
	TriggerAt int64       `json:"triggerAt"`
	SoundURI  *string     `json:"soundUri"`
	Label     *string     `json:"label"`
	Mode      TriggerMode `json:"mode"`
	Revision  int64       `json:"revision"`
}

// AlarmCancelled is emitted when a scheduled alarm must be withdrawn from
// the native scheduling collaborator.
type AlarmCancelled struct {
	ID       int64        `json:"id"`
	Reason   CancelReason `json:"reason"`
	Revision int64        `json:"revision"`
}

// AlarmFired is emitted when the native collaborator reports a firing.
type AlarmFired struct {
	ID            int64   `json:"id"`
	TriggerAt     int64   `json:"triggerAt"`
	ActualFiredAt int64   `json:"actualFiredAt"`
	Label         *string `json:"label"`
	Revision      int64   `json:"revision"`
}

// AlarmDismissed is emitted after a ringing alarm is dismissed and its next
// occurrence recomputed.
type AlarmDismissed struct {
	ID          int64  `json:"id"`
	DismissedAt int64  `json:"dismissedAt"`
	NextTrigger *int64 `json:"nextTrigger"`
	Revision    int64  `json:"revision"`
}

// AlarmSnoozed is emitted after a ringing alarm is snoozed.
type AlarmSnoozed struct {
	ID              int64  `json:"id"`
	OriginalTrigger *int64 `json:"originalTrigger"`
	SnoozedUntil    int64  `json:"snoozedUntil"`
	Revision        int64  `json:"revision"`
}

// AlarmsBatchUpdated is the hook the sync subsystem listens on; one is
// emitted per committed mutation.
type AlarmsBatchUpdated struct {
	UpdatedIDs []int64 `json:"updatedIds"`
	Revision   int64   `json:"revision"`
	Timestamp  int64   `json:"timestamp"`
}

// AlarmsSyncNeeded requests an immediate sync, superseding pending batches.
type AlarmsSyncNeeded struct {
	Reason   SyncReason `json:"reason"`
	Revision int64      `json:"revision"`
}
