package sync

import "fmt"

// StaleUpdateError rejects a companion edit made from an out-of-date replica.
type StaleUpdateError struct {
	CompanionRevision int64
	CurrentRevision   int64
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("companion data is stale (companion revision %d, local revision %d), sync required",
		e.CompanionRevision, e.CurrentRevision)
}

// AlarmModifiedError rejects a companion edit to an alarm that was mutated
// locally after the companion's last sync point.
type AlarmModifiedError struct {
	AlarmID           int64
	AlarmRevision     int64
	CompanionRevision int64
}

func (e *AlarmModifiedError) Error() string {
	return fmt.Sprintf("alarm %d was modified after the companion last synced (alarm revision %d, companion revision %d), sync required",
		e.AlarmID, e.AlarmRevision, e.CompanionRevision)
}

// ValidateCompanionRevision checks that the companion has seen all recent
// changes before it is allowed to submit edits. A companion at or ahead of
// the local revision is accepted; "ahead" is an anomaly resolved by the sync
// planner, not a conflict.
func ValidateCompanionRevision(companionRevision, currentRevision int64) error {
	if companionRevision < currentRevision {
		return &StaleUpdateError{
			CompanionRevision: companionRevision,
			CurrentRevision:   currentRevision,
		}
	}
	return nil
}

// ValidateAlarmEdit checks that one specific alarm has not been mutated since
// the companion's last sync point; applying the edit anyway would silently
// discard the newer local change.
func ValidateAlarmEdit(alarmID int64, alarmRevision, companionRevision int64) error {
	if alarmRevision > companionRevision {
		return &AlarmModifiedError{
			AlarmID:           alarmID,
			AlarmRevision:     alarmRevision,
			CompanionRevision: companionRevision,
		}
	}
	return nil
}
