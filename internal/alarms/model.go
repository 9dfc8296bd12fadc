package alarms

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerMode selects how an alarm's next occurrence is computed.
type TriggerMode string

const (
	// TriggerModeFixed fires at one exact time of day.
	TriggerModeFixed TriggerMode = "FIXED"
	// TriggerModeWindow fires at a randomized offset inside a start/end range.
	TriggerModeWindow TriggerMode = "WINDOW"
)

const clockLayout = "15:04"

var (
	// ErrAlarmNotFound indicates that no alarm exists for the requested identifier.
	ErrAlarmNotFound = errors.New("alarms: alarm not found")
	// ErrUnknownTriggerMode indicates an unrecognised trigger mode value.
	ErrUnknownTriggerMode = errors.New("alarms: unknown trigger mode")
	// ErrMissingFixedTime indicates a fixed alarm without a time of day.
	ErrMissingFixedTime = errors.New("alarms: fixed alarm requires fixedTime")
	// ErrMissingWindow indicates a window alarm without both bounds.
	ErrMissingWindow = errors.New("alarms: window alarm requires windowStart and windowEnd")
	// ErrInvalidWindow indicates a window whose end is not after its start.
	ErrInvalidWindow = errors.New("alarms: window end must be after start")
	// ErrInvalidClockTime indicates a time-of-day value that is not HH:MM.
	ErrInvalidClockTime = errors.New("alarms: invalid HH:MM value")
	// ErrInvalidWeekday indicates an active day outside 0-6.
	ErrInvalidWeekday = errors.New("alarms: active day must be within 0-6")
	// ErrInvalidSnooze indicates a non-positive snooze duration.
	ErrInvalidSnooze = errors.New("alarms: snooze minutes must be positive")
	// ErrAlarmDisabled indicates an operation that requires an enabled alarm.
	ErrAlarmDisabled = errors.New("alarms: alarm is disabled")
)

// Alarm is the full alarm record exposed to callers and serialized to the
// companion. NextTrigger is nil iff the alarm is disabled or its trigger
// policy is unsatisfiable.
type Alarm struct {
	ID          int64       `json:"id"`
	Label       *string     `json:"label"`
	Enabled     bool        `json:"enabled"`
	Mode        TriggerMode `json:"mode"`
	FixedTime   *string     `json:"fixedTime"`
	WindowStart *string     `json:"windowStart"`
	WindowEnd   *string     `json:"windowEnd"`
	ActiveDays  []int       `json:"activeDays"`
	NextTrigger *int64      `json:"nextTrigger"`
	SoundURI    *string     `json:"soundUri"`
	SoundTitle  *string     `json:"soundTitle"`
	Revision    int64       `json:"revision"`
}

// Input carries the caller-supplied alarm fields for a save. A nil ID creates
// a new alarm; a present ID updates the existing row in place.
type Input struct {
	ID          *int64      `json:"id"`
	Label       *string     `json:"label"`
	Enabled     bool        `json:"enabled"`
	Mode        TriggerMode `json:"mode"`
	FixedTime   *string     `json:"fixedTime"`
	WindowStart *string     `json:"windowStart"`
	WindowEnd   *string     `json:"windowEnd"`
	ActiveDays  []int       `json:"activeDays"`
	SoundURI    *string     `json:"soundUri"`
	SoundTitle  *string     `json:"soundTitle"`
}

// Validate rejects malformed trigger policies before any revision is consumed.
func (in Input) Validate() error {
	for _, day := range in.ActiveDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, day)
		}
	}

	switch in.Mode {
	case TriggerModeFixed:
		if in.FixedTime == nil {
			return ErrMissingFixedTime
		}
		if _, err := parseClockTime(*in.FixedTime); err != nil {
			return err
		}
	case TriggerModeWindow:
		if in.WindowStart == nil || in.WindowEnd == nil {
			return ErrMissingWindow
		}
		start, err := parseClockTime(*in.WindowStart)
		if err != nil {
			return err
		}
		end, err := parseClockTime(*in.WindowEnd)
		if err != nil {
			return err
		}
		if !end.After(start) {
			return ErrInvalidWindow
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTriggerMode, in.Mode)
	}
	return nil
}

// InputFromAlarm rebuilds a save input from a stored record, for operations
// that re-save an alarm with its current fields (toggle, dismiss, snooze).
func InputFromAlarm(alarm Alarm) Input {
	id := alarm.ID
	return Input{
		ID:          &id,
		Label:       alarm.Label,
		Enabled:     alarm.Enabled,
		Mode:        alarm.Mode,
		FixedTime:   alarm.FixedTime,
		WindowStart: alarm.WindowStart,
		WindowEnd:   alarm.WindowEnd,
		ActiveDays:  alarm.ActiveDays,
		SoundURI:    alarm.SoundURI,
		SoundTitle:  alarm.SoundTitle,
	}
}

func parseClockTime(value string) (time.Time, error) {
	parsed, err := time.Parse(clockLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	return parsed, nil
}

// alarmRow is the persisted shape of an alarm.
type alarmRow struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Label       *string `gorm:"column:label"`
	Enabled     bool    `gorm:"column:enabled;not null;default:false"`
	Mode        string  `gorm:"column:mode;size:16;not null"`
	FixedTime   *string `gorm:"column:fixed_time;size:5"`
	WindowStart *string `gorm:"column:window_start;size:5"`
	WindowEnd   *string `gorm:"column:window_end;size:5"`
	ActiveDays  string  `gorm:"column:active_days;type:text;not null"`
	NextTrigger *int64  `gorm:"column:next_trigger"`
	SoundURI    *string `gorm:"column:sound_uri"`
	SoundTitle  *string `gorm:"column:sound_title"`
	Revision    int64   `gorm:"column:revision;not null;default:0;index:idx_alarms_revision"`
}

// TableName provides the explicit table binding for GORM.
func (alarmRow) TableName() string {
	return "alarms"
}

// Tombstone marks "alarm X was deleted at revision R" so deletions replicate
// to a late-syncing companion. Retention is wall-clock based.
type Tombstone struct {
	AlarmID            int64   `gorm:"column:alarm_id;primaryKey"`
	DeletedAtRevision  int64   `gorm:"column:deleted_at_revision;not null;index:idx_tombstones_revision"`
	DeletedAtTimestamp int64   `gorm:"column:deleted_at_timestamp;not null"`
	Label              *string `gorm:"column:label"`
}

// TableName provides the explicit table binding for GORM.
func (Tombstone) TableName() string {
	return "alarm_tombstones"
}

// revisionState is the singleton monotonic counter row. Exactly one row with
// ID 1 exists; it is seeded by a database migration.
type revisionState struct {
	ID              int64 `gorm:"column:id;primaryKey"`
	CurrentRevision int64 `gorm:"column:current_revision;not null;default:0"`
}

func (revisionState) TableName() string {
	return "state_revision"
}

func encodeActiveDays(days []int) (string, error) {
	if days == nil {
		days = []int{}
	}
	encoded, err := json.Marshal(days)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// decodeActiveDays parses the stored weekday set. The second return reports
// whether the stored value was parseable; callers fall back to an empty set
// on corruption rather than failing the whole read.
func decodeActiveDays(raw string) ([]int, bool) {
	var days []int
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		return []int{}, false
	}
	if days == nil {
		days = []int{}
	}
	return days, true
}
