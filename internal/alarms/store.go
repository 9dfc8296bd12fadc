package alarms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errRevisionRowAbsent = errors.New("revision counter row is missing")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew          = "alarms.store.new"
	opNextRevision      = "alarms.store.next_revision"
	opCurrentRevision   = "alarms.store.current_revision"
	opGetAll            = "alarms.store.get_all"
	opGetByID           = "alarms.store.get_by_id"
	opStoreSave         = "alarms.store.save"
	opStoreDelete       = "alarms.store.delete"
	opAlarmsSince       = "alarms.store.alarms_since"
	opDeletedSince      = "alarms.store.deleted_since"
	opCleanupTombstones = "alarms.store.cleanup_tombstones"
)

// StoreConfig carries the dependencies for a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store owns all persisted alarm state: the alarms table, the tombstone log,
// and the singleton revision counter. It is the only component that touches
// storage; everything else goes through it or the Coordinator.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// nextRevision increments the global counter and reads the new value back
// inside the caller's transaction. Mutations run it in the same transaction
// as their row write, so a committed counter value can never precede a row
// stamped with it.
func nextRevision(tx *gorm.DB) (int64, error) {
	result := tx.Model(&revisionState{}).
		Where("id = ?", 1).
		Update("current_revision", gorm.Expr("current_revision + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected != 1 {
		return 0, errRevisionRowAbsent
	}

	var state revisionState
	if err := tx.Where("id = ?", 1).Take(&state).Error; err != nil {
		return 0, err
	}
	return state.CurrentRevision, nil
}

// NextRevision atomically increments the global counter and returns the new
// value. Two concurrent callers can never observe the same value.
func (s *Store) NextRevision(ctx context.Context) (int64, error) {
	var revision int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		revision, err = nextRevision(tx)
		return err
	})
	if txErr != nil {
		return 0, newServiceError(opNextRevision, "increment_failed", txErr)
	}
	return revision, nil
}

// CurrentRevision reads the counter without advancing it.
func (s *Store) CurrentRevision(ctx context.Context) (int64, error) {
	var state revisionState
	if err := s.db.WithContext(ctx).Where("id = ?", 1).Take(&state).Error; err != nil {
		return 0, newServiceError(opCurrentRevision, "query_failed", err)
	}
	return state.CurrentRevision, nil
}

// GetAll returns every alarm ordered by id.
func (s *Store) GetAll(ctx context.Context) ([]Alarm, error) {
	var rows []alarmRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, newServiceError(opGetAll, "query_failed", err)
	}
	return s.decodeRows(rows), nil
}

// GetByID returns one alarm or ErrAlarmNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (Alarm, error) {
	var row alarmRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Alarm{}, fmt.Errorf("%w: id %d", ErrAlarmNotFound, id)
	}
	if err != nil {
		return Alarm{}, newServiceError(opGetByID, "query_failed", err)
	}
	return s.decodeRow(row), nil
}

// Save upserts an alarm with the given next trigger. The revision is
// allocated inside the same transaction as the row write: a companion that
// reads the counter after Save returns is guaranteed to find this row via
// AlarmsSince for any lower revision, and a rejected save consumes no
// revision.
func (s *Store) Save(ctx context.Context, input Input, nextTrigger *int64) (Alarm, error) {
	activeDays, err := encodeActiveDays(input.ActiveDays)
	if err != nil {
		return Alarm{}, newServiceError(opStoreSave, "encode_active_days_failed", err)
	}

	row := alarmRow{
		Label:       input.Label,
		Enabled:     input.Enabled,
		Mode:        string(input.Mode),
		FixedTime:   input.FixedTime,
		WindowStart: input.WindowStart,
		WindowEnd:   input.WindowEnd,
		ActiveDays:  activeDays,
		NextTrigger: nextTrigger,
		SoundURI:    input.SoundURI,
		SoundTitle:  input.SoundTitle,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		revision, err := nextRevision(tx)
		if err != nil {
			return err
		}
		row.Revision = revision

		if input.ID == nil {
			return tx.Create(&row).Error
		}

		var existing alarmRow
		if err := tx.Where("id = ?", *input.ID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id %d", ErrAlarmNotFound, *input.ID)
			}
			return err
		}
		row.ID = *input.ID
		return tx.Save(&row).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrAlarmNotFound) {
			return Alarm{}, txErr
		}
		return Alarm{}, newServiceError(opStoreSave, "persist_failed", txErr)
	}

	return s.decodeRow(row), nil
}

// Delete removes the alarm row and inserts a tombstone, allocating the
// stamped revision in the same transaction. The tombstone is created even
// when the alarm row (and therefore its label) cannot be read first.
func (s *Store) Delete(ctx context.Context, id int64) (int64, error) {
	deletedAt := s.clock().UTC().UnixMilli()

	var revision int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		revision, err = nextRevision(tx)
		if err != nil {
			return err
		}

		var label *string
		var existing alarmRow
		err = tx.Select("label").Where("id = ?", id).Take(&existing).Error
		if err == nil {
			label = existing.Label
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("alarm label unreadable before delete, tombstone created without it",
				zap.Int64("alarm_id", id), zap.Error(err))
		}

		if err := tx.Where("id = ?", id).Delete(&alarmRow{}).Error; err != nil {
			return err
		}

		tombstone := Tombstone{
			AlarmID:            id,
			DeletedAtRevision:  revision,
			DeletedAtTimestamp: deletedAt,
			Label:              label,
		}
		return tx.Create(&tombstone).Error
	})
	if txErr != nil {
		return 0, newServiceError(opStoreDelete, "persist_failed", txErr)
	}
	return revision, nil
}

// AlarmsSince returns the alarms with a revision strictly greater than since,
// ordered by id. This is one half of the incremental-sync query surface.
func (s *Store) AlarmsSince(ctx context.Context, since int64) ([]Alarm, error) {
	var rows []alarmRow
	if err := s.db.WithContext(ctx).
		Where("revision > ?", since).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, newServiceError(opAlarmsSince, "query_failed", err)
	}
	return s.decodeRows(rows), nil
}

// DeletedSince returns the ids of alarms whose tombstone revision is strictly
// greater than since. This is the other half of the incremental-sync surface.
func (s *Store) DeletedSince(ctx context.Context, since int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&Tombstone{}).
		Where("deleted_at_revision > ?", since).
		Order("alarm_id").
		Pluck("alarm_id", &ids).Error; err != nil {
		return nil, newServiceError(opDeletedSince, "query_failed", err)
	}
	return ids, nil
}

// CleanupTombstones purges tombstones older than the retention window. The
// cutoff is wall-clock based, independent of revisions; a companion offline
// longer than the window falls back to full sync by design.
func (s *Store) CleanupTombstones(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := s.clock().UTC().AddDate(0, 0, -olderThanDays).UnixMilli()
	result := s.db.WithContext(ctx).
		Where("deleted_at_timestamp < ?", cutoff).
		Delete(&Tombstone{})
	if result.Error != nil {
		return 0, newServiceError(opCleanupTombstones, "purge_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) decodeRows(rows []alarmRow) []Alarm {
	alarms := make([]Alarm, 0, len(rows))
	for _, row := range rows {
		alarms = append(alarms, s.decodeRow(row))
	}
	return alarms
}

// decodeRow recovers corrupted persisted fields with safe defaults rather
// than failing the read: one bad row must not make the whole set unreadable.
func (s *Store) decodeRow(row alarmRow) Alarm {
	mode := TriggerMode(row.Mode)
	switch mode {
	case TriggerModeFixed, TriggerModeWindow:
	default:
		s.logger.Warn("invalid trigger mode, defaulting to FIXED",
			zap.Int64("alarm_id", row.ID), zap.String("mode", row.Mode))
		mode = TriggerModeFixed
	}

	activeDays, ok := decodeActiveDays(row.ActiveDays)
	if !ok {
		s.logger.Warn("unparseable active days, defaulting to empty set",
			zap.Int64("alarm_id", row.ID), zap.String("active_days", row.ActiveDays))
	}

	return Alarm{
		ID:          row.ID,
		Label:       row.Label,
		Enabled:     row.Enabled,
		Mode:        mode,
		FixedTime:   row.FixedTime,
		WindowStart: row.WindowStart,
		WindowEnd:   row.WindowEnd,
		ActiveDays:  activeDays,
		NextTrigger: row.NextTrigger,
		SoundURI:    row.SoundURI,
		SoundTitle:  row.SoundTitle,
		Revision:    row.Revision,
	}
}
