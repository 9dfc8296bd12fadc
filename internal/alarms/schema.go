package alarms

import (
	"errors"

	"gorm.io/gorm"
)

// Models lists the persisted types for schema migration.
func Models() []any {
	return []any{&alarmRow{}, &Tombstone{}, &revisionState{}}
}

// SeedRevisionCounter inserts the singleton counter row if it is absent.
// The counter starts at zero; the first committed mutation is revision 1.
func SeedRevisionCounter(db *gorm.DB) error {
	var state revisionState
	err := db.Where("id = ?", 1).Take(&state).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(&revisionState{ID: 1, CurrentRevision: 0}).Error
}
