package alarms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingDispatcher = errors.New("dispatcher is required")
	errMissingTriggers   = errors.New("trigger calculator is required")
)

const (
	opCoordinatorNew = "alarms.coordinator.new"
	opSave           = "alarms.save"
	opToggle         = "alarms.toggle"
	opDelete         = "alarms.delete"
	opDismiss        = "alarms.dismiss"
	opSnooze         = "alarms.snooze"
	opReportFired    = "alarms.report_fired"
	opHeal           = "alarms.heal_on_launch"
	opRequestSync    = "alarms.request_sync"
)

// CoordinatorConfig carries the dependencies for a Coordinator.
type CoordinatorConfig struct {
	Store      *Store
	Dispatcher *Dispatcher
	Triggers   *TriggerCalculator
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Coordinator is the only writer path for alarm mutations. Each mutation
// persists through the Store, which allocates the fresh revision in the same
// transaction as the row write, and then emits a fixed-order event sequence:
// created/updated first, scheduling transitions second, the batch hook last.
// Store failures abort before any event is emitted; event delivery is
// fire-and-forget once the mutation committed.
type Coordinator struct {
	store      *Store
	dispatcher *Dispatcher
	triggers   *TriggerCalculator
	clock      func() time.Time
	logger     *zap.Logger
}

// NewCoordinator validates the configuration and returns a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_store", errMissingStore)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_dispatcher", errMissingDispatcher)
	}
	if cfg.Triggers == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_triggers", errMissingTriggers)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Coordinator{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		triggers:   cfg.Triggers,
		clock:      clock,
		logger:     logger,
	}, nil
}

// GetAll returns every alarm.
func (c *Coordinator) GetAll(ctx context.Context) ([]Alarm, error) {
	return c.store.GetAll(ctx)
}

// Get returns one alarm or ErrAlarmNotFound.
func (c *Coordinator) Get(ctx context.Context, id int64) (Alarm, error) {
	return c.store.GetByID(ctx, id)
}

// CurrentRevision reads the logical clock without advancing it.
func (c *Coordinator) CurrentRevision(ctx context.Context) (int64, error) {
	return c.store.CurrentRevision(ctx)
}

// Save creates or updates an alarm and emits the ordered event sequence.
func (c *Coordinator) Save(ctx context.Context, input Input) (Alarm, error) {
	if err := input.Validate(); err != nil {
		return Alarm{}, err
	}

	var previous *AlarmSnapshot
	if input.ID != nil {
		existing, err := c.store.GetByID(ctx, *input.ID)
		if err == nil {
			snapshot := SnapshotOf(existing)
			previous = &snapshot
		} else if !errors.Is(err, ErrAlarmNotFound) {
			c.logError(opSave, "previous_fetch_failed", err, zap.Int64("alarm_id", *input.ID))
			return Alarm{}, newServiceError(opSave, "previous_fetch_failed", err)
		}
	}

	nextTrigger, err := c.triggers.NextTrigger(input)
	if err != nil {
		return Alarm{}, err
	}

	saved, err := c.store.Save(ctx, input, nextTrigger)
	if err != nil {
		c.logError(opSave, "persist_failed", err)
		return Alarm{}, err
	}

	c.emitMutationEvents(previous, saved)
	return saved, nil
}

// Toggle enables or disables an alarm by re-saving it with current fields.
func (c *Coordinator) Toggle(ctx context.Context, id int64, enabled bool) (Alarm, error) {
	alarm, err := c.store.GetByID(ctx, id)
	if err != nil {
		return Alarm{}, err
	}
	input := InputFromAlarm(alarm)
	input.Enabled = enabled
	saved, err := c.Save(ctx, input)
	if err != nil {
		return Alarm{}, newServiceError(opToggle, "save_failed", err)
	}
	return saved, nil
}

// Delete removes the alarm, records a tombstone, and emits AlarmDeleted,
// AlarmCancelled(DELETED), and the batch hook, in that order.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	alarm, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	revision, err := c.store.Delete(ctx, id)
	if err != nil {
		c.logError(opDelete, "persist_failed", err, zap.Int64("alarm_id", id))
		return err
	}

	c.publish(EventAlarmDeleted, AlarmDeleted{ID: id, Label: alarm.Label, Revision: revision})
	c.publish(EventAlarmCancelled, AlarmCancelled{ID: id, Reason: CancelReasonDeleted, Revision: revision})
	c.publishBatch(id, revision)
	return nil
}

// Dismiss recomputes the dismissed alarm's next occurrence through the full
// save path (fresh revision, scheduling events) and then emits the lifecycle
// AlarmDismissed event.
func (c *Coordinator) Dismiss(ctx context.Context, id int64) (Alarm, error) {
	alarm, err := c.store.GetByID(ctx, id)
	if err != nil {
		return Alarm{}, err
	}

	saved, err := c.Save(ctx, InputFromAlarm(alarm))
	if err != nil {
		return Alarm{}, newServiceError(opDismiss, "save_failed", err)
	}

	c.publish(EventAlarmDismissed, AlarmDismissed{
		ID:          saved.ID,
		DismissedAt: c.clock().UTC().UnixMilli(),
		NextTrigger: saved.NextTrigger,
		Revision:    saved.Revision,
	})
	return saved, nil
}

// Snooze sets the next trigger to now + minutes without consulting the
// trigger policy. Only an enabled alarm can be snoozed: a disabled alarm
// never carries a trigger, so overriding one would persist an inconsistent
// row. A fresh revision is allocated and the same scheduling-transition
// logic as Save applies, plus the lifecycle AlarmSnoozed event.
func (c *Coordinator) Snooze(ctx context.Context, id int64, minutes int) (Alarm, error) {
	if minutes <= 0 {
		return Alarm{}, fmt.Errorf("%w: %d", ErrInvalidSnooze, minutes)
	}

	alarm, err := c.store.GetByID(ctx, id)
	if err != nil {
		return Alarm{}, err
	}
	if !alarm.Enabled {
		return Alarm{}, fmt.Errorf("%w: id %d", ErrAlarmDisabled, id)
	}
	snapshot := SnapshotOf(alarm)

	snoozedUntil := c.clock().UTC().Add(time.Duration(minutes) * time.Minute).UnixMilli()

	saved, err := c.store.Save(ctx, InputFromAlarm(alarm), &snoozedUntil)
	if err != nil {
		c.logError(opSnooze, "persist_failed", err, zap.Int64("alarm_id", id))
		return Alarm{}, err
	}

	c.emitMutationEvents(&snapshot, saved)
	c.publish(EventAlarmSnoozed, AlarmSnoozed{
		ID:              saved.ID,
		OriginalTrigger: alarm.NextTrigger,
		SnoozedUntil:    snoozedUntil,
		Revision:        saved.Revision,
	})
	return saved, nil
}

// ReportFired records a native firing without mutating alarm state; no
// revision is allocated.
func (c *Coordinator) ReportFired(ctx context.Context, id int64, actualFiredAt int64) error {
	alarm, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	triggerAt := int64(0)
	if alarm.NextTrigger != nil {
		triggerAt = *alarm.NextTrigger
	}
	c.publish(EventAlarmFired, AlarmFired{
		ID:            alarm.ID,
		TriggerAt:     triggerAt,
		ActualFiredAt: actualFiredAt,
		Label:         alarm.Label,
		Revision:      alarm.Revision,
	})
	return nil
}

// HealOnLaunch re-emits AlarmScheduled for every enabled alarm with a
// resolved next trigger. The native scheduler may have lost its registrations
// across a restart; this is a cache resync, not a mutation, so the logical
// clock does not advance and each event carries the alarm's existing
// revision.
func (c *Coordinator) HealOnLaunch(ctx context.Context) (int, error) {
	alarms, err := c.store.GetAll(ctx)
	if err != nil {
		c.logError(opHeal, "query_failed", err)
		return 0, err
	}

	healed := 0
	for _, alarm := range alarms {
		if !alarm.Enabled || alarm.NextTrigger == nil {
			continue
		}
		c.publish(EventAlarmScheduled, AlarmScheduled{
			ID:        alarm.ID,
			TriggerAt: *alarm.NextTrigger,
			SoundURI:  alarm.SoundURI,
			Label:     alarm.Label,
			Mode:      alarm.Mode,
			Revision:  alarm.Revision,
		})
		healed++
	}
	c.logger.Info("rescheduled enabled alarms after launch", zap.Int("count", healed))
	return healed, nil
}

// RequestSync emits AlarmsSyncNeeded at the current revision without
// mutating any state.
func (c *Coordinator) RequestSync(ctx context.Context, reason SyncReason) error {
	revision, err := c.store.CurrentRevision(ctx)
	if err != nil {
		c.logError(opRequestSync, "revision_query_failed", err)
		return err
	}
	c.publish(EventAlarmsSyncNeeded, AlarmsSyncNeeded{Reason: reason, Revision: revision})
	return nil
}

// emitMutationEvents publishes the contractual event order for one committed
// mutation: exactly one created/updated, then any scheduling transitions
// (cancel before reschedule), then exactly one batch hook.
func (c *Coordinator) emitMutationEvents(previous *AlarmSnapshot, saved Alarm) {
	if previous == nil {
		c.publish(EventAlarmCreated, AlarmCreated{Alarm: saved, Revision: saved.Revision})
	} else {
		c.publish(EventAlarmUpdated, AlarmUpdated{Alarm: saved, Previous: previous, Revision: saved.Revision})
	}

	wasActive := previous != nil && previous.Enabled && previous.NextTrigger != nil
	isActive := saved.Enabled && saved.NextTrigger != nil

	switch {
	case !wasActive && isActive:
		c.publishScheduled(saved)
	case wasActive && !isActive:
		reason := CancelReasonDisabled
		if saved.Enabled {
			reason = CancelReasonUpdated
		}
		c.publish(EventAlarmCancelled, AlarmCancelled{ID: saved.ID, Reason: reason, Revision: saved.Revision})
	case wasActive && isActive && *previous.NextTrigger != *saved.NextTrigger:
		c.publish(EventAlarmCancelled, AlarmCancelled{ID: saved.ID, Reason: CancelReasonUpdated, Revision: saved.Revision})
		c.publishScheduled(saved)
	}

	c.publishBatch(saved.ID, saved.Revision)
}

func (c *Coordinator) publishScheduled(alarm Alarm) {
	c.publish(EventAlarmScheduled, AlarmScheduled{
		ID:        alarm.ID,
		TriggerAt: *alarm.NextTrigger,
		SoundURI:  alarm.SoundURI,
		Label:     alarm.Label,
		Mode:      alarm.Mode,
		Revision:  alarm.Revision,
	})
}

func (c *Coordinator) publishBatch(id int64, revision int64) {
	c.publish(EventAlarmsBatchUpdate, AlarmsBatchUpdated{
		UpdatedIDs: []int64{id},
		Revision:   revision,
		Timestamp:  c.clock().UTC().UnixMilli(),
	})
}

func (c *Coordinator) publish(name string, payload any) {
	c.dispatcher.Publish(Event{Name: name, Payload: payload})
}

func (c *Coordinator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("alarm coordinator error", attrs...)
}
