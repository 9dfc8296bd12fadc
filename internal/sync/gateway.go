package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

// SyncStore is the read surface the Gateway needs from the alarm store.
type SyncStore interface {
	CurrentRevision(ctx context.Context) (int64, error)
	GetAll(ctx context.Context) ([]alarms.Alarm, error)
	AlarmsSince(ctx context.Context, since int64) ([]alarms.Alarm, error)
	DeletedSince(ctx context.Context, since int64) ([]int64, error)
	GetByID(ctx context.Context, id int64) (alarms.Alarm, error)
}

// GatewayConfig carries the dependencies for a Gateway.
type GatewayConfig struct {
	Coordinator *alarms.Coordinator
	Store       SyncStore
	Dispatcher  *alarms.Dispatcher
	Collector   *BatchCollector
	Publisher   Publisher
	Sender      Sender
	IDs         MessageIDProvider
	Logger      *zap.Logger
}

// Gateway connects the sync subsystem to the rest of the application: it
// feeds committed-mutation batch events into the BatchCollector, turns
// sync-needed events into immediate full publishes, and gates every
// companion-originated edit through the conflict detector before it reaches
// the Coordinator. A rejected edit triggers a force sync so the companion
// learns why and can re-converge.
type Gateway struct {
	coordinator *alarms.Coordinator
	store       SyncStore
	dispatcher  *alarms.Dispatcher
	collector   *BatchCollector
	publisher   Publisher
	sender      Sender
	ids         MessageIDProvider
	logger      *zap.Logger
}

var (
	errMissingCoordinator = errors.New("coordinator is required")
	errMissingStore       = errors.New("store is required")
	errMissingDispatcher  = errors.New("dispatcher is required")
	errMissingCollector   = errors.New("batch collector is required")
	errMissingPublisher   = errors.New("publisher is required")
)

// NewGateway validates the configuration and returns a Gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.Collector == nil {
		return nil, errMissingCollector
	}
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}

	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		coordinator: cfg.Coordinator,
		store:       cfg.Store,
		dispatcher:  cfg.Dispatcher,
		collector:   cfg.Collector,
		publisher:   cfg.Publisher,
		sender:      cfg.Sender,
		ids:         ids,
		logger:      logger,
	}, nil
}

// Run subscribes to the domain event stream and processes batch and
// sync-needed events until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	stream, cleanup := g.dispatcher.Subscribe(ctx,
		alarms.EventAlarmsBatchUpdate, alarms.EventAlarmsSyncNeeded)
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-stream:
			g.handleEvent(ctx, event)
		}
	}
}

func (g *Gateway) handleEvent(ctx context.Context, event alarms.Event) {
	switch payload := event.Payload.(type) {
	case alarms.AlarmsBatchUpdated:
		g.collector.Add(payload.UpdatedIDs, payload.Revision)
	case alarms.AlarmsSyncNeeded:
		g.handleSyncNeeded(ctx, payload)
	default:
		g.logger.Warn("unexpected event payload", zap.String("event", event.Name))
	}
}

// handleSyncNeeded supersedes any pending partial batch with an immediate
// full publish. The drained batch is discarded, not merged: the full
// snapshot already carries everything the batch would have.
func (g *Gateway) handleSyncNeeded(ctx context.Context, payload alarms.AlarmsSyncNeeded) {
	if ids, revision, ok := g.collector.Flush(); ok {
		g.logger.Info("pending batch superseded by immediate sync",
			zap.Int("pending", len(ids)), zap.Int64("batch_revision", revision))
	}

	snapshot, err := g.store.GetAll(ctx)
	if err != nil {
		g.logger.Error("immediate sync aborted, snapshot unreadable", zap.Error(err))
		return
	}
	g.publisher.PublishImmediate(payload.Reason, payload.Revision, snapshot)
}

// HandleMessage parses a raw companion envelope and dispatches it. Unknown
// paths and malformed payloads never reach the Coordinator.
func (g *Gateway) HandleMessage(ctx context.Context, message CompanionMessage) error {
	command, err := ParseCompanionMessage(message)
	if err != nil {
		g.logger.Warn("companion message rejected",
			zap.String("path", message.Path), zap.Error(err))
		return err
	}

	switch cmd := command.(type) {
	case SyncRequestCommand:
		return g.HandleSyncRequest(ctx, cmd)
	case SaveAlarmCommand:
		return g.HandleSaveAlarm(ctx, cmd)
	case DeleteAlarmCommand:
		return g.HandleDeleteAlarm(ctx, cmd)
	default:
		return ErrUnknownMessagePath
	}
}

// HandleSaveAlarm applies a companion enable/disable edit after conflict
// validation. No mutation occurs on rejection.
func (g *Gateway) HandleSaveAlarm(ctx context.Context, cmd SaveAlarmCommand) error {
	if err := g.gateEdit(ctx, cmd.AlarmID, cmd.CompanionRevision); err != nil {
		return err
	}
	if _, err := g.coordinator.Toggle(ctx, cmd.AlarmID, cmd.Enabled); err != nil {
		return err
	}
	return nil
}

// HandleDeleteAlarm applies a companion delete after conflict validation.
func (g *Gateway) HandleDeleteAlarm(ctx context.Context, cmd DeleteAlarmCommand) error {
	if err := g.gateEdit(ctx, cmd.AlarmID, cmd.CompanionRevision); err != nil {
		return err
	}
	return g.coordinator.Delete(ctx, cmd.AlarmID)
}

// HandleSyncRequest plans and sends the catch-up reply for a companion at
// the given revision. Incremental and full replies supersede any pending
// partial batch.
func (g *Gateway) HandleSyncRequest(ctx context.Context, cmd SyncRequestCommand) error {
	currentRevision, err := g.store.CurrentRevision(ctx)
	if err != nil {
		g.logger.Error("sync request failed, revision unreadable", zap.Error(err))
		return err
	}

	plan := DetermineSyncType(cmd.CompanionRevision, currentRevision)
	g.logger.Info("companion sync request",
		zap.Int64("companion_revision", cmd.CompanionRevision),
		zap.Int64("current_revision", currentRevision),
		zap.String("plan", plan.String()))

	messageID, err := g.ids.NewID()
	if err != nil {
		return err
	}

	var message Message
	switch plan {
	case SyncUpToDate:
		message = NewUpToDateMessage(messageID, currentRevision)
	case SyncIncremental:
		updated, err := g.store.AlarmsSince(ctx, cmd.CompanionRevision)
		if err != nil {
			return err
		}
		deleted, err := g.store.DeletedSince(ctx, cmd.CompanionRevision)
		if err != nil {
			return err
		}
		g.supersedePendingBatch()
		message = NewIncrementalMessage(messageID, currentRevision, updated, deleted)
	default:
		all, err := g.store.GetAll(ctx)
		if err != nil {
			return err
		}
		g.supersedePendingBatch()
		message = NewFullSyncMessage(messageID, currentRevision, all)
	}

	payload, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	return g.sender.Send(ctx, payload)
}

func (g *Gateway) supersedePendingBatch() {
	if ids, revision, ok := g.collector.Flush(); ok {
		g.logger.Info("pending batch superseded by sync reply",
			zap.Int("pending", len(ids)), zap.Int64("batch_revision", revision))
	}
}

// gateEdit runs both conflict checks for a companion edit; any rejection
// triggers a force sync so the companion can re-converge.
func (g *Gateway) gateEdit(ctx context.Context, alarmID, companionRevision int64) error {
	currentRevision, err := g.store.CurrentRevision(ctx)
	if err != nil {
		return err
	}
	if err := ValidateCompanionRevision(companionRevision, currentRevision); err != nil {
		g.rejectEdit(ctx, alarmID, err)
		return err
	}

	alarm, err := g.store.GetByID(ctx, alarmID)
	if err != nil {
		return err
	}
	if err := ValidateAlarmEdit(alarm.ID, alarm.Revision, companionRevision); err != nil {
		g.rejectEdit(ctx, alarmID, err)
		return err
	}
	return nil
}

func (g *Gateway) rejectEdit(ctx context.Context, alarmID int64, cause error) {
	g.logger.Warn("companion edit rejected", zap.Int64("alarm_id", alarmID), zap.Error(cause))
	if err := g.coordinator.RequestSync(ctx, alarms.SyncReasonForceSync); err != nil {
		g.logger.Error("force sync request failed", zap.Error(err))
	}
}
