// Package scheduler bridges domain scheduling events to the native
// per-platform alarm primitive that actually wakes the device.
package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

// NativeScheduler is the boundary with the platform alarm primitive. Both
// operations are idempotent: scheduling an already-registered id replaces
// the prior registration, cancelling an unknown id is a no-op.
type NativeScheduler interface {
	Schedule(ctx context.Context, id int64, triggerAt int64, soundRef *string) error
	Cancel(ctx context.Context, id int64) error
}

// BridgeConfig carries the dependencies for a Bridge.
type BridgeConfig struct {
	Dispatcher *alarms.Dispatcher
	Scheduler  NativeScheduler
	Logger     *zap.Logger
}

// Bridge consumes AlarmScheduled and AlarmCancelled events and forwards them
// to the native scheduler. Native failures are logged, never propagated: the
// mutation that produced the event has already committed.
type Bridge struct {
	dispatcher *alarms.Dispatcher
	scheduler  NativeScheduler
	logger     *zap.Logger
}

var (
	errMissingDispatcher = errors.New("dispatcher is required")
	errMissingScheduler  = errors.New("native scheduler is required")
)

// NewBridge validates the configuration and returns a Bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.Scheduler == nil {
		return nil, errMissingScheduler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{dispatcher: cfg.Dispatcher, scheduler: cfg.Scheduler, logger: logger}, nil
}

// Run processes scheduling events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	stream, cleanup := b.dispatcher.Subscribe(ctx,
		alarms.EventAlarmScheduled, alarms.EventAlarmCancelled)
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-stream:
			b.handleEvent(ctx, event)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, event alarms.Event) {
	switch payload := event.Payload.(type) {
	case alarms.AlarmScheduled:
		if err := b.scheduler.Schedule(ctx, payload.ID, payload.TriggerAt, payload.SoundURI); err != nil {
			b.logger.Error("native schedule failed",
				zap.Int64("alarm_id", payload.ID), zap.Int64("trigger_at", payload.TriggerAt), zap.Error(err))
		}
	case alarms.AlarmCancelled:
		if err := b.scheduler.Cancel(ctx, payload.ID); err != nil {
			b.logger.Error("native cancel failed",
				zap.Int64("alarm_id", payload.ID), zap.String("reason", string(payload.Reason)), zap.Error(err))
		}
	default:
		b.logger.Warn("unexpected event payload", zap.String("event", event.Name))
	}
}

// LogScheduler is a NativeScheduler that only records calls. It stands in on
// platforms without a native alarm primitive.
type LogScheduler struct {
	logger *zap.Logger
}

// NewLogScheduler returns a logging scheduler.
func NewLogScheduler(logger *zap.Logger) *LogScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogScheduler{logger: logger}
}

// Schedule records the registration.
func (s *LogScheduler) Schedule(_ context.Context, id int64, triggerAt int64, _ *string) error {
	s.logger.Info("alarm scheduled", zap.Int64("alarm_id", id), zap.Int64("trigger_at", triggerAt))
	return nil
}

// Cancel records the cancellation.
func (s *LogScheduler) Cancel(_ context.Context, id int64) error {
	s.logger.Info("alarm cancelled", zap.Int64("alarm_id", id))
	return nil
}
