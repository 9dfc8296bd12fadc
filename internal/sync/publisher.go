package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

// Command is one unit of outbound work submitted to the publish consumer.
type Command interface {
	isCommand()
}

// BatchCommand publishes a coalesced set of changed alarm ids as a delta.
type BatchCommand struct {
	IDs      []int64
	Revision int64
}

func (BatchCommand) isCommand() {}

// ImmediateCommand publishes a complete alarm snapshot right away.
type ImmediateCommand struct {
	Reason   alarms.SyncReason
	Revision int64
	Snapshot []alarms.Alarm
}

func (ImmediateCommand) isCommand() {}

// Publisher decouples "decide to sync" from "perform the transport call".
type Publisher interface {
	PublishBatch(ids []int64, revision int64)
	PublishImmediate(reason alarms.SyncReason, revision int64, snapshot []alarms.Alarm)
}

// ChannelPublisher submits commands to a buffered FIFO channel drained by a
// Consumer. Submission never blocks the mutation path: when the channel is
// full the command is dropped with a warning and convergence relies on the
// next natural sync trigger.
type ChannelPublisher struct {
	commands chan Command
	logger   *zap.Logger
}

// NewChannelPublisher returns a publisher with the given queue capacity.
func NewChannelPublisher(capacity int, logger *zap.Logger) *ChannelPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelPublisher{
		commands: make(chan Command, capacity),
		logger:   logger,
	}
}

// Commands exposes the receive side for the Consumer.
func (p *ChannelPublisher) Commands() <-chan Command {
	return p.commands
}

// Close stops accepting commands; the Consumer drains and exits.
func (p *ChannelPublisher) Close() {
	close(p.commands)
}

// PublishBatch submits a delta publish.
func (p *ChannelPublisher) PublishBatch(ids []int64, revision int64) {
	p.submit(BatchCommand{IDs: ids, Revision: revision})
}

// PublishImmediate submits a full-snapshot publish.
func (p *ChannelPublisher) PublishImmediate(reason alarms.SyncReason, revision int64, snapshot []alarms.Alarm) {
	p.submit(ImmediateCommand{Reason: reason, Revision: revision, Snapshot: snapshot})
}

func (p *ChannelPublisher) submit(command Command) {
	select {
	case p.commands <- command:
	default:
		p.logger.Warn("publish queue full, dropping sync command")
	}
}

// Sender is the transport boundary: it moves one serialized message to the
// companion device. The transport itself is an external collaborator.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// AlarmSource is the read surface the Consumer needs to resolve a batch of
// ids into full records.
type AlarmSource interface {
	GetByID(ctx context.Context, id int64) (alarms.Alarm, error)
	CurrentRevision(ctx context.Context) (int64, error)
}

// ConsumerConfig carries the dependencies for a Consumer.
type ConsumerConfig struct {
	Commands <-chan Command
	Sender   Sender
	Source   AlarmSource
	IDs      MessageIDProvider
	Logger   *zap.Logger
}

// Consumer is the single long-lived task that drains publish commands in
// arrival order and performs the outbound transport call. A batch command
// only carries ids, so the consumer resolves the full records from the
// store first; ids whose rows are gone are reported as deletions. Transport
// failures are logged, never retried synchronously.
type Consumer struct {
	commands <-chan Command
	sender   Sender
	source   AlarmSource
	ids      MessageIDProvider
	logger   *zap.Logger
}

var (
	errMissingCommands = errors.New("command channel is required")
	errMissingSender   = errors.New("sender is required")
	errMissingSource   = errors.New("alarm source is required")
)

// NewConsumer validates the configuration and returns a Consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Commands == nil {
		return nil, errMissingCommands
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}

	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Consumer{
		commands: cfg.Commands,
		sender:   cfg.Sender,
		source:   cfg.Source,
		ids:      ids,
		logger:   logger,
	}, nil
}

// Run drains commands until the channel closes or ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case command, ok := <-c.commands:
			if !ok {
				c.logger.Info("publish channel closed, consumer exiting")
				return
			}
			c.handle(ctx, command)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, command Command) {
	switch cmd := command.(type) {
	case BatchCommand:
		c.handleBatch(ctx, cmd)
	case ImmediateCommand:
		c.handleImmediate(ctx, cmd)
	default:
		c.logger.Warn("unknown publish command dropped")
	}
}

func (c *Consumer) handleBatch(ctx context.Context, cmd BatchCommand) {
	currentRevision, err := c.source.CurrentRevision(ctx)
	if err != nil {
		c.logger.Error("batch publish aborted, revision unreadable", zap.Error(err))
		return
	}

	updated := make([]alarms.Alarm, 0, len(cmd.IDs))
	deleted := make([]int64, 0)
	for _, id := range cmd.IDs {
		alarm, err := c.source.GetByID(ctx, id)
		if errors.Is(err, alarms.ErrAlarmNotFound) {
			deleted = append(deleted, id)
			continue
		}
		if err != nil {
			c.logger.Error("batch publish aborted, alarm unreadable",
				zap.Int64("alarm_id", id), zap.Error(err))
			return
		}
		updated = append(updated, alarm)
	}

	messageID, err := c.ids.NewID()
	if err != nil {
		c.logger.Error("batch publish aborted, id generation failed", zap.Error(err))
		return
	}

	message := NewIncrementalMessage(messageID, currentRevision, updated, deleted)
	c.send(ctx, message, zap.Int("updated", len(updated)), zap.Int("deleted", len(deleted)))
}

func (c *Consumer) handleImmediate(ctx context.Context, cmd ImmediateCommand) {
	messageID, err := c.ids.NewID()
	if err != nil {
		c.logger.Error("immediate publish aborted, id generation failed", zap.Error(err))
		return
	}

	message := NewFullSyncMessage(messageID, cmd.Revision, cmd.Snapshot)
	c.send(ctx, message, zap.String("reason", string(cmd.Reason)), zap.Int("alarms", len(cmd.Snapshot)))
}

func (c *Consumer) send(ctx context.Context, message Message, fields ...zap.Field) {
	payload, err := EncodeMessage(message)
	if err != nil {
		c.logger.Error("sync message encoding failed", zap.Error(err))
		return
	}
	if err := c.sender.Send(ctx, payload); err != nil {
		c.logger.Error("sync message send failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Info("sync message sent", fields...)
}
