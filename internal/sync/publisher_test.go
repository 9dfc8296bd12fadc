package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

type channelSender struct {
	payloads chan []byte
}

func newChannelSender() *channelSender {
	return &channelSender{payloads: make(chan []byte, 16)}
}

func (s *channelSender) Send(_ context.Context, payload []byte) error {
	s.payloads <- payload
	return nil
}

func (s *channelSender) waitForMessage(t *testing.T) Message {
	t.Helper()
	select {
	case payload := <-s.payloads:
		message, err := DecodeMessage(payload)
		require.NoError(t, err)
		return message
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

type fakeAlarmSource struct {
	mu       stdsync.Mutex
	alarms   map[int64]alarms.Alarm
	revision int64
}

func newFakeAlarmSource(revision int64, records ...alarms.Alarm) *fakeAlarmSource {
	source := &fakeAlarmSource{alarms: make(map[int64]alarms.Alarm), revision: revision}
	for _, record := range records {
		source.alarms[record.ID] = record
	}
	return source
}

func (s *fakeAlarmSource) GetByID(_ context.Context, id int64) (alarms.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.alarms[id]
	if !ok {
		return alarms.Alarm{}, fmt.Errorf("%w: id %d", alarms.ErrAlarmNotFound, id)
	}
	return record, nil
}

func (s *fakeAlarmSource) CurrentRevision(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision, nil
}

type fixedIDProvider struct{ id string }

func (p fixedIDProvider) NewID() (string, error) { return p.id, nil }

func startConsumer(t *testing.T, publisher *ChannelPublisher, sender Sender, source AlarmSource) {
	t.Helper()
	consumer, err := NewConsumer(ConsumerConfig{
		Commands: publisher.Commands(),
		Sender:   sender,
		Source:   source,
		IDs:      fixedIDProvider{id: "fixed-id"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go consumer.Run(ctx)
}

func TestConsumerResolvesBatchIDsIntoIncrementalMessage(t *testing.T) {
	existing := testAlarm(1, 5)
	source := newFakeAlarmSource(6, existing)
	sender := newChannelSender()
	publisher := NewChannelPublisher(8, nil)
	startConsumer(t, publisher, sender, source)

	// Alarm 2 has no row anymore: its id must come back as a deletion.
	publisher.PublishBatch([]int64{1, 2}, 6)

	message := sender.waitForMessage(t)
	incremental, ok := message.(IncrementalMessage)
	require.True(t, ok, "expected incremental message, got %T", message)

	assert.Equal(t, "fixed-id", incremental.MessageID)
	assert.Equal(t, int64(6), incremental.CurrentRevision)
	require.Len(t, incremental.UpdatedAlarms, 1)
	assert.Equal(t, existing.ID, incremental.UpdatedAlarms[0].ID)
	assert.Equal(t, []int64{2}, incremental.DeletedAlarmIDs)
}

func TestConsumerPublishesImmediateAsFullSync(t *testing.T) {
	source := newFakeAlarmSource(9)
	sender := newChannelSender()
	publisher := NewChannelPublisher(8, nil)
	startConsumer(t, publisher, sender, source)

	snapshot := []alarms.Alarm{testAlarm(1, 8), testAlarm(2, 9)}
	publisher.PublishImmediate(alarms.SyncReasonForceSync, 9, snapshot)

	message := sender.waitForMessage(t)
	full, ok := message.(FullSyncMessage)
	require.True(t, ok, "expected full sync message, got %T", message)

	assert.Equal(t, int64(9), full.CurrentRevision)
	assert.Len(t, full.AllAlarms, 2)
}

func TestConsumerPreservesCommandOrder(t *testing.T) {
	source := newFakeAlarmSource(3, testAlarm(1, 2))
	sender := newChannelSender()
	publisher := NewChannelPublisher(8, nil)
	startConsumer(t, publisher, sender, source)

	publisher.PublishBatch([]int64{1}, 2)
	publisher.PublishImmediate(alarms.SyncReasonInitialize, 3, nil)

	first := sender.waitForMessage(t)
	second := sender.waitForMessage(t)

	_, firstIsIncremental := first.(IncrementalMessage)
	_, secondIsFull := second.(FullSyncMessage)
	assert.True(t, firstIsIncremental, "expected incremental first, got %T", first)
	assert.True(t, secondIsFull, "expected full sync second, got %T", second)
}

func TestChannelPublisherDropsWhenQueueIsFull(t *testing.T) {
	publisher := NewChannelPublisher(2, nil)

	// No consumer attached: the third submit must drop, not block.
	done := make(chan struct{})
	go func() {
		publisher.PublishBatch([]int64{1}, 1)
		publisher.PublishBatch([]int64{2}, 2)
		publisher.PublishBatch([]int64{3}, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full queue")
	}
	assert.Len(t, publisher.Commands(), 2)
}

func TestConsumerExitsWhenPublisherCloses(t *testing.T) {
	source := newFakeAlarmSource(1)
	sender := newChannelSender()
	publisher := NewChannelPublisher(8, nil)

	consumer, err := NewConsumer(ConsumerConfig{
		Commands: publisher.Commands(),
		Sender:   sender,
		Source:   source,
	})
	require.NoError(t, err)

	exited := make(chan struct{})
	go func() {
		consumer.Run(context.Background())
		close(exited)
	}()

	publisher.Close()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit after channel close")
	}
}
