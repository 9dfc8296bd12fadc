package sync

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

type gatewayFixture struct {
	store       *alarms.Store
	dispatcher  *alarms.Dispatcher
	coordinator *alarms.Coordinator
	collector   *BatchCollector
	publisher   *recordingPublisher
	sender      *channelSender
	gateway     *Gateway
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(alarms.Models()...))
	require.NoError(t, alarms.SeedRevisionCounter(db))

	store, err := alarms.NewStore(alarms.StoreConfig{Database: db})
	require.NoError(t, err)

	dispatcher := alarms.NewDispatcher()
	triggers := alarms.NewTriggerCalculator(alarms.TriggerCalculatorConfig{})
	coordinator, err := alarms.NewCoordinator(alarms.CoordinatorConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Triggers:   triggers,
	})
	require.NoError(t, err)

	publisher := newRecordingPublisher()
	sender := newChannelSender()
	// A long quiet period keeps the timer from firing inside a test.
	collector := NewBatchCollector(time.Hour, publisher)

	gateway, err := NewGateway(GatewayConfig{
		Coordinator: coordinator,
		Store:       store,
		Dispatcher:  dispatcher,
		Collector:   collector,
		Publisher:   publisher,
		Sender:      sender,
		IDs:         fixedIDProvider{id: "gateway-id"},
	})
	require.NoError(t, err)

	return &gatewayFixture{
		store:       store,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		collector:   collector,
		publisher:   publisher,
		sender:      sender,
		gateway:     gateway,
	}
}

func (f *gatewayFixture) createAlarm(t *testing.T, label string) alarms.Alarm {
	t.Helper()
	fixedTime := "06:45"
	saved, err := f.coordinator.Save(context.Background(), alarms.Input{
		Label:      &label,
		Enabled:    true,
		Mode:       alarms.TriggerModeFixed,
		FixedTime:  &fixedTime,
		ActiveDays: []int{0, 1, 2, 3, 4, 5, 6},
	})
	require.NoError(t, err)
	return saved
}

func TestHandleSyncRequestUpToDate(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")

	err := fixture.gateway.HandleSyncRequest(context.Background(),
		SyncRequestCommand{CompanionRevision: created.Revision})
	require.NoError(t, err)

	message := fixture.sender.waitForMessage(t)
	reply, ok := message.(UpToDateMessage)
	require.True(t, ok, "expected up-to-date reply, got %T", message)
	assert.Equal(t, created.Revision, reply.CurrentRevision)
	assert.Equal(t, "gateway-id", reply.MessageID)
}

func TestHandleSyncRequestIncrementalCarriesChangesAndDeletions(t *testing.T) {
	fixture := newGatewayFixture(t)
	first := fixture.createAlarm(t, "one")
	second := fixture.createAlarm(t, "two")
	// Delete of the first alarm takes revision 3.
	require.NoError(t, fixture.coordinator.Delete(context.Background(), first.ID))

	err := fixture.gateway.HandleSyncRequest(context.Background(),
		SyncRequestCommand{CompanionRevision: 1})
	require.NoError(t, err)

	message := fixture.sender.waitForMessage(t)
	reply, ok := message.(IncrementalMessage)
	require.True(t, ok, "expected incremental reply, got %T", message)

	assert.Equal(t, int64(3), reply.CurrentRevision)
	require.Len(t, reply.UpdatedAlarms, 1)
	assert.Equal(t, second.ID, reply.UpdatedAlarms[0].ID)
	assert.Equal(t, []int64{first.ID}, reply.DeletedAlarmIDs)
}

func TestHandleSyncRequestIncrementalSupersedesPendingBatch(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.createAlarm(t, "one")
	fixture.createAlarm(t, "two")

	fixture.collector.Add([]int64{1, 2}, 2)

	err := fixture.gateway.HandleSyncRequest(context.Background(),
		SyncRequestCommand{CompanionRevision: 1})
	require.NoError(t, err)
	fixture.sender.waitForMessage(t)

	// The pending batch was drained by the sync reply, not published.
	_, _, pending := fixture.collector.Flush()
	assert.False(t, pending)
	assert.Empty(t, fixture.publisher.recorded())
}

func TestHandleSyncRequestFullWhenCompanionIsAhead(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.createAlarm(t, "one")
	fixture.createAlarm(t, "two")

	// A companion ahead of local revision means local state was reset;
	// the reply replaces the companion's set wholesale.
	err := fixture.gateway.HandleSyncRequest(context.Background(),
		SyncRequestCommand{CompanionRevision: 50})
	require.NoError(t, err)

	message := fixture.sender.waitForMessage(t)
	reply, ok := message.(FullSyncMessage)
	require.True(t, ok, "expected full sync reply, got %T", message)
	assert.Equal(t, int64(2), reply.CurrentRevision)
	assert.Len(t, reply.AllAlarms, 2)
}

func TestHandleMessageRoutesPathAddressedEnvelope(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")

	err := fixture.gateway.HandleMessage(context.Background(), CompanionMessage{
		Path: PathSyncRequest,
		Data: "not-a-number",
	})
	require.NoError(t, err)

	// Unparseable revision defaults to zero, yielding a catch-up from scratch.
	message := fixture.sender.waitForMessage(t)
	reply, ok := message.(IncrementalMessage)
	require.True(t, ok, "expected incremental reply, got %T", message)
	require.Len(t, reply.UpdatedAlarms, 1)
	assert.Equal(t, created.ID, reply.UpdatedAlarms[0].ID)
}

func TestHandleMessageRejectsUnknownPath(t *testing.T) {
	fixture := newGatewayFixture(t)

	err := fixture.gateway.HandleMessage(context.Background(), CompanionMessage{
		Path: "/threshold/unknown",
	})
	assert.ErrorIs(t, err, ErrUnknownMessagePath)
}

func TestHandleSaveAlarmAppliesCurrentCompanionEdit(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")

	err := fixture.gateway.HandleSaveAlarm(context.Background(), SaveAlarmCommand{
		AlarmID:           created.ID,
		Enabled:           false,
		CompanionRevision: created.Revision,
	})
	require.NoError(t, err)

	updated, err := fixture.store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, created.Revision+1, updated.Revision)
}

func TestHandleSaveAlarmRejectsStaleCompanionAndForcesSync(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")
	fixture.createAlarm(t, "two") // local revision moves to 2

	syncNeeded, cleanup := fixture.dispatcher.Subscribe(context.Background(),
		alarms.EventAlarmsSyncNeeded)
	defer cleanup()

	err := fixture.gateway.HandleSaveAlarm(context.Background(), SaveAlarmCommand{
		AlarmID:           created.ID,
		Enabled:           false,
		CompanionRevision: 1,
	})

	var stale *StaleUpdateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(1), stale.CompanionRevision)
	assert.Equal(t, int64(2), stale.CurrentRevision)

	// The local alarm is untouched.
	unchanged, getErr := fixture.store.GetByID(context.Background(), created.ID)
	require.NoError(t, getErr)
	assert.True(t, unchanged.Enabled)
	assert.Equal(t, created.Revision, unchanged.Revision)

	// The rejection asked the companion to force-sync.
	select {
	case event := <-syncNeeded:
		payload, ok := event.Payload.(alarms.AlarmsSyncNeeded)
		require.True(t, ok)
		assert.Equal(t, alarms.SyncReasonForceSync, payload.Reason)
	default:
		t.Fatal("expected a force-sync event after rejection")
	}
}

func TestHandleDeleteAlarmRejectsStaleCompanion(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")
	fixture.createAlarm(t, "two")

	err := fixture.gateway.HandleDeleteAlarm(context.Background(), DeleteAlarmCommand{
		AlarmID:           created.ID,
		CompanionRevision: 1,
	})

	var stale *StaleUpdateError
	require.ErrorAs(t, err, &stale)

	_, getErr := fixture.store.GetByID(context.Background(), created.ID)
	assert.NoError(t, getErr, "alarm must survive a rejected delete")
}

func TestHandleDeleteAlarmAppliesCurrentCompanionEdit(t *testing.T) {
	fixture := newGatewayFixture(t)
	created := fixture.createAlarm(t, "one")

	err := fixture.gateway.HandleDeleteAlarm(context.Background(), DeleteAlarmCommand{
		AlarmID:           created.ID,
		CompanionRevision: created.Revision,
	})
	require.NoError(t, err)

	_, getErr := fixture.store.GetByID(context.Background(), created.ID)
	assert.ErrorIs(t, getErr, alarms.ErrAlarmNotFound)
}

func TestGatewayRunFeedsBatchEventsIntoCollector(t *testing.T) {
	fixture := newGatewayFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fixture.gateway.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let Run subscribe before mutating

	created := fixture.createAlarm(t, "one")

	require.Eventually(t, func() bool {
		ids, _, ok := fixture.collector.Flush()
		if !ok {
			return false
		}
		return len(ids) == 1 && ids[0] == created.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayRunTurnsSyncNeededIntoImmediatePublish(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.createAlarm(t, "one")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fixture.gateway.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let Run subscribe before mutating

	require.NoError(t, fixture.coordinator.RequestSync(context.Background(),
		alarms.SyncReasonReconnect))

	require.Eventually(t, func() bool {
		return len(fixture.publisher.immediates()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	published := fixture.publisher.immediates()[0]
	assert.Equal(t, alarms.SyncReasonReconnect, published.reason)
	assert.Equal(t, int64(1), published.revision)
	assert.Len(t, published.snapshot, 1)
}
