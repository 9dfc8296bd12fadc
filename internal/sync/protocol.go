package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/liminalhq/threshold-sync/internal/alarms"
)

// Outbound message type tags.
const (
	MessageTypeUpToDate    = "UP_TO_DATE"
	MessageTypeIncremental = "INCREMENTAL"
	MessageTypeFullSync    = "FULL_SYNC"
)

// Inbound companion message paths.
const (
	PathSyncRequest = "/threshold/sync_request"
	PathSaveAlarm   = "/threshold/save_alarm"
	PathDeleteAlarm = "/threshold/delete_alarm"
)

var (
	// ErrUnknownMessagePath indicates an inbound path with no handler.
	ErrUnknownMessagePath = errors.New("sync: unknown companion message path")
	// ErrMalformedCommand indicates an inbound payload that failed strict parsing.
	ErrMalformedCommand = errors.New("sync: malformed companion command")
	// ErrUnknownMessageType indicates an outbound tag that failed decoding.
	ErrUnknownMessageType = errors.New("sync: unknown message type")
)

// Message is one of the three outbound sync payloads.
type Message interface {
	messageType() string
}

// UpToDateMessage tells the companion it already has the latest revision.
type UpToDateMessage struct {
	Type            string `json:"type"`
	MessageID       string `json:"messageId"`
	CurrentRevision int64  `json:"currentRevision"`
}

func (UpToDateMessage) messageType() string { return MessageTypeUpToDate }

// IncrementalMessage carries only the alarms and deletions newer than the
// companion's revision.
type IncrementalMessage struct {
	Type            string         `json:"type"`
	MessageID       string         `json:"messageId"`
	CurrentRevision int64          `json:"currentRevision"`
	UpdatedAlarms   []alarms.Alarm `json:"updatedAlarms"`
	DeletedAlarmIDs []int64        `json:"deletedAlarmIds"`
}

func (IncrementalMessage) messageType() string { return MessageTypeIncremental }

// FullSyncMessage replaces the companion's entire alarm set.
type FullSyncMessage struct {
	Type            string         `json:"type"`
	MessageID       string         `json:"messageId"`
	CurrentRevision int64          `json:"currentRevision"`
	AllAlarms       []alarms.Alarm `json:"allAlarms"`
}

func (FullSyncMessage) messageType() string { return MessageTypeFullSync }

// NewUpToDateMessage builds a tagged up-to-date payload.
func NewUpToDateMessage(messageID string, currentRevision int64) UpToDateMessage {
	return UpToDateMessage{
		Type:            MessageTypeUpToDate,
		MessageID:       messageID,
		CurrentRevision: currentRevision,
	}
}

// NewIncrementalMessage builds a tagged delta payload; nil slices become
// empty so the wire always carries arrays.
func NewIncrementalMessage(messageID string, currentRevision int64, updated []alarms.Alarm, deletedIDs []int64) IncrementalMessage {
	if updated == nil {
		updated = []alarms.Alarm{}
	}
	if deletedIDs == nil {
		deletedIDs = []int64{}
	}
	return IncrementalMessage{
		Type:            MessageTypeIncremental,
		MessageID:       messageID,
		CurrentRevision: currentRevision,
		UpdatedAlarms:   updated,
		DeletedAlarmIDs: deletedIDs,
	}
}

// NewFullSyncMessage builds a tagged full-replacement payload.
func NewFullSyncMessage(messageID string, currentRevision int64, all []alarms.Alarm) FullSyncMessage {
	if all == nil {
		all = []alarms.Alarm{}
	}
	return FullSyncMessage{
		Type:            MessageTypeFullSync,
		MessageID:       messageID,
		CurrentRevision: currentRevision,
		AllAlarms:       all,
	}
}

// EncodeMessage serializes an outbound message for the transport.
func EncodeMessage(message Message) ([]byte, error) {
	return json.Marshal(message)
}

// DecodeMessage parses an outbound payload back into its typed form, used by
// tests and by a companion-side consumer.
func DecodeMessage(payload []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case MessageTypeUpToDate:
		var message UpToDateMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeIncremental:
		var message IncrementalMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeFullSync:
		var message FullSyncMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			return nil, err
		}
		return message, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, probe.Type)
	}
}

// CompanionMessage is the raw path-addressed envelope received from the
// companion transport.
type CompanionMessage struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

// SaveAlarmCommand is a companion-originated enable/disable edit. The wire
// field is still named watchRevision for companion compatibility.
type SaveAlarmCommand struct {
	AlarmID           int64 `json:"alarmId"`
	Enabled           bool  `json:"enabled"`
	CompanionRevision int64 `json:"watchRevision"`
}

// DeleteAlarmCommand is a companion-originated delete.
type DeleteAlarmCommand struct {
	AlarmID           int64 `json:"alarmId"`
	CompanionRevision int64 `json:"watchRevision"`
}

// SyncRequestCommand asks for a catch-up from the companion's revision.
type SyncRequestCommand struct {
	CompanionRevision int64 `json:"watchRevision"`
}

// ParseCompanionMessage routes a raw companion envelope to its typed command.
// Malformed save/delete payloads are rejected; the sync-request revision is a
// legacy plain-integer body that defaults to 0 when unparseable, forcing a
// full sync rather than an error.
func ParseCompanionMessage(message CompanionMessage) (any, error) {
	switch message.Path {
	case PathSyncRequest:
		revision, err := strconv.ParseInt(strings.TrimSpace(message.Data), 10, 64)
		if err != nil {
			revision = 0
		}
		return SyncRequestCommand{CompanionRevision: revision}, nil
	case PathSaveAlarm:
		var command SaveAlarmCommand
		if err := json.Unmarshal([]byte(message.Data), &command); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, message.Path, err)
		}
		return command, nil
	case PathDeleteAlarm:
		var command DeleteAlarmCommand
		if err := json.Unmarshal([]byte(message.Data), &command); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, message.Path, err)
		}
		return command, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessagePath, message.Path)
	}
}

// MessageIDProvider issues identifiers for outbound messages.
type MessageIDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a MessageIDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() MessageIDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
