package healthsync

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
)

// Data-logging tags carried by the device for health telemetry streams.
const (
	TagSteps       uint32 = 81
	TagSleep       uint32 = 83
	TagOverlay     uint32 = 84
	TagHeartRate   uint32 = 85
	TagDiagnostics uint32 = 86
)

// healthTags are the session tags the engine opens sessions for. Sleep data
// arrives on its own tag but shares the overlay wire format.
var healthTags = map[uint32]struct{}{
	TagSteps:     {},
	TagSleep:     {},
	TagOverlay:   {},
	TagHeartRate: {},
}

// SystemAppID identifies the device's built-in firmware application. Only
// telemetry originating from it is persisted; third-party app streams on the
// same tags are ignored.
var SystemAppID = uuid.Nil

// SessionEvent is an inbound data-logging transport event. The transport
// layer frames the byte stream into these before handing them to the engine.
type SessionEvent interface {
	sessionEvent()
}

// OpenSession announces a new logging session for one data tag.
type OpenSession struct {
	// SessionID identifies the session in subsequent events.
	SessionID uint8
	// Tag is the data stream identifier (steps, sleep, overlay, ...).
	Tag uint32
	// AppID is the application the stream originates from.
	AppID uuid.UUID
	// ItemSize is the fixed byte length of one record in this session.
	ItemSize int
}

// SendDataItems carries a chunk of buffered records for an open session.
type SendDataItems struct {
	SessionID uint8
	Payload   []byte
	// ItemsLeft is the number of chunks still buffered on the device after
	// this one. Zero marks the end of a batch.
	ItemsLeft int
}

// CloseSession ends a logging session.
type CloseSession struct {
	SessionID uint8
}

func (OpenSession) sessionEvent()   {}
func (SendDataItems) sessionEvent() {}
func (CloseSession) sessionEvent()  {}

// Transport is the device link collaborator. Inbound returns a live,
// order-preserving stream of session events; the channel closes when the
// device disconnects.
type Transport interface {
	Send(ctx context.Context, packet []byte) error
	Inbound() <-chan SessionEvent
}

// syncCommand is the single command byte of the health sync endpoint.
const syncCommand byte = 0x01

// EncodeFirstSyncRequest builds the packet requesting the device's full
// stored history. now is the current time in Unix seconds.
func EncodeFirstSyncRequest(now uint32) []byte {
	return encodeSyncPacket(now)
}

// EncodeSyncRequest builds the packet requesting an incremental sync covering
// the given number of seconds before now.
func EncodeSyncRequest(secondsSinceLastSync uint32) []byte {
	return encodeSyncPacket(secondsSinceLastSync)
}

func encodeSyncPacket(value uint32) []byte {
	packet := make([]byte, 0, 5)
	packet = append(packet, syncCommand)
	return binary.LittleEndian.AppendUint32(packet, value)
}

// DeviceRegistry looks up when a device was last connected or selected by
// the user. LastConnectedMillis returns ok=false for a device that has never
// connected before, in which case no staleness filtering is applied.
type DeviceRegistry interface {
	LastConnectedMillis(serial string) (int64, bool)
}
