package healthsync

import (
	"context"
	"math/rand/v2"
)

// BlobDatabase identifies a device-resident key/value store.
type BlobDatabase uint8

// BlobDatabaseHealthStats is the statistics store the watch reads to render
// on-device health summaries.
const BlobDatabaseHealthStats BlobDatabase = 7

// BlobStatus is the protocol-level result of a blob write.
type BlobStatus uint8

const (
	// BlobStatusDisconnected is reported when the write never reached the
	// device (timeout or dropped link).
	BlobStatusDisconnected BlobStatus = 0x00
	// BlobStatusSuccess means the device acknowledged the write.
	BlobStatusSuccess BlobStatus = 0x01
	// BlobStatusGeneralFailure is the device's catch-all failure code.
	BlobStatusGeneralFailure BlobStatus = 0x02
	// BlobStatusInvalidOperation means the command was not valid for the
	// target database.
	BlobStatusInvalidOperation BlobStatus = 0x03
	// BlobStatusInvalidDatabase means the database identifier is unknown.
	BlobStatusInvalidDatabase BlobStatus = 0x04
	// BlobStatusInvalidData means the device rejected the value payload.
	BlobStatusInvalidData BlobStatus = 0x05
	// BlobStatusDatabaseFull means the device-side store is out of space.
	BlobStatusDatabaseFull BlobStatus = 0x07
)

func (s BlobStatus) String() string {
	switch s {
	case BlobStatusDisconnected:
		return "disconnected"
	case BlobStatusSuccess:
		return "success"
	case BlobStatusGeneralFailure:
		return "general_failure"
	case BlobStatusInvalidOperation:
		return "invalid_operation"
	case BlobStatusInvalidDatabase:
		return "invalid_database"
	case BlobStatusInvalidData:
		return "invalid_data"
	case BlobStatusDatabaseFull:
		return "database_full"
	default:
		return "unknown"
	}
}

// InsertCommand writes one key/value pair into a device blob database.
type InsertCommand struct {
	// Token correlates the response with the request on the wire.
	Token uint16
	// Database selects the target store.
	Database BlobDatabase
	// Key is the record key bytes.
	Key []byte
	// Value is the encoded record payload.
	Value []byte
}

// BlobWriter is the blob-write collaborator. Insert blocks until the device
// acknowledges the write, the context expires, or the link drops; the
// returned status distinguishes those outcomes.
type BlobWriter interface {
	Insert(ctx context.Context, cmd InsertCommand) (BlobStatus, error)
}

func newBlobToken() uint16 {
	return uint16(rand.Uint32())
}
