package domain

import (
	"context"
	"time"
)

// Default stream keys and well-known cursor positions.
const (
	StreamOrders = "order_stream"
	StreamStatus = "status_updates"

	// CursorLatest resumes after whatever is newest when the read starts.
	CursorLatest = "$"
	// CursorBeginning replays a stream from its first retained entry.
	CursorBeginning = "0"
)

// StreamEntry is a single raw entry read from a durable log.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// StreamLog is an append-only, multi-reader durable log with blocking tail
// reads.
type StreamLog interface {
	// Append adds payload to the stream and returns the assigned entry id.
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	// Read returns up to count entries after lastID, waiting at most block
	// for new entries. A timeout yields an empty slice and a nil error.
	// Entries without a payload field are returned with a nil Payload so the
	// caller can still advance past them.
	Read(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]StreamEntry, error)
	// LastID returns the id of the newest entry, or "0-0" for an empty
	// stream.
	LastID(ctx context.Context, stream string) (string, error)
}

// CursorStore checkpoints a consumer's position in a stream.
type CursorStore interface {
	// Load returns the saved cursor, or ErrNotFound when none exists.
	Load(ctx context.Context, consumer string) (string, error)
	Save(ctx context.Context, consumer, id string) error
}

// OrderClaimer records that an order id has been handed to an executor so a
// redelivered entry is not executed twice.
type OrderClaimer interface {
	// Claim returns ErrAlreadyClaimed when the id was claimed before.
	Claim(ctx context.Context, orderID string) error
}

// Admission is the outcome of metering one order submission.
type Admission struct {
	Allowed bool
	// Limit is the budget that applied to the client.
	Limit     int
	Remaining int
	// RetryAfter is how long until the client's oldest counted submission
	// leaves the window. Zero when Allowed.
	RetryAfter time.Duration
}

// AdmissionLimiter meters order submissions per client across gateway
// replicas.
type AdmissionLimiter interface {
	Admit(ctx context.Context, clientID string) (Admission, error)
}
