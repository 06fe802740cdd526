// Package deadletter stores queued messages whose framing could not be
// decoded, so they can be inspected or replayed later.
//
// Three backends are provided:
//   - memory: process-local, for tests and ephemeral deployments
//   - badger: persistent BadgerDB database on local disk
//   - s3: one JSON object per record in an S3 (or compatible) bucket
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/framingd/internal/protocol/framing"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("deadletter: record not found")

// Record is one dead-lettered message.
type Record struct {
	// ID is a time-ordered UUID (version 7), so ids sort by creation time.
	ID uuid.UUID `json:"id"`

	// LookupID identifies the message in its source queue.
	LookupID string `json:"lookup_id"`

	// Source names the receiver that rejected the message.
	Source string `json:"source"`

	// Reason is the error text that caused the rejection.
	Reason string `json:"reason"`

	// Fault is the framing fault identifier, empty when the failure had none.
	Fault string `json:"fault,omitempty"`

	// State and StreamPosition locate the failure inside the framing header.
	State          string `json:"state,omitempty"`
	StreamPosition int64  `json:"stream_position"`

	// Payload is the complete raw message.
	Payload []byte `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds a record for payload rejected with cause. Decode
// failures contribute their fault, state and position.
func NewRecord(source, lookupID string, payload []byte, cause error) (*Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("deadletter: generating record id: %w", err)
	}

	rec := &Record{
		ID:        id,
		LookupID:  lookupID,
		Source:    source,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if cause != nil {
		rec.Reason = cause.Error()
	}

	var de *framing.DecodeError
	if errors.As(cause, &de) {
		rec.Fault = de.Fault
		rec.State = de.State
		rec.StreamPosition = de.Position
	}
	return rec, nil
}

// Store persists dead-letter records. Implementations are safe for
// concurrent use.
type Store interface {
	// Put stores rec, replacing any record with the same id.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// List returns every record, oldest first.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes the record with id or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// Close releases the store's resources.
	Close() error
}

func encodeRecord(rec *Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("deadletter: encoding record %s: %w", rec.ID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("deadletter: decoding record: %w", err)
	}
	return &rec, nil
}
