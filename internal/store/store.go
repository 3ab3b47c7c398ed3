package store

import (
	"context"
	"fmt"

	"github.com/roach88/labelcache/internal/model"
)

// InsertOutcome tags the result of a conditional insert.
type InsertOutcome int

const (
	// InsertedNew means this call created the record.
	InsertedNew InsertOutcome = iota + 1
	// AlreadyExists means a record was present; the stored one is returned.
	AlreadyExists
)

// String implements fmt.Stringer.
func (o InsertOutcome) String() string {
	switch o {
	case InsertedNew:
		return "inserted_new"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

// InsertResult is the outcome of TryInsert.
// Record is always the canonical stored record: the caller's record when
// Outcome is InsertedNew, the pre-existing one when it is AlreadyExists.
type InsertResult struct {
	Outcome InsertOutcome
	Record  model.ClassificationRecord
}

// Store is a durable fingerprint -> classification record mapping.
type Store interface {
	// Lookup returns the record for fp. found is false when no record exists.
	// Fails only with transient errors.
	Lookup(ctx context.Context, fp model.Fingerprint) (rec model.ClassificationRecord, found bool, err error)

	// TryInsert atomically creates rec if no record exists for rec.Fingerprint.
	TryInsert(ctx context.Context, rec model.ClassificationRecord) (InsertResult, error)

	// Close releases the backend connection.
	Close() error
}

// checkRecord rejects incomplete records before any backend call.
// A partial record must never reach storage, so this is an invariant error.
func checkRecord(op string, rec model.ClassificationRecord) error {
	if err := rec.Validate(); err != nil {
		return model.Invariant(op, rec.Fingerprint, err)
	}
	return nil
}

// conflictWithoutWinner is returned when a conditional insert reports a
// conflict but the winning record cannot be read back.
func conflictWithoutWinner(op string, fp model.Fingerprint) error {
	return model.Invariant(op, fp, fmt.Errorf("insert conflicted but no record exists"))
}
