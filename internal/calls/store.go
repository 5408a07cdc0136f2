package calls

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: record not found")

// Store is the record store for call records.
//
// Upsert must be atomic per provider call id: two concurrent reconciliations
// for the same id must not lose a non-null field write to a stale read.
// Implementations use a single insert-or-coalesce statement, not
// read-then-write.
type Store interface {
	// Upsert inserts a new record for p.ProviderCallID or merges p into the
	// existing one with field-level coalesce (non-nil fields win, nil fields
	// keep the stored value). Payload is always replaced.
	Upsert(ctx context.Context, p Partial) error

	GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)

	// ListRecent returns up to limit records, newest first by created_at.
	ListRecent(ctx context.Context, limit int) ([]CallRecord, error)

	// ListCreatedSince returns records created at or after the cutoff,
	// ascending by created_at.
	ListCreatedSince(ctx context.Context, cutoff time.Time) ([]CallRecord, error)
}
