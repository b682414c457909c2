package calls

import (
	"context"
	"time"

	"followup-caller/internal/roster"
)

// Repository persists call attempts.
//
// All mutation is keyed by a single attempt; status changes are conditional
// match-and-set, never read-then-write.
type Repository interface {
	// Insert stores a new attempt. It returns a Conflict error if a non-terminal
	// attempt already exists for the same record and slot.
	Insert(ctx context.Context, a Attempt) (Attempt, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Attempt, error)
	FindByRecord(ctx context.Context, recordID string) ([]Attempt, error)
	FindByRecords(ctx context.Context, recordIDs []string) ([]Attempt, error)
	// FindOutstanding returns the non-terminal attempt for a slot, if any.
	FindOutstanding(ctx context.Context, recordID string, slot roster.Slot) (Attempt, bool, error)
	// Transition moves the attempt to `to` only if its current status is in `from`
	// and merges patch in the same statement. It returns NotFound for an unknown
	// id and StateConflict when the current status is not in `from`.
	Transition(ctx context.Context, providerCallID string, from []Status, to Status, patch Patch, at time.Time) (Attempt, error)
	// ApplyPatch merges patch without touching status.
	ApplyPatch(ctx context.Context, providerCallID string, patch Patch, at time.Time) error
}
