package roster

import "context"

// Repository is the Record Store contract the follow-up core consumes.
//
// All mutation is single-row and keyed by id; there is no full-document replace.
type Repository interface {
	Insert(ctx context.Context, r ShiftRecord) (string, error)
	// InsertBatch inserts all records atomically and returns them with ids assigned.
	InsertBatch(ctx context.Context, rs []ShiftRecord) ([]ShiftRecord, error)
	Get(ctx context.Context, id string) (ShiftRecord, error)
	FindByBatch(ctx context.Context, batchTag string, limit, offset int) ([]ShiftRecord, error)
	// SetFollowup atomically writes one follow-up field.
	SetFollowup(ctx context.Context, id string, field FollowupField, value string) error
}
