package roster

import (
	"context"
	"sync"
	"time"

	"followup-caller/internal/apperr"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local runs without Postgres.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]ShiftRecord
	order   []string
	clock   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]ShiftRecord{}, clock: time.Now}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec ShiftRecord) (string, error) {
	out, err := r.InsertBatch(ctx, []ShiftRecord{rec})
	if err != nil {
		return "", err
	}
	return out[0].ID, nil
}

func (r *MemoryRepo) InsertBatch(ctx context.Context, rs []ShiftRecord) ([]ShiftRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	out := make([]ShiftRecord, 0, len(rs))
	for _, rec := range rs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, exists := r.records[rec.ID]; exists {
			return nil, apperr.Conflict("shift record already exists")
		}
		rec.CreatedAt, rec.UpdatedAt = now, now
		out = append(out, rec)
	}
	for _, rec := range out {
		r.records[rec.ID] = rec
		r.order = append(r.order, rec.ID)
	}
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (ShiftRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ShiftRecord{}, apperr.NotFound("shift record not found")
	}
	return rec, nil
}

func (r *MemoryRepo) FindByBatch(ctx context.Context, batchTag string, limit, offset int) ([]ShiftRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShiftRecord, 0)
	skipped := 0
	for _, id := range r.order {
		rec := r.records[id]
		if batchTag != "" && rec.BatchTag != batchTag {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRepo) SetFollowup(ctx context.Context, id string, field FollowupField, value string) error {
	if !field.Valid() {
		return apperr.Validation("unknown follow-up field")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperr.NotFound("shift record not found")
	}
	rec.Followup.Set(field, value)
	rec.UpdatedAt = r.clock().UTC()
	r.records[id] = rec
	return nil
}
