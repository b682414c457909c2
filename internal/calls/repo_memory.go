package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/roster"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu       sync.Mutex
	attempts map[string]Attempt // by provider call id
	writes   int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{attempts: map[string]Attempt{}} }

func (r *MemoryRepo) Insert(ctx context.Context, a Attempt) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ProviderCallID == "" {
		return Attempt{}, apperr.Validation("provider call id is required")
	}
	if _, exists := r.attempts[a.ProviderCallID]; exists {
		return Attempt{}, apperr.Conflict("call attempt already recorded")
	}
	for _, other := range r.attempts {
		if other.RecordID == a.RecordID && other.Slot == a.Slot && !other.Status.Terminal() {
			return Attempt{}, apperr.Conflict("an attempt is already outstanding for this slot")
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.InitiatedAt
	}
	r.attempts[a.ProviderCallID] = a
	r.writes++
	return a, nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[providerCallID]
	if !ok {
		return Attempt{}, apperr.NotFound("call attempt not found")
	}
	return a, nil
}

func (r *MemoryRepo) FindByRecord(ctx context.Context, recordID string) ([]Attempt, error) {
	return r.FindByRecords(ctx, []string{recordID})
}

func (r *MemoryRepo) FindByRecords(ctx context.Context, recordIDs []string) ([]Attempt, error) {
	want := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		want[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, 0)
	for _, a := range r.attempts {
		if want[a.RecordID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	return out, nil
}

func (r *MemoryRepo) FindOutstanding(ctx context.Context, recordID string, slot roster.Slot) (Attempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.RecordID == recordID && a.Slot == slot && !a.Status.Terminal() {
			return a, true, nil
		}
	}
	return Attempt{}, false, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, providerCallID string, from []Status, to Status, patch Patch, at time.Time) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[providerCallID]
	if !ok {
		return Attempt{}, apperr.NotFound("call attempt not found")
	}
	allowed := false
	for _, s := range from {
		if a.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return a, apperr.StateConflict("transition " + string(a.Status) + " -> " + string(to) + " not allowed")
	}
	a.Status = to
	patch.Apply(&a)
	a.UpdatedAt = at
	r.attempts[providerCallID] = a
	r.writes++
	return a, nil
}

func (r *MemoryRepo) ApplyPatch(ctx context.Context, providerCallID string, patch Patch, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[providerCallID]
	if !ok {
		return apperr.NotFound("call attempt not found")
	}
	patch.Apply(&a)
	a.UpdatedAt = at
	r.attempts[providerCallID] = a
	r.writes++
	return nil
}

// Writes returns how many mutations the repo has accepted.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Len returns the number of stored attempts.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
