package followup

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/roster"
)

// TriggerStore persists pending triggers so a restart re-arms them without recomputing.
type TriggerStore interface {
	// Save stores t unless a trigger for the same record and slot exists, and
	// returns the fire time that is actually stored.
	Save(ctx context.Context, t Trigger) (time.Time, error)
	// Claim deletes the trigger and reports whether this caller removed it.
	// Exactly one claimant wins, which makes firing at-most-once across restarts.
	Claim(ctx context.Context, recordID string, slot roster.Slot) (bool, error)
	Pending(ctx context.Context) ([]Trigger, error)
}

type MemoryTriggerStore struct {
	mu       sync.Mutex
	triggers map[string]Trigger
}

func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{triggers: map[string]Trigger{}}
}

func (s *MemoryTriggerStore) Save(ctx context.Context, t Trigger) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.triggers[t.Key()]; ok {
		return existing.FireAt, nil
	}
	s.triggers[t.Key()] = t
	return t.FireAt, nil
}

func (s *MemoryTriggerStore) Claim(ctx context.Context, recordID string, slot roster.Slot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Trigger{RecordID: recordID, Slot: slot}.Key()
	if _, ok := s.triggers[key]; !ok {
		return false, nil
	}
	delete(s.triggers, key)
	return true, nil
}

func (s *MemoryTriggerStore) Pending(ctx context.Context) ([]Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// PostgresTriggerStore keeps one row per pending trigger in scheduled_triggers.
type PostgresTriggerStore struct {
	db *sql.DB
}

func NewPostgresTriggerStore(db *sql.DB) *PostgresTriggerStore {
	return &PostgresTriggerStore{db: db}
}

func (s *PostgresTriggerStore) Save(ctx context.Context, t Trigger) (time.Time, error) {
	// The no-op update makes RETURNING yield the existing row on conflict,
	// so a replanned record keeps its original fire time.
	const q = `
INSERT INTO scheduled_triggers (record_id, slot, fire_at, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (record_id, slot)
DO UPDATE SET record_id = EXCLUDED.record_id
RETURNING fire_at
`
	var fireAt time.Time
	if err := s.db.QueryRowContext(ctx, q, t.RecordID, string(t.Slot), t.FireAt.UTC()).Scan(&fireAt); err != nil {
		return time.Time{}, apperr.TransientIO("save trigger", err)
	}
	return fireAt, nil
}

func (s *PostgresTriggerStore) Claim(ctx context.Context, recordID string, slot roster.Slot) (bool, error) {
	const q = `DELETE FROM scheduled_triggers WHERE record_id = $1 AND slot = $2`
	res, err := s.db.ExecContext(ctx, q, recordID, string(slot))
	if err != nil {
		return false, apperr.TransientIO("claim trigger", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.TransientIO("claim trigger", err)
	}
	return n == 1, nil
}

func (s *PostgresTriggerStore) Pending(ctx context.Context) ([]Trigger, error) {
	const q = `SELECT record_id, slot, fire_at FROM scheduled_triggers ORDER BY fire_at`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.TransientIO("list triggers", err)
	}
	defer rows.Close()

	out := make([]Trigger, 0)
	for rows.Next() {
		var (
			t    Trigger
			slot string
		)
		if err := rows.Scan(&t.RecordID, &slot, &t.FireAt); err != nil {
			return nil, apperr.TransientIO("scan trigger", err)
		}
		t.Slot = roster.Slot(slot)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.TransientIO("list triggers", err)
	}
	return out, nil
}
