// Package followup turns shift records into persisted, staggered call triggers.
package followup

import (
	"fmt"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/roster"
)

// Trigger is one deferred call for a record's follow-up slot.
type Trigger struct {
	RecordID string      `json:"record_id" db:"record_id"`
	Slot     roster.Slot `json:"slot" db:"slot"`
	FireAt   time.Time   `json:"fire_at" db:"fire_at"`
}

// Key identifies the trigger; a record has at most one trigger per slot.
func (t Trigger) Key() string { return t.RecordID + ":" + string(t.Slot) }

// Policy holds the timing knobs.
type Policy struct {
	// FirstOffset and SecondOffset are subtracted from the shift start.
	FirstOffset  time.Duration
	SecondOffset time.Duration
	// StaggerGap separates triggers that would otherwise fire at the same instant.
	StaggerGap time.Duration
	Location   *time.Location
}

func DefaultPolicy() Policy {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	return Policy{
		FirstOffset:  36 * time.Minute,
		SecondOffset: 34*time.Minute + 35*time.Second,
		StaggerGap:   time.Second,
		Location:     loc,
	}
}

func (p Policy) Validate() error {
	if p.SecondOffset <= 0 || p.FirstOffset <= p.SecondOffset {
		return fmt.Errorf("followup: offsets must satisfy first > second > 0 (got %s, %s)", p.FirstOffset, p.SecondOffset)
	}
	if p.StaggerGap < 0 {
		return fmt.Errorf("followup: stagger gap must be >= 0")
	}
	return nil
}

// Planner computes nominal (unstaggered) trigger instants.
type Planner struct {
	policy Policy
}

func NewPlanner(p Policy) (*Planner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &Planner{policy: p}, nil
}

func (p *Planner) Policy() Policy { return p.policy }

// Plan returns the two triggers for rec, both strictly before the shift start.
// Triggers already in the past are returned as-is; the scheduler decides whether they run.
func (p *Planner) Plan(rec roster.ShiftRecord) ([]Trigger, error) {
	if rec.ID == "" {
		return nil, apperr.Validation("record id is required")
	}
	if !rec.PhoneValid {
		return nil, apperr.Validation("record has no dialable phone number")
	}
	start, err := rec.StartAt(p.policy.Location)
	if err != nil {
		return nil, err
	}
	return []Trigger{
		{RecordID: rec.ID, Slot: roster.SlotFirst, FireAt: start.Add(-p.policy.FirstOffset)},
		{RecordID: rec.ID, Slot: roster.SlotSecond, FireAt: start.Add(-p.policy.SecondOffset)},
	}, nil
}

// Batch staggers triggers planned within one upload. Not safe for concurrent use.
type Batch struct {
	planner *Planner
	seen    map[int64]int
}

// NewBatch starts a stagger window. Each upload gets its own.
func (p *Planner) NewBatch() *Batch {
	return &Batch{planner: p, seen: map[int64]int{}}
}

// Plan plans rec and pushes each trigger later by (k-1)*gap, where k counts the
// triggers in this batch that share the same nominal instant, in submission order.
func (b *Batch) Plan(rec roster.ShiftRecord) ([]Trigger, error) {
	ts, err := b.planner.Plan(rec)
	if err != nil {
		return nil, err
	}
	gap := b.planner.policy.StaggerGap
	for i := range ts {
		key := ts[i].FireAt.UnixNano()
		k := b.seen[key]
		b.seen[key] = k + 1
		ts[i].FireAt = ts[i].FireAt.Add(time.Duration(k) * gap)
	}
	return ts, nil
}
