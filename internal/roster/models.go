package roster

import (
	"strings"
	"time"

	"followup-caller/internal/apperr"
)

// ShiftRecord is one worker's shift assignment.
//
// Invariants:
//   - Phone is either normalized international form (PhoneValid) or explicitly marked invalid.
//   - A record whose start instant cannot be resolved never reaches the scheduler.
//
// Fields are immutable after ingestion except Followup, which is written by the
// follow-up planner (scheduled/skipped) and the call orchestrator (call outcome).
type ShiftRecord struct {
	ID string `json:"id" db:"id"`

	Name       string `json:"name" db:"name"`
	Phone      string `json:"phone" db:"phone"`
	PhoneValid bool   `json:"phone_valid" db:"phone_valid"`

	ShiftName       string `json:"shift_name" db:"shift_name"`
	ShiftTimings    string `json:"shift_timings" db:"shift_timings"` // "HH:MM-HH:MM"
	ShiftDate       string `json:"shift_date" db:"shift_date"`       // "YYYY-MM-DD"
	DressCode       string `json:"dress_code" db:"dress_code"`
	WorkDescription string `json:"work_description" db:"work_description"`

	// BatchTag identifies the upload (sheet) the record came from.
	BatchTag string `json:"batch_tag" db:"batch_tag"`

	Followup FollowupStatus `json:"followup" db:"followup"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FollowupStatus holds the mutable follow-up slots. All start empty.
type FollowupStatus struct {
	First          string `json:"first"`
	Second         string `json:"second"`
	DressConfirmed string `json:"dress_confirmed"`
	FutureInterest string `json:"future_interest"`
}

// FollowupField names one entry of FollowupStatus for single-field updates.
type FollowupField string

const (
	FieldFirst          FollowupField = "first"
	FieldSecond         FollowupField = "second"
	FieldDressConfirmed FollowupField = "dress_confirmed"
	FieldFutureInterest FollowupField = "future_interest"
)

func (f FollowupField) Valid() bool {
	switch f {
	case FieldFirst, FieldSecond, FieldDressConfirmed, FieldFutureInterest:
		return true
	default:
		return false
	}
}

// Set writes value into the named slot.
func (s *FollowupStatus) Set(f FollowupField, value string) {
	switch f {
	case FieldFirst:
		s.First = value
	case FieldSecond:
		s.Second = value
	case FieldDressConfirmed:
		s.DressConfirmed = value
	case FieldFutureInterest:
		s.FutureInterest = value
	}
}

// Slot is one of the two pre-shift reminder attempts.
type Slot string

const (
	SlotFirst  Slot = "first"
	SlotSecond Slot = "second"
)

func (s Slot) Valid() bool {
	return s == SlotFirst || s == SlotSecond
}

// Field returns the follow-up status entry tracking this slot.
func (s Slot) Field() FollowupField {
	if s == SlotSecond {
		return FieldSecond
	}
	return FieldFirst
}

// Follow-up slot values written by the planner and orchestrator.
const (
	FollowupScheduled = "scheduled"
	FollowupSkipped   = "skipped"
	FollowupCancelled = "cancelled"
	FollowupInitiated = "initiated"
	FollowupFailed    = "initiation_failed"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// StartAt resolves the shift's start instant in loc.
func (r ShiftRecord) StartAt(loc *time.Location) (time.Time, error) {
	return ShiftStart(r.ShiftDate, r.ShiftTimings, loc)
}

// ShiftStart combines a "YYYY-MM-DD" date with the start half of a "HH:MM-HH:MM" window.
func ShiftStart(date, timings string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date = strings.TrimSpace(date)
	start, _, found := strings.Cut(timings, "-")
	start = strings.TrimSpace(start)
	if date == "" || start == "" || !found {
		return time.Time{}, apperr.Validation("shift date and timings are required (timings as HH:MM-HH:MM)")
	}
	t, err := time.ParseInLocation(dateTimeLayout, date+" "+start, loc)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindValidation, "unresolvable shift start", err)
	}
	return t, nil
}
