package calls

import (
	"strings"
	"time"

	"followup-caller/internal/roster"
)

// Attempt is one outbound follow-up call for a shift record slot.
//
// Invariants:
// - At most one non-terminal attempt exists per (RecordID, Slot).
// - Attempts are never deleted; a later attempt for the same slot supersedes an earlier one.
// - Only provider status events move Status, and only along the allowed transitions.
//
// NOTE: ProviderCallID is the Twilio CallSid. It is unique across attempts.
type Attempt struct {
	ID       string      `json:"id" db:"id"`
	RecordID string      `json:"record_id" db:"record_id"`
	Slot     roster.Slot `json:"slot" db:"slot"`

	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	Status         Status `json:"status" db:"status"`

	InitiatedAt     time.Time  `json:"initiated_at" db:"initiated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	CalledNumber    string     `json:"called_number,omitempty" db:"called_number"`

	RecordingID        string `json:"recording_id,omitempty" db:"recording_id"`
	RecordingObjectKey string `json:"recording_object_key,omitempty" db:"recording_object_key"`

	// Transcripts in the primary (hi) and working (en) languages.
	TranscriptPrimary *string `json:"transcript_primary,omitempty" db:"transcript_primary"`
	TranscriptWorking *string `json:"transcript_working,omitempty" db:"transcript_working"`

	Intent         *string    `json:"intent,omitempty" db:"intent"`
	FutureInterest *string    `json:"future_interest,omitempty" db:"future_interest"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	StartedAt          *time.Time
	EndedAt            *time.Time
	DurationSeconds    *int
	CalledNumber       *string
	RecordingID        *string
	RecordingObjectKey *string
	TranscriptPrimary  *string
	TranscriptWorking  *string
	Intent             *string
	FutureInterest     *string
	ProcessedAt        *time.Time
}

func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply copies the set fields of p onto a.
func (p Patch) Apply(a *Attempt) {
	if p.StartedAt != nil {
		a.StartedAt = p.StartedAt
	}
	if p.EndedAt != nil {
		a.EndedAt = p.EndedAt
	}
	if p.DurationSeconds != nil {
		a.DurationSeconds = p.DurationSeconds
	}
	if p.CalledNumber != nil {
		a.CalledNumber = *p.CalledNumber
	}
	if p.RecordingID != nil {
		a.RecordingID = *p.RecordingID
	}
	if p.RecordingObjectKey != nil {
		a.RecordingObjectKey = *p.RecordingObjectKey
	}
	if p.TranscriptPrimary != nil {
		a.TranscriptPrimary = p.TranscriptPrimary
	}
	if p.TranscriptWorking != nil {
		a.TranscriptWorking = p.TranscriptWorking
	}
	if p.Intent != nil {
		a.Intent = p.Intent
	}
	if p.FutureInterest != nil {
		a.FutureInterest = p.FutureInterest
	}
	if p.ProcessedAt != nil {
		a.ProcessedAt = p.ProcessedAt
	}
}

type Status string

const (
	StatusPendingInitiation Status = "pending_initiation"
	StatusInitiated         Status = "initiated"
	StatusRinging           Status = "ringing"
	StatusPicked            Status = "picked"
	StatusDenied            Status = "denied"
	StatusNotPicked         Status = "not_picked"
	StatusFailed            Status = "failed"
	StatusCompleted         Status = "completed"
)

// Terminal reports whether no further provider transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDenied, StatusNotPicked, StatusFailed:
		return true
	default:
		return false
	}
}

// TriggersPipeline reports whether reaching s starts post-call processing.
func (s Status) TriggersPipeline() bool {
	return s == StatusCompleted || s == StatusNotPicked
}

// allowedFrom lists, for each target state, the states it may be entered from.
var allowedFrom = map[Status][]Status{
	StatusRinging:   {StatusPendingInitiation, StatusInitiated},
	StatusPicked:    {StatusInitiated, StatusRinging},
	StatusDenied:    {StatusPendingInitiation, StatusInitiated, StatusRinging},
	StatusNotPicked: {StatusPendingInitiation, StatusInitiated, StatusRinging},
	StatusFailed:    {StatusPendingInitiation, StatusInitiated, StatusRinging},
	StatusCompleted: {StatusInitiated, StatusRinging, StatusPicked},
	StatusInitiated: {StatusPendingInitiation},
}

// AllowedFrom returns the states from which to may be entered.
func AllowedFrom(to Status) []Status {
	return allowedFrom[to]
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// MapProviderStatus translates a Twilio CallStatus value. ok is false for unknown values.
func MapProviderStatus(providerStatus string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "queued", "initiated":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "answered", "in-progress":
		return StatusPicked, true
	case "busy":
		return StatusDenied, true
	case "no-answer":
		return StatusNotPicked, true
	case "failed", "canceled":
		return StatusFailed, true
	case "completed":
		return StatusCompleted, true
	default:
		return "", false
	}
}

// StatusEvent is one provider status callback, already decoded from the wire.
type StatusEvent struct {
	ProviderCallID  string
	ProviderStatus  string
	CalledNumber    string
	Timestamp       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	SequenceNumber  int
}

// Patch returns the call-detail fields carried by the event.
func (e StatusEvent) Patch() Patch {
	p := Patch{
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
	}
	if e.CalledNumber != "" {
		n := e.CalledNumber
		p.CalledNumber = &n
	}
	return p
}
