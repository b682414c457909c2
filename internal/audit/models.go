package audit

import "time"

// Event is an immutable, append-only record of something that happened to a call.
//
// Invariants:
// - Events are never updated or deleted (enforced by a trigger on call_events).
// - Every event names the call or the record it concerns.
// - Audit writes are best-effort; callers never block call handling on them.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	RecordID       string `json:"record_id,omitempty" db:"record_id"`
	Slot           string `json:"slot,omitempty" db:"slot"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// ProviderStatus is the raw carrier status; Status the internal state after the event.
	ProviderStatus string `json:"provider_status,omitempty" db:"provider_status"`
	Status         string `json:"status,omitempty" db:"status"`

	// Actor and IPAddress are set for operator actions.
	Actor     string `json:"actor,omitempty" db:"actor"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeStatusApplied      EventType = "status_applied"
	EventTypeTransitionRejected EventType = "transition_rejected"
	EventTypeOperatorAction     EventType = "operator_action"
)

// Filter selects events for one call or one record. Limit <= 0 means the default page.
type Filter struct {
	RecordID       string
	ProviderCallID string
	Limit          int
}
