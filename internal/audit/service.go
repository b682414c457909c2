package audit

import (
	"context"
	"errors"
	"time"

	"followup-caller/internal/calls"

	"github.com/google/uuid"
)

const defaultListLimit = 200

// Repository is the persistence contract for call events.
// It is append-only: no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Service appends call events. It implements calls.Auditor.
//
// Audit is internal-only; callers treat failures as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

var _ calls.Auditor = (*Service)(nil)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.RecordID == "" && e.ProviderCallID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// StatusApplied records a status callback that moved (or re-confirmed) an attempt.
func (s *Service) StatusApplied(ctx context.Context, a calls.Attempt, providerStatus string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeStatusApplied,
		RecordID:       a.RecordID,
		Slot:           string(a.Slot),
		ProviderCallID: a.ProviderCallID,
		ProviderStatus: providerStatus,
		Status:         string(a.Status),
	})
}

// TransitionRejected records a status callback the state machine refused.
func (s *Service) TransitionRejected(ctx context.Context, a calls.Attempt, providerStatus, reason string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeTransitionRejected,
		RecordID:       a.RecordID,
		Slot:           string(a.Slot),
		ProviderCallID: a.ProviderCallID,
		ProviderStatus: providerStatus,
		Status:         string(a.Status),
		Message:        reason,
	})
}

// LogOperatorAction records a manual action taken through the ops API.
func (s *Service) LogOperatorAction(ctx context.Context, actor, ip, recordID, providerCallID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeOperatorAction,
		RecordID:       recordID,
		ProviderCallID: providerCallID,
		Actor:          actor,
		IPAddress:      ip,
		Message:        message,
		Metadata:       metadata,
	})
}

func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.RecordID == "" && f.ProviderCallID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, f)
}
