package calls

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/phone"
	"followup-caller/internal/roster"
	"followup-caller/pkg/logger"
)

// Provider places outbound calls.
type Provider interface {
	PlaceCall(ctx context.Context, to, instructionURL, statusURL string) (providerCallID string, err error)
}

// RecordStore is the part of the roster store the orchestrator needs.
type RecordStore interface {
	Get(ctx context.Context, id string) (roster.ShiftRecord, error)
	SetFollowup(ctx context.Context, id string, field roster.FollowupField, value string) error
}

// Dispatcher starts post-call processing out of the webhook response path.
type Dispatcher interface {
	Dispatch(ctx context.Context, providerCallID string) error
}

// Auditor records accepted and rejected status events. Best-effort.
type Auditor interface {
	StatusApplied(ctx context.Context, a Attempt, providerStatus string) error
	TransitionRejected(ctx context.Context, a Attempt, providerStatus string, reason string) error
}

// Options configures callback URLs and locking.
type Options struct {
	// PublicBaseURL is where the provider reaches our webhooks, e.g. https://calls.example.com.
	PublicBaseURL   string
	InstructionPath string
	StatusPath      string
	LockTTL         time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	out.PublicBaseURL = strings.TrimRight(out.PublicBaseURL, "/")
	if out.InstructionPath == "" {
		out.InstructionPath = "/webhooks/twilio/voice"
	}
	if out.StatusPath == "" {
		out.StatusPath = "/webhooks/twilio/status"
	}
	if out.LockTTL <= 0 {
		out.LockTTL = 30 * time.Second
	}
	return out
}

// Orchestrator owns the lifecycle of call attempts.
type Orchestrator struct {
	records    RecordStore
	attempts   Repository
	provider   Provider
	locker     Locker
	dispatcher Dispatcher
	auditor    Auditor
	opts       Options
	clock      func() time.Time
}

func NewOrchestrator(records RecordStore, attempts Repository, provider Provider, locker Locker, dispatcher Dispatcher, auditor Auditor, opts Options) *Orchestrator {
	return &Orchestrator{
		records:    records,
		attempts:   attempts,
		provider:   provider,
		locker:     locker,
		dispatcher: dispatcher,
		auditor:    auditor,
		opts:       opts.withDefaults(),
		clock:      time.Now,
	}
}

// InstructionURL is the call-flow webhook for a record.
func (o *Orchestrator) InstructionURL(recordID string) string {
	return o.opts.PublicBaseURL + o.opts.InstructionPath + "?record_id=" + url.QueryEscape(recordID)
}

func (o *Orchestrator) StatusURL() string {
	return o.opts.PublicBaseURL + o.opts.StatusPath
}

// Initiate places the follow-up call for a record slot and records the attempt.
//
// On any failure before the provider accepts the call, no attempt is stored.
func (o *Orchestrator) Initiate(ctx context.Context, recordID string, slot roster.Slot) (string, error) {
	if !slot.Valid() {
		return "", apperr.Validation("unknown follow-up slot")
	}
	rec, err := o.records.Get(ctx, recordID)
	if err != nil {
		return "", err
	}
	if !rec.PhoneValid || !phone.Valid(rec.Phone) {
		return "", apperr.Validation("record has no dialable phone number")
	}
	if o.opts.PublicBaseURL == "" {
		return "", apperr.Validation("public callback base url is not configured")
	}
	if o.provider == nil {
		return "", apperr.Validation("call provider is not configured")
	}

	log := logger.From(ctx).With("record_id", recordID, "slot", slot)

	if o.locker != nil {
		release, ok, err := o.locker.Acquire(ctx, recordID+":"+string(slot), o.opts.LockTTL)
		if err != nil {
			return "", apperr.TransientIO("acquire initiation lock", err)
		}
		if !ok {
			return "", apperr.Conflict("initiation already in progress for this slot")
		}
		defer release()
	}

	if existing, ok, err := o.attempts.FindOutstanding(ctx, recordID, slot); err != nil {
		return "", err
	} else if ok {
		return "", apperr.Conflict("call " + existing.ProviderCallID + " is still outstanding for this slot")
	}

	sid, err := o.provider.PlaceCall(ctx, rec.Phone, o.InstructionURL(recordID), o.StatusURL())
	if err != nil {
		if apperr.GetKind(err) == apperr.KindUnknown {
			err = apperr.Provider("place call", err)
		}
		log.Warn("call initiation failed", "err", err)
		return "", err
	}

	now := o.clock().UTC()
	if _, err := o.attempts.Insert(ctx, Attempt{
		RecordID:       recordID,
		Slot:           slot,
		ProviderCallID: sid,
		Status:         StatusInitiated,
		InitiatedAt:    now,
		CalledNumber:   rec.Phone,
		UpdatedAt:      now,
	}); err != nil {
		// The call is already with the provider; its status events will be discarded as unknown.
		log.Error("call placed but attempt not recorded", "provider_call_id", sid, "err", err)
		return sid, err
	}

	if err := o.records.SetFollowup(ctx, recordID, slot.Field(), roster.FollowupInitiated); err != nil {
		log.Warn("update followup status failed", "err", err)
	}
	log.Info("call initiated", "provider_call_id", sid)
	return sid, nil
}

// HandleStatus applies one provider status event.
//
// Unknown call ids and disallowed transitions are logged and discarded; the
// returned error lets the caller log, but must never be surfaced to the provider.
func (o *Orchestrator) HandleStatus(ctx context.Context, e StatusEvent) (Attempt, error) {
	log := logger.From(ctx).With("provider_call_id", e.ProviderCallID, "provider_status", e.ProviderStatus)
	if e.ProviderCallID == "" {
		return Attempt{}, apperr.Validation("status event without call id")
	}
	to, ok := MapProviderStatus(e.ProviderStatus)
	if !ok {
		log.Warn("unknown provider status; discarded")
		return Attempt{}, apperr.Validation("unknown provider status " + e.ProviderStatus)
	}

	at := e.Timestamp
	if at.IsZero() {
		at = o.clock()
	}
	a, err := o.attempts.Transition(ctx, e.ProviderCallID, AllowedFrom(to), to, e.Patch(), at.UTC())
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindNotFound):
		log.Warn("status event for unknown call; discarded")
		return Attempt{}, err
	case apperr.Is(err, apperr.KindStateConflict) && a.Status == to && !to.Terminal():
		// The attempt is stored as initiated, so the provider's own initiated
		// callback (and any ringing redelivery) repeats what is already recorded.
		log.Debug("status already recorded; ignored", "status", a.Status)
		return a, nil
	case apperr.Is(err, apperr.KindStateConflict):
		log.Info("status transition rejected; discarded", "current_status", a.Status, "target_status", to)
		o.auditRejected(ctx, a, e.ProviderStatus, err)
		return a, err
	default:
		log.Error("status transition failed", "err", err)
		return Attempt{}, err
	}

	log.Info("call status updated", "status", a.Status, "record_id", a.RecordID, "slot", a.Slot)
	if o.auditor != nil {
		if aerr := o.auditor.StatusApplied(ctx, a, e.ProviderStatus); aerr != nil {
			log.Warn("audit status event failed", "err", aerr)
		}
	}

	if a.Status.Terminal() {
		if err := o.records.SetFollowup(ctx, a.RecordID, a.Slot.Field(), string(a.Status)); err != nil {
			log.Warn("update followup status failed", "err", err)
		}
	}
	if a.Status.TriggersPipeline() && o.dispatcher != nil {
		if err := o.dispatcher.Dispatch(ctx, a.ProviderCallID); err != nil {
			log.Error("dispatch post-call processing failed", "err", err)
		}
	}
	return a, nil
}

func (o *Orchestrator) auditRejected(ctx context.Context, a Attempt, providerStatus string, cause error) {
	if o.auditor == nil {
		return
	}
	reason := cause.Error()
	var ae *apperr.Error
	if errors.As(cause, &ae) {
		reason = ae.Message
	}
	if err := o.auditor.TransitionRejected(ctx, a, providerStatus, reason); err != nil {
		logger.From(ctx).Warn("audit rejected transition failed", "err", err)
	}
}

// Attempts lists the attempts for a record, oldest first.
func (o *Orchestrator) Attempts(ctx context.Context, recordID string) ([]Attempt, error) {
	return o.attempts.FindByRecord(ctx, recordID)
}
