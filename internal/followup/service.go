package followup

import (
	"context"
	"fmt"
	"sync"

	"followup-caller/internal/roster"
	"followup-caller/internal/scheduler"
	"followup-caller/pkg/logger"
)

// Initiator places the call for a fired trigger.
type Initiator interface {
	Initiate(ctx context.Context, recordID string, slot roster.Slot) (string, error)
}

// StatusWriter records planner outcomes on the shift record.
type StatusWriter interface {
	SetFollowup(ctx context.Context, id string, field roster.FollowupField, value string) error
}

// RecordError reports a record that could not be scheduled.
type RecordError struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// BatchResult summarizes one ScheduleBatch call.
type BatchResult struct {
	Scheduled []Trigger     `json:"scheduled"`
	Skipped   []Trigger     `json:"skipped"`
	Failed    []RecordError `json:"failed"`
}

// Service persists triggers, arms them on the scheduler and initiates calls when they fire.
type Service struct {
	planner   *Planner
	sched     *scheduler.Scheduler
	store     TriggerStore
	records   StatusWriter
	initiator Initiator

	mu      sync.Mutex
	handles map[string]*scheduler.Handle
}

func NewService(planner *Planner, sched *scheduler.Scheduler, store TriggerStore, records StatusWriter, initiator Initiator) *Service {
	return &Service{
		planner:   planner,
		sched:     sched,
		store:     store,
		records:   records,
		initiator: initiator,
		handles:   map[string]*scheduler.Handle{},
	}
}

// ScheduleBatch plans and arms triggers for one upload. A failing record never
// prevents its siblings from being scheduled.
func (s *Service) ScheduleBatch(ctx context.Context, recs []roster.ShiftRecord) BatchResult {
	log := logger.From(ctx)
	batch := s.planner.NewBatch()
	res := BatchResult{Scheduled: []Trigger{}, Skipped: []Trigger{}, Failed: []RecordError{}}

	for _, rec := range recs {
		triggers, err := batch.Plan(rec)
		if err != nil {
			log.Warn("followup planning failed", "record_id", rec.ID, "err", err)
			res.Failed = append(res.Failed, RecordError{RecordID: rec.ID, Error: err.Error()})
			continue
		}
		for _, t := range triggers {
			stored, err := s.store.Save(ctx, t)
			if err != nil {
				log.Error("persist trigger failed", "record_id", t.RecordID, "slot", t.Slot, "err", err)
				res.Failed = append(res.Failed, RecordError{RecordID: rec.ID, Error: err.Error()})
				continue
			}
			t.FireAt = stored
			if s.isArmed(t) {
				res.Scheduled = append(res.Scheduled, t)
				continue
			}
			armed, err := s.arm(ctx, t)
			if err != nil {
				res.Failed = append(res.Failed, RecordError{RecordID: rec.ID, Error: err.Error()})
				continue
			}
			if armed {
				res.Scheduled = append(res.Scheduled, t)
			} else {
				res.Skipped = append(res.Skipped, t)
			}
		}
	}
	log.Info("followup batch scheduled",
		"records", len(recs),
		"scheduled", len(res.Scheduled),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
	)
	return res
}

// Recover re-arms every persisted trigger with its stored fire time. Call once on boot.
func (s *Service) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, t := range pending {
		if s.isArmed(t) {
			continue
		}
		ok, err := s.arm(ctx, t)
		if err != nil {
			logger.From(ctx).Error("re-arm trigger failed", "record_id", t.RecordID, "slot", t.Slot, "err", err)
			continue
		}
		if ok {
			armed++
		}
	}
	logger.From(ctx).Info("followup triggers recovered", "persisted", len(pending), "armed", armed)
	return armed, nil
}

// Cancel drops a pending trigger. It reports false if nothing was pending.
func (s *Service) Cancel(ctx context.Context, recordID string, slot roster.Slot) (bool, error) {
	key := Trigger{RecordID: recordID, Slot: slot}.Key()
	s.mu.Lock()
	h := s.handles[key]
	delete(s.handles, key)
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}

	claimed, err := s.store.Claim(ctx, recordID, slot)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	s.writeStatus(ctx, recordID, slot, roster.FollowupCancelled)
	return true, nil
}

// arm hands a persisted trigger to the scheduler. It reports false when the
// trigger was stale and therefore skipped.
func (s *Service) arm(ctx context.Context, t Trigger) (bool, error) {
	name := fmt.Sprintf("followup:%s", t.Key())
	s.writeStatus(ctx, t.RecordID, t.Slot, roster.FollowupScheduled)

	// Held across Schedule so a trigger firing immediately cannot race its own registration.
	s.mu.Lock()
	h, err := s.sched.Schedule(t.FireAt, name, s.fireAction(t))
	if err == nil && !h.Skipped() {
		s.handles[t.Key()] = h
	}
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if h.Skipped() {
		if _, err := s.store.Claim(ctx, t.RecordID, t.Slot); err != nil {
			logger.From(ctx).Warn("drop skipped trigger failed", "record_id", t.RecordID, "slot", t.Slot, "err", err)
		}
		s.writeStatus(ctx, t.RecordID, t.Slot, roster.FollowupSkipped)
		return false, nil
	}
	return true, nil
}

func (s *Service) fireAction(t Trigger) scheduler.Action {
	return func(ctx context.Context) error {
		s.mu.Lock()
		delete(s.handles, t.Key())
		s.mu.Unlock()

		log := logger.From(ctx).With("record_id", t.RecordID, "slot", t.Slot)
		claimed, err := s.store.Claim(ctx, t.RecordID, t.Slot)
		if err != nil {
			return err
		}
		if !claimed {
			log.Info("trigger already claimed; not initiating")
			return nil
		}

		sid, err := s.initiator.Initiate(ctx, t.RecordID, t.Slot)
		if err != nil {
			s.writeStatus(ctx, t.RecordID, t.Slot, roster.FollowupFailed)
			return fmt.Errorf("initiate followup call: %w", err)
		}
		log.Info("followup call initiated", "provider_call_id", sid)
		return nil
	}
}

func (s *Service) isArmed(t Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[t.Key()]
	return ok
}

// Pending reports how many triggers this process has armed.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Service) writeStatus(ctx context.Context, recordID string, slot roster.Slot, value string) {
	if s.records == nil {
		return
	}
	if err := s.records.SetFollowup(ctx, recordID, slot.Field(), value); err != nil {
		logger.From(ctx).Warn("update followup status failed", "record_id", recordID, "slot", slot, "value", value, "err", err)
	}
}
