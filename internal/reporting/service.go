package reporting

import (
	"context"
	"errors"
	"strings"

	"followup-caller/internal/calls"
	"followup-caller/internal/roster"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const pageSize = 500

// Source abstracts data access for reporting. Reports read records and attempts
// only; they never write.
type Source interface {
	FindByBatch(ctx context.Context, batchTag string, limit, offset int) ([]roster.ShiftRecord, error)
	FindByRecords(ctx context.Context, recordIDs []string) ([]calls.Attempt, error)
}

// StoreSource joins the record and attempt repositories into a Source.
type StoreSource struct {
	Records  roster.Repository
	Attempts calls.Repository
}

func (s StoreSource) FindByBatch(ctx context.Context, batchTag string, limit, offset int) ([]roster.ShiftRecord, error) {
	return s.Records.FindByBatch(ctx, batchTag, limit, offset)
}

func (s StoreSource) FindByRecords(ctx context.Context, recordIDs []string) ([]calls.Attempt, error) {
	return s.Attempts.FindByRecords(ctx, recordIDs)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) BatchSummary(ctx context.Context, req BatchSummaryRequest) (BatchSummary, error) {
	if len(req.BatchTag) > 128 {
		return BatchSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return BatchSummary{}, errors.New("reporting: source not configured")
	}

	out := BatchSummary{
		BatchTag:       req.BatchTag,
		Followups:      map[string]map[string]int{},
		AttemptsByStat: map[string]int{},
	}
	for offset := 0; ; offset += pageSize {
		recs, err := s.src.FindByBatch(ctx, req.BatchTag, pageSize, offset)
		if err != nil {
			return BatchSummary{}, err
		}
		if len(recs) == 0 {
			break
		}
		ids := make([]string, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
			out.Records++
			if !r.PhoneValid {
				out.InvalidPhones++
			}
			countFollowup(out.Followups, string(roster.FieldFirst), r.Followup.First)
			countFollowup(out.Followups, string(roster.FieldSecond), r.Followup.Second)
		}

		attempts, err := s.src.FindByRecords(ctx, ids)
		if err != nil {
			return BatchSummary{}, err
		}
		for _, a := range attempts {
			out.Attempts++
			out.AttemptsByStat[string(a.Status)]++
			if a.Status == calls.StatusCompleted {
				out.ConnectedCalls++
			}
			if a.DurationSeconds != nil {
				out.TotalDurationSeconds += *a.DurationSeconds
			}
			if a.RecordingID != "" {
				out.RecordedCalls++
			}
			if a.ProcessedAt != nil {
				out.ProcessedCalls++
			}
			if a.Intent != nil {
				switch yesNo(*a.Intent) {
				case "yes":
					out.IntentYes++
				case "no":
					out.IntentNo++
				}
			}
			if a.FutureInterest != nil && yesNo(*a.FutureInterest) == "yes" {
				out.FutureInterestYes++
			}
		}
		if len(recs) < pageSize {
			break
		}
	}

	if out.ConnectedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.ConnectedCalls
	}
	if out.Attempts > 0 {
		out.ConnectionRate = float64(out.ConnectedCalls) / float64(out.Attempts)
	}
	return out, nil
}

func countFollowup(m map[string]map[string]int, slot, value string) {
	if value == "" {
		return
	}
	if m[slot] == nil {
		m[slot] = map[string]int{}
	}
	m[slot][value]++
}

// yesNo folds free-text classifier answers ("Yes.", " no") to yes/no, or "".
func yesNo(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimRight(v, ".!")
	switch {
	case strings.HasPrefix(v, "yes"):
		return "yes"
	case strings.HasPrefix(v, "no"):
		return "no"
	}
	return ""
}
