package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/roster"
	"followup-caller/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the call_attempts table from the embedded migrations, with:
// - UNIQUE (provider_call_id)
// - a partial UNIQUE index on (record_id, slot) WHERE status is non-terminal
//   (call_attempts_outstanding_uq), which backs the single-outstanding invariant.

const outstandingConstraint = "call_attempts_outstanding_uq"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const attemptColumns = `
id, record_id, slot, provider_call_id, status, initiated_at, started_at, ended_at,
duration_seconds, called_number, recording_id, recording_object_key,
transcript_primary, transcript_working, intent, future_interest, processed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s rowScanner) (Attempt, error) {
	var (
		a                          Attempt
		slot, status               string
		startedAt, endedAt, procAt sql.NullTime
		duration                   sql.NullInt64
		calledNumber               sql.NullString
		recordingID, objectKey     sql.NullString
		primary, working           sql.NullString
		intent, future             sql.NullString
	)
	if err := s.Scan(
		&a.ID,
		&a.RecordID,
		&slot,
		&a.ProviderCallID,
		&status,
		&a.InitiatedAt,
		&startedAt,
		&endedAt,
		&duration,
		&calledNumber,
		&recordingID,
		&objectKey,
		&primary,
		&working,
		&intent,
		&future,
		&procAt,
		&a.UpdatedAt,
	); err != nil {
		return Attempt{}, err
	}
	a.Slot = roster.Slot(slot)
	a.Status = Status(status)
	a.StartedAt = timePtr(startedAt)
	a.EndedAt = timePtr(endedAt)
	a.ProcessedAt = timePtr(procAt)
	if duration.Valid {
		d := int(duration.Int64)
		a.DurationSeconds = &d
	}
	a.CalledNumber = calledNumber.String
	a.RecordingID = recordingID.String
	a.RecordingObjectKey = objectKey.String
	a.TranscriptPrimary = stringPtr(primary)
	a.TranscriptWorking = stringPtr(working)
	a.Intent = stringPtr(intent)
	a.FutureInterest = stringPtr(future)
	return a, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func (r *PostgresRepo) Insert(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ProviderCallID == "" {
		return Attempt{}, apperr.Validation("provider call id is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.InitiatedAt
	}
	const q = `
INSERT INTO call_attempts (
  id, record_id, slot, provider_call_id, status, initiated_at, called_number, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.RecordID,
		string(a.Slot),
		a.ProviderCallID,
		string(a.Status),
		a.InitiatedAt,
		a.CalledNumber,
		a.UpdatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err, outstandingConstraint) {
			return Attempt{}, apperr.Conflict("an attempt is already outstanding for this slot")
		}
		if utils.IsUniqueViolation(err, "") {
			return Attempt{}, apperr.Conflict("call attempt already recorded")
		}
		return Attempt{}, apperr.TransientIO("insert call attempt", err)
	}
	return a, nil
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE provider_call_id = $1`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, apperr.NotFound("call attempt not found")
		}
		return Attempt{}, apperr.TransientIO("load call attempt", err)
	}
	return a, nil
}

func (r *PostgresRepo) FindByRecord(ctx context.Context, recordID string) ([]Attempt, error) {
	return r.FindByRecords(ctx, []string{recordID})
}

func (r *PostgresRepo) FindByRecords(ctx context.Context, recordIDs []string) ([]Attempt, error) {
	if len(recordIDs) == 0 {
		return []Attempt{}, nil
	}
	q := `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE record_id = ANY($1::text[])
ORDER BY initiated_at, id`
	return r.query(ctx, q, recordIDs)
}

func (r *PostgresRepo) FindOutstanding(ctx context.Context, recordID string, slot roster.Slot) (Attempt, bool, error) {
	q := `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE record_id = $1 AND slot = $2 AND status = ANY($3::text[])
LIMIT 1`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, q, recordID, string(slot), nonTerminal()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, false, nil
		}
		return Attempt{}, false, apperr.TransientIO("load outstanding attempt", err)
	}
	return a, true, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, providerCallID string, from []Status, to Status, p Patch, at time.Time) (Attempt, error) {
	q := `
UPDATE call_attempts SET
  status = $3,
  started_at = COALESCE($4, started_at),
  ended_at = COALESCE($5, ended_at),
  duration_seconds = COALESCE($6, duration_seconds),
  called_number = COALESCE($7, called_number),
  updated_at = $8
WHERE provider_call_id = $1 AND status = ANY($2::text[])
RETURNING ` + attemptColumns
	a, err := scanAttempt(r.db.QueryRowContext(ctx, q,
		providerCallID,
		statusStrings(from),
		string(to),
		p.StartedAt,
		p.EndedAt,
		p.DurationSeconds,
		p.CalledNumber,
		at,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.TransientIO("transition call attempt", err)
	}

	// No row matched: distinguish an unknown id from a disallowed transition.
	current, gerr := r.GetByProviderCallID(ctx, providerCallID)
	if gerr != nil {
		return Attempt{}, gerr
	}
	return current, apperr.StateConflict("transition " + string(current.Status) + " -> " + string(to) + " not allowed")
}

func (r *PostgresRepo) ApplyPatch(ctx context.Context, providerCallID string, p Patch, at time.Time) error {
	const q = `
UPDATE call_attempts SET
  started_at = COALESCE($2, started_at),
  ended_at = COALESCE($3, ended_at),
  duration_seconds = COALESCE($4, duration_seconds),
  called_number = COALESCE($5, called_number),
  recording_id = COALESCE($6, recording_id),
  recording_object_key = COALESCE($7, recording_object_key),
  transcript_primary = COALESCE($8, transcript_primary),
  transcript_working = COALESCE($9, transcript_working),
  intent = COALESCE($10, intent),
  future_interest = COALESCE($11, future_interest),
  processed_at = COALESCE($12, processed_at),
  updated_at = $13
WHERE provider_call_id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		providerCallID,
		p.StartedAt,
		p.EndedAt,
		p.DurationSeconds,
		p.CalledNumber,
		p.RecordingID,
		p.RecordingObjectKey,
		p.TranscriptPrimary,
		p.TranscriptWorking,
		p.Intent,
		p.FutureInterest,
		p.ProcessedAt,
		at,
	)
	if err != nil {
		return apperr.TransientIO("patch call attempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.TransientIO("patch call attempt", err)
	}
	if n == 0 {
		return apperr.NotFound("call attempt not found")
	}
	return nil
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Attempt, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.TransientIO("list call attempts", err)
	}
	defer rows.Close()
	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, apperr.TransientIO("scan call attempt", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.TransientIO("list call attempts", err)
	}
	return out, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func nonTerminal() []string {
	return []string{
		string(StatusPendingInitiation),
		string(StatusInitiated),
		string(StatusRinging),
		string(StatusPicked),
	}
}
