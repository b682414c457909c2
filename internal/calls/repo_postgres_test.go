package calls

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/roster"
	"followup-caller/pkg/utils/sqltest"

	"github.com/jackc/pgx/v5/pgconn"
)

var attemptCols = []string{
	"id", "record_id", "slot", "provider_call_id", "status", "initiated_at", "started_at", "ended_at",
	"duration_seconds", "called_number", "recording_id", "recording_object_key",
	"transcript_primary", "transcript_working", "intent", "future_interest", "processed_at", "updated_at",
}

// freshAttemptRow is a just-initiated attempt: every optional column is NULL.
func freshAttemptRow(status Status, at time.Time) []driver.Value {
	return []driver.Value{
		"a1", "r1", "first", "CA1", string(status), at, nil, nil,
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil, at,
	}
}

func TestPostgresRepo_GetFreshAttemptWithNullColumns(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	db := sqltest.Open(sqltest.Step{
		Match:   "FROM call_attempts WHERE provider_call_id",
		Columns: attemptCols,
		Rows:    [][]driver.Value{freshAttemptRow(StatusInitiated, at)},
	})
	defer db.Close()

	a, err := NewPostgresRepo(db.DB).GetByProviderCallID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Slot != roster.SlotFirst || a.Status != StatusInitiated || !a.InitiatedAt.Equal(at) {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if a.CalledNumber != "" || a.RecordingID != "" || a.RecordingObjectKey != "" {
		t.Fatalf("expected empty strings for NULL columns, got %+v", a)
	}
	if a.StartedAt != nil || a.EndedAt != nil || a.DurationSeconds != nil || a.ProcessedAt != nil {
		t.Fatalf("expected nil times for NULL columns, got %+v", a)
	}
	if a.TranscriptPrimary != nil || a.Intent != nil || a.FutureInterest != nil {
		t.Fatalf("expected nil post-call fields, got %+v", a)
	}
}

func TestPostgresRepo_GetFilledAttempt(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	row := freshAttemptRow(StatusCompleted, at)
	row[6], row[7], row[8] = at.Add(5*time.Second), at.Add(65*time.Second), int64(60)
	row[9], row[10], row[11] = "+919876543210", "RE1", "recordings/CA1.mp3"
	row[12], row[14], row[16] = "namaste", "yes", at.Add(time.Minute)
	db := sqltest.Open(sqltest.Step{Match: "FROM call_attempts", Columns: attemptCols, Rows: [][]driver.Value{row}})
	defer db.Close()

	a, err := NewPostgresRepo(db.DB).GetByProviderCallID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.DurationSeconds == nil || *a.DurationSeconds != 60 {
		t.Fatalf("duration = %v", a.DurationSeconds)
	}
	if a.RecordingID != "RE1" || a.RecordingObjectKey != "recordings/CA1.mp3" || a.CalledNumber != "+919876543210" {
		t.Fatalf("unexpected recording fields: %+v", a)
	}
	if a.TranscriptPrimary == nil || *a.TranscriptPrimary != "namaste" || a.TranscriptWorking != nil {
		t.Fatalf("unexpected transcripts: %+v", a)
	}
	if a.Intent == nil || *a.Intent != "yes" || a.ProcessedAt == nil {
		t.Fatalf("unexpected post-call fields: %+v", a)
	}
}

func TestPostgresRepo_GetUnknownIsNotFound(t *testing.T) {
	db := sqltest.Open(sqltest.Step{Match: "FROM call_attempts", Columns: attemptCols})
	defer db.Close()

	_, err := NewPostgresRepo(db.DB).GetByProviderCallID(context.Background(), "CA404")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresRepo_TransitionAppliesAndScansNulls(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	db := sqltest.Open(sqltest.Step{
		Match:   "UPDATE call_attempts SET",
		Columns: attemptCols,
		Rows:    [][]driver.Value{freshAttemptRow(StatusRinging, at)},
	})
	defer db.Close()

	a, err := NewPostgresRepo(db.DB).Transition(context.Background(), "CA1",
		[]Status{StatusInitiated}, StatusRinging, Patch{}, at)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if a.Status != StatusRinging || a.RecordingID != "" {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	args := db.Calls()[0].Args
	if from, ok := args[1].([]string); !ok || len(from) != 1 || from[0] != "initiated" {
		t.Fatalf("expected allowed-from statuses as text array, got %#v", args[1])
	}
	if args[2] != "ringing" {
		t.Fatalf("expected target status arg, got %#v", args[2])
	}
}

func TestPostgresRepo_TransitionUnknownIsNotFound(t *testing.T) {
	db := sqltest.Open(
		sqltest.Step{Match: "UPDATE call_attempts SET", Columns: attemptCols},
		sqltest.Step{Match: "FROM call_attempts WHERE provider_call_id", Columns: attemptCols},
	)
	defer db.Close()

	_, err := NewPostgresRepo(db.DB).Transition(context.Background(), "CA404",
		[]Status{StatusInitiated}, StatusRinging, Patch{}, time.Now())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if db.Remaining() != 0 {
		t.Fatalf("expected the lookup after a missed update")
	}
}

func TestPostgresRepo_TransitionDisallowedIsStateConflict(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	db := sqltest.Open(
		sqltest.Step{Match: "UPDATE call_attempts SET", Columns: attemptCols},
		sqltest.Step{
			Match:   "FROM call_attempts WHERE provider_call_id",
			Columns: attemptCols,
			Rows:    [][]driver.Value{freshAttemptRow(StatusCompleted, at)},
		},
	)
	defer db.Close()

	cur, err := NewPostgresRepo(db.DB).Transition(context.Background(), "CA1",
		[]Status{StatusInitiated}, StatusRinging, Patch{}, at)
	if !apperr.Is(err, apperr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if cur.Status != StatusCompleted {
		t.Fatalf("expected current attempt alongside the conflict, got %+v", cur)
	}
}

func TestPostgresRepo_InsertOutstandingIsConflict(t *testing.T) {
	db := sqltest.Open(sqltest.Step{
		Match: "INSERT INTO call_attempts",
		Err:   &pgconn.PgError{Code: "23505", ConstraintName: outstandingConstraint},
	})
	defer db.Close()

	_, err := NewPostgresRepo(db.DB).Insert(context.Background(), Attempt{
		RecordID:       "r1",
		Slot:           roster.SlotFirst,
		ProviderCallID: "CA2",
		Status:         StatusInitiated,
		InitiatedAt:    time.Now(),
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "outstanding") {
		t.Fatalf("expected outstanding message, got %v", err)
	}
}

func TestPostgresRepo_ApplyPatchMissingIsNotFound(t *testing.T) {
	db := sqltest.Open(sqltest.Step{Match: "UPDATE call_attempts SET", Affected: 0})
	defer db.Close()

	key := "recordings/CA404.mp3"
	err := NewPostgresRepo(db.DB).ApplyPatch(context.Background(), "CA404", Patch{RecordingObjectKey: &key}, time.Now())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresRepo_FindOutstandingNone(t *testing.T) {
	db := sqltest.Open(sqltest.Step{Match: "status = ANY($3::text[])", Columns: attemptCols})
	defer db.Close()

	_, ok, err := NewPostgresRepo(db.DB).FindOutstanding(context.Background(), "r1", roster.SlotSecond)
	if err != nil || ok {
		t.Fatalf("expected no outstanding attempt, got ok=%v err=%v", ok, err)
	}
}
