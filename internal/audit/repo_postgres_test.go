package audit

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"followup-caller/pkg/utils/sqltest"
)

func TestPostgresRepo_AppendEmptyMetadataIsNull(t *testing.T) {
	db := sqltest.Open(sqltest.Step{Match: "INSERT INTO call_events", Affected: 1})
	defer db.Close()

	err := NewPostgresRepo(db.DB).Append(context.Background(), Event{
		ID:        "e1",
		Type:      EventTypeStatusApplied,
		RecordID:  "r1",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	args := db.Calls()[0].Args
	if args[1] != "status_applied" {
		t.Fatalf("unexpected type arg: %#v", args[1])
	}
	if args[10] != nil {
		t.Fatalf("expected NULL metadata, got %#v", args[10])
	}
}

func TestPostgresRepo_ListScansEvents(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	db := sqltest.Open(sqltest.Step{
		Match: "FROM call_events",
		Columns: []string{"id", "type", "record_id", "slot", "provider_call_id", "provider_status", "status",
			"actor", "ip_address", "message", "metadata", "created_at"},
		Rows: [][]driver.Value{
			{"e1", "status_applied", "r1", "first", "CA1", "ringing", "ringing", "", "", "", "", at},
			{"e2", "transition_rejected", "r1", "first", "CA1", "completed", "completed", "", "", "late", `{"from":"completed"}`, at},
		},
	})
	defer db.Close()

	evs, err := NewPostgresRepo(db.DB).List(context.Background(), Filter{ProviderCallID: "CA1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 || evs[1].Type != EventTypeTransitionRejected || evs[1].Metadata != `{"from":"completed"}` {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if args := db.Calls()[0].Args; args[2] != defaultListLimit {
		t.Fatalf("expected default limit, got %#v", args[2])
	}
}
