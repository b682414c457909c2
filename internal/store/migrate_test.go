package store

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrations_EmbeddedAndOrdered(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(entries))
	}
	prev := ""
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".sql") {
			t.Fatalf("unexpected file %q", e.Name())
		}
		if e.Name() <= prev {
			t.Fatalf("migrations out of order: %q after %q", e.Name(), prev)
		}
		prev = e.Name()
	}
}

func TestMigrations_OutstandingIndexMatchesNonTerminalStatuses(t *testing.T) {
	b, err := fs.ReadFile(Migrations(), "00002_call_attempts.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(b)
	if !strings.Contains(sql, "call_attempts_outstanding_uq") {
		t.Fatalf("expected outstanding unique index")
	}
	for _, s := range []string{"pending_initiation", "initiated", "ringing", "picked"} {
		if !strings.Contains(sql, "'"+s+"'") {
			t.Fatalf("expected %q in partial index predicate", s)
		}
	}
	if strings.Contains(sql, "'completed'") {
		t.Fatalf("terminal status must not be in the predicate")
	}
}
