package telephony

import (
	"strings"
	"testing"

	"followup-caller/internal/roster"
)

func TestVoiceScript_ForRecord(t *testing.T) {
	out, err := DefaultVoiceScript().ForRecord(roster.ShiftRecord{
		Name: "Asha", ShiftName: "Morning", ShiftTimings: "09:00-17:00",
		DressCode: "Black formals", WorkDescription: "Banquet",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{`<?xml`, `<Response>`, `language="hi-IN"`, `Asha`, `09:00-17:00`, `Black formals`, `<Pause length="5"></Pause>`, `<Hangup></Hangup>`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in twiml, got %s", want, out)
		}
	}
	if strings.Count(out, "<Say") != 4 || strings.Count(out, "<Pause") != 3 {
		t.Fatalf("unexpected verb count: %s", out)
	}
}

func TestVoiceScript_NoDressCodeSkipsQuestion(t *testing.T) {
	out, err := DefaultVoiceScript().ForRecord(roster.ShiftRecord{Name: "Ravi", ShiftName: "Night", ShiftTimings: "22:00-06:00"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Count(out, "<Say") != 3 {
		t.Fatalf("expected three prompts, got %s", out)
	}
}

func TestVoiceScript_EscapesText(t *testing.T) {
	out, err := DefaultVoiceScript().ForRecord(roster.ShiftRecord{Name: "A & <B>"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(out, "<B>") || !strings.Contains(out, "A &amp; &lt;B&gt;") {
		t.Fatalf("expected escaped name, got %s", out)
	}
}

func TestVoiceScript_Fallback(t *testing.T) {
	out, err := DefaultVoiceScript().Fallback()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Say") || !strings.Contains(out, "<Hangup>") {
		t.Fatalf("unexpected twiml: %s", out)
	}
}
