package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"followup-caller/internal/calls"
)

// Twilio status callbacks are application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Parsing only. State decisions belong to calls.Orchestrator.

// twilioTimeLayout is RFC 1123 with a numeric zone, e.g. "Mon, 10 Mar 2025 03:24:00 +0000".
const twilioTimeLayout = time.RFC1123Z

var errMissingCallSid = errors.New("telephony: CallSid is required")

// ParseStatusCallback decodes a status callback into a calls.StatusEvent.
// Optional fields that fail to parse are dropped rather than rejecting the callback.
func ParseStatusCallback(r *http.Request, now time.Time) (calls.StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return calls.StatusEvent{}, err
	}
	e := calls.StatusEvent{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		ProviderStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
		CalledNumber:   strings.TrimSpace(r.PostFormValue("To")),
		Timestamp:      now.UTC(),
	}
	if e.ProviderCallID == "" {
		return calls.StatusEvent{}, errMissingCallSid
	}
	if e.CalledNumber == "" {
		e.CalledNumber = strings.TrimSpace(r.PostFormValue("Called"))
	}
	if ts, ok := parseTwilioTime(r.PostFormValue("Timestamp")); ok {
		e.Timestamp = ts
	}
	if n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("SequenceNumber"))); err == nil {
		e.SequenceNumber = n
	}
	if ts, ok := parseTwilioTime(r.PostFormValue("StartTime")); ok {
		e.StartedAt = &ts
	}
	if ts, ok := parseTwilioTime(r.PostFormValue("EndTime")); ok {
		e.EndedAt = &ts
	}
	if raw := strings.TrimSpace(r.PostFormValue("CallDuration")); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			e.DurationSeconds = &d
		}
	}

	// The completed callback carries CallDuration but no start/end; derive them
	// from the event timestamp.
	if st, _ := calls.MapProviderStatus(e.ProviderStatus); st == calls.StatusCompleted && e.DurationSeconds != nil {
		if e.EndedAt == nil {
			end := e.Timestamp
			e.EndedAt = &end
		}
		if e.StartedAt == nil {
			start := e.EndedAt.Add(-time.Duration(*e.DurationSeconds) * time.Second)
			e.StartedAt = &start
		}
	}
	return e, nil
}

func parseTwilioTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{twilioTimeLayout, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
