package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/audit"
	"followup-caller/internal/auth"
	"followup-caller/internal/calls"
	"followup-caller/internal/config"
	"followup-caller/internal/followup"
	"followup-caller/internal/reporting"
	"followup-caller/internal/roster"

	"github.com/gin-gonic/gin"
)

type fakeFollowups struct {
	batches   [][]roster.ShiftRecord
	cancelled bool
}

func (f *fakeFollowups) ScheduleBatch(ctx context.Context, recs []roster.ShiftRecord) followup.BatchResult {
	f.batches = append(f.batches, recs)
	out := followup.BatchResult{}
	for _, r := range recs {
		out.Scheduled = append(out.Scheduled, followup.Trigger{RecordID: r.ID, Slot: roster.SlotFirst})
	}
	return out
}

func (f *fakeFollowups) Cancel(ctx context.Context, recordID string, slot roster.Slot) (bool, error) {
	return f.cancelled, nil
}

type fakeCalls struct {
	err error
}

func (f *fakeCalls) Initiate(ctx context.Context, recordID string, slot roster.Slot) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "CA100", nil
}

func (f *fakeCalls) Attempts(ctx context.Context, recordID string) ([]calls.Attempt, error) {
	return []calls.Attempt{{RecordID: recordID, ProviderCallID: "CA100", Status: calls.StatusInitiated}}, nil
}

type fixture struct {
	h         Handlers
	router    *gin.Engine
	records   *roster.MemoryRepo
	followups *fakeFollowups
	events    *audit.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
		APIKeys: []config.APIKey{{Subject: "ops", Role: "operator", Key: "k1"}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	records := roster.NewMemoryRepo()
	attempts := calls.NewMemoryRepo()
	events := audit.NewMemoryRepo()
	f := &fixture{records: records, followups: &fakeFollowups{}, events: events}
	f.h = Handlers{
		Auth:      mgr,
		Ingestor:  roster.NewIngestor(time.UTC),
		Records:   records,
		Attempts:  attempts,
		Followups: f.followups,
		Calls:     &fakeCalls{},
		Reports:   reporting.NewService(reporting.StoreSource{Records: records, Attempts: attempts}),
		Events:    audit.NewService(events),
	}
	f.router = f.build()
	return f
}

func (f *fixture) build() *gin.Engine {
	r := gin.New()
	r.POST("/v1/auth/token", f.h.IssueToken)
	r.POST("/v1/shifts", f.h.IngestShifts)
	r.GET("/v1/shifts", f.h.ListShifts)
	r.GET("/v1/shifts/:id", f.h.GetShift)
	r.POST("/v1/shifts/:id/calls", f.h.PlaceCall)
	r.DELETE("/v1/shifts/:id/followups/:slot", f.h.CancelFollowup)
	r.GET("/v1/shifts/:id/events", f.h.ShiftEvents)
	r.GET("/v1/reports/batches/:batch", f.h.BatchReport)
	return r
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T) string {
	t.Helper()
	id, err := f.records.Insert(context.Background(), roster.ShiftRecord{
		Name: "Asha", Phone: "+919876543210", PhoneValid: true, ShiftDate: "2025-03-10", ShiftTimings: "09:00-17:00", BatchTag: "march",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func TestIngestShifts(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/v1/shifts", map[string]any{
		"batch_tag": "march",
		"rows": []map[string]string{
			{"Name": " Asha ", "Number": "9876543210", "Shift Name": "Morning Shift", "Shift Timings": "09:00 - 17:00", "date": "10/03/2025"},
			{"Name": "Ravi", "Number": "9876543211", "Shift Timings": "09:00-17:00", "date": "31/31/2025"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Inserted) != 1 || len(resp.Rejected) != 1 || resp.Rejected[0].Index != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(f.followups.batches) != 1 || len(resp.Scheduling.Scheduled) != 1 {
		t.Fatalf("expected inserted records to be scheduled")
	}
	rec, err := f.records.Get(context.Background(), resp.Inserted[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Name != "Asha" || rec.ShiftName != "Morning" || rec.ShiftTimings != "09:00-17:00" || rec.ShiftDate != "2025-03-10" || rec.Phone != "+919876543210" {
		t.Fatalf("unexpected normalized record: %+v", rec)
	}
}

func TestIngestShifts_RejectsUnknownFieldsAndInvalidBatch(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/v1/shifts", `{"batch_tag":"x","rows":[{"Name":"a","Number":"1","Shift Timings":"09:00-10:00","date":"2025-03-10","Extra":"y"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/shifts", map[string]any{"batch_tag": "x", "rows": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty rows, got %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/shifts", map[string]any{
		"batch_tag": "x",
		"rows":      []map[string]string{{"Name": "a", "Number": "1", "Shift Timings": "bad", "date": "2025-03-10"}},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when every row is rejected, got %d", w.Code)
	}
}

func TestListAndGetShift(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t)

	w := f.do(http.MethodGet, "/v1/shifts?batch=march&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/shifts?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/v1/shifts/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got shiftDetail
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != id || len(got.Attempts) != 1 {
		t.Fatalf("unexpected detail: %+v", got)
	}
	if w := f.do(http.MethodGet, "/v1/shifts/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPlaceCall(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t)

	if w := f.do(http.MethodPost, "/v1/shifts/"+id+"/calls", map[string]string{"slot": "third"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/shifts/"+id+"/calls", map[string]string{"slot": "first"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	evs := f.events.Events()
	if len(evs) != 1 || evs[0].ProviderCallID != "CA100" || evs[0].Type != audit.EventTypeOperatorAction {
		t.Fatalf("expected operator audit event, got %+v", evs)
	}

	f.h.Calls = &fakeCalls{err: apperr.Conflict("call CA1 is still outstanding for this slot")}
	f.router = f.build()
	if w := f.do(http.MethodPost, "/v1/shifts/"+id+"/calls", map[string]string{"slot": "first"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	f.h.Calls = &fakeCalls{err: apperr.Provider("place call", nil)}
	f.router = f.build()
	if w := f.do(http.MethodPost, "/v1/shifts/"+id+"/calls", map[string]string{"slot": "first"}); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCancelFollowup(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t)

	if w := f.do(http.MethodDelete, "/v1/shifts/"+id+"/followups/first", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when nothing pending, got %d", w.Code)
	}
	f.followups.cancelled = true
	if w := f.do(http.MethodDelete, "/v1/shifts/"+id+"/followups/first", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/v1/shifts/"+id+"/followups/third", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown slot, got %d", w.Code)
	}
	w := f.do(http.MethodGet, "/v1/shifts/"+id+"/events", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("follow-up cancelled")) {
		t.Fatalf("expected cancel event listed, got %s", w.Body.String())
	}
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/v1/auth/token", map[string]string{"api_key": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/auth/token", map[string]string{"api_key": "k1"})
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("access_token")) {
		t.Fatalf("expected token pair, got %d %s", w.Code, w.Body.String())
	}
}

func TestBatchReport(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	w := f.do(http.MethodGet, "/v1/reports/batches/march", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out reporting.BatchSummary
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Records != 1 || out.BatchTag != "march" {
		t.Fatalf("unexpected report: %+v", out)
	}
}
