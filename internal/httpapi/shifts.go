package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"followup-caller/internal/apperr"
	"followup-caller/internal/audit"
	"followup-caller/internal/calls"
	"followup-caller/internal/followup"
	"followup-caller/internal/roster"
	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	maxUploadBytes  = 4 << 20
	defaultPageSize = 50
	maxPageSize     = 500
)

type ingestResponse struct {
	BatchTag   string              `json:"batch_tag"`
	Inserted   []string            `json:"inserted"`
	Rejected   []roster.RowError   `json:"rejected"`
	Scheduling followup.BatchResult `json:"scheduling"`
}

// IngestShifts stores an uploaded roster and schedules follow-ups for it.
// Unknown JSON fields are rejected.
func (h Handlers) IngestShifts(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()

	var batch roster.Batch
	if err := dec.Decode(&batch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := h.Ingestor.ValidateBatch(batch); err != nil {
		writeError(c, err)
		return
	}

	recs, rejected := h.Ingestor.Build(batch)
	resp := ingestResponse{BatchTag: batch.BatchTag, Inserted: []string{}, Rejected: rejected}
	if resp.Rejected == nil {
		resp.Rejected = []roster.RowError{}
	}
	if len(recs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}

	stored, err := h.Records.InsertBatch(c.Request.Context(), recs)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, r := range stored {
		resp.Inserted = append(resp.Inserted, r.ID)
	}
	if h.Followups != nil {
		resp.Scheduling = h.Followups.ScheduleBatch(c.Request.Context(), stored)
	}

	logger.FromGin(c).Info("roster ingested",
		"batch_tag", batch.BatchTag,
		"inserted", len(stored),
		"rejected", len(rejected),
		"scheduled", len(resp.Scheduling.Scheduled),
		"skipped", len(resp.Scheduling.Skipped),
	)
	h.audit(c, stored[0].ID, "", "roster ingested", fmt.Sprintf(`{"batch_tag":%q,"records":%d}`, batch.BatchTag, len(stored)))
	c.JSON(http.StatusCreated, resp)
}

func (h Handlers) ListShifts(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
		return
	}
	recs, err := h.Records.FindByBatch(c.Request.Context(), strings.TrimSpace(c.Query("batch")), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "limit": limit, "offset": offset})
}

type shiftDetail struct {
	roster.ShiftRecord
	Attempts []calls.Attempt `json:"attempts"`
}

func (h Handlers) GetShift(c *gin.Context) {
	rec, err := h.Records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := shiftDetail{ShiftRecord: rec, Attempts: []calls.Attempt{}}
	if h.Calls != nil {
		attempts, err := h.Calls.Attempts(c.Request.Context(), rec.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		out.Attempts = attempts
	}
	c.JSON(http.StatusOK, out)
}

type callRequest struct {
	Slot string `json:"slot" binding:"required,oneof=first second"`
}

// PlaceCall triggers a follow-up call for a slot immediately.
func (h Handlers) PlaceCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "slot must be first or second"})
		return
	}
	recordID := c.Param("id")
	ctx := logger.With(c.Request.Context(), logger.FromGin(c))
	sid, err := h.Calls.Initiate(ctx, recordID, roster.Slot(req.Slot))
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, recordID, sid, "manual call placed", fmt.Sprintf(`{"slot":%q}`, req.Slot))
	c.JSON(http.StatusAccepted, gin.H{"provider_call_id": sid})
}

// CancelFollowup drops a pending trigger for a slot.
func (h Handlers) CancelFollowup(c *gin.Context) {
	slot := roster.Slot(c.Param("slot"))
	if !slot.Valid() {
		writeError(c, apperr.Validation("slot must be first or second"))
		return
	}
	recordID := c.Param("id")
	if _, err := h.Records.Get(c.Request.Context(), recordID); err != nil {
		writeError(c, err)
		return
	}
	cancelled, err := h.Followups.Cancel(c.Request.Context(), recordID, slot)
	if err != nil {
		writeError(c, err)
		return
	}
	if !cancelled {
		writeError(c, apperr.StateConflict("no pending follow-up for this slot"))
		return
	}
	h.audit(c, recordID, "", "follow-up cancelled", fmt.Sprintf(`{"slot":%q}`, slot))
	c.Status(http.StatusNoContent)
}

func (h Handlers) ShiftEvents(c *gin.Context) {
	if h.Events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []audit.Event{}})
		return
	}
	evs, err := h.Events.List(c.Request.Context(), audit.Filter{RecordID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// RecordingLink returns a short-lived download URL for an archived recording.
func (h Handlers) RecordingLink(c *gin.Context) {
	if h.Recordings == nil || h.Attempts == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recording archive not configured"})
		return
	}
	a, err := h.Attempts.GetByProviderCallID(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	if a.RecordingObjectKey == "" {
		writeError(c, apperr.NotFound("recording not archived"))
		return
	}
	u, exp, err := h.Recordings.DownloadURL(c.Request.Context(), a.RecordingObjectKey)
	if err != nil {
		writeError(c, apperr.TransientIO("presign recording", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "expires_at": exp})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
