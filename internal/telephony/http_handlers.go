package telephony

import (
	"context"
	"net/http"
	"strings"
	"time"

	"followup-caller/internal/calls"
	"followup-caller/internal/roster"
	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusHandler applies a decoded status callback.
type StatusHandler interface {
	HandleStatus(ctx context.Context, e calls.StatusEvent) (calls.Attempt, error)
}

// RecordLookup resolves the record a call was placed for.
type RecordLookup interface {
	Get(ctx context.Context, id string) (roster.ShiftRecord, error)
}

// WebhookHandler serves the carrier-facing endpoints: call instructions and
// status callbacks. Decoding and rendering only.
type WebhookHandler struct {
	Status  StatusHandler
	Records RecordLookup
	Script  VoiceScript
	Now     func() time.Time
}

// HandleStatus always answers 204 so the carrier never retries; problems are logged.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	defer func() {
		if r := recover(); r != nil {
			log.Error("status callback panicked", "panic", r)
			c.Status(http.StatusNoContent)
		}
	}()

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	e, err := ParseStatusCallback(c.Request, now())
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.Status(http.StatusNoContent)
		return
	}
	log = log.With("provider_call_id", e.ProviderCallID, "provider_status", e.ProviderStatus)

	ctx := logger.With(c.Request.Context(), log)
	if _, err := h.Status.HandleStatus(ctx, e); err != nil {
		log.Info("status callback not applied", "err", err)
	}
	c.Status(http.StatusNoContent)
}

// HandleVoice returns the TwiML script for the record named by ?record_id=.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	script := h.Script
	if script.Language == "" {
		script = DefaultVoiceScript()
	}

	recordID := strings.TrimSpace(c.Query("record_id"))
	var (
		body string
		err  error
	)
	if recordID == "" || h.Records == nil {
		log.Warn("voice webhook without record id", "to", c.PostForm("To"))
		body, err = script.Fallback()
	} else if rec, gerr := h.Records.Get(c.Request.Context(), recordID); gerr != nil {
		log.Warn("voice webhook record lookup failed", "record_id", recordID, "err", gerr)
		body, err = script.Fallback()
	} else {
		body, err = script.ForRecord(rec)
	}
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, body)
}
