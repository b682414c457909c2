package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/audit"
	"followup-caller/internal/auth"
	"followup-caller/internal/calls"
	"followup-caller/internal/followup"
	"followup-caller/internal/reporting"
	"followup-caller/internal/roster"
	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

// FollowupScheduler is the part of followup.Service the API drives.
type FollowupScheduler interface {
	ScheduleBatch(ctx context.Context, recs []roster.ShiftRecord) followup.BatchResult
	Cancel(ctx context.Context, recordID string, slot roster.Slot) (bool, error)
}

// CallInitiator is the part of calls.Orchestrator the API drives.
type CallInitiator interface {
	Initiate(ctx context.Context, recordID string, slot roster.Slot) (string, error)
	Attempts(ctx context.Context, recordID string) ([]calls.Attempt, error)
}

// EventLog records operator actions and lists call events.
type EventLog interface {
	LogOperatorAction(ctx context.Context, actor, ip, recordID, providerCallID, message, metadata string) error
	List(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

// RecordingLinker presigns archived recordings. Optional.
type RecordingLinker interface {
	DownloadURL(ctx context.Context, objectKey string) (string, time.Time, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Ingestor   *roster.Ingestor
	Records    roster.Repository
	Attempts   calls.Repository
	Followups  FollowupScheduler
	Calls      CallInitiator
	Reports    *reporting.Service
	Events     EventLog
	Recordings RecordingLinker
}

// writeError maps apperr kinds to status codes. Unknown errors are 500 and not echoed.
func writeError(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status := ae.HTTPStatus()
		if status >= 500 {
			logger.FromGin(c).Error("request failed", "err", err)
			c.AbortWithStatusJSON(status, gin.H{"error": ae.Kind.String()})
			return
		}
		c.AbortWithStatusJSON(status, gin.H{"error": ae.Message})
		return
	}
	logger.FromGin(c).Error("request failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// audit is best-effort.
func (h Handlers) audit(c *gin.Context, recordID, providerCallID, message, metadata string) {
	if h.Events == nil {
		return
	}
	actor, _ := auth.Subject(c.Request.Context())
	if err := h.Events.LogOperatorAction(c.Request.Context(), actor, c.ClientIP(), recordID, providerCallID, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// --- Auth ---

type tokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// IssueToken exchanges an operator API key for a token pair.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "api_key required"})
		return
	}
	pair, err := h.Auth.Exchange(time.Now(), req.APIKey)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	sub, _ := auth.Subject(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"subject": sub, "role": role})
}

// --- Reports ---

func (h Handlers) BatchReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	out, err := h.Reports.BatchSummary(c.Request.Context(), reporting.BatchSummaryRequest{BatchTag: c.Param("batch")})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid batch"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
