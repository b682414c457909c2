package main

import (
	"log/slog"
	"net/http"

	"followup-caller/internal/auth"
	"followup-caller/internal/config"
	"followup-caller/internal/httpapi"
	"followup-caller/internal/rbac"
	"followup-caller/internal/telephony"
	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	webhooks telephony.WebhookHandler
	api      httpapi.Handlers
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func newRouter(log *slog.Logger, cfg config.Config, authManager *auth.Manager, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(logger.Middleware(log))
	r.Use(logger.Recovery())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Carrier webhooks. Signatures are checked when enabled; the status
	// callback answers 204 regardless of what happens downstream.
	hooks := r.Group("/webhooks/twilio")
	if cfg.Twilio.ValidateSignatures {
		hooks.Use(telephony.RequireSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL))
	}
	{
		hooks.POST("/status", deps.webhooks.HandleStatus)
		hooks.POST("/voice", deps.webhooks.HandleVoice)
		hooks.GET("/voice", deps.webhooks.HandleVoice)
	}

	h := deps.api

	// token issuance (API key exchange, refresh)
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/token", h.IssueToken)
		authGroup.POST("/refresh", h.RefreshToken)
	}

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.GET("/me", h.Me)

		read := v1.Group("")
		read.Use(rbac.ReadAccess())
		{
			read.GET("/shifts", h.ListShifts)
			read.GET("/shifts/:id", h.GetShift)
			read.GET("/shifts/:id/events", h.ShiftEvents)
			read.GET("/calls/:sid/recording", h.RecordingLink)
			read.GET("/reports/batches/:batch", h.BatchReport)
		}

		write := v1.Group("")
		write.Use(rbac.WriteAccess())
		{
			write.POST("/shifts", h.IngestShifts)
			write.POST("/shifts/:id/calls", h.PlaceCall)
			write.DELETE("/shifts/:id/followups/:slot", h.CancelFollowup)
		}
	}
	return r
}
