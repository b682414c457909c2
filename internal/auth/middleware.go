package auth

import (
	"net/http"
	"strings"
	"time"

	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	apiKeyHeader        = "X-API-Key"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken accepts either a bearer access token or, for scripted
// roster uploads, a configured key in X-API-Key. The resolved identity goes
// into the request context and the request logger. Roles are checked by rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, role, ok := identify(c, m)
		if !ok {
			return
		}

		ctx := WithIdentity(c.Request.Context(), subject, role)
		ctx = logger.With(ctx, logger.From(ctx).With("subject", subject))
		c.Request = c.Request.WithContext(ctx)

		c.Set("subject", subject)
		c.Set("role", role)

		c.Next()
	}
}

// identify aborts the request itself when it returns ok=false.
func identify(c *gin.Context, m *Manager) (subject, role string, ok bool) {
	if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
		subject, role, err := m.Authenticate(key)
		if err != nil {
			logger.FromGin(c).Warn("api key rejected", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return "", "", false
		}
		return subject, role, true
	}

	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return "", "", false
	}
	claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
	if err != nil {
		logger.FromGin(c).Debug("access token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", "", false
	}
	return claims.Subject, claims.Role, true
}
