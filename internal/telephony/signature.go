package telephony

import (
	"net/http"
	"strings"

	"followup-caller/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// RequireSignature rejects webhooks whose X-Twilio-Signature does not match. The
// URL is rebuilt from publicBaseURL since the service usually runs behind a proxy.
// An empty authToken disables the check (local development).
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	validator := client.NewRequestValidator(authToken)
	return func(c *gin.Context) {
		if authToken == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			params[k] = c.Request.PostForm.Get(k)
		}
		got := c.GetHeader(headerTwilioSignature)
		if got == "" || !validator.Validate(base+c.Request.URL.RequestURI(), params, got) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
