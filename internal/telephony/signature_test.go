package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// sign computes X-Twilio-Signature: HMAC-SHA1 over the URL followed by the
// sorted key+value pairs, base64 encoded.
func sign(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := fullURL
	for _, k := range keys {
		payload += k + params.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", RequireSignature(token, "https://calls.example.com/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	sig := sign("tok", "https://calls.example.com/webhooks/twilio/status", form)

	cases := []struct {
		name   string
		sig    string
		status int
	}{
		{"valid", sig, http.StatusNoContent},
		{"missing", "", http.StatusForbidden},
		{"wrong", "AAAA", http.StatusForbidden},
		{"other token", sign("other", "https://calls.example.com/webhooks/twilio/status", form), http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tc.sig != "" {
			req.Header.Set(headerTwilioSignature, tc.sig)
		}
		w := httptest.NewRecorder()
		signedRouter("tok").ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
	}
}

func TestRequireSignature_DisabledWithoutToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	signedRouter("").ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}
