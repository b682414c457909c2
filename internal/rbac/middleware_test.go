package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"followup-caller/internal/auth"

	"github.com/gin-gonic/gin"
)

func routerAs(role string, mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, mw, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func status(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name string
		role string
		mw   gin.HandlerFunc
		want int
	}{
		{"admin bypasses", RoleAdmin, RequireAnyRole(RoleOperator), http.StatusOK},
		{"operator writes", RoleOperator, WriteAccess(), http.StatusOK},
		{"viewer cannot write", RoleViewer, WriteAccess(), http.StatusForbidden},
		{"viewer reads", RoleViewer, ReadAccess(), http.StatusOK},
		{"unknown role denied", "owner", RequireAnyRole("owner"), http.StatusForbidden},
		{"missing role", "", ReadAccess(), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got := status(routerAs(tc.role, tc.mw)); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
