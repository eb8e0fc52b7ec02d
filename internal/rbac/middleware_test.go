package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"outdial-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, mw gin.HandlerFunc, userID, orgID, role string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, orgID, role))
		}
		c.Next()
	})
	r.Use(mw)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AllowsListedRole(t *testing.T) {
	if code := doRequest(t, RequireAnyRole(RoleManager), "u", "o", RoleManager); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := doRequest(t, RequireAnyRole(RoleManager), "u", "o", RoleAdmin); code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", code)
	}
}

func TestRequireAnyRole_DeniesUnlistedRole(t *testing.T) {
	if code := doRequest(t, RequireAnyRole(RoleManager), "u", "o", RoleAgent); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireOrganization_DeniesMissingIdentity(t *testing.T) {
	if code := doRequest(t, RequireOrganization(), "", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
