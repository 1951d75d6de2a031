package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotRep, gotRole string
	r := gin.New()
	r.GET("/x", RequireIdentity(), func(c *gin.Context) {
		gotRep, _ = RepID(c.Request.Context())
		gotRole, _ = Role(c.Request.Context())
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name     string
		rep      string
		role     string
		code     int
		wantRole string
	}{
		{"rep with role", "r1", "Supervisor", http.StatusOK, "supervisor"},
		{"default role", "r1", "", http.StatusOK, DefaultRole},
		{"missing rep", "", "admin", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotRep, gotRole = "", ""
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.rep != "" {
				req.Header.Set(HeaderRepID, tc.rep)
			}
			if tc.role != "" {
				req.Header.Set(HeaderRole, tc.role)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
			if tc.code == http.StatusOK && (gotRep != tc.rep || gotRole != tc.wantRole) {
				t.Fatalf("unexpected identity %q/%q", gotRep, gotRole)
			}
		})
	}
}
