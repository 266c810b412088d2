package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmerrifield20/fangate/internal/identity"
)

func newIssuer(t *testing.T) *identity.AdminTokenIssuer {
	t.Helper()
	ti, err := identity.NewAdminTokenIssuer("test-secret", "fangate-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewAdminTokenIssuer_requiresSecret(t *testing.T) {
	if _, err := identity.NewAdminTokenIssuer("", "x", 0); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestAdminToken_roundTrip(t *testing.T) {
	ti := newIssuer(t)
	token, err := ti.Issue("ops@example.com", 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Role != identity.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestAdminToken_rejects(t *testing.T) {
	ti := newIssuer(t)

	expired, _ := ti.Issue("ops", time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	other, _ := identity.NewAdminTokenIssuer("other-secret", "fangate-test", time.Hour)
	foreign, _ := other.Issue("ops", 0)

	wrongIss, _ := identity.NewAdminTokenIssuer("test-secret", "someone-else", time.Hour)
	wrongIssuer, _ := wrongIss.Issue("ops", 0)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, identity.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fangate-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: identity.RoleAdmin,
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": wrongIssuer,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
	} {
		if _, err := ti.Verify(tok); err == nil {
			t.Errorf("%s: expected verification failure", name)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newIssuer(t)

	r := gin.New()
	r.GET("/admin", identity.RequireAdmin(ti), func(c *gin.Context) {
		c.String(http.StatusOK, identity.AdminClaimsFromCtx(c).Subject)
	})

	good, _ := ti.Issue("ops", 0)
	notAdmin := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fangate-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "viewer",
	})
	viewer, _ := notAdmin.SignedString([]byte("test-secret"))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewer, http.StatusForbidden},
		{"admin", "Bearer " + good, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != "ops" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}
