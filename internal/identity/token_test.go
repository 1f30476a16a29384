package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
)

const testIssuer = "https://ledger.example.com"

var testTokenKey = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenIssuer(t *testing.T, ttl time.Duration) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testTokenKey, testIssuer, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	token, err := ti.Issue("operator", []string{identity.ScopeRegister})
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("Subject: got %q, want operator", claims.Subject)
	}
	if !claims.HasScope(identity.ScopeRegister) {
		t.Error("HasScope(register) should be true")
	}
	if claims.HasScope(identity.ScopeAdmin) {
		t.Error("HasScope(admin) should be false")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Nanosecond)
	token, err := ti.Issue("operator", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected an expired token to be rejected")
	}
}

func TestTokenIssuer_Verify_wrongKeyOrIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	token, _ := ti.Issue("operator", nil)

	otherKey, _ := identity.NewTokenIssuer([]byte("fedcba9876543210fedcba9876543210"), testIssuer, time.Hour)
	if _, err := otherKey.Verify(token); err == nil {
		t.Error("expected a token signed with another key to be rejected")
	}
	otherIssuer, _ := identity.NewTokenIssuer(testTokenKey, "https://elsewhere.example.com", time.Hour)
	if _, err := otherIssuer.Verify(token); err == nil {
		t.Error("expected a token from another issuer to be rejected")
	}
	if _, err := identity.NewTokenIssuer([]byte("short"), testIssuer, time.Hour); err == nil {
		t.Error("expected a short key to be rejected")
	}
}

func TestOperatorClaims_AdminGrantsAll(t *testing.T) {
	c := &identity.OperatorClaims{Scopes: []string{identity.ScopeAdmin}}
	if !c.HasScope(identity.ScopeRegister) {
		t.Error("admin scope should grant register")
	}
	var nilClaims *identity.OperatorClaims
	if nilClaims.HasScope(identity.ScopeAdmin) {
		t.Error("nil claims should grant nothing")
	}
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newTestTokenIssuer(t, time.Hour)

	r := gin.New()
	r.GET("/register", identity.RequireToken(ti, identity.ScopeRegister), func(c *gin.Context) {
		c.String(http.StatusOK, identity.ClaimsFromCtx(c).Subject)
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/register", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
	if w := do("Bearer garbage"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: got %d, want 401", w.Code)
	}

	readOnly, _ := ti.Issue("viewer", []string{"ledger:read"})
	if w := do("Bearer " + readOnly); w.Code != http.StatusForbidden {
		t.Errorf("missing scope: got %d, want 403", w.Code)
	}

	ok, _ := ti.Issue("operator", []string{identity.ScopeRegister})
	w := do("Bearer " + ok)
	if w.Code != http.StatusOK || w.Body.String() != "operator" {
		t.Errorf("valid token: got %d %q", w.Code, w.Body.String())
	}
}
