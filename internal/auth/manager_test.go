package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docvai-dashboard/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		Secret:     "test-secret",
		SessionTTL: time.Hour,
		DemoUsers: []config.DemoUser{
			{Email: "ops@example.com", Password: "hunter2", Name: "Ops"},
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestLoginAndVerify(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	tok, id, err := m.Login("Ops@Example.com", "hunter2", now)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id.Email != "ops@example.com" || id.Name != "Ops" {
		t.Fatalf("identity = %+v", id)
	}

	got, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Email != "ops@example.com" {
		t.Fatalf("verified identity = %+v", got)
	}

	if _, err := m.Verify(tok, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expired session to fail")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := testManager(t)
	if _, _, err := m.Login("ops@example.com", "wrong", time.Now()); err != ErrBadCredentials {
		t.Fatalf("err = %v, want ErrBadCredentials", err)
	}
	if _, _, err := m.Login("nobody@example.com", "hunter2", time.Now()); err != ErrBadCredentials {
		t.Fatalf("err = %v, want ErrBadCredentials", err)
	}
}

func TestLoginBypass(t *testing.T) {
	m, err := NewManager(config.AuthConfig{DisableAuth: true, SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, id, err := m.Login("whatever", "whatever", time.Now())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id != BypassIdentity() {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyRejectsForgedToken(t *testing.T) {
	m := testManager(t)
	other, err := NewManager(config.AuthConfig{Secret: "other-secret", SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tok, err := other.issue(Identity{Email: "ops@example.com"}, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, time.Now()); err == nil {
		t.Fatalf("expected forged token to fail")
	}
}

func sessionRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", RequireSession(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": id.Email})
	})
	return r
}

func TestRequireSessionCookie(t *testing.T) {
	m := testManager(t)
	r := sessionRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie status = %d", w.Code)
	}

	tok, _, err := m.Login("ops@example.com", "hunter2", time.Now())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cookie status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRequireSessionAdminKey(t *testing.T) {
	m := testManager(t)
	r := sessionRouter(m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(adminKeyHeader, "test-secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin key status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(adminKeyHeader, "nope")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad admin key status = %d", w.Code)
	}
}
