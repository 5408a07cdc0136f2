package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"docvai-dashboard/internal/analytics"
	"docvai-dashboard/internal/auth"
	"docvai-dashboard/internal/bolna"
	"docvai-dashboard/internal/calls"
	"docvai-dashboard/internal/config"
	"docvai-dashboard/internal/dispatch"
	"docvai-dashboard/internal/plivo"
	"docvai-dashboard/internal/reconcile"
	"docvai-dashboard/pkg/utils"
)

type fixture struct {
	store  *calls.MemoryStore
	router *gin.Engine
}

// newFixture wires handlers against a memory store and a stub provider
// server. The stub answers the detail probe for any id and the executions
// list with whatever payloads the test registered.
func newFixture(t *testing.T, executions map[string]map[string]any, listed []map[string]any) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/call/logs"), strings.HasPrefix(r.URL.Path, "/executions") && r.URL.Query().Has("since"):
			_ = json.NewEncoder(w).Encode(map[string]any{"items": listed})
		case strings.HasPrefix(r.URL.Path, "/call/"), strings.HasPrefix(r.URL.Path, "/executions/"):
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			obj, ok := executions[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]any{"detail": "not found"})
				return
			}
			_ = json.NewEncoder(w).Encode(obj)
		case r.URL.Path == "/call":
			_ = json.NewEncoder(w).Encode(map[string]any{"execution_id": "exec-new"})
		case r.URL.Path == "/agent/all":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "agent-1", "agent_name": "Support"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	client := bolna.NewClient(config.BolnaConfig{Base: srv.URL, APIKey: "k"}).WithHTTPClient(srv.Client())
	store := calls.NewMemoryStore()
	engine := reconcile.NewEngine(store, nil)
	mgr, err := auth.NewManager(config.AuthConfig{
		Secret:     "secret",
		SessionTTL: time.Hour,
		DemoUsers:  []config.DemoUser{{Email: "ops@example.com", Password: "pw", Name: "Ops"}},
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	h := Handlers{
		Auth:      mgr,
		Agents:    client,
		Provider:  client,
		Store:     store,
		Engine:    engine,
		Dispatch:  dispatch.New(client, engine, dispatch.Options{FallbackAgentID: "agent-1"}, nil),
		Analytics: analytics.NewService(store, ""),
	}

	r := gin.New()
	r.POST("/login", h.Login)
	r.POST("/webhooks/bolna", h.Webhook)
	r.GET("/healthz", h.Healthz)
	protected := r.Group("/", auth.RequireSession(mgr))
	protected.GET("/whoami", h.Whoami)
	protected.GET("/agents", h.ListAgents)
	protected.POST("/calls-outbound", h.CallsOutbound)
	protected.GET("/conversations", h.Conversations)
	protected.GET("/analytics-summary", h.AnalyticsSummary)
	protected.GET("/analytics-timeseries", h.AnalyticsTimeseries)
	protected.GET("/provider-poll", h.ProviderPoll)
	protected.GET("/provider-sync", h.ProviderSync)
	protected.POST("/provider-import", h.ProviderImport)
	protected.POST("/plivo-sync", h.PlivoSync)

	return fixture{store: store, router: r}
}

func do(t *testing.T, f fixture, method, target, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if admin {
		req.Header.Set("X-Admin-Key", "secret")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestLoginSetsSessionCookie(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := do(t, f, http.MethodPost, "/login", `{"email":"ops@example.com","password":"pw"}`, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie && c.Value != "" && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Fatalf("no HttpOnly session cookie set")
	}

	w = do(t, f, http.MethodPost, "/login", `{"email":"ops@example.com","password":"nope"}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", w.Code)
	}
	if decode(t, w)["error"] != "unauthorized" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	if w := do(t, f, http.MethodGet, "/conversations", "", false); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if w := do(t, f, http.MethodGet, "/whoami", "", true); w.Code != http.StatusOK {
		t.Fatalf("admin key status = %d", w.Code)
	}
}

func TestWebhookReconciles(t *testing.T) {
	f := newFixture(t, nil, nil)

	body := `{"id":"exec-wh-1","status":"completed","telephony_data":{"duration":"61","to_number":"+15550001111"}}`
	w := do(t, f, http.MethodPost, "/webhooks/bolna", body, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["ok"] != true || out["id"] != "exec-wh-1" {
		t.Fatalf("body = %s", w.Body.String())
	}

	rec, err := f.store.GetByProviderCallID(context.Background(), "exec-wh-1")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.Status == nil || *rec.Status != "completed" {
		t.Fatalf("status = %v", rec.Status)
	}
}

func TestWebhookMissingIDIsReportedNotFatal(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := do(t, f, http.MethodPost, "/webhooks/bolna", `{"status":"completed"}`, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["ok"] != false || out["reason"] != "missing_provider_call_id" {
		t.Fatalf("body = %s", w.Body.String())
	}
	if f.store.Len() != 0 {
		t.Fatalf("store should be unchanged")
	}
}

func TestProviderPoll(t *testing.T) {
	f := newFixture(t, map[string]map[string]any{
		"exec-9": {"id": "exec-9", "status": "completed"},
	}, nil)

	if w := do(t, f, http.MethodGet, "/provider-poll", "", true); w.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", w.Code)
	}

	w := do(t, f, http.MethodGet, "/provider-poll?id=exec-9", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["ok"] != true || out["id"] != "exec-9" {
		t.Fatalf("body = %s", w.Body.String())
	}

	if w := do(t, f, http.MethodGet, "/provider-poll?id=ghost", "", true); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", w.Code)
	}
}

func TestProviderSyncReconcilesListing(t *testing.T) {
	f := newFixture(t, nil, []map[string]any{
		{"id": "exec-s1", "status": "completed"},
		{"status": "no id here"},
		{"id": "exec-s2", "status": "busy"},
	})

	w := do(t, f, http.MethodGet, "/provider-sync?minutes=30", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["scanned"] != float64(3) || out["synced"] != float64(2) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if f.store.Len() != 2 {
		t.Fatalf("stored = %d, want 2", f.store.Len())
	}
}

func TestProviderImportContinuesPastFailures(t *testing.T) {
	f := newFixture(t, map[string]map[string]any{
		"exec-i1": {"id": "exec-i1", "status": "completed"},
	}, nil)

	w := do(t, f, http.MethodPost, "/provider-import", `{"ids":["exec-i1","ghost"]}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["imported"] != float64(1) {
		t.Fatalf("body = %s", w.Body.String())
	}
	results := out["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}

	if w := do(t, f, http.MethodPost, "/provider-import", `{"ids":[]}`, true); w.Code != http.StatusBadRequest {
		t.Fatalf("empty ids status = %d", w.Code)
	}
}

func TestCallsOutbound(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := do(t, f, http.MethodPost, "/calls-outbound", `{"numbers":["+15550001234"]}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	created := out["created"].([]any)
	if len(created) != 1 || created[0] != "exec-new" {
		t.Fatalf("created = %v", created)
	}

	if w := do(t, f, http.MethodPost, "/calls-outbound", `{"numbers":[]}`, true); w.Code != http.StatusBadRequest {
		t.Fatalf("empty numbers status = %d", w.Code)
	}
}

func TestConversationsAndAnalytics(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := do(t, f, http.MethodGet, "/conversations", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["count"] != float64(0) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if _, ok := out["calls"].([]any); !ok {
		t.Fatalf("calls must be a list, body = %s", w.Body.String())
	}

	body := `{"id":"exec-a1","status":"completed","telephony_data":{"duration":"61"}}`
	if w := do(t, f, http.MethodPost, "/webhooks/bolna", body, false); w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", w.Code)
	}

	w = do(t, f, http.MethodGet, "/analytics-summary?window=500d", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out = decode(t, w)
	if out["windowDays"] != float64(90) {
		t.Fatalf("window not clamped, body = %s", w.Body.String())
	}
	sum := out["summary"].(map[string]any)
	if sum["total"] != float64(1) || sum["completed"] != float64(1) {
		t.Fatalf("summary = %v", sum)
	}

	w = do(t, f, http.MethodGet, "/analytics-timeseries", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out = decode(t, w)
	ts := out["timeseries"].(map[string]any)
	if labels := ts["labels"].([]any); len(labels) != 1 {
		t.Fatalf("labels = %v", labels)
	}
}

func TestAgents(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := do(t, f, http.MethodGet, "/agents", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	agents := out["agents"].([]any)
	if len(agents) != 1 {
		t.Fatalf("agents = %v", agents)
	}
}

func TestProviderSyncReleasesLockWhenClientDisconnects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reqCtx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The caller goes away while the listing call is in flight.
		cancel()
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(srv.Close)

	client := bolna.NewClient(config.BolnaConfig{Base: srv.URL, APIKey: "k"}).WithHTTPClient(srv.Client())
	store := calls.NewMemoryStore()
	h := Handlers{
		Provider: client,
		Store:    store,
		Engine:   reconcile.NewEngine(store, nil),
		Redis:    rdb,
	}

	r := gin.New()
	r.GET("/provider-sync", h.ProviderSync)

	req := httptest.NewRequest(http.MethodGet, "/provider-sync", nil).WithContext(reqCtx)
	r.ServeHTTP(httptest.NewRecorder(), req)

	ok, err := utils.AcquireSlot(context.Background(), rdb, syncLockKey, 1, syncLockTTL)
	if err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}
	if !ok {
		t.Fatalf("sync lock still held after the request finished")
	}
}

func TestPlivoSyncWithoutCredentials(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := do(t, f, http.MethodPost, "/plivo-sync", "", true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if decode(t, w)["error"] != "validation" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestPlivoSyncEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/Recording/") {
			_ = json.NewEncoder(w).Encode(map[string]any{"objects": []map[string]any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"objects": []map[string]any{
			{"call_uuid": "pl-1", "direction": "inbound", "to_number": "+15550002222", "bill_duration": float64(30)},
		}})
	}))
	t.Cleanup(srv.Close)

	pc := plivo.NewClient(config.PlivoConfig{AuthID: "MA", AuthToken: "tok"}).
		WithBase(srv.URL).
		WithHTTPClient(srv.Client())
	store := calls.NewMemoryStore()
	h := Handlers{
		Store:       store,
		Engine:      reconcile.NewEngine(store, nil),
		PlivoSyncer: plivo.NewSyncer(pc, reconcile.NewEngine(store, nil), 240, 50),
	}

	r := gin.New()
	r.POST("/plivo-sync", h.PlivoSync)

	req := httptest.NewRequest(http.MethodPost, "/plivo-sync?lookback_min=60", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["synced"] != float64(1) {
		t.Fatalf("body = %s", w.Body.String())
	}

	rec, err := store.GetByProviderCallID(context.Background(), "pl-1")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.DurationSec == nil || *rec.DurationSec != 30 {
		t.Fatalf("duration_sec = %v, want 30", rec.DurationSec)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := do(t, f, http.MethodGet, "/healthz", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
