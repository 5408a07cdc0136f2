package bolna

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docvai-dashboard/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BolnaConfig{Base: srv.URL, APIKey: "test-key"})
}

func TestListAgents_NormalizesVariants(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/all" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "a1", "agent_name": "Sales"},
			{"agent_id": "a2", "name": "Support"},
			{"uuid": "a3"},
		})
	}))

	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}
	if agents[0].ID != "agent_a1" || agents[0].Name != "Sales" || agents[0].ProviderAgentID != "a1" {
		t.Fatalf("unexpected first agent: %+v", agents[0])
	}
	if agents[1].ProviderAgentID != "a2" || agents[1].Name != "Support" {
		t.Fatalf("unexpected second agent: %+v", agents[1])
	}
	if agents[2].ProviderAgentID != "a3" {
		t.Fatalf("unexpected third agent: %+v", agents[2])
	}
}

func TestListAgents_ProviderStatusSurfaced(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.ListAgents(context.Background())
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", se.Status)
	}
}

func TestStartCall_ExtractsProviderCallID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req StartCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToNumber == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"execution_id": "exec-9"})
	}))

	res, err := c.StartCall(context.Background(), StartCallRequest{AgentID: "a1", ToNumber: "+311234"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.OK || res.ProviderCallID != "exec-9" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchExecution_ProbesUntilFirst2xx(t *testing.T) {
	var paths []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/executions/exec-1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "exec-1", "status": "completed"})
			return
		}
		http.NotFound(w, r)
	}))

	res, err := c.FetchExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected 2xx probe, got %+v", res)
	}
	obj, ok := res.Object()
	if !ok || obj["status"] != "completed" {
		t.Fatalf("unexpected body: %+v", res.Body)
	}
	want := []string{"/call/exec-1", "/v2/call/exec-1", "/executions/exec-1"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d probes, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("probe order mismatch: got %v", paths)
		}
	}
}

func TestListExecutions_ExtractsWrappedList(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/executions" {
			// first candidate answers 200 but with no list shape
			_ = json.NewEncoder(w).Encode(map[string]any{"note": "nothing here"})
			return
		}
		if r.URL.Path == "/v2/executions" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "e1"}, {"id": "e2"}},
			})
			return
		}
		http.NotFound(w, r)
	}))

	list, source, err := c.ListExecutions(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list))
	}
	if source == "" {
		t.Fatalf("expected source url")
	}
}

func TestCachedAgentLister_ServesFromCache(t *testing.T) {
	var hits int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "a1", "agent_name": "Sales"}})
	}))

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	cached := NewCachedAgentLister(c, rdb, time.Minute, nil)
	for i := 0; i < 3; i++ {
		agents, err := cached.ListAgents(context.Background())
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(agents) != 1 || agents[0].ProviderAgentID != "a1" {
			t.Fatalf("unexpected agents: %+v", agents)
		}
	}
	if hits != 1 {
		t.Fatalf("expected a single provider hit, got %d", hits)
	}
}
