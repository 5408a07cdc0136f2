// Package bolna is the HTTP gateway to the Bolna voice-AI provider.
//
// The provider's API surface has shifted across versions, so detail and list
// lookups probe an ordered table of candidate URLs and stop at the first 2xx.
// No business logic lives here; callers get raw provider payloads back.
package bolna

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docvai-dashboard/internal/config"
)

type Client struct {
	base    string
	version string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.BolnaConfig) *Client {
	return &Client{
		base:    strings.TrimRight(cfg.Base, "/"),
		version: strings.Trim(cfg.APIVersion, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

// Agent is the normalized shape of one configured voice agent.
type Agent struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	ProviderAgentID string `json:"provider_agent_id"`
	Active          bool   `json:"active"`
}

type StartCallRequest struct {
	AgentID    string `json:"agent_id"`
	ToNumber   string `json:"recipient_phone_number"`
	FromNumber string `json:"from_phone_number,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// StartCallResult reports one call-initiation attempt. A non-2xx provider
// response is a result, not an error; transport failures are errors.
type StartCallResult struct {
	OK     bool `json:"ok"`
	Status int  `json:"status"`
	// ProviderCallID is extracted from execution_id/id/call_id; empty when
	// the response carried none.
	ProviderCallID string          `json:"id,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// ProbeResult is the outcome of one candidate-URL probe sequence.
type ProbeResult struct {
	OK     bool
	Status int
	URL    string
	// Body is the decoded JSON value when the response parsed, else the raw
	// response text.
	Body any
}

// Object returns the body as a JSON object, if it is one.
func (p ProbeResult) Object() (map[string]any, bool) {
	obj, ok := p.Body.(map[string]any)
	return obj, ok
}

func (c *Client) endpoint(path string) string {
	if c.version != "" {
		return c.base + "/" + c.version + "/" + path
	}
	return c.base + "/" + path
}

func (c *Client) get(ctx context.Context, rawURL string) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ProbeResult{URL: rawURL}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return ProbeResult{URL: rawURL}, err
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(resp.Body)
	out := ProbeResult{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		URL:    rawURL,
	}
	var decoded any
	if len(text) > 0 && json.Unmarshal(text, &decoded) == nil {
		out.Body = decoded
	} else {
		out.Body = string(text)
	}
	return out, nil
}

// probe tries each candidate in order and returns the first 2xx result.
// Non-2xx responses and transport errors both advance to the next candidate;
// the last observed result is returned when nothing succeeds.
func (c *Client) probe(ctx context.Context, candidates []string) (ProbeResult, error) {
	var (
		last    ProbeResult
		lastErr error
	)
	for _, u := range candidates {
		res, err := c.get(ctx, u)
		if err != nil {
			lastErr = err
			last = res
			continue
		}
		lastErr = nil
		last = res
		if res.OK {
			return res, nil
		}
	}
	return last, lastErr
}

// ListAgents fetches the configured agents and normalizes the id/name fields,
// which vary across provider API versions.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	res, err := c.get(ctx, c.endpoint("agent/all"))
	if err != nil {
		return nil, fmt.Errorf("bolna: list agents: %w", err)
	}
	if !res.OK {
		return nil, &StatusError{Op: "list agents", Status: res.Status}
	}

	raw, ok := res.Body.([]any)
	if !ok {
		return []Agent{}, nil
	}

	out := make([]Agent, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		providerID := firstString(obj, "id", "agent_id", "provider_agent_id", "uuid")
		name := firstString(obj, "agent_name", "name", "id")
		key := providerID
		if key == "" {
			key = firstString(obj, "agent_name")
		}
		out = append(out, Agent{
			ID:              "agent_" + key,
			TenantID:        "t_docvai",
			Name:            name,
			ProviderAgentID: providerID,
			Active:          true,
		})
	}
	return out, nil
}

// StartCall requests one outbound call. Callers inspect OK/Status; the
// provider saying no is still a per-number result for the dispatcher.
func (c *Client) StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return StartCallResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("call"), bytes.NewReader(payload))
	if err != nil {
		return StartCallResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return StartCallResult{}, fmt.Errorf("bolna: start call: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(resp.Body)
	out := StartCallResult{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
	}

	var body map[string]any
	if len(text) > 0 && json.Unmarshal(text, &body) == nil {
		out.Body = json.RawMessage(text)
		out.ProviderCallID = firstString(body, "execution_id", "id", "call_id")
	}
	return out, nil
}

// FetchExecution fetches one execution/call detail by provider id.
func (c *Client) FetchExecution(ctx context.Context, id string) (ProbeResult, error) {
	esc := url.PathEscape(id)
	return c.probe(ctx, []string{
		c.base + "/call/" + esc,
		c.base + "/v2/call/" + esc,
		c.base + "/executions/" + esc,
	})
}

// ListExecutions lists executions updated since the cutoff. The list may live
// under a bare array, "items" or "data" depending on provider version; a 2xx
// with an empty list is accepted as a valid answer.
func (c *Client) ListExecutions(ctx context.Context, since time.Time) ([]map[string]any, string, error) {
	qs := "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339)) + "&limit=100"
	candidates := []string{
		c.base + "/executions" + qs,
		c.base + "/v2/executions" + qs,
		c.base + "/call/logs" + qs,
	}

	var (
		lastErr    error
		lastStatus int
	)
	for _, u := range candidates {
		res, err := c.get(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		lastStatus = res.Status
		if !res.OK {
			continue
		}
		list, ok := extractList(res.Body)
		if !ok {
			continue
		}
		return list, res.URL, nil
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", &StatusError{Op: "list executions", Status: lastStatus}
}

func extractList(body any) ([]map[string]any, bool) {
	var raw []any
	switch v := body.(type) {
	case []any:
		raw = v
	case map[string]any:
		if items, ok := v["items"].([]any); ok {
			raw = items
		} else if data, ok := v["data"].([]any); ok {
			raw = data
		} else {
			return nil, false
		}
	default:
		return nil, false
	}

	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		}
	}
	return ""
}

// StatusError reports a non-2xx provider response for a top-level request.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bolna: %s: provider returned %d", e.Op, e.Status)
}
