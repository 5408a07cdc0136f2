// Package plivo ingests inbound call records from the Plivo telephony API.
//
// Plivo is the second record source next to the voice-AI provider: inbound
// calls land there as CDRs with separate recording resources. Listing uses
// candidate filter parameters in order, the same probe approach as the
// primary provider gateway, because the supported filter differs across
// accounts.
package plivo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docvai-dashboard/internal/config"
)

const defaultBase = "https://api.plivo.com/v1/Account"

type Client struct {
	base      string
	authID    string
	authToken string
	http      *http.Client
}

func NewClient(cfg config.PlivoConfig) *Client {
	return &Client{
		base:      defaultBase,
		authID:    cfg.AuthID,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

// WithBase overrides the API base URL (tests).
func (c *Client) WithBase(base string) *Client {
	if base != "" {
		c.base = strings.TrimRight(base, "/")
	}
	return c
}

func (c *Client) account() string {
	return c.base + "/" + url.PathEscape(c.authID)
}

// CallPage is one page of CDR objects.
type CallPage struct {
	Items []map[string]any
	// NextOffset is nil when this was the last page.
	NextOffset *int
}

// ListInboundCalls lists inbound CDRs ended (or added) after since. The
// filter parameter varies by account, so end_time__gt is tried first and
// add_time__gt second.
func (c *Client) ListInboundCalls(ctx context.Context, since time.Time, limit, offset int) (CallPage, error) {
	sinceArg := url.QueryEscape(since.UTC().Format("2006-01-02T15:04:05Z"))
	candidates := []string{
		fmt.Sprintf("%s/Call/?limit=%d&offset=%d&end_time__gt=%s&direction=inbound", c.account(), limit, offset, sinceArg),
		fmt.Sprintf("%s/Call/?limit=%d&offset=%d&add_time__gt=%s&direction=inbound", c.account(), limit, offset, sinceArg),
	}

	items, err := c.probeObjects(ctx, candidates)
	if err != nil {
		return CallPage{}, err
	}

	page := CallPage{Items: items}
	if len(items) == limit {
		next := offset + limit
		page.NextOffset = &next
	}
	return page, nil
}

// ListRecordings fetches the recordings for one call. A per-call lookup is
// tried first; some accounts only expose the global recording list, which is
// then filtered by call uuid.
func (c *Client) ListRecordings(ctx context.Context, callUUID string) ([]map[string]any, error) {
	perCall := c.account() + "/Call/" + url.PathEscape(callUUID) + "/Recording/"
	if items, err := c.probeObjects(ctx, []string{perCall}); err == nil {
		return items, nil
	}

	since := time.Now().Add(-24 * time.Hour).UTC().Format("2006-01-02T15:04:05Z")
	global := c.account() + "/Recording/?add_time__gt=" + url.QueryEscape(since)
	items, err := c.probeObjects(ctx, []string{global})
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, rec := range items {
		if uuid, _ := rec["call_uuid"].(string); uuid == callUUID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// probeObjects tries each candidate URL and returns the "objects" array (or
// a bare array) of the first 2xx response.
func (c *Client) probeObjects(ctx context.Context, candidates []string) ([]map[string]any, error) {
	var (
		lastErr    error
		lastStatus int
	)
	for _, u := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.basicAuth())

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		text, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		lastStatus = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			continue
		}

		var decoded any
		if err := json.Unmarshal(text, &decoded); err != nil {
			continue
		}
		return extractObjects(decoded), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &StatusError{Status: lastStatus}
}

func (c *Client) basicAuth() string {
	creds := base64.StdEncoding.EncodeToString([]byte(c.authID + ":" + c.authToken))
	return "Basic " + creds
}

func extractObjects(body any) []map[string]any {
	var raw []any
	switch v := body.(type) {
	case []any:
		raw = v
	case map[string]any:
		objs, _ := v["objects"].([]any)
		raw = objs
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// StatusError reports that every candidate URL answered non-2xx.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("plivo: provider returned %d", e.Status)
}
