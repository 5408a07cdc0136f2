// Package reconcile turns heterogeneous provider payloads into canonical call
// records and merges them into the record store.
//
// The provider pushes, poll responses, bulk list items and import responses
// all carry overlapping-but-different field layouts. Each canonical field is
// resolved by probing an ordered table of dotted field paths; the first
// present-and-non-empty value wins. The tables are data, not code, so a new
// provider shape is an additive change.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"docvai-dashboard/internal/calls"
)

var (
	ErrNotObject             = errors.New("reconcile: payload is not an object")
	ErrMissingProviderCallID = errors.New("reconcile: missing provider call id")
)

// One unified priority list per field, across all four entry-point shapes.
// telephony_data.* comes first where the provider nests it; bulk-list
// generic ids come last.
var (
	providerCallIDPaths = []string{
		"telephony_data.provider_call_id",
		"provider_call_id",
		"id",
		"call_id",
		"execution_id",
		"call.id",
		"data.id",
	}
	agentIDPaths  = []string{"agent_id", "agent.id", "data.agent_id"}
	toNumberPaths = []string{
		"telephony_data.to_number",
		"to_number",
		"recipient_phone_number",
		"to",
		"call.to",
		"data.recipient_phone_number",
		"context_details.recipient_phone_number",
	}
	fromNumberPaths = []string{
		"telephony_data.from_number",
		"from_number",
		"from",
		"call.from",
		"data.from_phone_number",
		"from_phone_number",
	}
	statusPaths       = []string{"status", "smart_status", "state", "event", "call.status", "data.status"}
	recordingURLPaths = []string{
		"telephony_data.recording_url",
		"recording_url",
		"call.recording_url",
		"data.recording_url",
	}
	transcriptURLPaths  = []string{"transcript_url", "call.transcript_url", "data.transcript_url"}
	transcriptTextPaths = []string{"transcript", "data.transcript"}
	startedAtPaths      = []string{"started_at", "call.started_at", "data.started_at", "created_at"}
	endedAtPaths        = []string{"ended_at", "call.ended_at", "data.ended_at", "updated_at"}
)

// durationProbe marks whether a candidate expresses milliseconds; those are
// divided by 1000 and rounded to the nearest second.
type durationProbe struct {
	path string
	ms   bool
}

var durationProbes = []durationProbe{
	{path: "telephony_data.duration"},
	{path: "duration_sec"},
	{path: "duration"},
	{path: "conversation_duration"},
	{path: "call.duration"},
	{path: "telephony_data.duration_ms", ms: true},
	{path: "duration_ms", ms: true},
	{path: "recording_duration_ms", ms: true},
}

// Normalize extracts a canonical partial from one raw provider payload.
// ErrMissingProviderCallID is a reported-but-non-fatal outcome for batch
// callers; it means the item must not be persisted.
func Normalize(raw any) (calls.Partial, error) {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return calls.Partial{}, ErrNotObject
	}

	id := probeString(obj, providerCallIDPaths)
	if id == nil {
		return calls.Partial{}, ErrMissingProviderCallID
	}

	p := calls.Partial{
		ProviderCallID: *id,
		AgentID:        probeString(obj, agentIDPaths),
		ToNumber:       probeString(obj, toNumberPaths),
		FromNumber:     probeString(obj, fromNumberPaths),
		Status:         probeString(obj, statusPaths),
		DurationSec:    probeDuration(obj),
		RecordingURL:   probeString(obj, recordingURLPaths),
		TranscriptURL:  probeString(obj, transcriptURLPaths),
		TranscriptText: probeString(obj, transcriptTextPaths),
		StartedAt:      probeTime(obj, startedAtPaths),
		EndedAt:        probeTime(obj, endedAtPaths),
	}

	if payload, err := json.Marshal(obj); err == nil {
		p.Payload = payload
	}
	return p, nil
}

// lookup walks a dotted path through nested objects.
func lookup(obj map[string]any, path string) (any, bool) {
	cur := any(obj)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func probeString(obj map[string]any, paths []string) *string {
	for _, path := range paths {
		v, ok := lookup(obj, path)
		if !ok {
			continue
		}
		if s := coerceString(v); s != "" {
			return &s
		}
	}
	return nil
}

// coerceString renders scalars as strings; empty strings, nulls and
// non-scalars yield "".
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func probeDuration(obj map[string]any) *int {
	for _, probe := range durationProbes {
		v, ok := lookup(obj, probe.path)
		if !ok {
			continue
		}
		f, ok := coerceFloat(v)
		if !ok {
			continue
		}
		if probe.ms {
			f = math.Round(f / 1000)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			continue
		}
		n := int(f)
		return &n
	}
	return nil
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func probeTime(obj map[string]any, paths []string) *time.Time {
	for _, path := range paths {
		v, ok := lookup(obj, path)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if t, ok := parseTime(strings.TrimSpace(s)); ok {
			return &t
		}
		// Unparsable values are dropped rather than stored as invalid dates.
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ExtractProviderCallID exposes the unified id probe for callers that only
// need the identifier (e.g. the dispatcher reading a start-call response).
func ExtractProviderCallID(obj map[string]any) (string, bool) {
	id := probeString(obj, providerCallIDPaths)
	if id == nil {
		return "", false
	}
	return *id, true
}

// reasonFor maps a normalize error to its stable per-item reason code.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingProviderCallID):
		return "missing_provider_call_id"
	case errors.Is(err, ErrNotObject):
		return "not_an_object"
	default:
		return fmt.Sprintf("normalize_failed: %v", err)
	}
}
