// Package analytics produces the dashboard summary and per-day time series
// over stored call records. Direction is inferred per record, never stored.
package analytics

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"docvai-dashboard/internal/calls"
)

const (
	defaultWindowDays = 7
	maxWindowDays     = 90
)

var windowPattern = regexp.MustCompile(`^(\d+)d$`)

// ParseWindow turns a "?window=30d" style value into a day count. Unparsable
// input falls back to the default; valid input is clamped to [1, 90].
func ParseWindow(raw string) int {
	m := windowPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return defaultWindowDays
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return defaultWindowDays
	}
	if n > maxWindowDays {
		return maxWindowDays
	}
	return n
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

type Summary struct {
	Total          int `json:"total"`
	Inbound        int `json:"inbound"`
	Outbound       int `json:"outbound"`
	Completed      int `json:"completed"`
	AvgDurationSec int `json:"avgDurationSec"`
	Recordings     int `json:"recordings"`
	Transcripts    int `json:"transcripts"`
}

// Timeseries holds parallel arrays indexed identically to Labels. Days with
// no records are omitted, not zero-filled.
type Timeseries struct {
	Labels      []string `json:"labels"`
	Total       []int    `json:"total"`
	Inbound     []int    `json:"inbound"`
	Outbound    []int    `json:"outbound"`
	Completed   []int    `json:"completed"`
	AvgDuration []int    `json:"avgDuration"`
}

type Service struct {
	store calls.Store
	// outboundCallerID, when configured, outranks any payload call-type hint.
	outboundCallerID string
	now              func() time.Time
}

func NewService(store calls.Store, outboundCallerID string) *Service {
	return &Service{store: store, outboundCallerID: strings.TrimSpace(outboundCallerID), now: time.Now}
}

// Infer resolves a record's direction. Priority: configured caller-id match,
// self-call shape, payload call-type hint, unknown.
func (s *Service) Infer(rec calls.CallRecord) Direction {
	from := deref(rec.FromNumber)
	if s.outboundCallerID != "" && from != "" && from == s.outboundCallerID {
		return DirectionOutbound
	}
	if from != "" && from == deref(rec.ToNumber) {
		return DirectionInbound
	}
	if hint := payloadDirection(rec.Payload); hint != DirectionUnknown {
		return hint
	}
	return DirectionUnknown
}

func payloadDirection(payload json.RawMessage) Direction {
	if len(payload) == 0 {
		return DirectionUnknown
	}
	var obj map[string]any
	if json.Unmarshal(payload, &obj) != nil {
		return DirectionUnknown
	}
	candidates := []any{obj["call_type"], obj["direction"]}
	if td, ok := obj["telephony_data"].(map[string]any); ok {
		candidates = append(candidates, td["call_type"])
	}
	for _, c := range candidates {
		v, _ := c.(string)
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "inbound":
			return DirectionInbound
		case "outbound":
			return DirectionOutbound
		}
	}
	return DirectionUnknown
}

func (s *Service) window(ctx context.Context, windowDays int) ([]calls.CallRecord, error) {
	cutoff := s.now().AddDate(0, 0, -windowDays)
	return s.store.ListCreatedSince(ctx, cutoff)
}

func (s *Service) Summarize(ctx context.Context, windowDays int) (Summary, error) {
	recs, err := s.window(ctx, windowDays)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	durSum, durN := 0, 0
	for _, rec := range recs {
		out.Total++
		switch s.Infer(rec) {
		case DirectionInbound:
			out.Inbound++
		case DirectionOutbound:
			out.Outbound++
		}
		if rec.Status != nil && strings.EqualFold(*rec.Status, "completed") {
			out.Completed++
		}
		if rec.DurationSec != nil {
			durSum += *rec.DurationSec
			durN++
		}
		if rec.RecordingURL != nil && *rec.RecordingURL != "" {
			out.Recordings++
		}
		if (rec.TranscriptText != nil && *rec.TranscriptText != "") ||
			(rec.TranscriptURL != nil && *rec.TranscriptURL != "") {
			out.Transcripts++
		}
	}
	if durN > 0 {
		out.AvgDurationSec = durSum / durN
	}
	return out, nil
}

type dayBucket struct {
	total, inbound, outbound, completed int
	durSum, durN                        int
}

func (s *Service) TimeseriesFor(ctx context.Context, windowDays int) (Timeseries, error) {
	recs, err := s.window(ctx, windowDays)
	if err != nil {
		return Timeseries{}, err
	}

	buckets := map[string]*dayBucket{}
	var labels []string
	// ListCreatedSince returns rows in ascending created_at order, so labels
	// come out chronologically without a sort.
	for _, rec := range recs {
		day := rec.CreatedAt.Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &dayBucket{}
			buckets[day] = b
			labels = append(labels, day)
		}
		b.total++
		switch s.Infer(rec) {
		case DirectionInbound:
			b.inbound++
		case DirectionOutbound:
			b.outbound++
		}
		if rec.Status != nil && strings.EqualFold(*rec.Status, "completed") {
			b.completed++
		}
		if rec.DurationSec != nil {
			b.durSum += *rec.DurationSec
			b.durN++
		}
	}

	out := Timeseries{
		Labels:      labels,
		Total:       make([]int, len(labels)),
		Inbound:     make([]int, len(labels)),
		Outbound:    make([]int, len(labels)),
		Completed:   make([]int, len(labels)),
		AvgDuration: make([]int, len(labels)),
	}
	if labels == nil {
		out.Labels = []string{}
	}
	for i, day := range labels {
		b := buckets[day]
		out.Total[i] = b.total
		out.Inbound[i] = b.inbound
		out.Outbound[i] = b.outbound
		out.Completed[i] = b.completed
		if b.durN > 0 {
			out.AvgDuration[i] = b.durSum / b.durN
		}
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
