package plivo

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"docvai-dashboard/internal/calls"
	"docvai-dashboard/internal/reconcile"
	"docvai-dashboard/pkg/logger"
)

// maxPages caps one sync run; combined with the page limit it bounds the
// number of provider requests per invocation.
const maxPages = 10

// Syncer pulls recent inbound Plivo calls, resolves their recordings and
// merges them into the record store through the reconciliation engine, so
// Plivo rows obey the same coalesce contract as voice-AI rows.
type Syncer struct {
	client *Client
	engine *reconcile.Engine

	defaultLookback time.Duration
	pageLimit       int
}

func NewSyncer(client *Client, engine *reconcile.Engine, lookbackMin, pageLimit int) *Syncer {
	if lookbackMin <= 0 {
		lookbackMin = 240
	}
	if pageLimit <= 0 {
		pageLimit = 50
	}
	return &Syncer{
		client:          client,
		engine:          engine,
		defaultLookback: time.Duration(lookbackMin) * time.Minute,
		pageLimit:       pageLimit,
	}
}

// Outcome summarizes one sync run.
type Outcome struct {
	Synced  int       `json:"synced"`
	Scanned int       `json:"scanned"`
	Since   time.Time `json:"since"`
}

// Sync ingests inbound calls ended within the lookback window. Zero lookback
// means the configured default. Per-call failures (no uuid, outbound
// direction, recording lookup errors) skip the call, never the run.
func (s *Syncer) Sync(ctx context.Context, lookback time.Duration) (Outcome, error) {
	if lookback <= 0 {
		lookback = s.defaultLookback
	}
	since := time.Now().Add(-lookback)
	out := Outcome{Since: since.UTC()}
	log := logger.From(ctx)

	offset := 0
	for page := 0; page < maxPages; page++ {
		cdrs, err := s.client.ListInboundCalls(ctx, since, s.pageLimit, offset)
		if err != nil {
			if page == 0 {
				return out, err
			}
			log.Warn("plivo listing failed mid-run", "page", page, "err", err)
			return out, nil
		}
		out.Scanned += len(cdrs.Items)

		for _, cdr := range cdrs.Items {
			if s.syncOne(ctx, cdr, log) {
				out.Synced++
			}
		}

		if cdrs.NextOffset == nil {
			break
		}
		offset = *cdrs.NextOffset
	}
	return out, nil
}

// RunPeriodic blocks, running Sync at the given interval until the context
// is cancelled.
func (s *Syncer) RunPeriodic(ctx context.Context, interval time.Duration) {
	log := logger.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := s.Sync(ctx, 0)
			if err != nil {
				log.Warn("scheduled plivo sync failed", "err", err)
				continue
			}
			log.Info("plivo sync finished", "scanned", out.Scanned, "synced", out.Synced)
		}
	}
}

func (s *Syncer) syncOne(ctx context.Context, cdr map[string]any, log *slog.Logger) bool {
	norm := normalizeCDR(cdr)
	if norm.callUUID == "" {
		return false
	}
	if norm.direction != "" && !strings.Contains(strings.ToLower(norm.direction), "inbound") {
		return false
	}

	var best map[string]any
	recs, err := s.client.ListRecordings(ctx, norm.callUUID)
	if err != nil {
		log.Warn("plivo recording lookup failed", "call_uuid", norm.callUUID, "err", err)
	} else {
		best = newestRecording(recs)
	}
	recURL, recDur := normalizeRecording(best)

	status := "completed"
	dur := norm.durationSec
	if dur == nil {
		dur = recDur
	}

	payload, err := json.Marshal(map[string]any{
		"plivo_cdr":       cdr,
		"plivo_recording": best,
	})
	if err != nil {
		payload = nil
	}

	p := calls.Partial{
		ProviderCallID: norm.callUUID,
		ToNumber:       norm.toNumber,
		FromNumber:     norm.fromNumber,
		Status:         &status,
		DurationSec:    dur,
		RecordingURL:   recURL,
		Payload:        payload,
	}
	if err := s.engine.Seed(ctx, p); err != nil {
		log.Warn("plivo record upsert failed", "call_uuid", norm.callUUID, "err", err)
		return false
	}
	return true
}

type cdrFields struct {
	callUUID    string
	toNumber    *string
	fromNumber  *string
	direction   string
	durationSec *int
}

func normalizeCDR(c map[string]any) cdrFields {
	out := cdrFields{
		callUUID:  firstString(c, "call_uuid", "uuid", "call_uuid_v2"),
		direction: firstString(c, "direction"),
	}
	if v := firstString(c, "to_number", "to", "to_formatted"); v != "" {
		out.toNumber = &v
	}
	if v := firstString(c, "from_number", "from", "from_formatted"); v != "" {
		out.fromNumber = &v
	}
	out.durationSec = firstInt(c, "total_duration_sec", "total_time", "call_duration", "bill_duration")
	return out
}

// normalizeRecording extracts the recording URL and its duration; Plivo
// reports the latter in milliseconds on some accounts and seconds on others.
func normalizeRecording(rec map[string]any) (*string, *int) {
	if rec == nil {
		return nil, nil
	}
	var recURL *string
	if v := firstString(rec, "recording_url", "url"); v != "" {
		recURL = &v
	}
	if ms, ok := coerceNumber(rec["recording_duration_ms"]); ok {
		n := int(math.Round(ms / 1000))
		return recURL, &n
	}
	if dur := firstInt(rec, "recording_duration"); dur != nil {
		return recURL, dur
	}
	return recURL, nil
}

// newestRecording picks the most recently added recording.
func newestRecording(recs []map[string]any) map[string]any {
	var (
		best   map[string]any
		bestAt time.Time
	)
	for _, rec := range recs {
		at := recordingTime(rec)
		if best == nil || at.After(bestAt) {
			best = rec
			bestAt = at
		}
	}
	return best
}

var recordingTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

func recordingTime(rec map[string]any) time.Time {
	s := firstString(rec, "add_time", "created_at")
	for _, layout := range recordingTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstInt(obj map[string]any, keys ...string) *int {
	for _, k := range keys {
		f, ok := coerceNumber(obj[k])
		if !ok {
			continue
		}
		n := int(f)
		return &n
	}
	return nil
}

func coerceNumber(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
