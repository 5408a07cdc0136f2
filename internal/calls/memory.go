package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same coalesce-merge semantics as
// the Postgres implementation. Useful for tests. It is not intended for
// production use.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*CallRecord

	// Now is injectable so tests can control created_at.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, records: make(map[string]*CallRecord), Now: time.Now}
}

func (s *MemoryStore) Upsert(ctx context.Context, p Partial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[p.ProviderCallID]
	if !ok {
		rec = &CallRecord{
			ID:             s.nextID,
			ProviderCallID: p.ProviderCallID,
			CreatedAt:      s.Now().UTC(),
		}
		s.nextID++
		s.records[p.ProviderCallID] = rec
	}

	if p.AgentID != nil {
		rec.AgentID = p.AgentID
	}
	if p.ToNumber != nil {
		rec.ToNumber = p.ToNumber
	}
	if p.FromNumber != nil {
		rec.FromNumber = p.FromNumber
	}
	if p.Status != nil {
		rec.Status = p.Status
	}
	if p.DurationSec != nil {
		rec.DurationSec = p.DurationSec
	}
	if p.RecordingURL != nil {
		rec.RecordingURL = p.RecordingURL
	}
	if p.TranscriptURL != nil {
		rec.TranscriptURL = p.TranscriptURL
	}
	if p.TranscriptText != nil {
		rec.TranscriptText = p.TranscriptText
	}
	if p.StartedAt != nil {
		rec.StartedAt = p.StartedAt
	}
	if p.EndedAt != nil {
		rec.EndedAt = p.EndedAt
	}
	// Payload is replaced wholesale, even when nothing else changed.
	rec.Payload = p.Payload

	return nil
}

func (s *MemoryStore) GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[providerCallID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return *rec, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snapshot()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListCreatedSince(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallRecord
	for _, rec := range s.snapshot() {
		if !rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) snapshot() []CallRecord {
	out := make([]CallRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}
