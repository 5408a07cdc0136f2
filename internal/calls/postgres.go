package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docvai-dashboard/pkg/utils"
)

// PostgresStore persists call records in the docvai_calls table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the calls table and its indexes if missing.
// Safe to run on every boot.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS docvai_calls (
  id BIGSERIAL PRIMARY KEY,
  provider_call_id TEXT,
  agent_id TEXT,
  to_number TEXT,
  from_number TEXT,
  status TEXT,
  duration_sec INTEGER,
  recording_url TEXT,
  transcript_url TEXT,
  transcript_text TEXT,
  started_at TIMESTAMPTZ,
  ended_at TIMESTAMPTZ,
  payload JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS docvai_calls_provider_call_id_unique_idx
  ON docvai_calls (provider_call_id);

CREATE INDEX IF NOT EXISTS idx_docvai_calls_created_at
  ON docvai_calls (created_at DESC);
`
	// One transaction so a half-created schema never survives a failed boot.
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("calls: ensure schema: %w", err)
	}
	return nil
}

// Upsert is a single atomic statement: insert, or merge with field-level
// coalesce on conflict. EXCLUDED wins only where it is non-null; payload is
// always replaced with the newest raw object.
func (s *PostgresStore) Upsert(ctx context.Context, p Partial) error {
	if p.ProviderCallID == "" {
		return errors.New("calls: provider_call_id is required")
	}

	const q = `
INSERT INTO docvai_calls
  (provider_call_id, agent_id, to_number, from_number, status, duration_sec,
   recording_url, transcript_url, transcript_text, started_at, ended_at, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb)
ON CONFLICT (provider_call_id) DO UPDATE SET
  agent_id        = COALESCE(EXCLUDED.agent_id, docvai_calls.agent_id),
  to_number       = COALESCE(EXCLUDED.to_number, docvai_calls.to_number),
  from_number     = COALESCE(EXCLUDED.from_number, docvai_calls.from_number),
  status          = COALESCE(EXCLUDED.status, docvai_calls.status),
  duration_sec    = COALESCE(EXCLUDED.duration_sec, docvai_calls.duration_sec),
  recording_url   = COALESCE(EXCLUDED.recording_url, docvai_calls.recording_url),
  transcript_url  = COALESCE(EXCLUDED.transcript_url, docvai_calls.transcript_url),
  transcript_text = COALESCE(EXCLUDED.transcript_text, docvai_calls.transcript_text),
  started_at      = COALESCE(EXCLUDED.started_at, docvai_calls.started_at),
  ended_at        = COALESCE(EXCLUDED.ended_at, docvai_calls.ended_at),
  payload         = EXCLUDED.payload
`
	// jsonb wants text input; a nil interface keeps the column NULL.
	var payload any
	if len(p.Payload) > 0 {
		payload = string(p.Payload)
	}
	_, err := s.db.ExecContext(ctx, q,
		p.ProviderCallID,
		p.AgentID,
		p.ToNumber,
		p.FromNumber,
		p.Status,
		p.DurationSec,
		p.RecordingURL,
		p.TranscriptURL,
		p.TranscriptText,
		p.StartedAt,
		p.EndedAt,
		payload,
	)
	return err
}

const recordColumns = `
id, provider_call_id, agent_id, to_number, from_number, status, duration_sec,
recording_url, transcript_url, transcript_text, started_at, ended_at, payload, created_at`

// Both list queries tie-break equal created_at on id so page order is stable
// for rows inserted in the same transaction batch.
const (
	listRecentQuery       = `SELECT ` + recordColumns + ` FROM docvai_calls ORDER BY created_at DESC, id DESC LIMIT $1`
	listCreatedSinceQuery = `SELECT ` + recordColumns + ` FROM docvai_calls WHERE created_at >= $1 ORDER BY created_at ASC, id ASC`
)

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM docvai_calls WHERE provider_call_id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, listRecentQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *PostgresStore) ListCreatedSince(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, listCreatedSinceQuery, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		rec            CallRecord
		providerCallID sql.NullString
		agentID        sql.NullString
		toNumber       sql.NullString
		fromNumber     sql.NullString
		status         sql.NullString
		durationSec    sql.NullInt64
		recordingURL   sql.NullString
		transcriptURL  sql.NullString
		transcriptText sql.NullString
		startedAt      sql.NullTime
		endedAt        sql.NullTime
		payload        []byte
	)

	err := row.Scan(
		&rec.ID,
		&providerCallID,
		&agentID,
		&toNumber,
		&fromNumber,
		&status,
		&durationSec,
		&recordingURL,
		&transcriptURL,
		&transcriptText,
		&startedAt,
		&endedAt,
		&payload,
		&rec.CreatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}

	rec.ProviderCallID = providerCallID.String
	rec.AgentID = strPtr(agentID)
	rec.ToNumber = strPtr(toNumber)
	rec.FromNumber = strPtr(fromNumber)
	rec.Status = strPtr(status)
	if durationSec.Valid {
		n := int(durationSec.Int64)
		rec.DurationSec = &n
	}
	rec.RecordingURL = strPtr(recordingURL)
	rec.TranscriptURL = strPtr(transcriptURL)
	rec.TranscriptText = strPtr(transcriptText)
	rec.StartedAt = timePtr(startedAt)
	rec.EndedAt = timePtr(endedAt)
	rec.Payload = payload
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]CallRecord, error) {
	var out []CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
