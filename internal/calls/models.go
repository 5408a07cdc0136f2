package calls

import (
	"encoding/json"
	"time"
)

// CallRecord is the sole persisted entity: one row per provider call.
//
// ProviderCallID is the provider's identifier for a call/execution and is
// unique when present. A record is created either speculatively by the
// outbound dispatcher right after a call is requested, or by reconciling a
// webhook push / poll response / bulk sync item for a call not yet seen.
//
// Payload holds the last-seen raw provider JSON and is overwritten wholesale
// on every reconciliation; scalar fields are only ever filled, never blanked.
type CallRecord struct {
	ID             int64  `json:"id"`
	ProviderCallID string `json:"provider_call_id"`

	AgentID    *string `json:"agent_id,omitempty"`
	ToNumber   *string `json:"to_number,omitempty"`
	FromNumber *string `json:"from_number,omitempty"`

	// Status is provider-defined free text ("queued", "initiated",
	// "completed", "error_502", ...). It is stored and filtered on, never
	// enumerated.
	Status *string `json:"status,omitempty"`

	DurationSec    *int    `json:"duration_sec,omitempty"`
	RecordingURL   *string `json:"recording_url,omitempty"`
	TranscriptURL  *string `json:"transcript_url,omitempty"`
	TranscriptText *string `json:"transcript_text,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Partial is a normalized fragment of a CallRecord produced from one raw
// provider payload. Nil fields mean "no observation"; the store keeps the
// existing value for them. Payload is always replaced.
type Partial struct {
	ProviderCallID string

	AgentID        *string
	ToNumber       *string
	FromNumber     *string
	Status         *string
	DurationSec    *int
	RecordingURL   *string
	TranscriptURL  *string
	TranscriptText *string
	StartedAt      *time.Time
	EndedAt        *time.Time

	Payload json.RawMessage
}
