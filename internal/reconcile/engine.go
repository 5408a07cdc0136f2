package reconcile

import (
	"context"
	"log/slog"

	"docvai-dashboard/internal/calls"
)

// Engine merges provider observations into the record store.
type Engine struct {
	store calls.Store
	log   *slog.Logger
}

func NewEngine(store calls.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log}
}

// Result is the per-item outcome of a reconciliation. Failures are reported,
// never fatal to sibling items.
type Result struct {
	ProviderCallID string `json:"id,omitempty"`
	OK             bool   `json:"ok"`
	Reason         string `json:"reason,omitempty"`
}

// Reconcile normalizes one raw payload and merges it. A payload without an
// extractable provider call id is reported and leaves the store unchanged.
func (e *Engine) Reconcile(ctx context.Context, raw any) Result {
	p, err := Normalize(raw)
	if err != nil {
		return Result{OK: false, Reason: reasonFor(err)}
	}
	if err := e.store.Upsert(ctx, p); err != nil {
		e.log.Error("call upsert failed", "provider_call_id", p.ProviderCallID, "err", err)
		return Result{ProviderCallID: p.ProviderCallID, OK: false, Reason: "upsert_failed"}
	}
	return Result{ProviderCallID: p.ProviderCallID, OK: true}
}

// ReconcileBatch processes every item and reports per-item results; one bad
// item never aborts its siblings.
func (e *Engine) ReconcileBatch(ctx context.Context, items []map[string]any) []Result {
	out := make([]Result, 0, len(items))
	for _, item := range items {
		out = append(out, e.Reconcile(ctx, item))
	}
	return out
}

// Seed records a dispatcher-created call directly from an already-normalized
// partial (the dispatcher extracts the id from the start-call response).
func (e *Engine) Seed(ctx context.Context, p calls.Partial) error {
	return e.store.Upsert(ctx, p)
}
