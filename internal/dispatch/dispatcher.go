// Package dispatch fans a batch of phone numbers out to the provider's
// start-call operation with bounded concurrency and seeds a pending record
// per successfully-initiated call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"docvai-dashboard/internal/bolna"
	"docvai-dashboard/internal/calls"
	"docvai-dashboard/internal/reconcile"
	"docvai-dashboard/pkg/phone"
)

var (
	ErrNoNumbers = errors.New("dispatch: no phone numbers provided")
	ErrNoAgent   = errors.New("dispatch: no agent id provided or configured")
)

// CallStarter is the provider operation the dispatcher needs.
type CallStarter interface {
	StartCall(ctx context.Context, req bolna.StartCallRequest) (bolna.StartCallResult, error)
}

// Options configure dispatcher defaults, usually from config.
type Options struct {
	// FallbackAgentID is used when a request names no agent.
	FallbackAgentID string
	// DefaultFromNumber is the configured outbound caller id.
	DefaultFromNumber string
	// WebhookURL is forwarded to the provider so call updates push back.
	WebhookURL string
	// MaxConcurrent bounds in-flight provider requests. The fan-out runs in
	// fixed-size waves; wave N+1 starts only after wave N fully resolves.
	MaxConcurrent int
	// Region is the parsing hint for national-format numbers.
	Region string
}

type Dispatcher struct {
	provider CallStarter
	engine   *reconcile.Engine
	opts     Options
	log      *slog.Logger
}

func New(provider CallStarter, engine *reconcile.Engine, opts Options, log *slog.Logger) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.Region == "" {
		opts.Region = "US"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{provider: provider, engine: engine, opts: opts, log: log}
}

type Request struct {
	Numbers    []string `json:"numbers"`
	AgentID    string   `json:"agentId"`
	FromNumber string   `json:"fromNumber"`
}

// NumberResult reports one number's attempt, in input order.
type NumberResult struct {
	Phone  string `json:"phone"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	// ProviderCallID is empty when the provider response carried no id; such
	// calls are reported but seed no record.
	ProviderCallID string `json:"id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type Outcome struct {
	CreatedIDs []string       `json:"created"`
	Results    []NumberResult `json:"provider"`
}

// Dispatch requests one call per number in waves of MaxConcurrent. Wave N+1
// does not start until wave N fully resolves; within a wave, completion order
// is unspecified. Failed numbers are never retried here; callers resubmit.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	numbers := make([]string, 0, len(req.Numbers))
	for _, n := range req.Numbers {
		if n = strings.TrimSpace(n); n != "" {
			numbers = append(numbers, phone.NormalizeE164(n, d.opts.Region))
		}
	}
	if len(numbers) == 0 {
		return Outcome{}, ErrNoNumbers
	}

	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = d.opts.FallbackAgentID
	}
	if agentID == "" {
		return Outcome{}, ErrNoAgent
	}

	fromNumber := strings.TrimSpace(req.FromNumber)
	if fromNumber == "" {
		fromNumber = d.opts.DefaultFromNumber
	}

	results := make([]NumberResult, len(numbers))
	for start := 0; start < len(numbers); start += d.opts.MaxConcurrent {
		end := start + d.opts.MaxConcurrent
		if end > len(numbers) {
			end = len(numbers)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = d.one(gctx, agentID, fromNumber, numbers[i])
				return nil
			})
		}
		// Workers report failures per number instead of returning errors.
		_ = g.Wait()
	}

	out := Outcome{Results: results, CreatedIDs: []string{}}
	for _, r := range results {
		if r.ProviderCallID != "" {
			out.CreatedIDs = append(out.CreatedIDs, r.ProviderCallID)
		}
	}
	return out, nil
}

func (d *Dispatcher) one(ctx context.Context, agentID, fromNumber, number string) NumberResult {
	res, err := d.provider.StartCall(ctx, bolna.StartCallRequest{
		AgentID:    agentID,
		ToNumber:   number,
		FromNumber: fromNumber,
		WebhookURL: d.opts.WebhookURL,
	})
	if err != nil {
		d.log.Warn("start call failed", "to", number, "err", err)
		return NumberResult{Phone: number, OK: false, Reason: "provider_unreachable"}
	}

	out := NumberResult{
		Phone:          number,
		OK:             res.OK,
		Status:         res.Status,
		ProviderCallID: res.ProviderCallID,
	}
	if res.ProviderCallID == "" {
		if !res.OK {
			out.Reason = fmt.Sprintf("provider_status_%d", res.Status)
		} else {
			out.Reason = "missing_provider_call_id"
		}
		return out
	}

	status := "initiated"
	if !res.OK {
		status = fmt.Sprintf("error_%d", res.Status)
	}
	seed := calls.Partial{
		ProviderCallID: res.ProviderCallID,
		AgentID:        &agentID,
		ToNumber:       &number,
		Status:         &status,
		Payload:        res.Body,
	}
	if fromNumber != "" {
		seed.FromNumber = &fromNumber
	}
	if err := d.engine.Seed(ctx, seed); err != nil {
		d.log.Error("seed record failed", "provider_call_id", res.ProviderCallID, "err", err)
		out.Reason = "seed_failed"
	}
	return out
}
