// Package httpapi holds the dashboard's HTTP handlers. Keep these thin:
// parse/validate input, call internal services, return JSON.
package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"docvai-dashboard/internal/analytics"
	"docvai-dashboard/internal/apperr"
	"docvai-dashboard/internal/auth"
	"docvai-dashboard/internal/bolna"
	"docvai-dashboard/internal/calls"
	"docvai-dashboard/internal/dispatch"
	"docvai-dashboard/internal/plivo"
	"docvai-dashboard/internal/reconcile"
	"docvai-dashboard/pkg/logger"
	"docvai-dashboard/pkg/utils"
)

const (
	defaultSyncMinutes = 120
	maxSyncMinutes     = 24 * 60
	syncLockKey        = "docvai:provider_sync"
	syncLockTTL        = 2 * time.Minute
	conversationsLimit = 200
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Auth      *auth.Manager
	Agents    bolna.AgentLister
	Provider  *bolna.Client
	Store     calls.Store
	Engine    *reconcile.Engine
	Dispatch  *dispatch.Dispatcher
	Analytics *analytics.Service
	// PlivoSyncer is nil when Plivo credentials are not configured.
	PlivoSyncer *plivo.Syncer
	DB          *sql.DB
	// Redis backs the provider-sync single-flight lock; nil disables it.
	Redis *redis.Client
	// SecureCookies marks the session cookie Secure (production only, so
	// local plain-HTTP development keeps working).
	SecureCookies bool
}

/* ===================== AUTH ===================== */

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil && !h.Auth.Disabled() {
		respondError(c, apperr.Validation("invalid json body"))
		return
	}

	tok, id, err := h.Auth.Login(req.Email, req.Password, time.Now())
	if err != nil {
		respondError(c, apperr.Unauthorized("invalid email or password"))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, tok, int(h.Auth.SessionTTL().Seconds()), "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": id})
}

func (h Handlers) Whoami(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Unauthorized("no session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": id})
}

/* ===================== PROVIDER ===================== */

func (h Handlers) ListAgents(c *gin.Context) {
	agents, err := h.Agents.ListAgents(c.Request.Context())
	if err != nil {
		respondError(c, providerErr("agent listing failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "agents": agents})
}

func (h Handlers) CallsOutbound(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid json body"))
		return
	}

	out, err := h.Dispatch.Dispatch(c.Request.Context(), req)
	switch err {
	case nil:
	case dispatch.ErrNoNumbers:
		respondError(c, apperr.Validation("numbers is required"))
		return
	case dispatch.ErrNoAgent:
		respondError(c, apperr.Validation("agentId is required and no default agent is configured"))
		return
	default:
		respondError(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"created":  out.CreatedIDs,
		"provider": out.Results,
	})
}

func (h Handlers) ProviderPoll(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		respondError(c, apperr.Validation("id is required"))
		return
	}

	res, err := h.Provider.FetchExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindProvider, "provider unreachable", err))
		return
	}
	if !res.OK {
		if res.Status == http.StatusNotFound {
			respondError(c, apperr.NotFound("no provider execution for id"))
			return
		}
		respondError(c, apperr.Provider(fmt.Sprintf("provider returned status %d", res.Status), res.Status))
		return
	}

	obj, ok := res.Object()
	if !ok {
		respondError(c, apperr.Provider("provider response was not an object", 0))
		return
	}

	result := h.Engine.Reconcile(c.Request.Context(), obj)
	out := gin.H{"ok": result.OK, "id": result.ProviderCallID, "source": res.URL}
	if result.Reason != "" {
		out["reason"] = result.Reason
	}
	if result.OK {
		if rec, err := h.Store.GetByProviderCallID(c.Request.Context(), result.ProviderCallID); err == nil {
			out["call"] = rec
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ProviderSync(c *gin.Context) {
	minutes := defaultSyncMinutes
	if raw := c.Query("minutes"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			minutes = n
		}
	}
	if minutes > maxSyncMinutes {
		minutes = maxSyncMinutes
	}

	ctx := c.Request.Context()
	if h.Redis != nil {
		ok, err := utils.AcquireSlot(ctx, h.Redis, syncLockKey, 1, syncLockTTL)
		if err != nil {
			// A broken lock should not block reconciliation; sync proceeds
			// unguarded and the atomic upsert absorbs any overlap.
			logger.FromGin(c).Warn("sync lock unavailable", "err", err)
		} else if !ok {
			c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "already_running"})
			return
		} else {
			defer func() {
				// The request context may already be cancelled when the
				// client disconnected mid-sync; the lock must still go.
				if err := utils.ReleaseSlot(context.WithoutCancel(ctx), h.Redis, syncLockKey); err != nil {
					logger.FromGin(c).Warn("sync lock release failed", "err", err)
				}
			}()
		}
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	items, source, err := h.Provider.ListExecutions(ctx, since)
	if err != nil {
		respondError(c, providerErr("execution listing failed", err))
		return
	}

	results := h.Engine.ReconcileBatch(ctx, items)
	synced := 0
	for _, r := range results {
		if r.OK {
			synced++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"minutes": minutes,
		"source":  source,
		"scanned": len(items),
		"synced":  synced,
		"results": results,
	})
}

func (h Handlers) PlivoSync(c *gin.Context) {
	if h.PlivoSyncer == nil {
		respondError(c, apperr.Validation("plivo credentials are not configured"))
		return
	}

	var lookback time.Duration
	if raw := c.Query("lookback_min"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, apperr.Validation("lookback_min must be a positive integer"))
			return
		}
		lookback = time.Duration(n) * time.Minute
	}

	out, err := h.PlivoSyncer.Sync(c.Request.Context(), lookback)
	if err != nil {
		respondError(c, plivoErr("plivo listing failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"since":   out.Since,
		"scanned": out.Scanned,
		"synced":  out.Synced,
	})
}

type importRequest struct {
	IDs []string `json:"ids"`
}

func (h Handlers) ProviderImport(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid json body"))
		return
	}
	if len(req.IDs) == 0 {
		respondError(c, apperr.Validation("ids is required"))
		return
	}

	ctx := c.Request.Context()
	results := make([]reconcile.Result, 0, len(req.IDs))
	imported := 0
	for _, id := range req.IDs {
		res, err := h.Provider.FetchExecution(ctx, id)
		if err != nil {
			results = append(results, reconcile.Result{ProviderCallID: id, Reason: "provider_unreachable"})
			continue
		}
		if !res.OK {
			results = append(results, reconcile.Result{ProviderCallID: id, Reason: fmt.Sprintf("provider_status_%d", res.Status)})
			continue
		}
		obj, ok := res.Object()
		if !ok {
			results = append(results, reconcile.Result{ProviderCallID: id, Reason: "not_an_object"})
			continue
		}
		r := h.Engine.Reconcile(ctx, obj)
		if r.OK {
			imported++
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "imported": imported, "results": results})
}

func (h Handlers) Webhook(c *gin.Context) {
	var raw any
	if err := c.ShouldBindJSON(&raw); err != nil {
		respondError(c, apperr.Validation("invalid json body"))
		return
	}

	result := h.Engine.Reconcile(c.Request.Context(), raw)
	out := gin.H{"ok": result.OK}
	if result.ProviderCallID != "" {
		out["id"] = result.ProviderCallID
	}
	if result.Reason != "" {
		out["reason"] = result.Reason
	}
	// Always 200 so the provider does not retry payloads we cannot use.
	c.JSON(http.StatusOK, out)
}

/* ===================== RECORDS & ANALYTICS ===================== */

func (h Handlers) Conversations(c *gin.Context) {
	recs, err := h.Store.ListRecent(c.Request.Context(), conversationsLimit)
	if err != nil {
		respondError(c, apperr.Storage(err))
		return
	}
	if recs == nil {
		recs = []calls.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(recs), "calls": recs})
}

func (h Handlers) AnalyticsSummary(c *gin.Context) {
	window := analytics.ParseWindow(c.Query("window"))
	sum, err := h.Analytics.Summarize(c.Request.Context(), window)
	if err != nil {
		respondError(c, apperr.Storage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "windowDays": window, "summary": sum})
}

func (h Handlers) AnalyticsTimeseries(c *gin.Context) {
	window := analytics.ParseWindow(c.Query("window"))
	ts, err := h.Analytics.TimeseriesFor(c.Request.Context(), window)
	if err != nil {
		respondError(c, apperr.Storage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "windowDays": window, "timeseries": ts})
}

/* ===================== HEALTH ===================== */

func (h Handlers) Healthz(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// providerErr maps gateway failures, surfacing the upstream status when the
// client reported one.
func providerErr(detail string, err error) error {
	if se, ok := err.(*bolna.StatusError); ok {
		return apperr.Provider(detail, se.Status)
	}
	return apperr.Wrap(apperr.KindProvider, detail, err)
}

func plivoErr(detail string, err error) error {
	if se, ok := err.(*plivo.StatusError); ok {
		return apperr.Provider(detail, se.Status)
	}
	return apperr.Wrap(apperr.KindProvider, detail, err)
}
