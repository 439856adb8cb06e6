// Package api exposes the abuse service over HTTP: signal ingestion, policy
// queries, the admin operations, the rate-limit verdict and health probes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/httputil"
	"github.com/ignite/abuse-guard/internal/service/abuse"
	"github.com/ignite/abuse-guard/internal/service/ratelimit"
)

// AbuseService is the part of abuse.Service the handlers call.
type AbuseService interface {
	RecordSignal(ctx context.Context, req abuse.SignalRequest) (*abuse.SignalResult, error)
	PolicyFor(ctx context.Context, tenantID string) (*abuse.PolicyView, error)
	ListEvents(ctx context.Context, actor abuse.Actor, tenantID string, filter abuse.EventFilter) ([]domain.AbuseEvent, int, error)
	DismissEvent(ctx context.Context, actor abuse.Actor, eventID, reason string) (*domain.TenantScore, error)
	ForceSuspend(ctx context.Context, actor abuse.Actor, tenantID string, days int, permanent bool, reason string) (*domain.SuspensionRecord, error)
	ForceUnlock(ctx context.Context, actor abuse.Actor, tenantID, reason string) (*domain.SuspensionRecord, error)
	ResetScore(ctx context.Context, actor abuse.Actor, tenantID string, score float64, reason string) (*domain.TenantScore, error)
}

// RateChecker returns the rate-limit verdict for one request.
type RateChecker interface {
	Check(ctx context.Context, tenantID string) ratelimit.Decision
}

var (
	_ AbuseService = (*abuse.Service)(nil)
	_ RateChecker  = (*ratelimit.Limiter)(nil)
)

// Handlers contains all HTTP handlers
type Handlers struct {
	abuse   AbuseService
	limiter RateChecker
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc AbuseService, limiter RateChecker) *Handlers {
	return &Handlers{abuse: svc, limiter: limiter}
}

// signalRequest is the body of POST /api/v1/signals. Metadata uses the same
// {kind, data} envelope the events are stored with.
type signalRequest struct {
	TenantID   string          `json:"tenant_id"`
	SignalType string          `json:"signal_type"`
	Source     string          `json:"source"`
	Severity   string          `json:"severity,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type signalResponse struct {
	EventID       string                   `json:"event_id,omitempty"`
	NewScore      float64                  `json:"new_score"`
	NewLevel      domain.Level             `json:"new_level"`
	Decision      domain.PolicyDecision    `json:"decision"`
	Suspension    *domain.SuspensionRecord `json:"suspension,omitempty"`
	Duplicate     bool                     `json:"duplicate"`
	Halted        bool                     `json:"halted"`
	UnknownSignal bool                     `json:"unknown_signal"`
}

// RecordSignal ingests one abuse signal.
//
//	POST /api/v1/signals
func (h *Handlers) RecordSignal(w http.ResponseWriter, r *http.Request) {
	var body signalRequest
	if !httputil.Decode(w, r, &body) {
		return
	}

	meta, err := domain.DecodeMetadata(body.Metadata)
	if err != nil {
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	req := abuse.SignalRequest{
		TenantID:   body.TenantID,
		SignalType: domain.SignalType(strings.TrimSpace(body.SignalType)),
		Source:     domain.Source(strings.TrimSpace(body.Source)),
		Severity:   domain.Severity(strings.TrimSpace(body.Severity)),
		Metadata:   meta,
	}
	if body.OccurredAt != nil {
		req.OccurredAt = body.OccurredAt.UTC()
	}

	res, err := h.abuse.RecordSignal(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := signalResponse{
		NewScore:      res.Score.CumulativeScore,
		NewLevel:      res.Score.Level,
		Decision:      res.Decision,
		Suspension:    res.Suspension,
		Duplicate:     res.Duplicate,
		Halted:        res.Halted,
		UnknownSignal: res.UnknownSignal,
	}
	if res.Event != nil {
		out.EventID = res.Event.ID
	}
	if res.Duplicate || res.Event == nil {
		httputil.OK(w, out)
		return
	}
	httputil.Created(w, out)
}

// GetPolicy reports a tenant's level and enforcement action.
//
//	GET /api/v1/tenants/{tenantID}/policy
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	view, err := h.abuse.PolicyFor(r.Context(), tenantFromPath(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, view)
}

// ListEvents pages through a tenant's abuse events. Admin only.
//
//	GET /api/v1/tenants/{tenantID}/events?signal_type=&include_dismissed=&since=&page=&limit=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parsePagination(r)
	filter := abuse.EventFilter{
		SignalType: q.Get("signal_type"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if v := q.Get("include_dismissed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", "include_dismissed must be a boolean")
			return
		}
		filter.IncludeDismissed = b
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = &since
	}

	events, total, err := h.abuse.ListEvents(r.Context(), actorFromRequest(r), tenantFromPath(r), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.AbuseEvent{}
	}
	httputil.OK(w, newPaginatedResponse(events, page, total))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// DismissEvent marks an event as a false positive and subtracts its weight.
//
//	POST /api/v1/admin/events/{eventID}/dismiss
func (h *Handlers) DismissEvent(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	score, err := h.abuse.DismissEvent(r.Context(), actorFromRequest(r), chi.URLParam(r, "eventID"), body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, score)
}

type suspendRequest struct {
	Days      int    `json:"days"`
	Permanent bool   `json:"permanent"`
	Reason    string `json:"reason"`
}

// ForceSuspend suspends a tenant immediately.
//
//	POST /api/v1/admin/tenants/{tenantID}/suspend
func (h *Handlers) ForceSuspend(w http.ResponseWriter, r *http.Request) {
	var body suspendRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	rec, err := h.abuse.ForceSuspend(r.Context(), actorFromRequest(r), tenantFromPath(r), body.Days, body.Permanent, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.Created(w, rec)
}

// ForceUnlock ends a tenant's suspension regardless of cooldown.
//
//	POST /api/v1/admin/tenants/{tenantID}/unlock
func (h *Handlers) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	rec, err := h.abuse.ForceUnlock(r.Context(), actorFromRequest(r), tenantFromPath(r), body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, rec)
}

type resetRequest struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// ResetScore sets a tenant's score after manual review.
//
//	POST /api/v1/admin/tenants/{tenantID}/reset
func (h *Handlers) ResetScore(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Score == nil {
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("%s: score is required", abuse.ErrInvalidInput))
		return
	}
	score, err := h.abuse.ResetScore(r.Context(), actorFromRequest(r), tenantFromPath(r), *body.Score, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, score)
}
