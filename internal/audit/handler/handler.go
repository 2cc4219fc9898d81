// Package handler exposes the audit trail's read-only query surface. There is
// deliberately no write endpoint: entries enter the trail only through the
// services that perform the audited actions.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/audit"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
)

// Service is the audit surface the handler consumes.
type Service interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/entries", h.handleQuery)
}

type entryResponse struct {
	ID                     string         `json:"id"`
	ActorID                string         `json:"actor_id"`
	Action                 string         `json:"action"`
	EntityType             string         `json:"entity_type"`
	EntityID               string         `json:"entity_id,omitempty"`
	Changes                map[string]any `json:"changes,omitempty"`
	ApprovalID             *string        `json:"approval_id,omitempty"`
	ImpersonationSessionID *string        `json:"impersonation_session_id,omitempty"`
	SourceIP               string         `json:"source_ip,omitempty"`
	RequestID              string         `json:"request_id,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}

func toEntryResponse(entry audit.Entry) entryResponse {
	resp := entryResponse{
		ID:         entry.ID.String(),
		ActorID:    entry.Actor.String(),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Changes:    entry.Changes,
		SourceIP:   entry.SourceIP,
		RequestID:  entry.RequestID,
		CreatedAt:  entry.CreatedAt,
	}
	if entry.ApprovalID != nil {
		s := entry.ApprovalID.String()
		resp.ApprovalID = &s
	}
	if entry.ImpersonationSessionID != nil {
		s := entry.ImpersonationSessionID.String()
		resp.ImpersonationSessionID = &s
	}
	return resp
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, toEntryResponse(entry))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": responses})
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	var filter audit.Filter
	q := r.URL.Query()

	if raw := q.Get("actor"); raw != "" {
		actor, err := id.ParseAdminID(raw)
		if err != nil {
			return filter, err
		}
		filter.Actor = &actor
	}
	filter.EntityType = q.Get("entity_type")
	if raw := q.Get("approval_id"); raw != "" {
		approvalID, err := id.ParseApprovalID(raw)
		if err != nil {
			return filter, err
		}
		filter.ApprovalID = &approvalID
	}
	if raw := q.Get("impersonated"); raw != "" {
		impersonated, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "impersonated must be a boolean")
		}
		filter.ImpersonatedOnly = impersonated
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "from must be RFC 3339")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "to must be RFC 3339")
		}
		filter.To = to
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
