// Package handler exposes the approval queue's read surface. Decisions go
// through the gateway handler, which owns execution.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/approval"
	id "warden/pkg/domain"
	"warden/pkg/platform/httputil"
)

// Service is the approval surface the handler consumes.
type Service interface {
	Get(ctx context.Context, requestID id.ApprovalID) (*approval.Request, error)
	ListPending(ctx context.Context, limit int) ([]*approval.Request, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the approval routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/approvals/pending", h.handleListPending)
	r.Get("/approvals/{id}", h.handleGet)
}

type requestResponse struct {
	ID            string         `json:"id"`
	ActionType    string         `json:"action_type"`
	EntityType    string         `json:"entity_type"`
	EntityIDs     []string       `json:"entity_ids"`
	Payload       map[string]any `json:"payload,omitempty"`
	Reason        string         `json:"reason"`
	RequestedBy   string         `json:"requested_by"`
	Status        string         `json:"status"`
	Severity      string         `json:"severity"`
	Rule          string         `json:"rule"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	DecidedBy     *string        `json:"decided_by,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	DecisionNotes string         `json:"decision_notes,omitempty"`
}

func toRequestResponse(request *approval.Request) requestResponse {
	resp := requestResponse{
		ID:            request.ID.String(),
		ActionType:    string(request.Descriptor.Type),
		EntityType:    request.Descriptor.EntityType,
		EntityIDs:     request.Descriptor.EntityIDs,
		Payload:       request.Descriptor.Payload,
		Reason:        request.Descriptor.Reason,
		RequestedBy:   request.RequestedBy.String(),
		Status:        string(request.Status),
		Severity:      request.Severity,
		Rule:          request.Rule,
		CreatedAt:     request.CreatedAt,
		ExpiresAt:     request.ExpiresAt,
		DecidedAt:     request.DecidedAt,
		DecisionNotes: request.DecisionNotes,
	}
	if request.DecidedBy != nil {
		s := request.DecidedBy.String()
		resp.DecidedBy = &s
	}
	return resp
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	request, err := h.service.Get(r.Context(), approvalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil {
			limit = parsed
		}
	}

	requests, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	responses := make([]requestResponse, 0, len(requests))
	for _, request := range requests {
		responses = append(responses, toRequestResponse(request))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": responses})
}
