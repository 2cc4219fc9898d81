// Package handler exposes the gateway's submit and resolve operations over
// HTTP. The acting admin always comes from the authenticated token, never
// from the request body.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/bulk"
	"warden/internal/gateway"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/auth"
)

// Service is the gateway surface the handler consumes.
type Service interface {
	Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.Result, error)
	Resolve(ctx context.Context, req gateway.ResolveRequest) (*gateway.Result, error)
}

// BulkService packs and submits batch actions.
type BulkService interface {
	SubmitOnce(ctx context.Context, requestedBy id.AdminID, batch bulk.Batch, idempotencyKey string) (*gateway.Result, error)
}

type Handler struct {
	service Service
	bulk    BulkService
	logger  *slog.Logger
}

func New(service Service, bulkService BulkService, logger *slog.Logger) *Handler {
	return &Handler{service: service, bulk: bulkService, logger: logger}
}

// Register mounts the action routes. The router is expected to already carry
// the admin auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/actions/submit", h.handleSubmit)
	r.Post("/actions/bulk", h.handleBulkSubmit)
	r.Post("/approvals/{id}/decide", h.handleDecide)
}

type submitRequest struct {
	ActionType     string         `json:"action_type"`
	EntityType     string         `json:"entity_type"`
	EntityIDs      []string       `json:"entity_ids"`
	Payload        map[string]any `json:"payload"`
	Reason         string         `json:"reason"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type bulkSubmitRequest struct {
	ActionType     string   `json:"action_type"`
	EntityType     string   `json:"entity_type"`
	EntityIDs      []string `json:"entity_ids"`
	AmountsCents   []int64  `json:"amounts_cents,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	Reason         string   `json:"reason"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

type decideRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes,omitempty"`
}

type resultResponse struct {
	Status     string  `json:"status"`
	ApprovalID *string `json:"approval_id,omitempty"`
	EntryID    *string `json:"audit_entry_id,omitempty"`
	Replayed   bool    `json:"replayed,omitempty"`
}

func toResultResponse(result *gateway.Result) resultResponse {
	resp := resultResponse{Status: string(result.Status), Replayed: result.Replayed}
	if result.ApprovalID != nil {
		s := result.ApprovalID.String()
		resp.ApprovalID = &s
	}
	if result.EntryID != nil {
		s := result.EntryID.String()
		resp.EntryID = &s
	}
	return resp
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := auth.AdminID(ctx)

	req, ok := httputil.Decode[submitRequest](w, r, h.logger)
	if !ok {
		return
	}

	actionType, err := id.ParseActionType(req.ActionType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Submit(ctx, gateway.SubmitRequest{
		Descriptor: id.ActionDescriptor{
			Type:       actionType,
			EntityType: req.EntityType,
			EntityIDs:  req.EntityIDs,
			Payload:    req.Payload,
			Reason:     req.Reason,
		},
		RequestedBy:    adminID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "submit rejected", "action_type", req.ActionType, "error", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == gateway.StatusPendingApproval && !result.Replayed {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, toResultResponse(result))
}

func (h *Handler) handleBulkSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := auth.AdminID(ctx)

	req, ok := httputil.Decode[bulkSubmitRequest](w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.bulk.SubmitOnce(ctx, adminID, bulk.Batch{
		ActionType:   id.ActionType(req.ActionType),
		EntityType:   req.EntityType,
		EntityIDs:    req.EntityIDs,
		AmountsCents: req.AmountsCents,
		Currency:     req.Currency,
		Reason:       req.Reason,
	}, req.IdempotencyKey)
	if err != nil {
		h.logger.WarnContext(ctx, "bulk submit rejected", "action_type", req.ActionType, "error", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == gateway.StatusPendingApproval && !result.Replayed {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, toResultResponse(result))
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := auth.AdminID(ctx)

	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[decideRequest](w, r, h.logger)
	if !ok {
		return
	}
	outcome, err := id.ParseDecisionOutcome(req.Outcome)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Resolve(ctx, gateway.ResolveRequest{
		ApprovalID: approvalID,
		DeciderID:  adminID,
		Outcome:    outcome,
		Notes:      req.Notes,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeExecutorFailed) {
			h.logger.ErrorContext(ctx, "approved action failed to execute",
				"approval_id", approvalID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toResultResponse(result))
}
