// Package handler exposes impersonation session management over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/impersonation"
	id "warden/pkg/domain"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/auth"
)

// Service is the session surface the handler consumes.
type Service interface {
	Start(ctx context.Context, adminID id.AdminID, targetUserID id.UserID, reason string) (*impersonation.Session, error)
	End(ctx context.Context, adminID id.AdminID, sessionID id.SessionID) (*impersonation.Session, error)
	ActiveSessionFor(ctx context.Context, adminID id.AdminID) (*impersonation.Session, error)
	List(ctx context.Context, adminID id.AdminID, limit int) ([]*impersonation.Session, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the impersonation routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/impersonation/start", h.handleStart)
	r.Post("/impersonation/{id}/end", h.handleEnd)
	r.Get("/impersonation/active", h.handleActive)
	r.Get("/impersonation/sessions", h.handleList)
}

type startRequest struct {
	TargetUserID string `json:"target_user_id"`
	Reason       string `json:"reason"`
}

type sessionResponse struct {
	ID           string     `json:"id"`
	AdminID      string     `json:"admin_id"`
	TargetUserID string     `json:"target_user_id"`
	Reason       string     `json:"reason"`
	StartedAt    time.Time  `json:"started_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       string     `json:"status"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func toSessionResponse(session *impersonation.Session) sessionResponse {
	return sessionResponse{
		ID:           session.ID.String(),
		AdminID:      session.AdminID.String(),
		TargetUserID: session.TargetUserID.String(),
		Reason:       session.Reason,
		StartedAt:    session.StartedAt,
		ExpiresAt:    session.ExpiresAt,
		Status:       string(session.Status),
		EndedAt:      session.EndedAt,
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := auth.AdminID(ctx)

	req, ok := httputil.Decode[startRequest](w, r, h.logger)
	if !ok {
		return
	}
	targetUserID, err := id.ParseUserID(req.TargetUserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.service.Start(ctx, adminID, targetUserID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "impersonation start rejected",
			"target_user_id", req.TargetUserID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := auth.AdminID(ctx)

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.service.End(ctx, adminID, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.service.ActiveSessionFor(ctx, auth.AdminID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if session == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"session": toSessionResponse(session)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	sessions, err := h.service.List(ctx, auth.AdminID(ctx), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	responses := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, toSessionResponse(session))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": responses})
}
