// Package httpapi assembles the admin API router: shared middleware, the
// feature handlers, and the operational endpoints.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	approvalhandler "warden/internal/approval/handler"
	audithandler "warden/internal/audit/handler"
	gatewayhandler "warden/internal/gateway/handler"
	impersonationhandler "warden/internal/impersonation/handler"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/auth"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/request"
	"warden/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router mounts.
type Deps struct {
	Logger        *slog.Logger
	TokenVerifier auth.Validator

	Gateway       *gatewayhandler.Handler
	Approvals     *approvalhandler.Handler
	Audit         *audithandler.Handler
	Impersonation *impersonationhandler.Handler

	// Ready reports whether backing stores are reachable; nil means always
	// ready.
	Ready func() error
}

// NewRouter builds the full route tree. Admin routes sit behind JWT auth;
// health and metrics stay open for the platform.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(request.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(admin chi.Router) {
		admin.Use(auth.RequireAdmin(deps.TokenVerifier, deps.Logger))
		deps.Gateway.Register(admin)
		deps.Approvals.Register(admin)
		deps.Audit.Register(admin)
		deps.Impersonation.Register(admin)
	})

	return r
}
