package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensekit/internal/middleware"
	"licensekit/internal/services"
)

// LicenseHandler serves the client-side license endpoints
type LicenseHandler struct {
	service services.ClientService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler
func NewLicenseHandler(service services.ClientService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the router mounted at /api/license
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Get("/fingerprint", h.GetFingerprint)
	r.Post("/invalidate-cache", h.InvalidateCache)
	return r
}

// GetStatus handles GET /api/license/status[?verbose=true]. A license that is
// not valid is still a 200: the body carries the status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	verbose, err := middleware.QueryBool(r, "verbose")
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}

	status, err := h.service.Status(r.Context(), verbose)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	if status.TraceID == "" {
		status.TraceID = middleware.GetRequestID(r.Context())
	}
	render.JSON(w, r, status)
}

// GetFingerprint handles GET /api/license/fingerprint[?refresh=true]
func (h *LicenseHandler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	refresh, err := middleware.QueryBool(r, "refresh")
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}

	fp, err := h.service.Fingerprint(r.Context(), refresh)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, fp)
}

// InvalidateCache handles POST /api/license/invalidate-cache
func (h *LicenseHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
