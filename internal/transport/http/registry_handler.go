package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/exporter"
	"licensekit/internal/license"
	"licensekit/internal/middleware"
	"licensekit/internal/registry"
	"licensekit/internal/services"
	"licensekit/pkg/contracts/domain"
)

// RevokeRequest is the body of a revocation
type RevokeRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// LicenseListResponse wraps a registry listing
type LicenseListResponse struct {
	Licenses []domain.LicenseRecord `json:"licenses"`
	Count    int                    `json:"count"`
}

// BlacklistResponse is the blacklist export
type BlacklistResponse struct {
	Blacklist []string `json:"blacklist"`
	Count     int      `json:"count"`
}

// RegistryHandler serves the issuer-side registry endpoints
type RegistryHandler struct {
	service   services.IssuerService
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewRegistryHandler creates a registry handler
func NewRegistryHandler(service services.IssuerService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{
		service:   service,
		validator: middleware.NewRequestValidator(logger),
		logger:    logger.With(slog.String("handler", "registry")),
	}
}

// Routes returns the router mounted at /api/registry
func (h *RegistryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/licenses", h.ListLicenses)
	r.With(middleware.ContentTypeJSON).Post("/licenses", h.GenerateLicense)
	r.Get("/licenses/{id}", h.GetLicense)
	r.With(middleware.ContentTypeJSON).Post("/licenses/{id}/revoke", h.RevokeLicense)
	r.Get("/blacklist", h.GetBlacklist)
	r.Get("/stats", h.GetStats)
	r.Get("/export", h.Export)
	return r
}

// ListLicenses handles GET /api/registry/licenses
func (h *RegistryHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}

	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	if records == nil {
		records = []domain.LicenseRecord{}
	}
	render.JSON(w, r, LicenseListResponse{Licenses: records, Count: len(records)})
}

// GenerateLicense handles POST /api/registry/licenses
func (h *RegistryHandler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req license.GenerateRequest
	if err := h.validator.Decode(r, &req); err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	// Artifacts served over HTTP always land in the configured output directory
	req.OutputPath = ""

	result, err := h.service.Generate(r.Context(), req)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "license issued over http",
		slog.String("trace_id", middleware.GetRequestID(r.Context())),
		slog.String("license_id", result.Record.ID),
		slog.String("client", result.Record.Client))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// GetLicense handles GET /api/registry/licenses/{id}
func (h *RegistryHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, record)
}

// RevokeLicense handles POST /api/registry/licenses/{id}/revoke. The body is
// optional. Revoking twice answers 200 with alreadyRevoked set.
func (h *RegistryHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if r.ContentLength != 0 {
		if err := h.validator.Decode(r, &req); err != nil {
			renderError(w, r, h.logger, err)
			return
		}
	}

	result, err := h.service.Revoke(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, result)
}

// GetBlacklist handles GET /api/registry/blacklist
func (h *RegistryHandler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ExportBlacklist(r.Context())
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, BlacklistResponse{Blacklist: ids, Count: len(ids)})
}

// GetStats handles GET /api/registry/stats
func (h *RegistryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, stats)
}

// Export handles GET /api/registry/export?format=csv|xlsx
func (h *RegistryHandler) Export(w http.ResponseWriter, r *http.Request) {
	name, err := middleware.QueryEnum(r, "format", []string{"csv", "xlsx", "excel"}, "csv")
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}
	format, err := exporter.ParseFormat(name)
	if err != nil {
		renderError(w, r, h.logger, apierrors.InvalidRequestWithError(err))
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		renderError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+exporter.FileName(format, time.Now())+`"`)
	if err := h.service.Export(r.Context(), w, format, filter); err != nil {
		w.Header().Del("Content-Disposition")
		renderError(w, r, h.logger, err)
		return
	}
}

func parseFilter(r *http.Request) (registry.Filter, error) {
	q := r.URL.Query()
	filter := registry.Filter{Client: strings.TrimSpace(q.Get("client"))}

	if t := strings.TrimSpace(q.Get("type")); t != "" {
		lt, err := license.ParseLicenseType(t)
		if err != nil {
			return filter, err
		}
		filter.LicenseType = lt
	}
	for param, dst := range map[string]**bool{"active": &filter.Active, "revoked": &filter.Revoked} {
		if q.Get(param) == "" {
			continue
		}
		v, err := middleware.QueryBool(r, param)
		if err != nil {
			return filter, err
		}
		*dst = &v
	}
	return filter, nil
}
