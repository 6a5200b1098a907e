// Package api exposes HTTP handlers for the retirement timeline service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"

	"example.com/retirement/internal/auth"
	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/persistence"
	"example.com/retirement/internal/timeline"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	layout  timeline.Layout
	logger  log.Interface
}

// HandlerOption customises the Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger that records unexpected request failures.
func WithLogger(logger log.Interface) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler that renders SVG with layout.
func NewHandler(service *domain.Service, layout timeline.Layout, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, layout: layout, logger: log.Log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/timeline", h.read(http.MethodGet, h.timelineView))
	mux.HandleFunc("/v1/timeline.svg", h.read(http.MethodGet, h.timelineSVG))
	mux.HandleFunc("/v1/timeline/pointer", h.write(h.pointer))
	mux.HandleFunc("/v1/timeline/display-mode", h.write(h.toggleDisplayMode))
	mux.HandleFunc("/v1/timeline/prompt/cancel", h.write(h.cancelPrompt))
	mux.HandleFunc("/v1/work-period", h.write(h.workPeriod))
	mux.HandleFunc("/v1/profile", h.write(h.updateProfile))
	mux.HandleFunc("/v1/retirement", h.write(h.updateRetirement))
	mux.HandleFunc("/v1/pension", h.read(http.MethodGet, h.pensionSummary))
	mux.HandleFunc("/v1/pension/forecast", h.read(http.MethodGet, h.pensionForecast))
	mux.HandleFunc("/v1/pension/history", h.read(http.MethodGet, h.pensionHistory))
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type ownerHandler func(http.ResponseWriter, *http.Request, domain.Owner)

func (h *Handler) read(method string, next ownerHandler) http.HandlerFunc {
	return guard(method, next, auth.ScopeTimelineRead, auth.ScopeTimelineWrite)
}

func (h *Handler) write(next ownerHandler) http.HandlerFunc {
	return guard(http.MethodPost, next, auth.ScopeTimelineWrite)
}

// guard checks the method, the bearer claims and that at least one of scopes
// is granted, then resolves the timeline owner from the claims.
func guard(method string, next ownerHandler, scopes ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		granted := false
		for _, scope := range scopes {
			if claims.HasScope(scope) {
				granted = true
				break
			}
		}
		if !granted {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
			return
		}
		next(w, r, domain.Owner{TenantID: claims.TenantID, UserID: claims.Subject})
	}
}

func (h *Handler) timelineView(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	view, err := h.service.View(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) timelineSVG(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	view, err := h.service.View(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(timeline.Render(view, h.layout)))
}

func (h *Handler) pointer(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	var ev domain.PointerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	view, err := h.service.Pointer(r.Context(), owner, ev)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) toggleDisplayMode(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	view, err := h.service.ToggleDisplayMode(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) cancelPrompt(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	view, err := h.service.CancelPrompt(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// workPeriod answers every outcome with the {success, error} envelope the
// page expects. Rejected commands are 200; only unreadable bodies and
// storage failures change the status.
func (h *Handler) workPeriod(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	var cmd domain.WorkPeriodCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.WorkPeriodResult{Error: "unable to parse body"})
		return
	}

	result, err := h.service.Apply(r.Context(), owner, cmd)
	status := http.StatusOK
	if errors.Is(err, domain.ErrPersistence) {
		status = http.StatusServiceUnavailable
		result.Error = domain.ErrPersistence.Error()
	}
	writeJSON(w, status, result)
}

// ProfileRequest is the payload for POST /v1/profile.
type ProfileRequest struct {
	CurrentAge *int   `json:"current_age"`
	Gender     string `json:"gender"`
}

// RetirementRequest is the payload for POST /v1/retirement.
type RetirementRequest struct {
	PlannedRetirementAge *int `json:"planned_retirement_age"`
}

// ProfileView is the JSON form of the owner profile.
type ProfileView struct {
	CurrentAge           int    `json:"current_age"`
	Gender               string `json:"gender"`
	BirthYear            int    `json:"birth_year"`
	LegalRetirementAge   int    `json:"legal_retirement_age"`
	PlannedRetirementAge int    `json:"planned_retirement_age"`
}

// ProfileResponse echoes the saved profile with the refreshed summary.
type ProfileResponse struct {
	Profile ProfileView     `json:"profile"`
	Summary pension.Summary `json:"summary"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.CurrentAge == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "current_age is required")
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), owner, *req.CurrentAge, req.Gender)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeProfile(w, r, owner, profile)
}

func (h *Handler) updateRetirement(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	var req RetirementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.PlannedRetirementAge == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "planned_retirement_age is required")
		return
	}

	profile, err := h.service.UpdateRetirement(r.Context(), owner, *req.PlannedRetirementAge)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeProfile(w, r, owner, profile)
}

func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request, owner domain.Owner, profile timeline.Profile) {
	summary, err := h.service.Summary(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		Profile: ProfileView{
			CurrentAge:           profile.CurrentAge,
			Gender:               string(profile.Gender),
			BirthYear:            profile.BirthYear,
			LegalRetirementAge:   profile.LegalRetirementAge,
			PlannedRetirementAge: profile.PlannedRetirementAge,
		},
		Summary: summary,
	})
}

// SummaryResponse adds the formatted amount to the quick estimate.
type SummaryResponse struct {
	pension.Summary
	Formatted string `json:"formatted_pension"`
}

func (h *Handler) pensionSummary(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	summary, err := h.service.Summary(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: summary, Formatted: pension.FormatPLN(summary.EstimatedPension)})
}

// ForecastResponse adds the formatted amount to the calculator forecast.
type ForecastResponse struct {
	pension.Forecast
	Formatted string `json:"formatted_pension"`
}

func (h *Handler) pensionForecast(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	forecast, err := h.service.Forecast(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ForecastResponse{Forecast: forecast, Formatted: pension.FormatPLN(forecast.MonthlyPension)})
}

// HistoryItem is one stored forecast.
type HistoryItem struct {
	ID           string           `json:"id"`
	SourceEvent  string           `json:"source_event"`
	CalculatedAt time.Time        `json:"calculated_at"`
	Forecast     pension.Forecast `json:"forecast"`
}

// HistoryResponse packages a page of stored forecasts.
type HistoryResponse struct {
	Items      []HistoryItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func (h *Handler) pensionHistory(w http.ResponseWriter, r *http.Request, owner domain.Owner) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	forecasts, next, err := h.service.History(r.Context(), owner, cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := HistoryResponse{Items: make([]HistoryItem, 0, len(forecasts)), NextCursor: persistence.EncodeCursor(next)}
	for _, f := range forecasts {
		resp.Items = append(resp.Items, HistoryItem{
			ID:           f.ID,
			SourceEvent:  f.SourceEvent,
			CalculatedAt: f.CalculatedAt,
			Forecast:     f.Forecast,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps service errors to statuses. Storage and unexpected
// failures are logged and answered with a fixed detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, timeline.ErrActivityNotFound), errors.Is(err, domain.ErrTimelineNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrPersistence):
		h.logger.WithField("path", r.URL.Path).WithError(err).Error("storage failure")
		writeError(w, http.StatusServiceUnavailable, "unavailable", domain.ErrPersistence.Error())
	case errors.Is(err, domain.ErrInvalidPointerEvent),
		errors.Is(err, domain.ErrInvalidProfile),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, timeline.ErrAgeOutOfBounds),
		errors.Is(err, timeline.ErrRangeOutOfBounds):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
