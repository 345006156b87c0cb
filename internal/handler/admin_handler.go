package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"email-guard/internal/service"
	"email-guard/internal/util"
)

// AdminHandler serves the monitoring and administration API over the
// protection state. Authentication belongs to the platform gateway; a shared
// token check guards the group when one is configured.
type AdminHandler struct {
	service *service.AbuseService
	token   string
	logger  *zap.Logger
}

func NewAdminHandler(svc *service.AbuseService, token string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: svc,
		token:   token,
		logger:  logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// RegisterRoutes registers the admin monitoring routes.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin/email-abuse", func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Get("/stats", h.Stats)
		r.Get("/blocked-ips", h.BlockedIPs)
		r.Get("/otp-attempts", h.OTPAttempts)
		r.Get("/email-frequency", h.EmailFrequency)
		r.Get("/export", h.Export)
		r.Get("/search", h.Search)

		r.Post("/block-ip", h.BlockIP)
		r.Delete("/unblock-ip/{ip}", h.UnblockIP)
		r.Delete("/clear-otp-attempts/{email}", h.ClearOTPAttempts)
	})
}

// requireAdmin enforces the shared admin token when one is configured. An
// empty token means an upstream gateway owns authentication.
func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.Header.Get("X-Admin-Token") != h.token {
			h.respondWithJSON(w, http.StatusForbidden, Response{
				Success: false,
				Error:   "admin access required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats handles GET /admin/email-abuse/stats?timeframe=1h|6h|24h|7d
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "24h"
	}

	stats, err := h.service.Stats(r.Context(), timeframe)
	if err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Failed to aggregate abuse stats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(stats, "Abuse stats aggregated"))
}

// BlockedIPs handles GET /admin/email-abuse/blocked-ips
func (h *AdminHandler) BlockedIPs(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.service.BlockedIPs(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to list blocked IPs")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(blocked, "Blocked IPs retrieved"))
}

// OTPAttempts handles GET /admin/email-abuse/otp-attempts
func (h *AdminHandler) OTPAttempts(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.OTPAttempts(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to list OTP attempts")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(entries, "OTP attempt counters retrieved"))
}

// EmailFrequency handles GET /admin/email-abuse/email-frequency
func (h *AdminHandler) EmailFrequency(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.EmailFrequency(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to list frequency entries")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(entries, "Email frequency entries retrieved"))
}

// BlockIPRequest is the manual block payload.
type BlockIPRequest struct {
	IP       string `json:"ip"`
	Reason   string `json:"reason,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
}

// BlockIP handles POST /admin/email-abuse/block-ip
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	err := h.service.BlockIP(r.Context(), req.IP, req.Reason, time.Duration(req.Duration)*time.Second)
	if err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Failed to block IP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "IP blocked"))
	h.logger.Info("Admin blocked IP", util.String("ip", req.IP))
}

// UnblockIP handles DELETE /admin/email-abuse/unblock-ip/{ip}
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	if err := h.service.UnblockIP(r.Context(), ip); err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Failed to unblock IP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "IP unblocked"))
	h.logger.Info("Admin unblocked IP", util.String("ip", ip))
}

// ClearOTPAttempts handles DELETE /admin/email-abuse/clear-otp-attempts/{email}
func (h *AdminHandler) ClearOTPAttempts(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	if err := h.service.ClearOTPAttempts(r.Context(), email); err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Failed to clear OTP attempts")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP attempts cleared"))
	h.logger.Info("Admin cleared OTP attempts", util.String("email", email))
}

// Export handles GET /admin/email-abuse/export?format=json|csv&timeframe=...
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "24h"
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	entries, err := h.service.Export(r.Context(), timeframe)
	if err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Failed to export abuse logs")
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="abuse-logs-`+timeframe+`.csv"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(service.ExportCSV(entries))
	case "json":
		h.respondWithJSON(w, http.StatusOK, entries)
	default:
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("format must be json or csv"), "Unsupported export format")
	}
}

// Search handles GET /admin/email-abuse/search?q=...&limit=...
func (h *AdminHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("query parameter q is required"), "Missing search query")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.Search(r.Context(), query, limit)
	if err != nil {
		h.respondWithError(w, h.statusFor(err), err, "Search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(entries, "Search results retrieved"))
}

func (h *AdminHandler) statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTimeframe), errors.Is(err, service.ErrInvalidIP):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotBlocked), errors.Is(err, service.ErrNoAttempts):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	})
}
