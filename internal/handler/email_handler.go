package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"email-guard/internal/guard"
	"email-guard/internal/util"
)

// EmailHandler is the integration surface for the protected email routes.
// Actual OTP generation and email dispatch belong to the platform's mailer
// service; these handlers accept the request once it has survived the guard
// stack and hand it off.
type EmailHandler struct {
	otpGuard *guard.OTPGuard
	logger   *zap.Logger
}

func NewEmailHandler(otpGuard *guard.OTPGuard, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		otpGuard: otpGuard,
		logger:   logger,
	}
}

// Accept acknowledges a guarded request for downstream dispatch.
func (h *EmailHandler) Accept(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := GuardRequestFrom(r)
		respondJSON(w, http.StatusAccepted, Response{
			Success: true,
			Message: message,
			Data: map[string]interface{}{
				"email":       req.Email,
				"otpAttempts": req.OTPAttempts,
			},
		})
	}
}

// VerificationReport is posted by the authentication collaborator after it
// verifies an OTP, so the guard can track or clear the attempt counter.
type VerificationReport struct {
	Email   string `json:"email"`
	Success bool   `json:"success"`
}

// ReportVerification handles POST /email/report-verification. A failure
// increments the attempt counter and resets its lockout window; a success
// clears it.
func (h *EmailHandler) ReportVerification(w http.ResponseWriter, r *http.Request) {
	var report VerificationReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}
	if report.Email == "" {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "email is required",
		})
		return
	}

	if report.Success {
		if _, err := h.otpGuard.ClearAttempts(r.Context(), report.Email); err != nil {
			h.respondStoreError(w, err, "Failed to clear attempts")
			return
		}
		respondJSON(w, http.StatusOK, successResponse(nil, "Attempts cleared"))
		return
	}

	count, err := h.otpGuard.TrackFailedAttempt(r.Context(), report.Email)
	if err != nil {
		h.respondStoreError(w, err, "Failed to record attempt")
		return
	}

	h.logger.Info("Failed OTP attempt recorded",
		util.String("email", report.Email),
		util.Int("attempts", count),
	)
	respondJSON(w, http.StatusOK, successResponse(map[string]int{"attempts": count}, "Attempt recorded"))
}

// Profile handles the public profile read stub under its own limiter class.
func (h *EmailHandler) Profile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle == "" {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "handle is required",
		})
		return
	}
	respondJSON(w, http.StatusOK, successResponse(map[string]string{"handle": handle}, "Profile lookup accepted"))
}

func (h *EmailHandler) respondStoreError(w http.ResponseWriter, err error, message string) {
	h.logger.Error(message, util.ErrorField(err))
	respondJSON(w, http.StatusInternalServerError, Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
