package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"email-guard/internal/guard"
	"email-guard/internal/util"
)

func newEmailHandlerFixture(t *testing.T) (*EmailHandler, *memAttemptCache) {
	t.Helper()
	attempts := newMemAttemptCache()
	otpGuard := guard.NewOTPGuard(attempts, 8, 15*time.Minute)
	return NewEmailHandler(otpGuard, util.Get()), attempts
}

func TestReportVerificationFailureIncrements(t *testing.T) {
	h, attempts := newEmailHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/report-verification",
		strings.NewReader(`{"email":"donor@example.com","success":false}`))
	rec := httptest.NewRecorder()

	h.ReportVerification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if attempts.counts["donor@example.com"] != 1 {
		t.Errorf("counter = %d, want 1", attempts.counts["donor@example.com"])
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Attempts int `json:"attempts"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Data.Attempts != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestReportVerificationSuccessClears(t *testing.T) {
	h, attempts := newEmailHandlerFixture(t)
	attempts.counts["donor@example.com"] = 4

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/report-verification",
		strings.NewReader(`{"email":"donor@example.com","success":true}`))
	rec := httptest.NewRecorder()

	h.ReportVerification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := attempts.counts["donor@example.com"]; ok {
		t.Error("counter not cleared after successful verification")
	}
}

func TestReportVerificationValidation(t *testing.T) {
	h, _ := newEmailHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/report-verification",
		strings.NewReader(`{bad`))
	rec := httptest.NewRecorder()
	h.ReportVerification(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/email/report-verification",
		strings.NewReader(`{"success":false}`))
	rec = httptest.NewRecorder()
	h.ReportVerification(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing email status = %d, want 400", rec.Code)
	}
}

func TestAcceptEchoesGuardContext(t *testing.T) {
	h, _ := newEmailHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/verify-otp", nil)
	guardReq := &guard.Request{Email: "donor@example.com", OTPAttempts: 3}
	req = req.WithContext(context.WithValue(req.Context(), guardRequestKey, guardReq))
	rec := httptest.NewRecorder()

	h.Accept("Verification accepted")(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Email       string `json:"email"`
			OTPAttempts int    `json:"otpAttempts"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Email != "donor@example.com" || resp.Data.OTPAttempts != 3 {
		t.Errorf("response = %+v", resp)
	}
}
