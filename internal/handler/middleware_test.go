package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"email-guard/internal/guard"
	"email-guard/internal/model"
)

type stubStage struct {
	name    string
	outcome guard.Outcome
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Check(ctx context.Context, req *guard.Request) guard.Outcome {
	return s.outcome
}

func TestWithGuardRequestExtractsBody(t *testing.T) {
	var captured *guard.Request
	var bodySeen string

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GuardRequestFrom(r)
		body, _ := io.ReadAll(r.Body)
		bodySeen = string(body)
	})

	payload := `{"email":"  donor@example.com ","username":"bot","amount":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/send-otp", strings.NewReader(payload))
	req.RemoteAddr = "203.0.113.9:54321"
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Origin", "https://donate.example.org")

	WithGuardRequest(inner).ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil {
		t.Fatal("guard request not extracted")
	}
	if captured.IP != "203.0.113.9" {
		t.Errorf("ip = %q", captured.IP)
	}
	if captured.Email != "donor@example.com" {
		t.Errorf("email = %q, want trimmed address", captured.Email)
	}
	if captured.Honeypot["username"] != "bot" {
		t.Errorf("honeypot = %v", captured.Honeypot)
	}
	if captured.UserAgent != "Mozilla/5.0" || captured.Origin != "https://donate.example.org" {
		t.Errorf("header fields = %+v", captured)
	}
	if bodySeen != payload {
		t.Errorf("body not restored for the handler: %q", bodySeen)
	}
}

func TestWithGuardRequestQueryFallback(t *testing.T) {
	var captured *guard.Request
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GuardRequestFrom(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile/alice?email=donor@example.com", nil)
	req.RemoteAddr = "203.0.113.9:54321"

	WithGuardRequest(inner).ServeHTTP(httptest.NewRecorder(), req)

	if captured.Email != "donor@example.com" {
		t.Errorf("email = %q, want query parameter fallback", captured.Email)
	}
}

func TestWithGuardRequestIgnoresMalformedBody(t *testing.T) {
	var captured *guard.Request
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GuardRequestFrom(r)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/send-otp", strings.NewReader("not json"))
	req.RemoteAddr = "203.0.113.9:54321"

	WithGuardRequest(inner).ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil || captured.IP != "203.0.113.9" {
		t.Fatalf("captured = %+v", captured)
	}
	if captured.Email != "" {
		t.Errorf("email = %q, want empty", captured.Email)
	}
}

func TestGuardRequestFromWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	req.Header.Set("User-Agent", "curl/8.0")

	extracted := GuardRequestFrom(req)
	if extracted.IP != "203.0.113.9" || extracted.UserAgent != "curl/8.0" {
		t.Errorf("fallback view = %+v", extracted)
	}
}

func TestEnforceWritesRejection(t *testing.T) {
	chain := guard.NewChain(nil, &stubStage{
		name: "stub",
		outcome: guard.Reject(http.StatusTooManyRequests,
			model.CodeEmailFrequencyLimit, "Please wait before requesting another email", 25),
	})

	handler := Enforce(chain)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("rejected request must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/send-otp", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "25" {
		t.Errorf("Retry-After = %q", got)
	}

	var rejection Rejection
	if err := json.NewDecoder(rec.Body).Decode(&rejection); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if rejection.Success {
		t.Error("success must be false")
	}
	if rejection.ErrorCode != model.CodeEmailFrequencyLimit {
		t.Errorf("errorCode = %q", rejection.ErrorCode)
	}
	if rejection.RetryAfter != 25 {
		t.Errorf("retryAfter = %d", rejection.RetryAfter)
	}
}

func TestEnforcePassesAllowedRequests(t *testing.T) {
	chain := guard.NewChain(nil, &stubStage{name: "stub", outcome: guard.Allow()})

	reached := false
	handler := Enforce(chain)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/send-otp", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !reached {
		t.Fatal("allowed request must reach the handler")
	}
}
