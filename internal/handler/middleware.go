package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"email-guard/internal/guard"
)

type ctxKey int

const guardRequestKey ctxKey = iota

const maxBodyPeek = 64 << 10 // 64KB

// Rejection is the standard error body every protection returns.
type Rejection struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WithGuardRequest extracts the protection-relevant view of the request once
// and stores it in the context for every guard middleware downstream. The
// JSON body is peeked and restored so the final handler can still read it.
func WithGuardRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := extractGuardRequest(r)
		ctx := context.WithValue(r.Context(), guardRequestKey, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GuardRequestFrom returns the extracted request view, or an IP-only view
// when no extraction middleware ran.
func GuardRequestFrom(r *http.Request) *guard.Request {
	if req, ok := r.Context().Value(guardRequestKey).(*guard.Request); ok {
		return req
	}
	return &guard.Request{IP: clientIP(r), UserAgent: r.UserAgent()}
}

// Enforce adapts a guard chain into chi middleware. The chain records every
// rejection to the abuse log before the response is written.
func Enforce(chain *guard.Chain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := GuardRequestFrom(r)
			outcome := chain.Evaluate(r.Context(), req)
			if !outcome.Allowed {
				writeRejection(w, outcome)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, outcome guard.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	if outcome.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(outcome.RetryAfter))
	}
	w.WriteHeader(outcome.Status)
	_ = json.NewEncoder(w).Encode(Rejection{
		Success:    false,
		Message:    outcome.Message,
		ErrorCode:  outcome.Code,
		RetryAfter: outcome.RetryAfter,
	})
}

func extractGuardRequest(r *http.Request) *guard.Request {
	req := &guard.Request{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Origin:    r.Header.Get("Origin"),
		Honeypot:  map[string]string{},
	}

	// Email may arrive as a query parameter on read endpoints.
	req.Email = strings.TrimSpace(r.URL.Query().Get("email"))

	if r.Body == nil || r.Method == http.MethodGet {
		return req
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	if err != nil {
		return req
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return req
	}

	if email, ok := fields["email"].(string); ok && email != "" {
		req.Email = strings.TrimSpace(email)
	}
	for _, field := range []string{"username", "firstname", "lastname", "company"} {
		if v, ok := fields[field].(string); ok {
			req.Honeypot[field] = v
		}
	}

	return req
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr
// from X-Forwarded-For / X-Real-IP; it only strips the port here.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
