package handler

import (
	"net/http"
	"time"

	"email-guard/internal/guard"
	"email-guard/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig wires the guard chains and handlers into the route tree.
type RouterConfig struct {
	Limiters    *guard.LimiterSet
	BaseChain   *guard.Chain // block list + honeypot + pattern tracking
	SendChain   *guard.Chain // base plus email validation and frequency
	VerifyChain *guard.Chain // block list + OTP attempt guard
	Recorder    guard.Recorder

	Email *EmailHandler
	Admin *AdminHandler
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(rc RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// limit applies one rate limiter class as route-group middleware. Each
	// rejection goes through the recorder like any other protection.
	limit := func(l *guard.Limiter) func(http.Handler) http.Handler {
		return Enforce(guard.NewChain(rc.Recorder, l))
	}

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		util.Info("Health check requested")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"email-guard"}`))
	})

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(WithGuardRequest)
		r.Use(limit(rc.Limiters.General))

		r.Route("/email", func(r chi.Router) {
			r.With(limit(rc.Limiters.OTPSend), Enforce(rc.SendChain)).
				Post("/send-otp", rc.Email.Accept("Verification code queued"))
			r.With(limit(rc.Limiters.OTPResend), Enforce(rc.SendChain)).
				Post("/resend-otp", rc.Email.Accept("Verification code queued"))
			r.With(limit(rc.Limiters.Auth), Enforce(rc.VerifyChain)).
				Post("/verify-otp", rc.Email.Accept("Verification accepted"))
			r.With(limit(rc.Limiters.Auth)).
				Post("/report-verification", rc.Email.ReportVerification)

			r.With(limit(rc.Limiters.EmailSend), limit(rc.Limiters.DailyEmail), Enforce(rc.SendChain)).
				Post("/send", rc.Email.Accept("Email queued"))
			r.With(limit(rc.Limiters.TransactionEmail), Enforce(rc.SendChain)).
				Post("/transactional", rc.Email.Accept("Transactional email queued"))
		})

		r.With(limit(rc.Limiters.Payment), Enforce(rc.BaseChain)).
			Post("/donations", rc.Email.Accept("Donation accepted"))

		r.With(limit(rc.Limiters.Profile), Enforce(rc.BaseChain)).
			Get("/profile/{handle}", rc.Email.Profile)

		r.Group(func(r chi.Router) {
			r.Use(limit(rc.Limiters.DataHeavy))
			rc.Admin.RegisterRoutes(r)
		})
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
