package guard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/model"
	"email-guard/internal/util"
)

// OTPGuard locks out an address after too many failed OTP verifications.
// The guard never consults the account store: lockout is decided purely from
// the attempt counter, regardless of OTP correctness.
//
// The gating Check is one half; the auxiliary TrackFailedAttempt and
// ClearAttempts are invoked by the verification handler (an external
// collaborator) after it learns the verification result.
type OTPGuard struct {
	cache     model.OTPAttemptCache
	threshold int
	lockout   time.Duration
}

func NewOTPGuard(cache model.OTPAttemptCache, threshold int, lockout time.Duration) *OTPGuard {
	return &OTPGuard{cache: cache, threshold: threshold, lockout: lockout}
}

func (g *OTPGuard) Name() string { return "otp-attempts" }

func (g *OTPGuard) Check(ctx context.Context, req *Request) Outcome {
	if req.Email == "" {
		return Allow()
	}

	count, err := g.cache.Count(ctx, req.Email)
	if err != nil {
		util.Warn("OTP attempt check unavailable, allowing request",
			zap.String("email", req.Email),
			zap.Error(err))
		return Allow()
	}

	if count >= g.threshold {
		return Reject(StatusVolume, model.CodeOTPAttemptsExceeded,
			"Too many failed verification attempts. Please try again later",
			int(g.lockout.Seconds())).
			WithDetails("attempt counter at lockout threshold")
	}

	req.OTPAttempts = count
	return Allow()
}

// TrackFailedAttempt increments the failed-attempt counter and resets its
// lockout window. Returns the new count.
func (g *OTPGuard) TrackFailedAttempt(ctx context.Context, email string) (int, error) {
	return g.cache.Increment(ctx, email)
}

// ClearAttempts removes the counter after a successful verification (or an
// admin clear). Reports whether any attempts were recorded.
func (g *OTPGuard) ClearAttempts(ctx context.Context, email string) (bool, error) {
	return g.cache.Clear(ctx, email)
}
