package guard

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/model"
	"email-guard/internal/util"
)

// KeyFunc derives the counter key for a request.
type KeyFunc func(*Request) string

func ByIP(req *Request) string { return req.IP }

// ByIPAndEmail prevents a single IP from bypassing a limit by rotating the
// target address.
func ByIPAndEmail(req *Request) string { return req.IP + ":" + req.Email }

// Limiter is a fixed-window request counter. Counting applies uniformly to
// failed and successful downstream outcomes; the limit cannot be dodged by
// provoking downstream failures. Store failure fails open.
type Limiter struct {
	name     string
	window   time.Duration
	max      int
	code     string
	message  string
	keyFn    KeyFunc
	counters model.CounterCache
}

func NewLimiter(counters model.CounterCache, name string, window time.Duration, max int, code, message string, keyFn KeyFunc) *Limiter {
	if keyFn == nil {
		keyFn = ByIP
	}
	return &Limiter{
		name:     name,
		window:   window,
		max:      max,
		code:     code,
		message:  message,
		keyFn:    keyFn,
		counters: counters,
	}
}

func (l *Limiter) Name() string { return "rate-limit:" + l.name }

func (l *Limiter) Check(ctx context.Context, req *Request) Outcome {
	count, remaining, err := l.counters.Increment(ctx, l.name, l.keyFn(req), l.window)
	if err != nil {
		util.Warn("Rate limit counter unavailable, allowing request",
			zap.String("limiter", l.name),
			zap.Error(err))
		return Allow()
	}

	if count > int64(l.max) {
		retryAfter := int(math.Ceil(remaining.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Reject(StatusVolume, l.code, l.message, retryAfter)
	}

	return Allow()
}

// LimiterSet holds the per-route-class limiter instances, each with its own
// independently tuned window and ceiling. They compose by being applied to
// different route groups, never chained on the same route.
type LimiterSet struct {
	General          *Limiter
	DataHeavy        *Limiter
	Auth             *Limiter
	Payment          *Limiter
	EmailSend        *Limiter
	OTPSend          *Limiter
	OTPResend        *Limiter
	DailyEmail       *Limiter
	TransactionEmail *Limiter
	Profile          *Limiter
}

func NewLimiterSet(counters model.CounterCache) *LimiterSet {
	return &LimiterSet{
		General: NewLimiter(counters, "general", 15*time.Minute, 300,
			model.CodeRateLimitExceeded,
			"Too many requests. Please slow down", ByIP),
		DataHeavy: NewLimiter(counters, "data-heavy", 15*time.Minute, 60,
			model.CodeRateLimitExceeded,
			"Too many requests. Please slow down", ByIP),
		Auth: NewLimiter(counters, "auth", 15*time.Minute, 20,
			model.CodeRateLimitExceeded,
			"Too many authentication attempts. Please try again later", ByIP),
		Payment: NewLimiter(counters, "payment", time.Hour, 10,
			model.CodeRateLimitExceeded,
			"Too many payment requests. Please try again later", ByIP),
		EmailSend: NewLimiter(counters, "email-send", time.Hour, 5,
			model.CodeEmailRateLimitExceeded,
			"Too many emails requested. Please try again later", ByIPAndEmail),
		OTPSend: NewLimiter(counters, "otp-send", 10*time.Minute, 3,
			model.CodeOTPRateLimitExceeded,
			"Too many verification codes requested. Please try again later", ByIPAndEmail),
		OTPResend: NewLimiter(counters, "otp-resend", 30*time.Minute, 5,
			model.CodeOTPResendRateLimitHit,
			"Too many resend requests. Please try again later", ByIPAndEmail),
		DailyEmail: NewLimiter(counters, "daily-email", 24*time.Hour, 20,
			model.CodeDailyEmailLimitExceeded,
			"Daily email limit reached. Please try again tomorrow", ByIPAndEmail),
		TransactionEmail: NewLimiter(counters, "transaction-email", time.Hour, 10,
			model.CodeTransactionEmailRateLimit,
			"Too many transactional emails requested. Please try again later", ByIP),
		Profile: NewLimiter(counters, "profile", time.Minute, 30,
			model.CodeProfileRateLimitExceeded,
			"Too many profile requests. Please slow down", ByIP),
	}
}
