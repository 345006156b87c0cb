package model

import (
	"context"
	"time"
)

// -------------------- VIOLATION CODES --------------------

// Machine-readable rejection codes returned to clients and stamped on
// abuse-log entries. The set is fixed; dashboards key off these strings.
const (
	CodeEmailFrequencyLimit       = "EMAIL_FREQUENCY_LIMIT"
	CodeOTPAttemptsExceeded       = "OTP_ATTEMPTS_EXCEEDED"
	CodeSuspiciousActivity        = "SUSPICIOUS_ACTIVITY_DETECTED"
	CodeEmailEnumeration          = "EMAIL_ENUMERATION_DETECTED"
	CodeMultipleUserAgents        = "MULTIPLE_USER_AGENTS_DETECTED"
	CodeIPBlocked                 = "IP_BLOCKED"
	CodeDisposableEmail           = "DISPOSABLE_EMAIL_NOT_ALLOWED"
	CodeInvalidEmailDomain        = "INVALID_EMAIL_DOMAIN"
	CodeInvalidEmailFormat        = "INVALID_EMAIL_FORMAT"
	CodeHoneypotTriggered         = "HONEYPOT_TRIGGERED"
	CodeRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	CodeEmailRateLimitExceeded    = "EMAIL_RATE_LIMIT_EXCEEDED"
	CodeOTPRateLimitExceeded      = "OTP_RATE_LIMIT_EXCEEDED"
	CodeOTPResendRateLimitHit     = "OTP_RESEND_RATE_LIMIT_EXCEEDED"
	CodeDailyEmailLimitExceeded   = "DAILY_EMAIL_LIMIT_EXCEEDED"
	CodeTransactionEmailRateLimit = "TRANSACTION_EMAIL_RATE_LIMIT_EXCEEDED"
	CodeProfileRateLimitExceeded  = "PROFILE_RATE_LIMIT_EXCEEDED"
)

// -------------------- ABUSE LOG --------------------

// AbuseLogEntry is one triggered protection, retained 7 days in Redis and
// mirrored to the long-term sinks.
type AbuseLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	Email     string    `json:"email,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Type      string    `json:"type"`
	Details   string    `json:"details,omitempty"`
}

// -------------------- ADMIN VIEWS --------------------

type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	ExpiresIn int64     `json:"expiresIn"` // seconds
	ExpiresAt time.Time `json:"expiresAt"`
}

type OTPAttemptEntry struct {
	Email     string `json:"email"`
	Attempts  int    `json:"attempts"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

type EmailFrequencyEntry struct {
	Email       string    `json:"email"`
	LastRequest time.Time `json:"lastRequest"`
	ExpiresIn   int64     `json:"expiresIn"` // seconds
}

// -------------------- PATTERN RECORD --------------------

// PatternRecord is the per-IP behavior record. Lists are bounded to the last
// PatternHistorySize entries; user agents are stored as murmur3 fingerprints
// rather than raw strings.
type PatternRecord struct {
	Emails      []string `json:"emails"`
	Timestamps  []int64  `json:"timestamps"` // unix ms
	AgentHashes []uint64 `json:"agent_hashes"`
}

// -------------------- CACHE INTERFACES --------------------

// FrequencyCache tracks the last send per address.
type FrequencyCache interface {
	LastSend(ctx context.Context, email string) (time.Time, bool, error)
	MarkSend(ctx context.Context, email string, at time.Time) error
	List(ctx context.Context) ([]EmailFrequencyEntry, error)
}

// OTPAttemptCache counts failed OTP verifications per address.
type OTPAttemptCache interface {
	Increment(ctx context.Context, email string) (int, error)
	Count(ctx context.Context, email string) (int, error)
	Clear(ctx context.Context, email string) (bool, error)
	List(ctx context.Context) ([]OTPAttemptEntry, error)
}

// IPBlockCache is the explicit deny list.
type IPBlockCache interface {
	Block(ctx context.Context, ip, reason string, duration time.Duration) error
	Lookup(ctx context.Context, ip string) (reason string, remaining time.Duration, blocked bool, err error)
	Unblock(ctx context.Context, ip string) (bool, error)
	List(ctx context.Context) ([]BlockedIP, error)
}

// PatternCache persists the per-IP behavior record.
type PatternCache interface {
	Load(ctx context.Context, ip string) (*PatternRecord, error)
	Save(ctx context.Context, ip string, record *PatternRecord) error
}

// AbuseLogCache is the append-only audit trail of triggered protections.
type AbuseLogCache interface {
	Append(ctx context.Context, entry *AbuseLogEntry) error
	Range(ctx context.Context, since time.Time) ([]AbuseLogEntry, error)
}

// CounterCache backs the fixed-window rate limiters. Increment returns the
// post-increment count and the remaining window.
type CounterCache interface {
	Increment(ctx context.Context, name, key string, window time.Duration) (int64, time.Duration, error)
}
