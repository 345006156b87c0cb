package guard

import (
	"context"
	"regexp"
	"strings"

	"email-guard/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// disposableDomains is the static blocklist of throwaway providers.
var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"20minutemail.com":  {},
	"33mail.com":        {},
	"burnermail.io":     {},
	"dispostable.com":   {},
	"fakeinbox.com":     {},
	"getnada.com":       {},
	"guerrillamail.com": {},
	"maildrop.cc":       {},
	"mailinator.com":    {},
	"mailnesia.com":     {},
	"mintemail.com":     {},
	"mytemp.email":      {},
	"sharklasers.com":   {},
	"spamgourmet.com":   {},
	"temp-mail.org":     {},
	"tempinbox.com":     {},
	"tempmail.com":      {},
	"throwawaymail.com": {},
	"trashmail.com":     {},
	"yopmail.com":       {},
}

// EmailValidationStage rejects malformed addresses, disposable providers,
// and structurally suspicious domains. These are client-input errors: they
// return 400 and never count toward any lockout.
type EmailValidationStage struct{}

func NewEmailValidationStage() *EmailValidationStage {
	return &EmailValidationStage{}
}

func (s *EmailValidationStage) Name() string { return "email-validation" }

func (s *EmailValidationStage) Check(ctx context.Context, req *Request) Outcome {
	if req.Email == "" {
		return Allow()
	}

	if !emailPattern.MatchString(req.Email) {
		return Reject(StatusInput, model.CodeInvalidEmailFormat,
			"Please provide a valid email address", 0)
	}

	domain := strings.ToLower(req.Email[strings.LastIndex(req.Email, "@")+1:])

	if _, blocked := disposableDomains[domain]; blocked {
		return Reject(StatusInput, model.CodeDisposableEmail,
			"Disposable email addresses are not allowed", 0).
			WithDetails("domain " + domain)
	}

	if len(domain) < 4 || strings.Contains(domain, "..") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return Reject(StatusInput, model.CodeInvalidEmailDomain,
			"Email domain is not accepted", 0).
			WithDetails("domain " + domain)
	}

	return Allow()
}

// IsDisposableDomain reports whether a domain is on the static blocklist.
func IsDisposableDomain(domain string) bool {
	_, ok := disposableDomains[strings.ToLower(domain)]
	return ok
}
