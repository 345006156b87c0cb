package guard

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"email-guard/internal/util"
)

// Request is the protection-relevant view of an inbound request, extracted
// once by the transport layer and threaded through every stage.
type Request struct {
	IP        string
	Email     string
	UserAgent string
	Referer   string
	Origin    string
	Honeypot  map[string]string

	// OTPAttempts is populated by the OTP guard stage for the downstream
	// handler; it is not an input.
	OTPAttempts int
}

// Outcome is a single stage's verdict. A rejecting stage fully owns the
// response: status, machine-readable code, and user-facing message.
type Outcome struct {
	Allowed    bool
	Status     int
	Code       string
	Message    string
	RetryAfter int    // seconds; zero means not applicable
	Details    string // internal, logged but never sent to the client
}

func Allow() Outcome {
	return Outcome{Allowed: true}
}

func Reject(status int, code, message string, retryAfter int) Outcome {
	return Outcome{
		Status:     status,
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func (o Outcome) WithDetails(details string) Outcome {
	o.Details = details
	return o
}

// Stage is one independent protection check. Stages never delegate a
// rejection decision to a later stage.
type Stage interface {
	Name() string
	Check(ctx context.Context, req *Request) Outcome
}

// Recorder receives every triggered protection for the audit trail.
type Recorder interface {
	Record(ctx context.Context, req *Request, violationType, details string)
}

// Chain runs stages strictly in declared order and short-circuits on the
// first rejection, recording it before the response is written.
type Chain struct {
	stages   []Stage
	recorder Recorder
	logger   *zap.Logger
}

func NewChain(recorder Recorder, stages ...Stage) *Chain {
	return &Chain{
		stages:   stages,
		recorder: recorder,
		logger:   util.Get(),
	}
}

func (c *Chain) Evaluate(ctx context.Context, req *Request) Outcome {
	for _, stage := range c.stages {
		outcome := stage.Check(ctx, req)
		if outcome.Allowed {
			continue
		}

		c.logger.Info("Request rejected by protection stage",
			zap.String("stage", stage.Name()),
			zap.String("code", outcome.Code),
			zap.String("ip", req.IP),
			zap.String("email", req.Email),
		)
		if c.recorder != nil {
			c.recorder.Record(ctx, req, outcome.Code, outcome.Details)
		}
		return outcome
	}
	return Allow()
}

// StatusFor maps a violation class to its HTTP status: client-input errors
// are 400, everything volume-related is 429.
const (
	StatusInput  = http.StatusBadRequest
	StatusVolume = http.StatusTooManyRequests
)
