package guard

import (
	"context"
	"strings"

	"email-guard/internal/model"
)

// honeypotFields are hidden form fields a legitimate client never fills.
var honeypotFields = []string{"username", "firstname", "lastname", "company"}

// HoneypotStage rejects any submission that populated a honeypot field.
// The message is deliberately vague; a bot gets no hint which field tripped.
type HoneypotStage struct{}

func NewHoneypotStage() *HoneypotStage {
	return &HoneypotStage{}
}

func (s *HoneypotStage) Name() string { return "honeypot" }

func (s *HoneypotStage) Check(ctx context.Context, req *Request) Outcome {
	for _, field := range honeypotFields {
		if strings.TrimSpace(req.Honeypot[field]) != "" {
			return Reject(StatusInput, model.CodeHoneypotTriggered,
				"Invalid form submission", 0).
				WithDetails("field " + field)
		}
	}
	return Allow()
}
