package classifier

import (
	"errors"
	"fmt"
	"strings"
)

// Priority ranks an escalation. It is empty for verdicts that do not
// escalate.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultEscalationReason fills an escalation whose reason was left blank.
const DefaultEscalationReason = "No reason provided"

// ErrInvalidVerdict is wrapped by errors for decoded verdicts that break the
// field rules.
var ErrInvalidVerdict = errors.New("invalid verdict")

// Verdict is the classifier's decision for one message.
type Verdict struct {
	MessageID        string   `json:"Message_ID"`
	Query            string   `json:"query"`
	Escalate         bool     `json:"escalate"`
	Priority         Priority `json:"priority"`
	EscalationReason string   `json:"escalation_reason"`
	Response         string   `json:"response"`
	Subject          string   `json:"subject"`
	ToEmail          string   `json:"to_email"`
	ReplyTo          bool     `json:"reply_to"`
}

// normalize enforces the field rules: an escalation carries a priority and a
// reason; any other verdict carries neither, but has a response and, when it
// is not a threaded reply, a recipient.
func (v *Verdict) normalize() error {
	v.Priority = Priority(strings.ToLower(strings.TrimSpace(string(v.Priority))))
	switch v.Priority {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidVerdict, v.Priority)
	}

	if v.Escalate {
		if v.Priority == PriorityNone {
			return fmt.Errorf("%w: escalation without priority", ErrInvalidVerdict)
		}
		if strings.TrimSpace(v.EscalationReason) == "" {
			v.EscalationReason = DefaultEscalationReason
		}
		return nil
	}

	v.Priority = PriorityNone
	v.EscalationReason = ""
	if strings.TrimSpace(v.Response) == "" {
		return fmt.Errorf("%w: empty response", ErrInvalidVerdict)
	}
	if !v.ReplyTo && strings.TrimSpace(v.ToEmail) == "" {
		return fmt.Errorf("%w: new message without to_email", ErrInvalidVerdict)
	}
	return nil
}

// UnparseableError carries the raw classifier output that could not be
// turned into a valid verdict.
type UnparseableError struct {
	Raw string
	Err error
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("unparseable classifier output: %v\nraw output:\n%s", e.Err, e.Raw)
}

func (e *UnparseableError) Unwrap() error {
	return e.Err
}
