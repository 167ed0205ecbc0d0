package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Notice is the internal record raised for an escalated message. It never
// reaches the client.
type Notice struct {
	ID        string
	MessageID string
	ThreadID  string
	Sender    string
	Subject   string
	Priority  classifier.Priority
	Reason    string
	Body      string
	CreatedAt time.Time
}

// NewNotice builds the escalation notice for msg.
func NewNotice(msg *message.Message, v classifier.Verdict, now time.Time) Notice {
	reason := strings.TrimSpace(v.EscalationReason)
	if reason == "" {
		reason = classifier.DefaultEscalationReason
	}
	n := Notice{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Priority:  v.Priority,
		Reason:    reason,
		CreatedAt: now,
	}
	n.Body = renderNotice(n, v.Query)
	return n
}

func renderNotice(n Notice, query string) string {
	var b strings.Builder
	b.WriteString("Escalation Draft:\n")
	fmt.Fprintf(&b, "Subject: %s\n", n.Subject)
	fmt.Fprintf(&b, "From: %s\n", n.Sender)
	fmt.Fprintf(&b, "Priority: %s\n", n.Priority)
	fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
	if q := strings.TrimSpace(query); q != "" {
		fmt.Fprintf(&b, "Query: %s\n", q)
	}
	fmt.Fprintf(&b, "Message: %s\n", n.MessageID)
	b.WriteString("\nPlease address this issue as soon as possible.\n")
	b.WriteString("Automated Email System\n")
	return b.String()
}

// NoticeSubject is the subject used when a notice is mailed internally.
func NoticeSubject(n Notice) string {
	return fmt.Sprintf("[Escalation:%s] %s", n.Priority, n.Subject)
}
