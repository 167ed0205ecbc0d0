package message

import (
	"strings"
	"time"
)

// LabelImportant and LabelUnread are the provider labels the pipeline reads.
const (
	LabelImportant = "IMPORTANT"
	LabelUnread    = "UNREAD"
)

// Part is one node of a message's MIME part tree as delivered by a mailbox.
type Part struct {
	MimeType     string
	Filename     string
	AttachmentID string
	Data         string // inline content, base64url encoded
	Parts        []*Part
}

// Header is a single raw message header.
type Header struct {
	Name  string
	Value string
}

// Raw is a message as returned by a mailbox, before normalization.
type Raw struct {
	ID       string
	ThreadID string
	Labels   []string
	Headers  []Header
	Payload  *Part
}

// Header returns the value of the first header named name, compared
// case-insensitively, or "".
func (r *Raw) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HasLabel reports whether the message carries the given provider label.
func (r *Raw) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AttachmentRef describes an attachment by metadata only.
type AttachmentRef struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	AttachmentID string `json:"attachmentId"`
}

// Message is the normalized unit that flows through the pipeline.
type Message struct {
	ID          string
	ThreadID    string
	Sender      string // bare address extracted from From
	From        string // raw From header, used as the reply target
	Subject     string
	Body        string
	IsImportant bool
	SentAt      *time.Time
	Attachments []AttachmentRef

	// Threading headers of the inbound message.
	RFCMessageID string
	References   string
}

// Date returns SentAt in the fixed microsecond timestamp format, or "" when
// the date header was missing or unparseable.
func (m *Message) Date() string {
	if m.SentAt == nil {
		return ""
	}
	return FormatTimestamp(*m.SentAt)
}
