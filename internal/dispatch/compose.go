package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Draft is an outbound plain-text message before encoding.
type Draft struct {
	From       string
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
	Date       time.Time
}

// ReplySubject prefixes subject with "Re: " unless it already starts with a
// reply prefix.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// References extends an inbound References header with its Message-ID.
func References(refs, messageID string) string {
	refs = strings.TrimSpace(refs)
	switch {
	case messageID == "":
		return refs
	case refs == "":
		return messageID
	default:
		return refs + " " + messageID
	}
}

func parseAddress(s string) *mail.Address {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr
	}
	return &mail.Address{Address: strings.TrimSpace(s)}
}

// Compose encodes d as an RFC 5322 text/plain message.
func Compose(d Draft) ([]byte, error) {
	var h mail.Header
	if d.Date.IsZero() {
		d.Date = time.Now()
	}
	h.SetDate(d.Date)
	h.SetAddressList("From", []*mail.Address{parseAddress(d.From)})
	h.SetAddressList("To", []*mail.Address{parseAddress(d.To)})
	h.SetSubject(d.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if d.InReplyTo != "" {
		h.Set("In-Reply-To", d.InReplyTo)
	}
	if d.References != "" {
		h.Set("References", d.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, d.Body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
