package message

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractSinglePart(t *testing.T) {
	ex := Extract(&Part{MimeType: "text/plain", Data: enc("hello there")})
	assert.Equal(t, "hello there", ex.Body)
	assert.Empty(t, ex.Attachments)
}

func TestExtractNilAndEmpty(t *testing.T) {
	assert.Equal(t, Extracted{}, Extract(nil))
	assert.Equal(t, "", Extract(&Part{MimeType: "text/plain"}).Body)
}

func TestExtractConcatenatesPlainLeavesInOrder(t *testing.T) {
	payload := &Part{
		MimeType: "multipart/mixed",
		Parts: []*Part{
			{
				MimeType: "multipart/alternative",
				Parts: []*Part{
					{MimeType: "text/plain", Data: enc("first\r\nline\r\n")},
					{MimeType: "text/html", Data: enc("<p>first</p>")},
				},
			},
			{MimeType: "text/plain", Data: enc("second")},
			{MimeType: "application/pdf", Filename: "invoice.pdf", AttachmentID: "att-1"},
			{MimeType: "image/png", Filename: "inline.png"},
		},
	}

	ex := Extract(payload)

	assert.Equal(t, "first\nline\nsecond", ex.Body)
	assert.Equal(t, "<p>first</p>", ex.HTML)
	require.Len(t, ex.Attachments, 1)
	assert.Equal(t, AttachmentRef{Filename: "invoice.pdf", MimeType: "application/pdf", AttachmentID: "att-1"}, ex.Attachments[0])
}

func TestExtractSkipsUndecodableLeaves(t *testing.T) {
	payload := &Part{
		MimeType: "multipart/mixed",
		Parts: []*Part{
			{MimeType: "text/plain", Data: "!!not base64!!"},
			{MimeType: "text/plain", Data: enc("ok")},
		},
	}
	assert.Equal(t, "ok", Extract(payload).Body)
}

func TestExtractDropsInvalidUTF8(t *testing.T) {
	data := base64.URLEncoding.EncodeToString([]byte("caf\xffe"))
	ex := Extract(&Part{MimeType: "multipart/mixed", Parts: []*Part{{MimeType: "text/plain", Data: data}}})
	assert.Equal(t, "cafe", ex.Body)
}

func TestDecodeBase64URLAcceptsUnpadded(t *testing.T) {
	b, err := DecodeBase64URL(base64.RawURLEncoding.EncodeToString([]byte("ab?>")))
	require.NoError(t, err)
	assert.Equal(t, "ab?>", string(b))
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips markup and trims lines",
			in:   "  <div>Hello</div>  \r\n<br/>world  ",
			want: "Hello\nworld",
		},
		{
			name: "drops quoted reply block",
			in:   "Thanks, see below.\n\nOn Mon, Jan 6, 2025 at 10:00 AM Bob wrote:\n> earlier text\n>> older text\n\nNew paragraph",
			want: "Thanks, see below.\n\nNew paragraph",
		},
		{
			name: "outlook style headers",
			in:   "Reply body\n-----Original Message-----\nFrom: a@b.com\nSent: Monday\nTo: c@d.com\nSubject: hi\n> quoted",
			want: "Reply body",
		},
		{
			name: "non quote line ends skipping",
			in:   "From: someone\nplain text\n> kept quote",
			want: "plain text\n> kept quote",
		},
		{
			name: "collapses blank runs",
			in:   "a\n\n\n\n\nb",
			want: "a\n\nb",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	inputs := []string{
		"Hi <b>there</b>\r\n\r\n\r\n\r\nOn Tue wrote:\n> x\n\n\nbye",
		"  lots   \n\n\n\n  of \n space ",
		"From: x\n\n> y\n\n\nz\n---\n>w",
		"<<nested>> tags > and < lone",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestCleanOutputInvariants(t *testing.T) {
	out := Clean("Hi\r\n\r\n\r\n<span>there</span>\n\n\n\nOn Fri someone wrote:\n> quoted\n")
	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "\n\n\n")
	assert.Equal(t, strings.TrimSpace(out), out)
	assert.Equal(t, "Hi\n\nthere", out)
}

func TestParseSender(t *testing.T) {
	assert.Equal(t, "jane@example.com", ParseSender(`"Jane Doe" <jane@example.com>`))
	assert.Equal(t, "jane@example.com", ParseSender("jane@example.com"))
	assert.Equal(t, "", ParseSender(""))
}

func TestParseDateAndFormat(t *testing.T) {
	ts, err := ParseDate("Mon, 6 Jan 2025 10:30:05 +0100")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06 10:30:05.000000", FormatTimestamp(ts))

	_, err = ParseDate("yesterday-ish")
	assert.Error(t, err)
}

func TestMessageDate(t *testing.T) {
	var m Message
	assert.Equal(t, "", m.Date())

	ts := time.Date(2025, 2, 3, 4, 5, 6, 7000, time.UTC)
	m.SentAt = &ts
	assert.Equal(t, "2025-02-03 04:05:06.000007", m.Date())
}

func TestRawHeaderAndLabels(t *testing.T) {
	raw := &Raw{
		Labels:  []string{"INBOX", LabelImportant},
		Headers: []Header{{Name: "subject", Value: "Hi"}, {Name: "Subject", Value: "Second"}},
	}
	assert.Equal(t, "Hi", raw.Header("Subject"))
	assert.Equal(t, "", raw.Header("From"))
	assert.True(t, raw.HasLabel(LabelImportant))
	assert.False(t, raw.HasLabel(LabelUnread))
}

func TestHTMLToText(t *testing.T) {
	text := HTMLToText("<html><head><style>p{}</style></head><body><p>Hello</p><p>World<br>again</p><script>x()</script></body></html>")
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "World\nagain")
	assert.NotContains(t, text, "x()")
	assert.NotContains(t, text, "p{}")
}
