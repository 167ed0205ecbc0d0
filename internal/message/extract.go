package message

import (
	"encoding/base64"
	"strings"
)

// Extracted is the result of walking a part tree.
type Extracted struct {
	Body        string // concatenated text/plain leaves, in traversal order
	HTML        string // concatenated text/html leaves, used only as a fallback
	Attachments []AttachmentRef
}

func (e Extracted) merge(o Extracted) Extracted {
	return Extracted{
		Body:        e.Body + o.Body,
		HTML:        e.HTML + o.HTML,
		Attachments: append(e.Attachments, o.Attachments...),
	}
}

// Extract walks payload depth-first and returns its plain-text body and
// attachment descriptors. A payload without nested parts is a single-part
// message: its own inline data is the body.
func Extract(payload *Part) Extracted {
	if payload == nil {
		return Extracted{}
	}
	if len(payload.Parts) == 0 {
		text, _ := DecodeText(payload.Data)
		return Extracted{Body: text}
	}
	return walk(payload.Parts)
}

func walk(parts []*Part) Extracted {
	var out Extracted
	for _, p := range parts {
		if p == nil {
			continue
		}
		if len(p.Parts) > 0 {
			out = out.merge(walk(p.Parts))
			continue
		}
		out = out.merge(leaf(p))
	}
	return out
}

func leaf(p *Part) Extracted {
	var out Extracted
	switch {
	case strings.EqualFold(p.MimeType, "text/plain"):
		if text, ok := DecodeText(p.Data); ok {
			out.Body = NormalizeNewlines(text)
		}
	case strings.EqualFold(p.MimeType, "text/html"):
		if text, ok := DecodeText(p.Data); ok {
			out.HTML = NormalizeNewlines(text)
		}
	}
	if p.Filename != "" && p.AttachmentID != "" {
		out.Attachments = []AttachmentRef{{
			Filename:     p.Filename,
			MimeType:     p.MimeType,
			AttachmentID: p.AttachmentID,
		}}
	}
	return out
}

// DecodeBase64URL decodes provider data in the URL-safe alphabet, with or
// without padding.
func DecodeBase64URL(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// DecodeText decodes inline part data to a string, dropping invalid UTF-8.
// It reports false when there is no data or it cannot be decoded.
func DecodeText(data string) (string, bool) {
	if data == "" {
		return "", false
	}
	b, err := DecodeBase64URL(data)
	if err != nil {
		return "", false
	}
	return strings.ToValidUTF8(string(b), ""), true
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
