package mailbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Headers copied from an RFC 822 message into message.Raw.
var rawHeaderNames = []string{"From", "To", "Subject", "Date", "Message-ID", "References", "In-Reply-To"}

// ParseRFC822 converts raw message bytes into the provider-neutral part tree.
// Leaves with a filename become attachments whose id is their part path
// ("1", "2.1", ...); other leaves carry their decoded content inline.
// Parse failures wrap ErrMalformed.
func ParseRFC822(id string, raw []byte) (*message.Raw, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message %s: %w: %w", id, ErrMalformed, err)
	}

	out := &message.Raw{ID: id, ThreadID: id}
	h := mail.Header{Header: entity.Header}
	for _, name := range rawHeaderNames {
		v, err := h.Text(name)
		if err != nil {
			v = h.Get(name)
		}
		if v != "" {
			out.Headers = append(out.Headers, message.Header{Name: name, Value: v})
		}
	}

	payload, err := partFromEntity(entity, "")
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w: %w", id, ErrMalformed, err)
	}
	out.Payload = payload
	return out, nil
}

// AttachmentData returns the decoded content of the part at path.
func AttachmentData(raw []byte, path string) ([]byte, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	data, found, err := findPart(entity, "", path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("attachment %s: %w", path, ErrNotFound)
	}
	return data, nil
}

func childPath(parent string, i int) string {
	if parent == "" {
		return strconv.Itoa(i)
	}
	return parent + "." + strconv.Itoa(i)
}

// leafPath is the path of a non-multipart entity; a single-part root is "1".
func leafPath(path string) string {
	if path == "" {
		return "1"
	}
	return path
}

func partFromEntity(e *gomessage.Entity, path string) (*message.Part, error) {
	mediaType, params, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	part := &message.Part{MimeType: mediaType}

	if mr := e.MultipartReader(); mr != nil {
		for i := 1; ; i++ {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !gomessage.IsUnknownCharset(err) {
				return nil, fmt.Errorf("read part %s: %w", childPath(path, i), err)
			}
			sub, err := partFromEntity(child, childPath(path, i))
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, sub)
		}
		return part, nil
	}

	if name := filename(e.Header, params); name != "" {
		part.Filename = name
		part.AttachmentID = leafPath(path)
		return part, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", leafPath(path), err)
	}
	part.Data = base64.URLEncoding.EncodeToString(body)
	return part, nil
}

func findPart(e *gomessage.Entity, path, target string) ([]byte, bool, error) {
	mr := e.MultipartReader()
	if mr == nil {
		if leafPath(path) != target {
			return nil, false, nil
		}
		data, err := io.ReadAll(e.Body)
		if err != nil {
			return nil, false, fmt.Errorf("read part %s: %w", target, err)
		}
		return data, true, nil
	}
	for i := 1; ; i++ {
		child, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			return nil, false, fmt.Errorf("read part %s: %w", childPath(path, i), err)
		}
		data, found, err := findPart(child, childPath(path, i), target)
		if err != nil || found {
			return data, found, err
		}
	}
}

func filename(h gomessage.Header, ctParams map[string]string) string {
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return ctParams["name"]
}
