// Package mailbox abstracts the mail provider the triage pipeline polls and
// replies through. Gmail uses the REST API; IMAP and POP3 accounts read over
// their own protocols and send through SMTP.
package mailbox

import (
	"context"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Cursor is an opaque provider position marking how far the mailbox has been
// observed. The zero value means no position has been recorded yet.
type Cursor string

// Initialized reports whether c holds a recorded position.
func (c Cursor) Initialized() bool {
	return c != ""
}

// Outgoing is a composed message ready for delivery.
type Outgoing struct {
	From     string
	To       []string
	ThreadID string // provider thread to attach to, if any
	Raw      []byte // RFC 5322 bytes
}

// Mailbox is the provider-facing API used by the fetcher, the attachment
// materializer and the action router.
type Mailbox interface {
	// Address returns the mailbox owner's address.
	Address(ctx context.Context) (string, error)

	// CurrentCursor returns the provider's present position without listing
	// any messages.
	CurrentCursor(ctx context.Context) (Cursor, error)

	// ListAddedSince returns ids of messages added after cur, together with
	// the position to resume from next time.
	ListAddedSince(ctx context.Context, cur Cursor) ([]string, Cursor, error)

	GetMessage(ctx context.Context, id string) (*message.Raw, error)
	AttachmentBytes(ctx context.Context, messageID, attachmentID string) ([]byte, error)

	// Send delivers out and returns the provider's id for the sent message
	// when it has one.
	Send(ctx context.Context, out Outgoing) (string, error)

	// MarkRead clears the unread state of a message.
	MarkRead(ctx context.Context, id string) error

	Close() error
}
