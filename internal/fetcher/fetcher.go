// Package fetcher turns mailbox deltas into normalized messages.
package fetcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tracyhatemice/mailtriage/internal/mailbox"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Fetcher polls a mailbox for messages added since a cursor.
type Fetcher struct {
	mailbox mailbox.Mailbox
	backoff time.Duration
	logger  *slog.Logger
}

// New creates a fetcher. backoff is slept after a transient provider
// failure before Poll returns.
func New(mb mailbox.Mailbox, backoff time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{mailbox: mb, backoff: backoff, logger: logger}
}

// Poll returns the messages added since cur and the cursor to use next.
//
// With an uninitialized cursor it only records the mailbox's current position
// and returns no messages. On any provider failure it returns no messages and
// cur unchanged, so the same range is retried next cycle. Messages deleted
// between listing and retrieval, or whose content cannot be parsed, are
// skipped. A cursor the provider has expired is reset so the next cycle
// records a fresh baseline.
func (f *Fetcher) Poll(ctx context.Context, cur mailbox.Cursor) ([]message.Message, mailbox.Cursor) {
	if !cur.Initialized() {
		next, err := f.mailbox.CurrentCursor(ctx)
		if err != nil {
			f.fail(ctx, "baseline", err)
			return nil, cur
		}
		f.logger.Info("initial mailbox position recorded", "cursor", next)
		return nil, next
	}

	ids, next, err := f.mailbox.ListAddedSince(ctx, cur)
	if mailbox.IsCursorExpired(err) {
		f.logger.Warn("mailbox cursor expired, starting over from the current position", "cursor", cur, "error", err)
		return nil, ""
	}
	if err != nil {
		f.fail(ctx, "list", err)
		return nil, cur
	}
	if len(ids) == 0 {
		return nil, next
	}

	msgs := make([]message.Message, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		raw, err := f.mailbox.GetMessage(ctx, id)
		if mailbox.IsNotFound(err) {
			f.logger.Warn("message vanished before retrieval, skipping", "msg_id", id)
			continue
		}
		if mailbox.IsMalformed(err) {
			f.logger.Warn("unparseable message, skipping", "msg_id", id, "error", err)
			continue
		}
		if err != nil {
			f.fail(ctx, "get "+id, err)
			return nil, cur
		}
		msgs = append(msgs, f.normalize(raw))
	}

	f.logger.Info("fetched new messages", "count", len(msgs), "cursor", next)
	return msgs, next
}

func (f *Fetcher) fail(ctx context.Context, op string, err error) {
	f.logger.Error("mailbox fetch failed", "op", op, "error", err)
	if !mailbox.IsTransient(err) || f.backoff <= 0 {
		return
	}
	f.logger.Warn("provider throttled, backing off", "delay", f.backoff)
	t := time.NewTimer(f.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// normalize parses headers, extracts and cleans the body.
func (f *Fetcher) normalize(raw *message.Raw) message.Message {
	ex := message.Extract(raw.Payload)
	body := ex.Body
	if strings.TrimSpace(body) == "" && ex.HTML != "" {
		body = message.HTMLToText(ex.HTML)
	}

	from := raw.Header("From")
	msg := message.Message{
		ID:           raw.ID,
		ThreadID:     raw.ThreadID,
		Sender:       message.ParseSender(from),
		From:         from,
		Subject:      raw.Header("Subject"),
		Body:         message.Clean(body),
		IsImportant:  raw.HasLabel(message.LabelImportant),
		Attachments:  ex.Attachments,
		RFCMessageID: raw.Header("Message-ID"),
		References:   raw.Header("References"),
	}

	if date := raw.Header("Date"); date != "" {
		ts, err := message.ParseDate(date)
		if err != nil {
			f.logger.Warn("unparseable date header", "msg_id", raw.ID, "date", date, "error", err)
		} else {
			msg.SentAt = &ts
		}
	}
	return msg
}
