// Package dispatch executes a verdict: it escalates internally, replies in
// the client's thread or starts a new conversation, then marks the source
// message read.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/mailbox"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Action is the routing decision for a verdict.
type Action string

const (
	ActionEscalate      Action = "escalate"
	ActionReplyInThread Action = "reply_in_thread"
	ActionSendNew       Action = "send_new"
	// ActionSkipped marks a message already handled by an earlier run.
	ActionSkipped Action = "skipped"
)

// Choose maps a verdict to exactly one action. Escalation wins over any
// reply the verdict also drafts.
func Choose(v classifier.Verdict) Action {
	switch {
	case v.Escalate:
		return ActionEscalate
	case v.ReplyTo:
		return ActionReplyInThread
	default:
		return ActionSendNew
	}
}

// Mailbox is the part of mailbox.Mailbox the router needs.
type Mailbox interface {
	Address(ctx context.Context) (string, error)
	Send(ctx context.Context, out mailbox.Outgoing) (string, error)
	MarkRead(ctx context.Context, id string) error
}

// Ledger remembers handled message ids, and the action taken, across
// restarts.
type Ledger interface {
	Handled(id string) (action string, ok bool)
	MarkHandled(id, action string) error
}

// Record describes one executed action.
type Record struct {
	MessageID string
	Action    Action
	Recipient string
	Subject   string
	SentID    string
	CreatedAt time.Time
}

// Journal persists what the router did.
type Journal interface {
	RecordDispatch(ctx context.Context, r Record) error
	RecordEscalation(ctx context.Context, n Notice) error
}

// Result reports the outcome of Dispatch.
type Result struct {
	Action     Action
	MessageID  string
	SentID     string
	MarkedRead bool
	Notice     *Notice
}

// SendError means the chosen action could not be delivered. The source
// message stays unread.
type SendError struct {
	MessageID string
	Action    Action
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("dispatch %s for %s: %v", e.Action, e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Router executes verdicts.
type Router struct {
	mailbox  Mailbox
	ledger   Ledger
	journal  Journal
	notifyTo string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router. ledger and journal may be nil. When notifyTo
// is set, escalation notices are also mailed to that address.
func NewRouter(mb Mailbox, ledger Ledger, journal Journal, notifyTo string, logger *slog.Logger) *Router {
	return &Router{
		mailbox:  mb,
		ledger:   ledger,
		journal:  journal,
		notifyTo: notifyTo,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch performs the action chosen for v on msg. The message is marked
// read only after the action succeeded; a mark-read failure is logged and
// does not fail the dispatch.
func (r *Router) Dispatch(ctx context.Context, msg *message.Message, v classifier.Verdict) (Result, error) {
	res := Result{Action: Choose(v), MessageID: msg.ID}

	if r.ledger != nil {
		if prev, ok := r.ledger.Handled(msg.ID); ok {
			r.logger.Info("message already handled, skipping", "msg_id", msg.ID, "previous_action", prev)
			res.Action = ActionSkipped
			return res, nil
		}
	}

	var (
		rec = Record{MessageID: msg.ID, Action: res.Action, CreatedAt: r.now()}
		err error
	)
	switch res.Action {
	case ActionEscalate:
		var n Notice
		n, err = r.escalate(ctx, msg, v)
		if err == nil {
			res.Notice = &n
			rec.Recipient, rec.Subject = r.notifyTo, NoticeSubject(n)
		}
	case ActionReplyInThread:
		rec.Recipient, rec.Subject = msg.Sender, ReplySubject(msg.Subject)
		res.SentID, err = r.reply(ctx, msg, v)
	default:
		rec.Recipient, rec.Subject = v.ToEmail, newSubject(msg, v)
		res.SentID, err = r.sendNew(ctx, v, rec.Subject)
	}
	if err != nil {
		return res, &SendError{MessageID: msg.ID, Action: res.Action, Err: err}
	}
	rec.SentID = res.SentID
	r.logger.Info("message dispatched", "msg_id", msg.ID, "action", res.Action, "recipient", rec.Recipient)

	r.remember(ctx, rec)

	if err := r.mailbox.MarkRead(ctx, msg.ID); err != nil {
		r.logger.Error("mark read failed", "msg_id", msg.ID, "error", err)
	} else {
		res.MarkedRead = true
	}
	return res, nil
}

// remember records a completed action. Failures are logged only: the action
// already happened and must not be retried.
func (r *Router) remember(ctx context.Context, rec Record) {
	if r.ledger != nil {
		if err := r.ledger.MarkHandled(rec.MessageID, string(rec.Action)); err != nil {
			r.logger.Error("ledger write failed", "msg_id", rec.MessageID, "error", err)
		}
	}
	if r.journal != nil {
		if err := r.journal.RecordDispatch(ctx, rec); err != nil {
			r.logger.Error("journal write failed", "msg_id", rec.MessageID, "error", err)
		}
	}
}

func (r *Router) escalate(ctx context.Context, msg *message.Message, v classifier.Verdict) (Notice, error) {
	n := NewNotice(msg, v, r.now())

	if r.notifyTo != "" {
		from, err := r.mailbox.Address(ctx)
		if err != nil {
			return n, fmt.Errorf("resolve sender address: %w", err)
		}
		raw, err := Compose(Draft{From: from, To: r.notifyTo, Subject: NoticeSubject(n), Body: n.Body, Date: r.now()})
		if err != nil {
			return n, err
		}
		if _, err := r.mailbox.Send(ctx, mailbox.Outgoing{From: from, To: []string{r.notifyTo}, Raw: raw}); err != nil {
			return n, fmt.Errorf("mail escalation notice: %w", err)
		}
	}
	// Journaled only after the notice went out.
	if r.journal != nil {
		if err := r.journal.RecordEscalation(ctx, n); err != nil {
			return n, fmt.Errorf("record escalation: %w", err)
		}
	}

	r.logger.Warn("message escalated", "msg_id", msg.ID, "notice_id", n.ID,
		"priority", n.Priority, "reason", n.Reason)
	return n, nil
}

func (r *Router) reply(ctx context.Context, msg *message.Message, v classifier.Verdict) (string, error) {
	from, err := r.mailbox.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve sender address: %w", err)
	}
	to := msg.From
	if to == "" {
		to = msg.Sender
	}
	raw, err := Compose(Draft{
		From:       from,
		To:         to,
		Subject:    ReplySubject(msg.Subject),
		Body:       v.Response,
		InReplyTo:  msg.RFCMessageID,
		References: References(msg.References, msg.RFCMessageID),
		Date:       r.now(),
	})
	if err != nil {
		return "", err
	}
	return r.mailbox.Send(ctx, mailbox.Outgoing{
		From:     from,
		To:       []string{msg.Sender},
		ThreadID: msg.ThreadID,
		Raw:      raw,
	})
}

func newSubject(msg *message.Message, v classifier.Verdict) string {
	if v.Subject != "" {
		return v.Subject
	}
	return ReplySubject(msg.Subject)
}

func (r *Router) sendNew(ctx context.Context, v classifier.Verdict, subject string) (string, error) {
	from, err := r.mailbox.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve sender address: %w", err)
	}
	raw, err := Compose(Draft{From: from, To: v.ToEmail, Subject: subject, Body: v.Response, Date: r.now()})
	if err != nil {
		return "", err
	}
	return r.mailbox.Send(ctx, mailbox.Outgoing{From: from, To: []string{v.ToEmail}, Raw: raw})
}
