package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/mailbox/mailboxtest"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

type memLedger map[string]string

func (l memLedger) Handled(id string) (string, bool) {
	action, ok := l[id]
	return action, ok
}

func (l memLedger) MarkHandled(id, action string) error {
	l[id] = action
	return nil
}

type memJournal struct {
	records  []Record
	notices  []Notice
	noticeEr error
}

func (j *memJournal) RecordDispatch(_ context.Context, r Record) error {
	j.records = append(j.records, r)
	return nil
}

func (j *memJournal) RecordEscalation(_ context.Context, n Notice) error {
	if j.noticeEr != nil {
		return j.noticeEr
	}
	j.notices = append(j.notices, n)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func inbound() *message.Message {
	return &message.Message{
		ID:           "m1",
		ThreadID:     "t1",
		Sender:       "client@example.com",
		From:         `"Client" <client@example.com>`,
		Subject:      "Dashboard question",
		Body:         "How do I add a project?",
		RFCMessageID: "<orig@example.com>",
		References:   "<older@example.com>",
	}
}

func readSent(t *testing.T, raw []byte) (*mail.Reader, string) {
	t.Helper()
	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	return r, string(body)
}

func TestChoose(t *testing.T) {
	assert.Equal(t, ActionEscalate, Choose(classifier.Verdict{Escalate: true, ReplyTo: true}))
	assert.Equal(t, ActionReplyInThread, Choose(classifier.Verdict{ReplyTo: true}))
	assert.Equal(t, ActionSendNew, Choose(classifier.Verdict{}))
}

func TestDispatchReplyInThread(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	mb.Deliver(&message.Raw{ID: "m1"})
	ledger := memLedger{}
	journal := &memJournal{}
	r := NewRouter(mb, ledger, journal, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{
		MessageID: "m1", Response: "Go to Projects, then Add Project.", ReplyTo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionReplyInThread, res.Action)
	assert.True(t, res.MarkedRead)
	assert.Equal(t, "sent-1", res.SentID)
	assert.False(t, mb.Unread("m1"))

	sent := mb.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "t1", sent[0].ThreadID)
	assert.Equal(t, []string{"client@example.com"}, sent[0].To)

	rd, body := readSent(t, sent[0].Raw)
	subject, err := rd.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Dashboard question", subject)
	assert.Equal(t, "<orig@example.com>", rd.Header.Get("In-Reply-To"))
	assert.Equal(t, "<older@example.com> <orig@example.com>", rd.Header.Get("References"))
	to, err := rd.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "client@example.com", to[0].Address)
	assert.Equal(t, "Go to Projects, then Add Project.", strings.TrimSpace(body))

	assert.Equal(t, string(ActionReplyInThread), ledger["m1"])
	require.Len(t, journal.records, 1)
	assert.Equal(t, ActionReplyInThread, journal.records[0].Action)
}

func TestDispatchSendNew(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	r := NewRouter(mb, nil, nil, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{
		Response: "Welcome aboard!", ToEmail: "new@example.com", Subject: "Getting started",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSendNew, res.Action)

	sent := mb.Sent()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].ThreadID)
	assert.Equal(t, []string{"new@example.com"}, sent[0].To)

	rd, _ := readSent(t, sent[0].Raw)
	subject, _ := rd.Header.Subject()
	assert.Equal(t, "Getting started", subject)
	assert.Empty(t, rd.Header.Get("In-Reply-To"))
}

func TestDispatchEscalateSendsNothingToClient(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	journal := &memJournal{}
	r := NewRouter(mb, nil, journal, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{
		Escalate: true, Priority: classifier.PriorityHigh, Response: "draft", ReplyTo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionEscalate, res.Action)
	assert.Empty(t, mb.Sent())
	assert.True(t, res.MarkedRead)

	require.NotNil(t, res.Notice)
	assert.NotEmpty(t, res.Notice.ID)
	assert.Equal(t, classifier.DefaultEscalationReason, res.Notice.Reason)
	assert.Contains(t, res.Notice.Body, "Subject: Dashboard question")
	assert.Contains(t, res.Notice.Body, "Priority: high")
	require.Len(t, journal.notices, 1)
	assert.Equal(t, res.Notice.ID, journal.notices[0].ID)
}

func TestDispatchEscalateMailsInternalAddress(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	r := NewRouter(mb, nil, nil, "oncall@example.org", discard())

	_, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{
		Escalate: true, Priority: classifier.PriorityMedium, EscalationReason: "needs guidance",
	})
	require.NoError(t, err)

	sent := mb.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"oncall@example.org"}, sent[0].To)
	rd, body := readSent(t, sent[0].Raw)
	subject, _ := rd.Header.Subject()
	assert.Equal(t, "[Escalation:medium] Dashboard question", subject)
	assert.Contains(t, body, "Reason: needs guidance")
}

func TestDispatchSendFailureLeavesUnread(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	mb.Deliver(&message.Raw{ID: "m1"})
	mb.SendErr = assert.AnError
	ledger := memLedger{}
	r := NewRouter(mb, ledger, nil, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{Response: "hi", ReplyTo: true})
	require.Error(t, err)

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "m1", se.MessageID)
	assert.Equal(t, ActionReplyInThread, se.Action)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, res.MarkedRead)
	assert.True(t, mb.Unread("m1"))
	assert.NotContains(t, ledger, "m1")
}

func TestDispatchEscalationJournalFailure(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	mb.Deliver(&message.Raw{ID: "m1"})
	r := NewRouter(mb, nil, &memJournal{noticeEr: assert.AnError}, "", discard())

	_, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{Escalate: true, Priority: classifier.PriorityLow})
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.True(t, mb.Unread("m1"))
}

func TestDispatchEscalationNoticeFailureIsNotJournaled(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	mb.Deliver(&message.Raw{ID: "m1"})
	mb.SendErr = assert.AnError
	journal := &memJournal{}
	ledger := memLedger{}
	r := NewRouter(mb, ledger, journal, "lead@example.org", discard())

	_, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{Escalate: true, Priority: classifier.PriorityHigh, EscalationReason: "outage"})
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ActionEscalate, se.Action)
	assert.Empty(t, journal.notices)
	assert.Empty(t, journal.records)
	assert.NotContains(t, ledger, "m1")
	assert.True(t, mb.Unread("m1"))

	mb.SendErr = nil
	_, err = r.Dispatch(context.Background(), inbound(), classifier.Verdict{Escalate: true, Priority: classifier.PriorityHigh, EscalationReason: "outage"})
	require.NoError(t, err)
	require.Len(t, journal.notices, 1)
	assert.Equal(t, string(ActionEscalate), ledger["m1"])
}

func TestDispatchMarkReadFailureIsNotFatal(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	mb.MarkReadErr = assert.AnError
	r := NewRouter(mb, nil, nil, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{Response: "hi", ReplyTo: true})
	require.NoError(t, err)
	assert.False(t, res.MarkedRead)
	assert.Len(t, mb.Sent(), 1)
}

func TestDispatchSkipsHandledMessages(t *testing.T) {
	mb := mailboxtest.NewMemory("support@example.org")
	r := NewRouter(mb, memLedger{"m1": string(ActionReplyInThread)}, nil, "", discard())

	res, err := r.Dispatch(context.Background(), inbound(), classifier.Verdict{Response: "hi", ReplyTo: true})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Empty(t, mb.Sent())
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hello", ReplySubject("Hello"))
	assert.Equal(t, "RE: Hello", ReplySubject("RE: Hello"))
	assert.Equal(t, "re:Hello", ReplySubject("re:Hello"))
	assert.Equal(t, "Re: ", ReplySubject(""))
}

func TestReferences(t *testing.T) {
	assert.Equal(t, "<a>", References("", "<a>"))
	assert.Equal(t, "<x> <a>", References(" <x> ", "<a>"))
	assert.Equal(t, "<x>", References("<x>", ""))
}

func TestComposeEncodesUTF8(t *testing.T) {
	raw, err := Compose(Draft{
		From: "support@example.org", To: "Zoë <zoe@example.com>", Subject: "Grüße",
		Body: "Merci beaucoup, à bientôt", Date: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	rd, body := readSent(t, raw)
	subject, err := rd.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Grüße", subject)
	assert.Equal(t, "Merci beaucoup, à bientôt", body)
	id, err := rd.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
