// Package mailboxtest provides an in-process mailbox.Mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/tracyhatemice/mailtriage/internal/mailbox"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

var _ mailbox.Mailbox = (*Memory)(nil)

// Memory is an in-process Mailbox. Messages are added with Deliver; the
// cursor is the number of messages delivered so far.
type Memory struct {
	mu       sync.Mutex
	address  string
	order    []string
	messages map[string]*message.Raw
	attach   map[string][]byte
	unread   map[string]bool
	sent     []mailbox.Outgoing

	// Err, when set, is returned by every provider call.
	Err error
	// SendErr, when set, is returned by Send only.
	SendErr error
	// MarkReadErr, when set, is returned by MarkRead only.
	MarkReadErr error
}

// NewMemory returns an empty in-process mailbox owned by address.
func NewMemory(address string) *Memory {
	return &Memory{
		address:  address,
		messages: make(map[string]*message.Raw),
		attach:   make(map[string][]byte),
		unread:   make(map[string]bool),
	}
}

// Deliver adds raw as a new unread message.
func (m *Memory) Deliver(raw *message.Raw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, raw.ID)
	m.messages[raw.ID] = raw
	m.unread[raw.ID] = true
}

// SetAttachment stores bytes served by AttachmentBytes.
func (m *Memory) SetAttachment(messageID, attachmentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attach[messageID+"/"+attachmentID] = data
}

// Sent returns the messages delivered through Send.
func (m *Memory) Sent() []mailbox.Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailbox.Outgoing(nil), m.sent...)
}

// Unread reports whether id is still unread.
func (m *Memory) Unread(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[id]
}

func (m *Memory) Address(context.Context) (string, error) {
	return m.address, m.Err
}

func (m *Memory) CurrentCursor(context.Context) (mailbox.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return mailbox.Cursor(strconv.Itoa(len(m.order))), nil
}

func (m *Memory) ListAddedSince(_ context.Context, cur mailbox.Cursor) ([]string, mailbox.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, cur, m.Err
	}
	n, err := strconv.Atoi(string(cur))
	if err != nil || n < 0 || n > len(m.order) {
		return nil, cur, permanent("list", fmt.Errorf("invalid cursor %q", cur))
	}
	ids := append([]string(nil), m.order[n:]...)
	return ids, mailbox.Cursor(strconv.Itoa(len(m.order))), nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (*message.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	raw, ok := m.messages[id]
	if !ok {
		return nil, permanent("get", fmt.Errorf("%s: %w", id, mailbox.ErrNotFound))
	}
	return raw, nil
}

func (m *Memory) AttachmentBytes(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	data, ok := m.attach[messageID+"/"+attachmentID]
	if !ok {
		return nil, permanent("attachment", fmt.Errorf("%s/%s: %w", messageID, attachmentID, mailbox.ErrNotFound))
	}
	return data, nil
}

func (m *Memory) Send(_ context.Context, out mailbox.Outgoing) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.sent = append(m.sent, out)
	return "sent-" + strconv.Itoa(len(m.sent)), nil
}

func (m *Memory) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.MarkReadErr != nil {
		return m.MarkReadErr
	}
	m.unread[id] = false
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func permanent(op string, err error) error {
	return &mailbox.Error{Op: op, Kind: mailbox.Permanent, Err: err}
}
