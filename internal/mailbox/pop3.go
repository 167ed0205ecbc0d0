package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	pop3client "github.com/knadh/go-pop3"

	"github.com/tracyhatemice/mailtriage/internal/message"
	"github.com/tracyhatemice/mailtriage/internal/sender"
)

const pop3CursorPrefix = "uidl:"

// POP3 is a Mailbox over POP3/POP3S. Message ids are UIDL values and the
// cursor is the set of UIDLs present at the last listing. POP3 has no read
// state: MarkRead deletes the message when deleteOnRead is set and is a
// no-op otherwise.
type POP3 struct {
	host         string
	port         int
	username     string
	password     string
	useTLS       bool
	deleteOnRead bool
	smtp         *sender.Sender
	logger       *slog.Logger
}

// NewPOP3 creates a new POP3 mailbox.
func NewPOP3(host string, port int, username, password string, useTLS, deleteOnRead bool, smtp *sender.Sender, logger *slog.Logger) *POP3 {
	return &POP3{
		host:         host,
		port:         port,
		username:     username,
		password:     password,
		useTLS:       useTLS,
		deleteOnRead: deleteOnRead,
		smtp:         smtp,
		logger:       logger,
	}
}

func (m *POP3) connect(op string) (*pop3client.Conn, error) {
	client := pop3client.New(pop3client.Opt{
		Host:       m.host,
		Port:       m.port,
		TLSEnabled: m.useTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
		return nil, transient(op, fmt.Errorf("pop3 connect %s: %w", addr, err))
	}
	if err := conn.Auth(m.username, m.password); err != nil {
		conn.Quit()
		return nil, permanent(op, fmt.Errorf("pop3 auth %s: %w", m.username, err))
	}
	return conn, nil
}

func (m *POP3) listing(op string, conn *pop3client.Conn) ([]pop3client.MessageID, error) {
	ids, err := conn.Uidl(0)
	if err != nil {
		return nil, transient(op, fmt.Errorf("pop3 uidl: %w", err))
	}
	return ids, nil
}

func pop3Cursor(ids []pop3client.MessageID) Cursor {
	uids := make([]string, 0, len(ids))
	for _, id := range ids {
		uids = append(uids, id.UID)
	}
	return Cursor(pop3CursorPrefix + strings.Join(uids, ","))
}

func (m *POP3) Address(context.Context) (string, error) {
	return m.username, nil
}

func (m *POP3) CurrentCursor(context.Context) (Cursor, error) {
	conn, err := m.connect("uidl")
	if err != nil {
		return "", err
	}
	defer conn.Quit()

	ids, err := m.listing("uidl", conn)
	if err != nil {
		return "", err
	}
	return pop3Cursor(ids), nil
}

// ListAddedSince returns UIDLs not present in cur, in maildrop order.
func (m *POP3) ListAddedSince(_ context.Context, cur Cursor) ([]string, Cursor, error) {
	known, err := parsePOP3Cursor(cur)
	if err != nil {
		return nil, cur, permanent("uidl", err)
	}

	conn, err := m.connect("uidl")
	if err != nil {
		return nil, cur, err
	}
	defer conn.Quit()

	listing, err := m.listing("uidl", conn)
	if err != nil {
		return nil, cur, err
	}
	return addedUIDLs(known, listing), pop3Cursor(listing), nil
}

// parsePOP3Cursor returns the set of UIDLs recorded in cur.
func parsePOP3Cursor(cur Cursor) (map[string]struct{}, error) {
	prev, ok := strings.CutPrefix(string(cur), pop3CursorPrefix)
	if !ok {
		return nil, fmt.Errorf("invalid pop3 cursor %q", cur)
	}
	known := make(map[string]struct{})
	for _, uid := range strings.Split(prev, ",") {
		if uid != "" {
			known[uid] = struct{}{}
		}
	}
	return known, nil
}

func addedUIDLs(known map[string]struct{}, listing []pop3client.MessageID) []string {
	var added []string
	for _, id := range listing {
		if _, ok := known[id.UID]; !ok {
			added = append(added, id.UID)
		}
	}
	return added
}

// locate maps a UIDL to its message number in the current session.
func (m *POP3) locate(op string, conn *pop3client.Conn, uid string) (int, error) {
	listing, err := m.listing(op, conn)
	if err != nil {
		return 0, err
	}
	for _, id := range listing {
		if id.UID == uid {
			return id.ID, nil
		}
	}
	return 0, permanent(op, fmt.Errorf("uidl %s: %w", uid, ErrNotFound))
}

func (m *POP3) retrieve(op, uid string) ([]byte, error) {
	conn, err := m.connect(op)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	num, err := m.locate(op, conn, uid)
	if err != nil {
		return nil, err
	}
	buf, err := conn.RetrRaw(num)
	if err != nil {
		return nil, transient(op, fmt.Errorf("pop3 retr %d: %w", num, err))
	}
	return buf.Bytes(), nil
}

func (m *POP3) GetMessage(_ context.Context, id string) (*message.Raw, error) {
	content, err := m.retrieve("retr", id)
	if err != nil {
		return nil, err
	}
	raw, err := ParseRFC822(id, content)
	if err != nil {
		return nil, permanent("retr", err)
	}
	raw.Labels = []string{message.LabelUnread}
	return raw, nil
}

func (m *POP3) AttachmentBytes(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	content, err := m.retrieve("attachment", messageID)
	if err != nil {
		return nil, err
	}
	data, err := AttachmentData(content, attachmentID)
	if err != nil {
		return nil, permanent("attachment", err)
	}
	return data, nil
}

func (m *POP3) Send(ctx context.Context, out Outgoing) (string, error) {
	if m.smtp == nil {
		return "", permanent("send", errors.New("no smtp sender configured"))
	}
	if err := m.smtp.Send(ctx, out.From, out.To, out.Raw); err != nil {
		return "", transient("send", err)
	}
	return "", nil
}

func (m *POP3) MarkRead(_ context.Context, id string) error {
	if !m.deleteOnRead {
		return nil
	}
	conn, err := m.connect("dele")
	if err != nil {
		return err
	}
	num, err := m.locate("dele", conn, id)
	if err != nil {
		conn.Quit()
		return err
	}
	if err := conn.Dele(num); err != nil {
		conn.Quit()
		return transient("dele", fmt.Errorf("pop3 dele %d: %w", num, err))
	}
	// Deletions are committed on QUIT.
	if err := conn.Quit(); err != nil {
		return transient("dele", fmt.Errorf("pop3 quit: %w", err))
	}
	m.logger.Debug("pop3 message deleted", "msg_id", id)
	return nil
}

func (m *POP3) Close() error {
	return nil
}
