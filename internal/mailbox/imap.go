package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/tracyhatemice/mailtriage/internal/message"
	"github.com/tracyhatemice/mailtriage/internal/sender"
)

// IMAP is a Mailbox over IMAP/IMAPS. Message ids are UIDs and the cursor is
// "uidvalidity:uidnext" of the watched folder. Outbound mail goes through
// SMTP.
type IMAP struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	smtp     *sender.Sender
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP mailbox.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, smtp *sender.Sender, logger *slog.Logger) *IMAP {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		smtp:     smtp,
		logger:   logger,
	}
}

// session dials, logs in and selects the folder. The caller must call the
// returned release func.
func (m *IMAP) session(op string) (*imapclient.Client, *imap.SelectData, func(), error) {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))

	var (
		client *imapclient.Client
		err    error
	)
	if m.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: m.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, nil, nil, transient(op, fmt.Errorf("imap connect %s: %w", addr, err))
	}

	if err := client.Login(m.username, m.password).Wait(); err != nil {
		client.Close()
		return nil, nil, nil, permanent(op, fmt.Errorf("imap login %s: %w", m.username, err))
	}

	sel, err := client.Select(m.folder, nil).Wait()
	if err != nil {
		client.Logout().Wait()
		client.Close()
		return nil, nil, nil, permanent(op, fmt.Errorf("imap select %s: %w", m.folder, err))
	}

	release := func() {
		if err := client.Logout().Wait(); err != nil {
			m.logger.Debug("imap logout failed", "error", err)
		}
		client.Close()
	}
	return client, sel, release, nil
}

func (m *IMAP) Address(context.Context) (string, error) {
	return m.username, nil
}

func (m *IMAP) CurrentCursor(context.Context) (Cursor, error) {
	_, sel, release, err := m.session("select")
	if err != nil {
		return "", err
	}
	defer release()
	return imapCursor(sel.UIDValidity, sel.UIDNext), nil
}

func imapCursor(validity uint32, next imap.UID) Cursor {
	return Cursor(fmt.Sprintf("%d:%d", validity, next))
}

func parseIMAPCursor(cur Cursor) (uint32, imap.UID, error) {
	v, n, ok := strings.Cut(string(cur), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid imap cursor %q", cur)
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid imap cursor %q: %w", cur, err)
	}
	next, err := strconv.ParseUint(n, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid imap cursor %q: %w", cur, err)
	}
	return uint32(validity), imap.UID(next), nil
}

// ListAddedSince returns UIDs at or above the cursor's UIDNEXT. A changed
// UIDVALIDITY invalidates every stored UID and is reported as
// ErrCursorExpired.
func (m *IMAP) ListAddedSince(_ context.Context, cur Cursor) ([]string, Cursor, error) {
	validity, from, err := parseIMAPCursor(cur)
	if err != nil {
		return nil, cur, permanent("search", err)
	}

	client, sel, release, err := m.session("search")
	if err != nil {
		return nil, cur, err
	}
	defer release()

	if sel.UIDValidity != validity {
		return nil, cur, permanent("search", fmt.Errorf("uidvalidity of %s changed from %d to %d: %w", m.folder, validity, sel.UIDValidity, ErrCursorExpired))
	}
	if sel.UIDNext <= from {
		return nil, cur, nil
	}

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: from, Stop: 0}}},
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, cur, transient("search", fmt.Errorf("imap uid search: %w", err))
	}

	ids, next := newUIDs(data.AllUIDs(), from, sel.UIDNext)
	return ids, imapCursor(validity, next), nil
}

// newUIDs keeps the search hits at or above from and returns the UIDNEXT to
// store, which never falls below uidNext.
func newUIDs(hits []imap.UID, from, uidNext imap.UID) ([]string, imap.UID) {
	next := uidNext
	var ids []string
	for _, uid := range hits {
		// "n:*" always matches the highest UID, even when it is below n.
		if uid < from {
			continue
		}
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
		if uid >= next {
			next = uid + 1
		}
	}
	return ids, next
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid imap uid %q", id)
	}
	return imap.UID(n), nil
}

// fetchRaw returns the full message, peeking so \Seen is left untouched.
func (m *IMAP) fetchRaw(op, id string) ([]byte, []imap.Flag, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, nil, permanent(op, err)
	}

	client, _, release, err := m.session(op)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	section := &imap.FetchItemBodySection{Peek: true}
	buffers, err := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, nil, transient(op, fmt.Errorf("imap fetch %s: %w", id, err))
	}
	if len(buffers) == 0 {
		return nil, nil, permanent(op, fmt.Errorf("uid %s: %w", id, ErrNotFound))
	}
	content := buffers[0].FindBodySection(section)
	if len(content) == 0 {
		return nil, nil, permanent(op, fmt.Errorf("uid %s: empty body: %w", id, ErrMalformed))
	}
	return content, buffers[0].Flags, nil
}

func (m *IMAP) GetMessage(_ context.Context, id string) (*message.Raw, error) {
	content, flags, err := m.fetchRaw("fetch", id)
	if err != nil {
		return nil, err
	}
	raw, err := ParseRFC822(id, content)
	if err != nil {
		return nil, permanent("fetch", err)
	}
	raw.Labels = imapLabels(flags)
	return raw, nil
}

// imapLabels maps IMAP flags onto provider labels: unseen messages are
// UNREAD and \Flagged ones IMPORTANT.
func imapLabels(flags []imap.Flag) []string {
	seen, flagged := false, false
	for _, f := range flags {
		switch f {
		case imap.FlagSeen:
			seen = true
		case imap.FlagFlagged:
			flagged = true
		}
	}
	var labels []string
	if !seen {
		labels = append(labels, message.LabelUnread)
	}
	if flagged {
		labels = append(labels, message.LabelImportant)
	}
	return labels
}

func (m *IMAP) AttachmentBytes(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	content, _, err := m.fetchRaw("attachment", messageID)
	if err != nil {
		return nil, err
	}
	data, err := AttachmentData(content, attachmentID)
	if err != nil {
		return nil, permanent("attachment", err)
	}
	return data, nil
}

func (m *IMAP) Send(ctx context.Context, out Outgoing) (string, error) {
	if m.smtp == nil {
		return "", permanent("send", errors.New("no smtp sender configured"))
	}
	if err := m.smtp.Send(ctx, out.From, out.To, out.Raw); err != nil {
		return "", transient("send", err)
	}
	return "", nil
}

func (m *IMAP) MarkRead(_ context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return permanent("store", err)
	}
	client, _, release, err := m.session("store")
	if err != nil {
		return err
	}
	defer release()

	err = client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	if err != nil {
		return transient("store", fmt.Errorf("imap store \\Seen on %s: %w", id, err))
	}
	return nil
}

func (m *IMAP) Close() error {
	return nil
}
