package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Gmail is a Mailbox backed by the Gmail REST API. Its cursor is the
// mailbox history id.
type Gmail struct {
	srv    *gmail.Service
	user   string
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger

	mu      sync.Mutex
	address string
}

// NewGmail builds a Gmail mailbox from a client secret file and a token
// previously stored by AuthorizeGmail.
func NewGmail(ctx context.Context, credentialsFile, tokenFile, user string, logger *slog.Logger) (*Gmail, error) {
	cfg, err := GmailOAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load gmail token (run the auth command first): %w", err)
	}
	srv, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailWithService(srv, user, logger), nil
}

// NewGmailWithService wraps an already configured service.
func NewGmailWithService(srv *gmail.Service, user string, logger *slog.Logger) *Gmail {
	if user == "" {
		user = "me"
	}
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Gmail{
		srv:    srv,
		user:   user,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// nonCircuitError marks client-side API errors that must not open the breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }
func (e *nonCircuitError) Unwrap() error { return e.err }

// execute runs fn through the circuit breaker and classifies its failure.
func (g *Gmail) execute(op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	return classifyGmail(op, err)
}

func classifyGmail(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return transient(op, err)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return permanent(op, err)
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return transient(op, err)
	case http.StatusNotFound:
		return permanent(op, fmt.Errorf("%w: %w", ErrNotFound, err))
	case http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return transient(op, err)
			}
		}
	}
	return permanent(op, err)
}

func (g *Gmail) profile(ctx context.Context) (*gmail.Profile, error) {
	var p *gmail.Profile
	err := g.execute("profile", func() error {
		var apiErr error
		p, apiErr = g.srv.Users.GetProfile(g.user).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.address = p.EmailAddress
	g.mu.Unlock()
	return p, nil
}

func (g *Gmail) Address(ctx context.Context) (string, error) {
	g.mu.Lock()
	addr := g.address
	g.mu.Unlock()
	if addr != "" {
		return addr, nil
	}
	p, err := g.profile(ctx)
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}

func (g *Gmail) CurrentCursor(ctx context.Context) (Cursor, error) {
	p, err := g.profile(ctx)
	if err != nil {
		return "", err
	}
	return Cursor(strconv.FormatUint(p.HistoryId, 10)), nil
}

// ListAddedSince pages through messageAdded history records after cur.
// Ids are de-duplicated and kept in history order. A start id Gmail no
// longer retains is reported as ErrCursorExpired.
func (g *Gmail) ListAddedSince(ctx context.Context, cur Cursor) ([]string, Cursor, error) {
	start, err := strconv.ParseUint(string(cur), 10, 64)
	if err != nil {
		return nil, cur, permanent("history.list", fmt.Errorf("invalid history id %q: %w", cur, err))
	}

	var (
		ids  []string
		next uint64
	)
	err = g.execute("history.list", func() error {
		ids, next = nil, 0
		seen := make(map[string]struct{})
		call := g.srv.Users.History.List(g.user).
			StartHistoryId(start).
			HistoryTypes("messageAdded")
		return call.Pages(ctx, func(resp *gmail.ListHistoryResponse) error {
			for _, h := range resp.History {
				for _, added := range h.MessagesAdded {
					if added.Message == nil || added.Message.Id == "" {
						continue
					}
					if _, dup := seen[added.Message.Id]; dup {
						continue
					}
					seen[added.Message.Id] = struct{}{}
					ids = append(ids, added.Message.Id)
				}
			}
			if resp.HistoryId > next {
				next = resp.HistoryId
			}
			return nil
		})
	})
	if IsNotFound(err) {
		// History ids expire after about a week; Gmail then wants a full sync.
		return nil, cur, permanent("history.list", fmt.Errorf("history id %s: %w: %w", cur, ErrCursorExpired, err))
	}
	if err != nil {
		return nil, cur, err
	}
	if next < start {
		next = start
	}
	return ids, Cursor(strconv.FormatUint(next, 10)), nil
}

func (g *Gmail) GetMessage(ctx context.Context, id string) (*message.Raw, error) {
	var msg *gmail.Message
	err := g.execute("messages.get", func() error {
		var apiErr error
		msg, apiErr = g.srv.Users.Messages.Get(g.user, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return rawFromGmail(msg), nil
}

func rawFromGmail(m *gmail.Message) *message.Raw {
	raw := &message.Raw{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Labels:   m.LabelIds,
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			raw.Headers = append(raw.Headers, message.Header{Name: h.Name, Value: h.Value})
		}
		raw.Payload = partFromGmail(m.Payload)
	}
	return raw
}

func partFromGmail(p *gmail.MessagePart) *message.Part {
	part := &message.Part{MimeType: p.MimeType, Filename: p.Filename}
	if p.Body != nil {
		part.Data = p.Body.Data
		part.AttachmentID = p.Body.AttachmentId
	}
	for _, child := range p.Parts {
		if child != nil {
			part.Parts = append(part.Parts, partFromGmail(child))
		}
	}
	return part
}

func (g *Gmail) AttachmentBytes(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body *gmail.MessagePartBody
	err := g.execute("attachments.get", func() error {
		var apiErr error
		body, apiErr = g.srv.Users.Messages.Attachments.Get(g.user, messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	data, err := message.DecodeBase64URL(body.Data)
	if err != nil {
		return nil, permanent("attachments.get", fmt.Errorf("decode attachment %s: %w", attachmentID, err))
	}
	return data, nil
}

func (g *Gmail) Send(ctx context.Context, out Outgoing) (string, error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(out.Raw),
		ThreadId: out.ThreadID,
	}
	var sent *gmail.Message
	err := g.execute("messages.send", func() error {
		var apiErr error
		sent, apiErr = g.srv.Users.Messages.Send(g.user, msg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{message.LabelUnread}}
	return g.execute("messages.modify", func() error {
		_, apiErr := g.srv.Users.Messages.Modify(g.user, id, req).Context(ctx).Do()
		return apiErr
	})
}

func (g *Gmail) Close() error {
	return nil
}
