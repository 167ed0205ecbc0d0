// Package allowlist restricts processing to messages from registered
// client addresses.
package allowlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Source lists the registered client contact addresses.
type Source interface {
	ClientEmails(ctx context.Context) ([]string, error)
}

// Static is a fixed list of addresses, typically from the config file.
type Static []string

func (s Static) ClientEmails(context.Context) ([]string, error) {
	return s, nil
}

// Normalize lowercases and trims an address for comparison.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Snapshot is the allow-list as of one fetch cycle.
type Snapshot struct {
	emails map[string]struct{}
}

// Take reads src once. A cycle filters its whole batch against one snapshot.
func Take(ctx context.Context, src Source) (*Snapshot, error) {
	emails, err := src.ClientEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("load client emails: %w", err)
	}
	s := &Snapshot{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if n := Normalize(e); n != "" {
			s.emails[n] = struct{}{}
		}
	}
	return s, nil
}

// Len returns the number of distinct allowed addresses.
func (s *Snapshot) Len() int {
	return len(s.emails)
}

// Allows reports whether addr is a registered client.
func (s *Snapshot) Allows(addr string) bool {
	_, ok := s.emails[Normalize(addr)]
	return ok
}

// Filter keeps the messages whose sender is allowed, preserving order.
func (s *Snapshot) Filter(msgs []message.Message) []message.Message {
	kept := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if s.Allows(m.Sender) {
			kept = append(kept, m)
		}
	}
	return kept
}
