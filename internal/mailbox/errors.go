package mailbox

import (
	"errors"
	"fmt"
)

// Kind separates failures worth backing off for from the rest.
type Kind int

const (
	// Permanent failures are logged and the cycle yields nothing.
	Permanent Kind = iota
	// Transient failures (rate limiting, service unavailable) additionally
	// trigger a backoff before the next cycle.
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

var (
	// ErrNotFound is wrapped by errors for messages that no longer exist.
	ErrNotFound = errors.New("message not found")
	// ErrMalformed is wrapped by errors for messages whose content cannot
	// be parsed. Retrying such a message never succeeds.
	ErrMalformed = errors.New("malformed message")
	// ErrCursorExpired is wrapped when the provider no longer accepts a
	// stored cursor and a fresh baseline is needed.
	ErrCursorExpired = errors.New("cursor expired")
)

// Error is returned by every Mailbox operation that talks to a provider.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mailbox %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a mailbox failure worth backing off for.
func IsTransient(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == Transient
}

// IsNotFound reports whether err means the requested message is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMalformed reports whether err means a message's content is unparseable.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// IsCursorExpired reports whether err means the cursor must be re-baselined.
func IsCursorExpired(err error) bool {
	return errors.Is(err, ErrCursorExpired)
}

func transient(op string, err error) error {
	return &Error{Op: op, Kind: Transient, Err: err}
}

func permanent(op string, err error) error {
	return &Error{Op: op, Kind: Permanent, Err: err}
}
