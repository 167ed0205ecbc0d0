// Package store persists client contacts, the assistant personality and a
// journal of dispatched actions.
package store

import (
	"errors"
	"time"
)

// ErrClientNotFound is returned when removing an unknown contact.
var ErrClientNotFound = errors.New("client not found")

// Client is a registered sender whose mail is triaged.
type Client struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	ContactEmail string    `db:"contact_email" json:"contact_email"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
