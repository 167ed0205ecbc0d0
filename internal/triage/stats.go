package triage

import (
	"maps"
	"time"

	"github.com/tracyhatemice/mailtriage/internal/dispatch"
	"github.com/tracyhatemice/mailtriage/internal/mailbox"
)

// Stats summarizes what the loop has done since start.
type Stats struct {
	Cycles    int64                     `json:"cycles"`
	LastPoll  time.Time                 `json:"last_poll"`
	Cursor    string                    `json:"cursor"`
	Fetched   int64                     `json:"fetched"`
	Filtered  int64                     `json:"filtered"`
	Processed int64                     `json:"processed"`
	Failures  int64                     `json:"failures"`
	Actions   map[dispatch.Action]int64 `json:"actions"`
}

// CursorInitialized reports whether the cold-start cursor has been taken.
func (s Stats) CursorInitialized() bool {
	return mailbox.Cursor(s.Cursor).Initialized()
}

// Stats returns a copy of the current counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Actions = maps.Clone(r.stats.Actions)
	return s
}

// Cursor returns the cursor the next cycle will fetch from.
func (r *Runner) Cursor() mailbox.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
