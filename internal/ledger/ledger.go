// Package ledger remembers which inbound messages have already been acted on
// so a restart with a stale cursor does not answer the same mail twice.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is what the ledger knows about a handled message.
type Entry struct {
	Action string
	At     time.Time
}

// Ledger maps handled message ids to the action taken. When backed by a
// file, entries are appended one per line as "id<TAB>action<TAB>time" and
// reloaded on Open. Lines holding only an id are read with an empty action.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]Entry
	file    string
	now     func() time.Time
}

// Open loads (or creates) a ledger backed by filePath. An empty path gives a
// ledger that lives in memory only.
func Open(filePath string) (*Ledger, error) {
	l := &Ledger{
		entries: make(map[string]Entry),
		file:    filePath,
		now:     time.Now,
	}
	if filePath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id, e, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, dup := l.entries[id]; !dup {
			l.entries[id] = e
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	return l, nil
}

func parseLine(line string) (string, Entry, bool) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	id := strings.TrimSpace(fields[0])
	if id == "" {
		return "", Entry{}, false
	}
	var e Entry
	if len(fields) > 1 {
		e.Action = strings.TrimSpace(fields[1])
	}
	if len(fields) > 2 {
		// An unreadable time leaves At zero; the id still counts as handled.
		e.At, _ = time.Parse(time.RFC3339, strings.TrimSpace(fields[2]))
	}
	return id, e, true
}

// Handled returns the action recorded for id, if any.
func (l *Ledger) Handled(id string) (string, bool) {
	e, ok := l.Lookup(id)
	return e.Action, ok
}

// Lookup returns the full entry recorded for id.
func (l *Ledger) Lookup(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return e, ok
}

// MarkHandled records that action was taken on id and persists it. The first
// recorded action wins; marking an id again is a no-op.
func (l *Ledger) MarkHandled(id, action string) error {
	if id == "" || strings.ContainsAny(id, "\t\r\n") {
		return fmt.Errorf("invalid ledger id %q", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[id]; exists {
		return nil
	}
	e := Entry{Action: action, At: l.now().UTC().Truncate(time.Second)}
	l.entries[id] = e

	if l.file == "" {
		return nil
	}
	f, err := os.OpenFile(l.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger file for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", id, action, e.At.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return nil
}

// Count returns the number of recorded ids.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Actions tallies recorded entries by action. Entries loaded from id-only
// lines are counted under "".
func (l *Ledger) Actions() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for _, e := range l.entries {
		out[e.Action]++
	}
	return out
}
