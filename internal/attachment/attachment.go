// Package attachment materializes message attachments as local files that
// live exactly as long as one message is being handled.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

const dirPrefix = "mailtriage-"

// Downloader fetches attachment bytes from the provider.
type Downloader interface {
	AttachmentBytes(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Material is an attachment written to local storage.
type Material struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Path     string `json:"path"`
}

// Materializer writes attachments into per-message scratch directories
// under baseDir.
type Materializer struct {
	src     Downloader
	baseDir string
	logger  *slog.Logger
}

// New creates a materializer. An empty baseDir uses the system temp dir.
func New(src Downloader, baseDir string, logger *slog.Logger) *Materializer {
	return &Materializer{src: src, baseDir: baseDir, logger: logger}
}

// Scope owns the materials of one message until Release.
type Scope struct {
	dir       string
	materials []Material
	released  bool
}

// Materials returns the files written for the message.
func (s *Scope) Materials() []Material {
	if s == nil || s.released {
		return nil
	}
	return s.materials
}

// Release removes every file in the scope. It is safe to call more than once.
func (s *Scope) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true
	if s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove attachment dir %s: %w", s.dir, err)
	}
	return nil
}

// Acquire downloads every attachment of msg into a fresh scratch directory.
// On any failure the partial scope is released and an error returned.
func (m *Materializer) Acquire(ctx context.Context, msg *message.Message) (*Scope, error) {
	scope := &Scope{}
	if len(msg.Attachments) == 0 {
		return scope, nil
	}

	if m.baseDir != "" {
		if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
			return nil, fmt.Errorf("create attachment base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(m.baseDir, dirPrefix+safeName(msg.ID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	scope.dir = dir

	used := make(map[string]int)
	for i, ref := range msg.Attachments {
		data, err := m.src.AttachmentBytes(ctx, msg.ID, ref.AttachmentID)
		if err != nil {
			m.release(scope)
			return nil, fmt.Errorf("download attachment %q of %s: %w", ref.Filename, msg.ID, err)
		}

		name := uniqueName(safeName(ref.Filename), i, used)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			m.release(scope)
			return nil, fmt.Errorf("write attachment %q: %w", ref.Filename, err)
		}
		scope.materials = append(scope.materials, Material{
			Filename: ref.Filename,
			MimeType: ref.MimeType,
			Path:     path,
		})
	}

	m.logger.Debug("attachments materialized", "msg_id", msg.ID, "count", len(scope.materials), "dir", dir)
	return scope, nil
}

func (m *Materializer) release(s *Scope) {
	if err := s.Release(); err != nil {
		m.logger.Warn("attachment cleanup failed", "error", err)
	}
}

// Sweep removes scratch directories left behind by a previous process.
// It only touches baseDir, never the shared temp dir.
func (m *Materializer) Sweep() error {
	if m.baseDir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read attachment base dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove stale attachment dir %s: %w", path, err)
		}
		m.logger.Info("removed stale attachment dir", "dir", path)
	}
	return nil
}

// safeName strips path separators and other characters that cannot appear
// in a single path element.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

// uniqueName returns name, or name with a numeric suffix when it was already
// handed out. Suffixed names are recorded as handed out too.
func uniqueName(name string, index int, used map[string]int) string {
	if name == "" {
		name = "attachment-" + strconv.Itoa(index+1)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := used[name]; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, n+1, ext)
		}
		if _, taken := used[candidate]; taken {
			continue
		}
		used[name] = n + 1
		used[candidate] = max(used[candidate], 1)
		return candidate
	}
}
