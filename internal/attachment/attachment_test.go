package attachment

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

type stubDownloader map[string][]byte

func (s stubDownloader) AttachmentBytes(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	data, ok := s[messageID+"/"+attachmentID]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireWritesAndReleaseRemoves(t *testing.T) {
	base := t.TempDir()
	src := stubDownloader{"m1/a": []byte("alpha"), "m1/b": []byte("beta")}
	mat := New(src, base, discard())

	msg := &message.Message{ID: "m1", Attachments: []message.AttachmentRef{
		{Filename: "report.pdf", MimeType: "application/pdf", AttachmentID: "a"},
		{Filename: "report.pdf", MimeType: "application/pdf", AttachmentID: "b"},
	}}
	scope, err := mat.Acquire(context.Background(), msg)
	require.NoError(t, err)

	materials := scope.Materials()
	require.Len(t, materials, 2)
	assert.NotEqual(t, materials[0].Path, materials[1].Path)
	assert.Equal(t, "report.pdf", filepath.Base(materials[0].Path))
	assert.Equal(t, "report-2.pdf", filepath.Base(materials[1].Path))

	data, err := os.ReadFile(materials[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))

	require.NoError(t, scope.Release())
	for _, m := range materials {
		_, err := os.Stat(m.Path)
		assert.True(t, os.IsNotExist(err))
	}
	assert.Nil(t, scope.Materials())
	assert.NoError(t, scope.Release(), "second release is a no-op")

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquireNamesNeverCollide(t *testing.T) {
	src := stubDownloader{"m1/a": []byte("one"), "m1/b": []byte("two"), "m1/c": []byte("three")}
	mat := New(src, t.TempDir(), discard())

	msg := &message.Message{ID: "m1", Attachments: []message.AttachmentRef{
		{Filename: "a.txt", AttachmentID: "a"},
		{Filename: "a.txt", AttachmentID: "b"},
		{Filename: "a-2.txt", AttachmentID: "c"},
	}}
	scope, err := mat.Acquire(context.Background(), msg)
	require.NoError(t, err)
	defer scope.Release()

	materials := scope.Materials()
	require.Len(t, materials, 3)
	seen := make(map[string]bool)
	for i, want := range []string{"one", "two", "three"} {
		assert.False(t, seen[materials[i].Path], "path %s reused", materials[i].Path)
		seen[materials[i].Path] = true

		data, err := os.ReadFile(materials[i].Path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestAcquireWithoutAttachments(t *testing.T) {
	mat := New(stubDownloader{}, t.TempDir(), discard())
	scope, err := mat.Acquire(context.Background(), &message.Message{ID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, scope.Materials())
	assert.NoError(t, scope.Release())
}

func TestAcquireFailureCleansUp(t *testing.T) {
	base := t.TempDir()
	mat := New(stubDownloader{"m1/a": []byte("alpha")}, base, discard())

	msg := &message.Message{ID: "m1", Attachments: []message.AttachmentRef{
		{Filename: "ok.txt", AttachmentID: "a"},
		{Filename: "missing.txt", AttachmentID: "zzz"},
	}}
	scope, err := mat.Acquire(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, scope)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepRemovesStaleDirs(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, dirPrefix+"old-123"), 0o700))
	require.NoError(t, os.Mkdir(filepath.Join(base, "keep"), 0o700))

	require.NoError(t, New(stubDownloader{}, base, discard()).Sweep())

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name())
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "evil.exe", safeName(`C:\temp\evil.exe`))
	assert.Equal(t, "a_b.txt", safeName("a:b.txt"))
	assert.Equal(t, "", safeName(".."))
	assert.Equal(t, "attachment-3", uniqueName("", 2, map[string]int{}))
}

func TestUniqueName(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{"distinct", []string{"a.txt", "b.txt"}, []string{"a.txt", "b.txt"}},
		{"duplicates", []string{"a.txt", "a.txt", "a.txt"}, []string{"a.txt", "a-2.txt", "a-3.txt"}},
		{"literal suffix after duplicate", []string{"a.txt", "a.txt", "a-2.txt"}, []string{"a.txt", "a-2.txt", "a-2-2.txt"}},
		{"literal suffix first", []string{"a-2.txt", "a.txt", "a.txt"}, []string{"a-2.txt", "a.txt", "a-3.txt"}},
		{"no extension", []string{"notes", "notes"}, []string{"notes", "notes-2"}},
		{"unnamed", []string{"", "attachment-2", ""}, []string{"attachment-1", "attachment-2", "attachment-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := make(map[string]int)
			var got []string
			for i, n := range tt.names {
				got = append(got, uniqueName(n, i, used))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
