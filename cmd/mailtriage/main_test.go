package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestContactsCommands(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--config", filepath.Join(dir, "absent.yaml"), "--data-dir", dir}

	out, err := execute(t, append(base, "contacts", "add", "Client@Example.com", "--name", "Acme")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Added client@example.com")

	out, err = execute(t, append(base, "contacts", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "client@example.com")
	assert.Contains(t, out, "Acme")

	_, err = execute(t, append(base, "contacts", "remove", "client@example.com")...)
	require.NoError(t, err)

	_, err = execute(t, append(base, "contacts", "remove", "client@example.com")...)
	assert.Error(t, err)
}

func TestPersonalityCommands(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--config", filepath.Join(dir, "absent.yaml"), "--data-dir", dir}

	_, err := execute(t, append(base, "personality", "set", "--name", "Ava", "--tone", "warm")...)
	require.NoError(t, err)

	out, err := execute(t, append(base, "personality", "show")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Ava")
	assert.Contains(t, out, "warm")
}

func TestRunRequiresValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox: {type: fax}\n"), 0o600))

	_, err := execute(t, "--config", path, "run")
	assert.ErrorContains(t, err, "mailbox.type")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")
	logger, closeFn, err := setupLogger("debug", path)
	require.NoError(t, err)
	logger.Debug("hello", "msg_id", "m1")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg_id=m1")
}
