package classifier

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailtriage/internal/attachment"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

type stubCompleter struct {
	out    string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

type stubSettings struct {
	p   Personality
	err error
}

func (s stubSettings) PersonalitySettings(context.Context) (Personality, error) {
	return s.p, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage() *message.Message {
	ts := time.Date(2025, 10, 1, 15, 56, 26, 0, time.UTC)
	return &message.Message{
		ID:          "m1",
		Sender:      "client@example.com",
		Subject:     "Login Issue",
		Body:        "I keep getting an error.",
		IsImportant: true,
		SentAt:      &ts,
	}
}

func TestClassifyReplacesMismatchedMessageID(t *testing.T) {
	comp := &stubCompleter{out: `{"Message_ID":"other","escalate":false,"response":"Hi","reply_to":true}`}
	c := New(comp, nil, discard())

	v, err := c.Classify(context.Background(), testMessage(), nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", v.MessageID)
}

func TestClassifyPromptContents(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("error code 42"), 0o600))

	comp := &stubCompleter{out: cleanJSON}
	c := New(comp, stubSettings{p: Personality{AssistantName: "Ava", CommunicationTone: "friendly"}}, discard())

	materials := []attachment.Material{
		{Filename: "notes.txt", MimeType: "text/plain", Path: notes},
		{Filename: "shot.png", MimeType: "image/png", Path: filepath.Join(dir, "shot.png")},
	}
	_, err := c.Classify(context.Background(), testMessage(), materials)
	require.NoError(t, err)

	p := comp.prompt
	assert.Contains(t, p, "Message_ID: m1\n")
	assert.Contains(t, p, "From: client@example.com\n")
	assert.Contains(t, p, "Subject: Login Issue\n")
	assert.Contains(t, p, "Body: \n\"\"\"I keep getting an error.\"\"\"\n")
	assert.Contains(t, p, "is_important: True\n")
	assert.Contains(t, p, "Date: 2025-10-01 15:56:26.000000\n")
	assert.Contains(t, p, `"filename":"notes.txt"`)
	assert.Contains(t, p, `"excerpt":"error code 42"`)
	assert.Contains(t, p, `"assistant_name":"Ava"`)
}

func TestClassifyToleratesSettingsFailure(t *testing.T) {
	comp := &stubCompleter{out: cleanJSON}
	c := New(comp, stubSettings{err: assert.AnError}, discard())

	_, err := c.Classify(context.Background(), testMessage(), nil)
	require.NoError(t, err)
	assert.NotContains(t, comp.prompt, "personality_settings")
	assert.Contains(t, comp.prompt, "attachment_data: \n\"\"\"[]\"\"\"")
}

func TestClassifyCompleterError(t *testing.T) {
	c := New(&stubCompleter{err: assert.AnError}, nil, discard())
	_, err := c.Classify(context.Background(), testMessage(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestOpenAIClientComplete(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`)
	}))
	defer ts.Close()

	c := NewOpenAIClient(ts.URL+"/v1/", "secret", "test-model", "", time.Second)
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, DefaultInstructions, got.Messages[0].Content)
	assert.Equal(t, chatMessage{Role: "user", Content: "hello"}, got.Messages[1])
}

func TestOpenAIClientAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer ts.Close()

	_, err := NewOpenAIClient(ts.URL, "", "m", "", time.Second).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Contains(t, err.Error(), "401")
}
