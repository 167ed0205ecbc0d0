package allowlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailtriage/internal/message"
)

type erroringSource struct{}

func (erroringSource) ClientEmails(context.Context) ([]string, error) {
	return nil, assert.AnError
}

func TestFilterKeepsAllowedInOrder(t *testing.T) {
	snap, err := Take(context.Background(), Static{"Client@Example.com", " other@example.org ", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	msgs := []message.Message{
		{ID: "1", Sender: "client@example.com"},
		{ID: "2", Sender: "stranger@example.net"},
		{ID: "3", Sender: "OTHER@example.org"},
		{ID: "4", Sender: ""},
	}
	kept := snap.Filter(msgs)

	require.Len(t, kept, 2)
	assert.Equal(t, "1", kept[0].ID)
	assert.Equal(t, "3", kept[1].ID)
	for _, m := range kept {
		assert.True(t, snap.Allows(m.Sender))
	}
}

func TestEmptyAllowListDropsEverything(t *testing.T) {
	snap, err := Take(context.Background(), Static(nil))
	require.NoError(t, err)
	assert.Empty(t, snap.Filter([]message.Message{{ID: "1", Sender: "a@b.c"}}))
}

func TestTakePropagatesSourceError(t *testing.T) {
	_, err := Take(context.Background(), erroringSource{})
	assert.ErrorIs(t, err, assert.AnError)
}
