package status

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailtriage/internal/dispatch"
	"github.com/tracyhatemice/mailtriage/internal/triage"
)

type fixedStats triage.Stats

func (f fixedStats) Stats() triage.Stats { return triage.Stats(f) }

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(fixedStats{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusReportsStats(t *testing.T) {
	src := fixedStats{
		Cycles:    7,
		LastPoll:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Cursor:    "1234",
		Processed: 2,
		Actions:   map[dispatch.Action]int64{dispatch.ActionEscalate: 1, dispatch.ActionReplyInThread: 1},
	}
	w := httptest.NewRecorder()
	Handler(src).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stats             triage.Stats `json:"stats"`
		CursorInitialized bool         `json:"cursor_initialized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.CursorInitialized)
	assert.EqualValues(t, 7, body.Stats.Cycles)
	assert.Equal(t, "1234", body.Stats.Cursor)
	assert.EqualValues(t, 1, body.Stats.Actions[dispatch.ActionEscalate])
}

func TestUnknownRoute(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(fixedStats{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
