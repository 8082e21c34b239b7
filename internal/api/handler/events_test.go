package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/api/handler"
	"github.com/roadwatch/roadwatch/internal/incident"
)

type feedStub struct {
	incidents []incident.Incident
}

func (f *feedStub) FetchIncidents(context.Context) ([]incident.Incident, error) {
	return f.incidents, nil
}

func (f *feedStub) Name() string { return "stub" }

func TestStreamDeliversReorderedSnapshot(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctrl := incident.NewController(incident.ControllerConfig{
		Fetcher: &feedStub{incidents: []incident.Incident{
			{ID: "older", Time: base, Summary: "Stalled vehicle"},
			{ID: "newer", Time: base.Add(time.Hour), Summary: "Bridge closure"},
		}},
		Logger: zerolog.Nop(),
	})
	defer ctrl.Close()

	h := handler.NewEventsHandler(ctrl, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Unblocks the read loop if the expected event never arrives.
	guard := time.AfterFunc(5*time.Second, func() { resp.Body.Close() })
	defer guard.Stop()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.NoError(t, ctrl.StartInitialLoad())

	var payload string
	for payload == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "event: reordered" {
			data, derr := reader.ReadString('\n')
			require.NoError(t, derr)
			payload = strings.TrimPrefix(strings.TrimSpace(data), "data: ")
		}
	}

	var ev struct {
		Incidents []struct {
			ID string `json:"id"`
		} `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	require.Len(t, ev.Incidents, 2)
	assert.Equal(t, "newer", ev.Incidents[0].ID, "snapshot arrives in display order")
	assert.Equal(t, "older", ev.Incidents[1].ID)
}
