package incident

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReorderedEventSerializesOrderedSnapshot(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{fn: func(_ context.Context, _ int) ([]Incident, error) {
		return []Incident{
			{ID: "a", Time: base, Summary: "Stalled vehicle"},
			{ID: "c", Time: base.Add(2 * time.Hour), Summary: "Bridge closure"},
			{ID: "b", Time: base.Add(time.Hour), Summary: "Crash blocking left lane"},
		}, nil
	}}
	c := newTestController(t, ControllerConfig{Fetcher: fetcher})

	events, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.StartInitialLoad())
	require.Eventually(t, func() bool {
		return c.State() == FetchIdle && len(c.Snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	var reordered *Event
	for _, ev := range collectEvents(events, 200*time.Millisecond) {
		if ev.Type == EventReordered {
			evCopy := ev
			reordered = &evCopy
		}
	}
	require.NotNil(t, reordered, "a load that changes the order must publish reordered")

	data, err := json.Marshal(reordered)
	require.NoError(t, err)

	var decoded struct {
		Type      string `json:"type"`
		Incidents []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "reordered", decoded.Type)
	require.Len(t, decoded.Incidents, 3, "the wire event carries the full ordered snapshot")
	assert.Equal(t, "c", decoded.Incidents[0].ID)
	assert.Equal(t, "b", decoded.Incidents[1].ID)
	assert.Equal(t, "a", decoded.Incidents[2].ID)
	assert.Equal(t, "Bridge closure", decoded.Incidents[0].Summary)
}

func TestEventOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventFetchStarted, At: time.Now()})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "incidents")
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "incidentId")
	assert.NotContains(t, raw, "policy")
}
