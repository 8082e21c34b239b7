package worker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/worker"
)

func newJob(baseURL string) *worker.RefreshJob {
	return worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			APIBaseURL:        baseURL,
			Timeout:           5 * time.Second,
			PollInterval:      10 * time.Millisecond,
			CompletionTimeout: 2 * time.Second,
		},
		Logger: zerolog.Nop(),
	})
}

// refreshAPI fakes the two endpoints the refresh job talks to: the trigger
// and the collection it polls for fetch state.
type refreshAPI struct {
	triggers   atomic.Int64
	stateCalls atomic.Int64
	states     []string
	lastError  string
}

func (a *refreshAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/incidents/refresh":
			a.triggers.Add(1)
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/incidents":
			idx := int(a.stateCalls.Add(1)) - 1
			if idx >= len(a.states) {
				idx = len(a.states) - 1
			}
			state := a.states[idx]
			body := map[string]any{"incidents": []any{}, "count": 0, "fetchState": state}
			if state == "idle" && a.lastError != "" {
				body["lastError"] = a.lastError
			}
			_ = json.NewEncoder(w).Encode(body)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestTriggerRefresh(t *testing.T) {
	t.Run("waits until the fetch returns to idle", func(t *testing.T) {
		api := &refreshAPI{states: []string{"fetching", "fetching", "idle"}}
		server := httptest.NewServer(api.handler(t))
		defer server.Close()

		job := newJob(server.URL)

		require.NoError(t, job.TriggerRefresh(context.Background()))
		assert.Equal(t, int64(1), api.triggers.Load())
		assert.Equal(t, int64(3), api.stateCalls.Load())

		m := job.GetMetrics()
		assert.Equal(t, int64(1), m.TotalTriggers)
		assert.Equal(t, int64(1), m.SuccessfulTriggers)
		assert.Equal(t, int64(0), m.FailedTriggers)
	})

	t.Run("fetch that ends in error fails the job", func(t *testing.T) {
		api := &refreshAPI{states: []string{"idle"}, lastError: "fetching feed: connection refused"}
		server := httptest.NewServer(api.handler(t))
		defer server.Close()

		job := newJob(server.URL)

		err := job.TriggerRefresh(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")

		m := job.GetMetrics()
		assert.Equal(t, int64(1), m.FailedTriggers)
	})

	t.Run("gives up when the fetch never finishes", func(t *testing.T) {
		api := &refreshAPI{states: []string{"fetching"}}
		server := httptest.NewServer(api.handler(t))
		defer server.Close()

		job := worker.NewRefreshJob(worker.RefreshJobConfig{
			Config: worker.RefreshConfig{
				APIBaseURL:        server.URL,
				Timeout:           time.Second,
				PollInterval:      10 * time.Millisecond,
				CompletionTimeout: 60 * time.Millisecond,
			},
			Logger: zerolog.Nop(),
		})

		err := job.TriggerRefresh(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "still fetching")
	})

	t.Run("unexpected trigger status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		job := newJob(server.URL)

		require.Error(t, job.TriggerRefresh(context.Background()))

		m := job.GetMetrics()
		assert.Equal(t, int64(1), m.FailedTriggers)
	})

	t.Run("unreachable api is an error", func(t *testing.T) {
		job := newJob("http://127.0.0.1:1")

		err := job.TriggerRefresh(context.Background())
		require.Error(t, err)
	})
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy api passes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/ops/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		job := newJob(server.URL)
		assert.NoError(t, job.CheckHealth(context.Background()))
	})

	t.Run("unhealthy api fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		job := newJob(server.URL)
		assert.Error(t, job.CheckHealth(context.Background()))
	})
}
