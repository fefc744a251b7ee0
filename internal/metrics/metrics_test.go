package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksCounters(t *testing.T) {
	reg := NewRegistry()
	tasks := NewTasks(reg)

	tasks.Started("CAMPAIGN_LOAD")
	tasks.Started("CAMPAIGN_LOAD")
	tasks.Finished("CAMPAIGN_LOAD", "completed")
	tasks.Retried("CAMPAIGN_LOAD")

	assert.Equal(t, 2.0, testutil.ToFloat64(tasks.started.WithLabelValues("CAMPAIGN_LOAD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tasks.finished.WithLabelValues("CAMPAIGN_LOAD", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(tasks.live))

	var nilTasks *Tasks
	assert.NotPanics(t, func() { nilTasks.Started("x") })
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	reg := NewRegistry()
	h := NewHTTP(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks/{name}/retry", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(h.Middleware(mux))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/tasks/spring/retry", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(
		h.requests.WithLabelValues(http.MethodPost, "POST /api/tasks/{name}/retry", "202")))

	metricsServer := httptest.NewServer(Handler(reg))
	defer metricsServer.Close()
	resp, err = http.Get(metricsServer.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "http_requests_total"))
}
