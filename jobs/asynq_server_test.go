package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueOrderIntegrity(ctx context.Context) (*asynq.TaskInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func newJobsServer(t *testing.T, enqueuer IntegrityEnqueuer) *httptest.Server {
	t.Helper()
	h := NewHandler(nil, enqueuer, slog.Default())
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestTriggerIntegrityEnqueues(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	srv := newJobsServer(t, enqueuer)

	resp, err := http.Post(srv.URL+"/jobs/integrity", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, enqueuer.calls)
}

func TestTriggerIntegrityUnavailable(t *testing.T) {
	srv := newJobsServer(t, nil)

	resp, err := http.Post(srv.URL+"/jobs/integrity", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	enqueuer := &fakeEnqueuer{err: errors.New("redis down")}
	srv = newJobsServer(t, enqueuer)
	resp, err = http.Post(srv.URL+"/jobs/integrity", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	srv := newJobsServer(t, nil)

	resp, err := http.Get(srv.URL + "/jobs/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
