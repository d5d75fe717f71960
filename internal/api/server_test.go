package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/store"
)

func TestServerHealthAndReadiness(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	server.SetReady(true)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerProgress(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	tracker := progress.NewTracker(progress.TrackerConfig{Total: 10})
	tracker.Advance(4)
	tracker.Inc(progress.StatErrors)

	server := NewServer(Options{RunID: runID, Tracker: tracker})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID     string           `json:"run_id"`
		Processed int64            `json:"processed"`
		Total     int64            `json:"total"`
		Stats     map[string]int64 `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runID.String(), body.RunID)
	require.EqualValues(t, 4, body.Processed)
	require.EqualValues(t, 10, body.Total)
	require.EqualValues(t, 1, body.Stats["errors"])

	rec = httptest.NewRecorder()
	NewServer(Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerGetRun(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	repo := &mockRunRepo{run: store.Run{ID: runID, Status: store.RunSuccess, Records: 12}}
	server := NewServer(Options{Repo: repo})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)
	require.Contains(t, rec.Body.String(), `"records":12`)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerGetRunErrors(t *testing.T) {
	t.Parallel()

	path := "/v1/runs/" + uuid.NewString()
	cases := []struct {
		name string
		repo store.RunRepository
		want int
	}{
		{name: "no ledger", repo: nil, want: http.StatusServiceUnavailable},
		{name: "not found", repo: &mockRunRepo{err: store.ErrNotFound}, want: http.StatusNotFound},
		{name: "failure", repo: &mockRunRepo{err: errors.New("db down")}, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			NewServer(Options{Repo: tc.repo}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServerServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewServer(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

type mockRunRepo struct {
	run store.Run
	err error
}

func (m *mockRunRepo) UpsertRunStart(context.Context, uuid.UUID, time.Time, int) error { return nil }

func (m *mockRunRepo) AddRunCounts(context.Context, uuid.UUID, store.RunCounts) error { return nil }

func (m *mockRunRepo) RecordItemError(context.Context, store.ItemError) error { return nil }

func (m *mockRunRepo) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func (m *mockRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	if m.err != nil {
		return store.Run{}, m.err
	}
	return m.run, nil
}
