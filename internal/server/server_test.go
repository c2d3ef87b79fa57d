package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"threathunt/internal/query"
	"threathunt/internal/record"
	"threathunt/internal/store"
)

type fakeTrigger struct{ accept bool }

func (f *fakeTrigger) Kick() bool { return f.accept }

type fakeRuns struct {
	runs []store.Run
}

func (f *fakeRuns) List(limit int) ([]store.Run, error) {
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) Get(id string) (store.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Run{}, store.ErrNotFound
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, accept bool) (*Server, *record.Recorder) {
	t.Helper()
	rec, err := record.NewRecorder(filepath.Join(t.TempDir(), "records"), quietLogger())
	require.NoError(t, err)
	runs := &fakeRuns{runs: []store.Run{
		{ID: "new", Status: store.StatusOK},
		{ID: "old", Status: store.StatusPartial},
	}}
	return New(&fakeTrigger{accept: accept}, runs, rec, quietLogger()), rec
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, true)
	rr := do(t, s.Router(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestTrigger(t *testing.T) {
	s, _ := newTestServer(t, true)
	assert.Equal(t, http.StatusAccepted, do(t, s.Router(), http.MethodPost, "/v1/runs").Code)

	busy, _ := newTestServer(t, false)
	assert.Equal(t, http.StatusConflict, do(t, busy.Router(), http.MethodPost, "/v1/runs").Code)
}

func TestListRuns(t *testing.T) {
	s, _ := newTestServer(t, true)

	rr := do(t, s.Router(), http.MethodGet, "/v1/runs?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, s.Router(), http.MethodGet, "/v1/runs?limit=x").Code)
}

func TestGetRun(t *testing.T) {
	s, _ := newTestServer(t, true)

	rr := do(t, s.Router(), http.MethodGet, "/v1/runs/old")
	require.Equal(t, http.StatusOK, rr.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, store.StatusPartial, run.Status)

	assert.Equal(t, http.StatusNotFound, do(t, s.Router(), http.MethodGet, "/v1/runs/none").Code)
}

func TestRecords(t *testing.T) {
	s, rec := newTestServer(t, true)
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := rec.Write(day, []query.SearchQuery{{
		Window:     query.NewWindow(day, 90),
		Subject:    "1.2.3.4",
		Expression: `dest_ip="1.2.3.4"`,
		HitCount:   2,
	}})
	require.NoError(t, err)

	rr := do(t, s.Router(), http.MethodGet, "/v1/records?from=2024-03-01&to=20240331")
	require.Equal(t, http.StatusOK, rr.Code)
	var files []record.RecordFile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "ibh_query_20240331.csv", files[0].Name)

	rr = do(t, s.Router(), http.MethodGet, "/v1/records/2024-03-31")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		File string       `json:"file"`
		Rows []record.Row `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ibh_query_20240331.csv", body.File)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, 2, body.Rows[0].HitCount)

	assert.Equal(t, http.StatusNotFound, do(t, s.Router(), http.MethodGet, "/v1/records/2024-03-30").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Router(), http.MethodGet, "/v1/records/yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Router(), http.MethodGet, "/v1/records?from=march").Code)
}

func TestMetricsHandler(t *testing.T) {
	rr := do(t, MetricsHandler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGRPCHealth(t *testing.T) {
	s, _ := newTestServer(t, true)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.grpcSrv.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
