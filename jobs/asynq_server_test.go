package jobs

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newHealthRouter(t *testing.T, pinger Pinger) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, pinger, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes)
	return r
}

func TestHealthReportsRedisAndQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rec := httptest.NewRecorder()
	newHealthRouter(t, client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["redis"])
	require.Equal(t, QueueDefault, body["queue"])
	require.EqualValues(t, 0, body["pending"])
}

func TestHealthFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	rec := httptest.NewRecorder()
	newHealthRouter(t, client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)
}

func TestInspectQueueWithoutInspector(t *testing.T) {
	stats, err := InspectQueue(nil)
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: QueueDefault}, stats)
}

func TestRedisOptFromURL(t *testing.T) {
	opt, err := RedisOpt("redis://worker:pw@queue.internal:6380/3")
	require.NoError(t, err)
	require.Equal(t, "queue.internal:6380", opt.Addr)
	require.Equal(t, "worker", opt.Username)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 3, opt.DB)

	opt, err = RedisOpt("127.0.0.1:6379")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opt.Addr)
}
